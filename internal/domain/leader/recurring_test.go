package leader

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lloydmeta/feedsync/internal/infra/apm/tracing"
)

func TestInternalRecurringFunctionRunner_Start(t *testing.T) {
	tests := []struct {
		name       string
		leaderLock Lock
		shouldRun  bool
	}{
		{
			"should not count anything if the leader lock returns false",
			ConstantLock(false),
			false,
		},
		{
			"should count if the leader lock returns true",
			ConstantLock(true),
			true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			counter := incrementer{}
			functions := []InternalRecurringFunction{
				NewInternalRecurringFunction(
					"inc",
					10*time.Millisecond,
					func(ctx context.Context, checker Checker) error {
						assert.NotNil(t, ctx)
						if checker.IsLeader() {
							counter.incr()
						}
						return nil
					},
				),
			}
			// Nothing should run before Start() is called
			assert.EqualValues(t, 0, counter.Value())

			r := NewInternalRecurringFunctionRunner(functions, tracing.NoopTracer{}, tt.leaderLock)
			r.Start()
			if tt.shouldRun {
				assert.Eventually(t, func() bool {
					return counter.Value() > 0
				}, 10*time.Second, 300*time.Millisecond)
			} else {
				time.Sleep(50 * time.Millisecond)
				assert.EqualValues(t, 0, counter.Value())
			}
			r.Stop()
		})
	}
}

func TestConstantLock(t *testing.T) {
	var lock Lock = ConstantLock(true)
	lock.Start()
	assert.True(t, lock.IsLeader())
	lock.Stop()
	assert.True(t, lock.IsLeader())
	assert.False(t, ConstantLock(false).IsLeader())
}

type incrementer struct {
	i uint32
}

func (i *incrementer) Value() uint32 {
	return atomic.LoadUint32(&i.i)
}

func (i *incrementer) incr() {
	atomic.AddUint32(&i.i, 1)
}
