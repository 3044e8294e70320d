// +build integration

package integration_tests

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lloydmeta/feedsync/internal/domain/batch"
	feedsyncredis "github.com/lloydmeta/feedsync/internal/infra/redis"
)

func TestSequenceAllocator_HandsOutDenseBatchNumbers(t *testing.T) {
	ctx := context.Background()
	for _, step := range []batch.Step{batch.DefaultStep, {Stride: 10, Offset: 4}} {
		allocator := feedsyncredis.NewSequenceAllocator(pool, "products", step)
		sequencer := batch.NewSequencer(allocator)
		require.NoError(t, sequencer.Init(ctx))

		var mu sync.Mutex
		var numbers []int
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 25; i++ {
					n, err := sequencer.Next(ctx)
					assert.NoError(t, err)
					mu.Lock()
					numbers = append(numbers, int(n))
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		sort.Ints(numbers)
		for idx, n := range numbers {
			assert.Equal(t, idx+1, n)
		}
		require.NoError(t, sequencer.Destroy(ctx))
	}
}

func TestSequenceAllocator_NeedsReset(t *testing.T) {
	ctx := context.Background()
	allocator := feedsyncredis.NewSequenceAllocator(pool, "never_reset", batch.DefaultStep)
	_, err := allocator.Allocate(ctx)
	assert.IsType(t, feedsyncredis.SequenceNotFound{}, err)
}
