// +build integration

package integration_tests

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lloydmeta/feedsync/internal/infra/apm/tracing"
	"github.com/lloydmeta/feedsync/internal/infra/elasticsearch/common"
	"github.com/lloydmeta/feedsync/internal/infra/elasticsearch/leader"
)

func buildLock(lockName string) *leader.EsLock {
	return leader.NewLeaderLock(common.DocumentID(lockName), esClient, 250*time.Millisecond, 500*time.Millisecond, tracing.NoopTracer{})
}

func Test_EsLeaderLock_Create(t *testing.T) {
	lock := buildLock("leader_lock1")
	assert.False(t, lock.IsLeader())
}

func Test_EsLeaderLock_Starting_and_Stopping(t *testing.T) {
	lock := buildLock("leader_lock2")
	assert.False(t, lock.IsLeader())

	lock.Start()

	assert.Eventually(t, func() bool {
		return lock.IsLeader()
	}, 3*time.Second, 300*time.Millisecond)

	lock.Stop()

	assert.False(t, lock.IsLeader())
}

func Test_EsLeaderLock_Only_One_Leader(t *testing.T) {
	locks := []*leader.EsLock{buildLock("leader_lock3"), buildLock("leader_lock3"), buildLock("leader_lock3")}
	leaders := func() int {
		count := 0
		for _, l := range locks {
			if l.IsLeader() {
				count++
			}
		}
		return count
	}

	locks[0].Start()
	assert.Eventually(t, func() bool {
		return locks[0].IsLeader()
	}, 3*time.Second, 300*time.Millisecond)

	locks[1].Start()
	locks[2].Start()
	for i := 0; i < 20; i++ {
		assert.True(t, locks[0].IsLeader(), "a healthy leader keeps the lock")
		assert.Equal(t, 1, leaders())
		time.Sleep(50 * time.Millisecond)
	}

	// the leader goes away, someone else picks it up after the lag tolerance
	locks[0].Stop()
	assert.Eventually(t, func() bool {
		return leaders() == 1 && !locks[0].IsLeader()
	}, 5*time.Second, 300*time.Millisecond, "A survivor should become the leader")

	locks[1].Stop()
	locks[2].Stop()
}

func Test_EsLeaderLock_Usurps_Stale_Leader(t *testing.T) {
	stale := buildLock("leader_lock4")
	// reports in from far in the past, so looks stale to everyone else
	stale.SetUTCGetter(func() time.Time {
		return time.Now().UTC().Add(-time.Hour)
	})
	stale.Start()
	assert.Eventually(t, func() bool {
		return stale.IsLeader()
	}, 3*time.Second, 300*time.Millisecond)

	usurper := buildLock("leader_lock4")
	usurper.Start()
	assert.Eventually(t, func() bool {
		return usurper.IsLeader()
	}, 3*time.Second, 100*time.Millisecond)
	assert.Eventually(t, func() bool {
		return !stale.IsLeader()
	}, 3*time.Second, 100*time.Millisecond, "The stale leader loses its write conflict")

	stale.Stop()
	usurper.Stop()
}
