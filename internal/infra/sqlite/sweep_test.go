package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lloydmeta/feedsync/internal/config"
	"github.com/lloydmeta/feedsync/internal/domain/batch"
	"github.com/lloydmeta/feedsync/internal/domain/changelog"
	"github.com/lloydmeta/feedsync/internal/domain/feed"
	"github.com/lloydmeta/feedsync/internal/domain/indexer"
	"github.com/lloydmeta/feedsync/worker"
)

// Runs whole sweeps against one database: changelog in, partitioned batches, feed rows out
func TestSweep_EndToEnd(t *testing.T) {
	ctx := context.Background()
	d := testDescriptor(t, config.Feed{BatchSize: 2, PageOffset: 10})
	db := openTestDB(t, d)

	source := NewChangelogSource(db, d.Name, d.ChangelogTable)
	store := NewFeedStore(db, d)
	generator := batch.NewGenerator(string(d.Name), source, NewBatchTable(db, d.BatchTable(), d.ChangelogTable), NewCounterAllocator(db, d.SequenceName(), batch.DefaultStep), NewPassLedger(db, d.Name), d.BatchSize)
	processor := indexer.NewIndexer(d, NewEntityExtractor(db, d), store, indexer.LoggingNotifier{}, indexer.NoopObserver{})
	sweeper := worker.NewSweeper(d, generator, processor, config.Workers{Concurrency: 2}, worker.NoopSweepObserver{})

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		insertEntity(t, db, d.EntityTable, k, "", `{"id":"`+k+`"}`)
	}
	require.NoError(t, source.Append(ctx, changelog.Keys("a", "b", "c", "a", "d", "e")))

	require.NoError(t, sweeper.Sweep(ctx))
	checkpoint, err := source.Checkpoint(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 6, checkpoint)

	page, err := store.GetSince(ctx, feed.StartCursor, feed.Filter{})
	require.NoError(t, err)
	assert.ElementsMatch(t, feed.Identities("a", "b", "c", "d", "e"), identitiesOf(page.Records))

	// nothing changed, nothing written
	require.NoError(t, sweeper.Sweep(ctx))
	next, err := store.GetSince(ctx, page.RecentTimestamp, feed.Filter{})
	require.NoError(t, err)
	assert.Empty(t, next.Records)

	deleteEntity(t, db, d.EntityTable, "b", "")
	insertEntity(t, db, d.EntityTable, "c", "", `{"id":"c","name":"changed"}`)
	require.NoError(t, source.Append(ctx, changelog.Keys("b", "c")))
	require.NoError(t, sweeper.Sweep(ctx))

	next, err = store.GetSince(ctx, page.RecentTimestamp, feed.Filter{})
	require.NoError(t, err)
	assert.ElementsMatch(t, feed.Identities("b", "c"), identitiesOf(next.Records))

	deleted, err := store.GetDeletedByIds(ctx, feed.Identities("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, feed.Identities("b"), identitiesOf(deleted))

	live, err := store.GetByIds(ctx, feed.Identities("b", "c"), feed.Filter{Attributes: []string{"name"}})
	require.NoError(t, err)
	if assert.Len(t, live, 1) {
		assert.JSONEq(t, `{"name":"changed"}`, string(live[0].Snapshot))
	}

	backlog, err := source.Backlog(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, backlog)
}
