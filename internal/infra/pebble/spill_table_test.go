package pebble

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lloydmeta/feedsync/internal/config"
	"github.com/lloydmeta/feedsync/internal/domain/batch"
	"github.com/lloydmeta/feedsync/internal/domain/changelog"
)

func openTestDB(t *testing.T) *pebble.DB {
	db, err := Open(config.Partition{})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func TestSpillTable(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	source := changelog.NewMemorySource("e", "a", "c", "b", "d", "a")
	table := NewSpillTable(db, "products", source)
	// a table with a name that shares a prefix must not be touched
	neighbour := NewSpillTable(db, "products_v2", changelog.NewMemorySource("z"))
	_, err := neighbour.Rebuild(ctx, 0, 1, 10)
	require.NoError(t, err)

	max, err := table.Rebuild(ctx, 0, 6, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, max)

	expected := [][]changelog.Key{
		changelog.Keys("a", "b"),
		changelog.Keys("c", "d"),
		changelog.Keys("e"),
	}
	for idx, keys := range expected {
		got, err := table.Keys(ctx, batch.Number(idx+1))
		require.NoError(t, err)
		assert.Equal(t, keys, got)
	}
	missing, err := table.Keys(ctx, 4)
	require.NoError(t, err)
	assert.Empty(t, missing)

	count, err := table.MaxNumber(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	// rebuilding replaces the old rows
	max, err = table.Rebuild(ctx, 4, 6, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, max)
	got, err := table.Keys(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, changelog.Keys("a", "d"), got)
	got, err = table.Keys(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, table.Drop(ctx))
	count, err = table.MaxNumber(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	neighbourKeys, err := neighbour.Keys(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, changelog.Keys("z"), neighbourKeys)
}

func TestSpillTable_InvalidSize(t *testing.T) {
	table := NewSpillTable(openTestDB(t), "products", changelog.NewMemorySource("a"))
	_, err := table.Rebuild(context.Background(), 0, 1, 0)
	assert.IsType(t, batch.InvalidSize{}, err)
}

func TestSpillTable_WithIterator(t *testing.T) {
	ctx := context.Background()
	source := changelog.NewMemorySource("a", "b", "c", "d", "e")
	table := NewSpillTable(openTestDB(t), "products", source)
	generator := batch.NewGenerator("products", source, table, batch.NewMemoryAllocator(batch.DefaultStep), batch.NewMemoryLedger(), 2)

	iterator, err := generator.Generate(ctx)
	require.NoError(t, err)
	var seen []changelog.Key
	for {
		b, err := iterator.Next(ctx)
		if _, done := err.(batch.Exhausted); done {
			break
		}
		require.NoError(t, err)
		seen = append(seen, b.Keys...)
	}
	assert.Equal(t, changelog.Keys("a", "b", "c", "d", "e"), seen)
	require.NoError(t, generator.Finish(ctx, iterator.Pass(), true))

	checkpoint, err := source.Checkpoint(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, checkpoint)
}

// streamingSource produces its keys on the fly and refuses to hand them out all at once
type streamingSource struct {
	*changelog.MemorySource
	count             int
	failAt            int
	ChangedKeysCalled uint
}

func (s *streamingSource) ChangedKeys(ctx context.Context, since changelog.VersionId, upTo changelog.VersionId) ([]changelog.Key, error) {
	s.ChangedKeysCalled++
	return nil, errors.New("not streamed")
}

func (s *streamingSource) EachChangedKey(ctx context.Context, since changelog.VersionId, upTo changelog.VersionId, f func(changelog.Key) error) error {
	for i := 0; i < s.count; i++ {
		if s.failAt > 0 && i == s.failAt {
			return errors.New("connection reset")
		}
		if err := f(changelog.Key(fmt.Sprintf("key-%05d", i))); err != nil {
			return err
		}
	}
	return nil
}

func TestSpillTable_Rebuild_Streams(t *testing.T) {
	ctx := context.Background()
	source := &streamingSource{MemorySource: changelog.NewMemorySource(), count: 3*spillChunkRows + 5}
	table := NewSpillTable(openTestDB(t), "products", source)

	max, err := table.Rebuild(ctx, 0, 1, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 0, source.ChangedKeysCalled)
	assert.EqualValues(t, (source.count+6)/7, max)

	first, err := table.Keys(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, changelog.Keys("key-00000", "key-00001", "key-00002", "key-00003", "key-00004", "key-00005", "key-00006"), first)
	last, err := table.Keys(ctx, max)
	require.NoError(t, err)
	assert.Len(t, last, source.count-7*(int(max)-1))
	count, err := table.MaxNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, max, count)

	// a failed rebuild surfaces the error; the next one starts from scratch
	source.failAt = spillChunkRows + 1
	_, err = table.Rebuild(ctx, 0, 1, 7)
	assert.EqualError(t, err, "connection reset")
	source.failAt = 0
	source.count = 3
	max, err = table.Rebuild(ctx, 0, 1, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 1, max)
	count, err = table.MaxNumber(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
