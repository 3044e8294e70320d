package sqlite

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lloydmeta/feedsync/internal/config"
	"github.com/lloydmeta/feedsync/internal/domain/batch"
	"github.com/lloydmeta/feedsync/internal/domain/changelog"
)

func TestBatchTable_Rebuild(t *testing.T) {
	ctx := context.Background()
	d := testDescriptor(t, config.Feed{})
	db := openTestDB(t, d)
	source := NewChangelogSource(db, d.Name, d.ChangelogTable)
	table := NewBatchTable(db, d.BatchTable(), d.ChangelogTable)

	assert.NoError(t, source.Append(ctx, changelog.Keys("E", "B", "A", "D", "C", "A", "E")))

	max, err := table.Rebuild(ctx, 0, 7, 2)
	assert.NoError(t, err)
	assert.EqualValues(t, 3, max)

	expected := map[batch.Number][]changelog.Key{
		1: changelog.Keys("A", "B"),
		2: changelog.Keys("C", "D"),
		3: changelog.Keys("E"),
	}
	for n, want := range expected {
		got, err := table.Keys(ctx, n)
		assert.NoError(t, err)
		assert.Equal(t, want, got, fmt.Sprintf("batch %d", n))
	}
	gap, err := table.Keys(ctx, 4)
	assert.NoError(t, err)
	assert.Empty(t, gap)

	count, err := table.MaxNumber(ctx)
	assert.NoError(t, err)
	assert.EqualValues(t, 3, count)

	// rebuilding replaces the previous pass
	max, err = table.Rebuild(ctx, 5, 7, 10)
	assert.NoError(t, err)
	assert.EqualValues(t, 1, max)
	got, err := table.Keys(ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, changelog.Keys("A", "E"), got)

	// nothing to do
	max, err = table.Rebuild(ctx, 7, 7, 10)
	assert.NoError(t, err)
	assert.EqualValues(t, 0, max)

	assert.NoError(t, table.Drop(ctx))
	assert.NoError(t, table.Drop(ctx))
	_, err = table.Keys(ctx, 1)
	assert.IsType(t, StoreErr{}, err)
}

func TestBatchTable_MatchesPartition(t *testing.T) {
	ctx := context.Background()
	d := testDescriptor(t, config.Feed{})
	db := openTestDB(t, d)
	source := NewChangelogSource(db, d.Name, d.ChangelogTable)
	table := NewBatchTable(db, d.BatchTable(), d.ChangelogTable)

	var keys []changelog.Key
	for i := 0; i < 23; i++ {
		keys = append(keys, changelog.Key(fmt.Sprintf("key-%02d", i)))
	}
	assert.NoError(t, source.Append(ctx, keys))

	for _, size := range []uint{1, 4, 5, 23, 50} {
		expected, err := batch.Partition(keys, size)
		assert.NoError(t, err)
		max, err := table.Rebuild(ctx, 0, 23, size)
		assert.NoError(t, err)
		assert.EqualValues(t, len(expected), max)
		for _, b := range expected {
			got, err := table.Keys(ctx, b.Number)
			assert.NoError(t, err)
			assert.Equal(t, b.Keys, got)
		}
	}
}
