package batch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lloydmeta/feedsync/internal/domain/changelog"
)

func newTestGenerator(source changelog.Source, size uint) *Generator {
	return NewGenerator("test", source, NewSnapshotTable(source), NewMemoryAllocator(DefaultStep), NewMemoryLedger(), size)
}

func TestGenerator_Generate(t *testing.T) {
	ctx := context.Background()
	source := changelog.NewMemorySource(changelog.Keys("A", "B", "C", "D", "E")...)
	generator := newTestGenerator(source, 2)

	it, err := generator.Generate(ctx)
	assert.NoError(t, err)
	pass := it.Pass()
	assert.NotEmpty(t, pass.Id)
	assert.Equal(t, Pass{Id: pass.Id, Since: 0, UpTo: 5, Batches: 3}, pass)
	assert.False(t, it.Valid())

	count, err := it.Count(ctx)
	assert.NoError(t, err)
	assert.EqualValues(t, 3, count)

	var got []Batch
	for {
		b, err := it.Next(ctx)
		if _, ok := err.(Exhausted); ok {
			break
		}
		assert.NoError(t, err)
		got = append(got, b)
	}
	assert.Equal(t, []Batch{
		{1, changelog.Keys("A", "B")},
		{2, changelog.Keys("C", "D")},
		{3, changelog.Keys("E")},
	}, got)
	assert.False(t, it.Valid())

	// stays exhausted
	assert.NoError(t, it.Advance(ctx))
	assert.False(t, it.Valid())
}

func TestGenerator_Generate_NothingToDo(t *testing.T) {
	ctx := context.Background()
	source := changelog.NewMemorySource()
	generator := newTestGenerator(source, 2)

	it, err := generator.Generate(ctx)
	assert.NoError(t, err)
	assert.True(t, it.Pass().Empty())
	count, err := it.Count(ctx)
	assert.NoError(t, err)
	assert.EqualValues(t, 0, count)

	_, err = it.Next(ctx)
	assert.IsType(t, Exhausted{}, err)
}

func TestGenerator_Generate_InvalidSize(t *testing.T) {
	_, err := newTestGenerator(changelog.NewMemorySource(), 0).Generate(context.Background())
	assert.IsType(t, InvalidSize{}, err)
}

func TestGenerator_Attach_SharesBatches(t *testing.T) {
	ctx := context.Background()
	var keys []changelog.Key
	for c := 'a'; c <= 'z'; c++ {
		keys = append(keys, changelog.Key(string(c)))
	}
	source := changelog.NewMemorySource(keys...)
	generator := newTestGenerator(source, 3)
	first, err := generator.Generate(ctx)
	assert.NoError(t, err)

	iterators := []*Iterator{first}
	for i := 0; i < 4; i++ {
		iterators = append(iterators, generator.Attach(first.Pass()))
	}

	var mu sync.Mutex
	var seen []changelog.Key
	var wg sync.WaitGroup
	for _, it := range iterators {
		wg.Add(1)
		go func(it *Iterator) {
			defer wg.Done()
			for {
				b, err := it.Next(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen = append(seen, b.Keys...)
				mu.Unlock()
			}
		}(it)
	}
	wg.Wait()

	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	assert.Equal(t, keys, seen)
}

func TestIterator_MarkForRetry(t *testing.T) {
	ctx := context.Background()
	source := changelog.NewMemorySource(changelog.Keys("A", "B", "C")...)
	generator := newTestGenerator(source, 2)
	it, err := generator.Generate(ctx)
	assert.NoError(t, err)

	assert.IsType(t, NoCurrentBatch{}, it.MarkForRetry(ctx))

	_, err = it.Next(ctx)
	assert.NoError(t, err)
	assert.NoError(t, it.MarkForRetry(ctx))
	assert.NoError(t, generator.Finish(ctx, it.Pass(), true))

	checkpoint, err := source.Checkpoint(ctx)
	assert.NoError(t, err)
	assert.EqualValues(t, 3, checkpoint)

	// the retried keys make up the next pass
	next, err := generator.Generate(ctx)
	assert.NoError(t, err)
	b, err := next.Next(ctx)
	assert.NoError(t, err)
	assert.Equal(t, changelog.Keys("A", "B"), b.Keys)
	_, err = next.Next(ctx)
	assert.IsType(t, Exhausted{}, err)
}

func TestGenerator_Finish(t *testing.T) {
	ctx := context.Background()

	t.Run("without commit leaves the checkpoint alone", func(t *testing.T) {
		source := changelog.NewMemorySource(changelog.Keys("A", "B")...)
		generator := newTestGenerator(source, 2)
		it, err := generator.Generate(ctx)
		assert.NoError(t, err)
		assert.NoError(t, generator.Finish(ctx, it.Pass(), false))
		checkpoint, err := source.Checkpoint(ctx)
		assert.NoError(t, err)
		assert.EqualValues(t, 0, checkpoint)

		again, err := generator.Generate(ctx)
		assert.NoError(t, err)
		assert.EqualValues(t, 1, again.Pass().Batches)
	})

	t.Run("surfaces commit failures", func(t *testing.T) {
		source := &changelog.MockSource{
			MemorySource: changelog.NewMemorySource(changelog.Keys("A")...),
			CommitOverride: func() error {
				return errors.New("boom")
			},
		}
		generator := newTestGenerator(source, 2)
		it, err := generator.Generate(ctx)
		assert.NoError(t, err)
		assert.Error(t, generator.Finish(ctx, it.Pass(), true))
		assert.EqualValues(t, 1, source.CommitCalled)
	})
}

func TestGenerator_Join(t *testing.T) {
	ctx := context.Background()
	source := changelog.NewMemorySource(changelog.Keys("A", "B", "C", "D", "E")...)
	table := NewSnapshotTable(source)
	allocator := NewMemoryAllocator(Step{Stride: 2, Offset: 5})
	ledger := NewMemoryLedger()
	leader := NewGenerator("test", source, table, allocator, ledger, 2)
	follower := NewGenerator("test", source, table, allocator, ledger, 2)

	_, err := follower.Join(ctx)
	assert.IsType(t, NoOpenPass{}, err)

	first, err := leader.Generate(ctx)
	assert.NoError(t, err)
	joined, err := follower.Join(ctx)
	assert.NoError(t, err)
	assert.Equal(t, first.Pass(), joined.Pass())

	var numbers []Number
	for _, it := range []*Iterator{first, joined, first} {
		b, err := it.Next(ctx)
		assert.NoError(t, err)
		assert.NoError(t, it.Settle(ctx))
		numbers = append(numbers, b.Number)
	}
	assert.Equal(t, []Number{1, 2, 3}, numbers)
	_, err = joined.Next(ctx)
	assert.IsType(t, Exhausted{}, err)
	assert.IsType(t, NoCurrentBatch{}, joined.Settle(ctx))

	settled, err := leader.Settled(ctx, first.Pass())
	assert.NoError(t, err)
	assert.EqualValues(t, 3, settled)

	assert.NoError(t, leader.Seal(ctx, first.Pass()))
	_, err = follower.Join(ctx)
	assert.IsType(t, NoOpenPass{}, err)
	assert.NoError(t, leader.Finish(ctx, first.Pass(), true))
}

func TestMemoryLedger_StalePass(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	old := Pass{Id: "old", UpTo: 3, Batches: 2}
	current := Pass{Id: "current", UpTo: 3, Batches: 2}
	assert.NoError(t, ledger.Open(ctx, old))
	assert.NoError(t, ledger.Open(ctx, current))

	assert.IsType(t, StalePass{}, ledger.Settle(ctx, old))
	_, err := ledger.Settled(ctx, old)
	assert.IsType(t, StalePass{}, err)
	// closing a stale pass leaves the current one open
	assert.NoError(t, ledger.Close(ctx, old))
	pass, ok, err := ledger.Current(ctx)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, current, pass)
}

func TestGenerator_Generate_ClosesLeftoverPass(t *testing.T) {
	ctx := context.Background()
	source := changelog.NewMemorySource(changelog.Keys("A", "B")...)
	ledger := NewMemoryLedger()
	leftover := Pass{Id: "leftover", UpTo: 1, Batches: 1}
	assert.NoError(t, ledger.Open(ctx, leftover))

	generator := NewGenerator("test", source, NewSnapshotTable(source), NewMemoryAllocator(DefaultStep), ledger, 2)
	it, err := generator.Generate(ctx)
	assert.NoError(t, err)
	pass, ok, err := ledger.Current(ctx)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, it.Pass().Id, pass.Id)
	assert.NotEqual(t, leftover.Id, pass.Id)
}
