package batch

import (
	"context"

	"github.com/lloydmeta/feedsync/internal/domain/changelog"
)

type state uint8

const (
	notStarted state = iota
	hasBatch
	exhausted
)

// Iterator pulls batches of a pass one at a time, claiming each by number from a shared Sequencer.
//
// Many Iterators may consume the same pass; each batch goes to exactly one of them. A single
// Iterator is not safe for concurrent use.
type Iterator struct {
	pass      Pass
	table     Table
	sequencer *Sequencer
	source    changelog.Source
	ledger    Ledger

	state   state
	current Batch
	count   *Number
}

// NewIterator returns an Iterator over the given pass
func NewIterator(pass Pass, table Table, sequencer *Sequencer, source changelog.Source, ledger Ledger) *Iterator {
	return &Iterator{
		pass:      pass,
		table:     table,
		sequencer: sequencer,
		source:    source,
		ledger:    ledger,
		state:     notStarted,
	}
}

// Pass returns the pass being iterated over
func (i *Iterator) Pass() Pass {
	return i.pass
}

// Advance claims the next batch number and loads its keys. The first number that has no keys
// exhausts the Iterator.
func (i *Iterator) Advance(ctx context.Context) error {
	if i.state == exhausted {
		return nil
	}
	n, err := i.sequencer.Next(ctx)
	if err != nil {
		return err
	}
	keys, err := i.table.Keys(ctx, n)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		i.state = exhausted
		i.current = Batch{}
	} else {
		i.state = hasBatch
		i.current = Batch{Number: n, Keys: keys}
	}
	return nil
}

// Valid returns true if the Iterator is positioned on a batch
func (i *Iterator) Valid() bool {
	return i.state == hasBatch
}

// Current returns the batch the Iterator is positioned on
func (i *Iterator) Current() Batch {
	return i.current
}

// Count returns the highest batch number in the pass. It is an upper bound on how many batches
// any one Iterator will see, and is only looked up once.
func (i *Iterator) Count(ctx context.Context) (Number, error) {
	if i.count == nil {
		max, err := i.table.MaxNumber(ctx)
		if err != nil {
			return 0, err
		}
		i.count = &max
	}
	return *i.count, nil
}

// Next advances and returns the new current batch, or Exhausted
func (i *Iterator) Next(ctx context.Context) (Batch, error) {
	if err := i.Advance(ctx); err != nil {
		return Batch{}, err
	}
	if !i.Valid() {
		return Batch{}, Exhausted{}
	}
	return i.current, nil
}

// MarkForRetry appends the keys of the current batch back onto the changelog, so a later pass
// picks them up again even though this pass's table will be dropped.
func (i *Iterator) MarkForRetry(ctx context.Context) error {
	if !i.Valid() {
		return NoCurrentBatch{}
	}
	return i.source.Append(ctx, i.current.Keys)
}

// Settle records that the current batch was dealt with, either processed or marked for retry
func (i *Iterator) Settle(ctx context.Context) error {
	if !i.Valid() {
		return NoCurrentBatch{}
	}
	return i.ledger.Settle(ctx, i.pass)
}
