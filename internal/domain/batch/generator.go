package batch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/feedsync/internal/domain/changelog"
)

// Generator runs partition passes for one feed and hands out Iterators over them.
//
// Only one pass per feed may be in flight at a time: Generate drops and rebuilds the table and
// resets the allocator that every Iterator of the previous pass shares.
type Generator struct {
	name      string
	source    changelog.Source
	table     Table
	sequencer *Sequencer
	ledger    Ledger
	size      uint
}

// NewGenerator returns a Generator that partitions into batches of size keys. Passes are
// recorded in ledger, so other Generators sharing the table, allocator and ledger can Join them.
func NewGenerator(name string, source changelog.Source, table Table, allocator Allocator, ledger Ledger, size uint) *Generator {
	return &Generator{
		name:      name,
		source:    source,
		table:     table,
		sequencer: NewSequencer(allocator),
		ledger:    ledger,
		size:      size,
	}
}

// Generate partitions everything changed since the checkpoint and returns an Iterator over it
func (g *Generator) Generate(ctx context.Context) (*Iterator, error) {
	if g.size == 0 {
		return nil, InvalidSize{Size: g.size}
	}
	since, err := g.source.Checkpoint(ctx)
	if err != nil {
		return nil, err
	}
	upTo, err := g.source.LastVersion(ctx)
	if err != nil {
		return nil, err
	}
	if upTo < since {
		upTo = since
	}
	// a pass left open by a sweep that died must not be joined while the table is rebuilt
	if stale, open, err := g.ledger.Current(ctx); err != nil {
		return nil, err
	} else if open {
		if err := g.ledger.Close(ctx, stale); err != nil {
			return nil, err
		}
	}
	max, err := g.table.Rebuild(ctx, since, upTo, g.size)
	if err != nil {
		return nil, err
	}
	if err := g.sequencer.Init(ctx); err != nil {
		return nil, err
	}
	pass := Pass{Id: PassId(uuid.New().String()), Since: since, UpTo: upTo, Batches: max}
	if err := g.ledger.Open(ctx, pass); err != nil {
		return nil, err
	}
	log.Info().
		Str("feed", g.name).
		Str("pass_id", string(pass.Id)).
		Int64("since", int64(since)).
		Int64("up_to", int64(upTo)).
		Int64("batches", int64(max)).
		Msg("Partitioned changelog")
	it := g.Attach(pass)
	it.count = &max
	return it, nil
}

// Attach returns another Iterator over a pass that was already generated
func (g *Generator) Attach(pass Pass) *Iterator {
	return NewIterator(pass, g.table, g.sequencer, g.source, g.ledger)
}

// Join returns an Iterator over the feed's open pass, which may have been generated by another
// process. Returns NoOpenPass if there is nothing to join.
func (g *Generator) Join(ctx context.Context) (*Iterator, error) {
	pass, ok, err := g.ledger.Current(ctx)
	if err != nil {
		return nil, err
	}
	if !ok || pass.Empty() {
		return nil, NoOpenPass{}
	}
	return g.Attach(pass), nil
}

// Seal stops the pass from being joined
func (g *Generator) Seal(ctx context.Context, pass Pass) error {
	return g.ledger.Close(ctx, pass)
}

// Settled returns how many batches of the pass were processed or marked for retry, by any consumer
func (g *Generator) Settled(ctx context.Context, pass Pass) (Number, error) {
	return g.ledger.Settled(ctx, pass)
}

// Finish ends a pass, committing its upper bound as the new checkpoint if asked to.
//
// Only commit once every batch was either processed or marked for retry; otherwise the
// unprocessed keys would not be seen again until they change.
func (g *Generator) Finish(ctx context.Context, pass Pass, commit bool) error {
	var errs []error
	if err := g.ledger.Close(ctx, pass); err != nil {
		errs = append(errs, err)
	}
	if commit {
		if err := g.source.Commit(ctx, pass.UpTo); err != nil {
			errs = append(errs, err)
		}
	}
	if err := g.table.Drop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := g.sequencer.Destroy(ctx); err != nil {
		errs = append(errs, err)
	}
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return fmt.Errorf("Multiple errors finishing pass: %v", errs)
	}
}
