package pebble

import (
	"context"
	"encoding/binary"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/feedsync/internal/domain/batch"
	"github.com/lloydmeta/feedsync/internal/domain/changelog"
)

// SpillTable is a batch.Table that writes the partition pass into pebble instead of keeping
// it on the heap, so passes over very large changelogs can be consumed without holding every
// batch in memory.
//
// Rows are keyed <prefix><big endian batch number><entity key>, which keeps batches in number
// order and keys sorted within a batch.
type SpillTable struct {
	db     *pebble.DB
	source changelog.Source
	prefix []byte
}

// NewSpillTable returns a SpillTable that keeps its rows under the given name in db
func NewSpillTable(db *pebble.DB, name string, source changelog.Source) *SpillTable {
	return &SpillTable{db: db, source: source, prefix: []byte(name + "/")}
}

// Rebuild writes rows in chunks of spillChunkRows. Sources that implement changelog.KeyStreamer
// are streamed, so the changed keys are never all in memory; others are read in one go first.
func (s *SpillTable) Rebuild(ctx context.Context, since changelog.VersionId, upTo changelog.VersionId, size uint) (batch.Number, error) {
	if size == 0 {
		return 0, batch.InvalidSize{Size: size}
	}
	if err := s.db.DeleteRange(s.prefix, s.upperBound(), pebble.NoSync); err != nil {
		return 0, SpillErr{Op: "rebuild", Underlying: err}
	}
	w := spillWriter{table: s, size: size, chunk: s.db.NewBatch()}
	defer func() {
		_ = w.chunk.Close()
	}()

	var err error
	if streamer, ok := s.source.(changelog.KeyStreamer); ok {
		err = streamer.EachChangedKey(ctx, since, upTo, w.add)
	} else {
		var keys []changelog.Key
		if keys, err = s.source.ChangedKeys(ctx, since, upTo); err == nil {
			for _, k := range keys {
				if err = w.add(k); err != nil {
					break
				}
			}
		}
	}
	if err != nil {
		return 0, err
	}
	if err := w.chunk.Commit(pebble.Sync); err != nil {
		return 0, SpillErr{Op: "rebuild", Underlying: err}
	}
	if log.Debug().Enabled() {
		log.Debug().
			Str("table", string(s.prefix)).
			Uint64("keys", w.written).
			Int64("batches", int64(w.max)).
			Msg("Spilled partition")
	}
	return w.max, nil
}

const spillChunkRows = 4096

// spillWriter numbers keys as they come in and commits them to pebble a chunk at a time
type spillWriter struct {
	table   *SpillTable
	size    uint
	chunk   *pebble.Batch
	written uint64
	max     batch.Number
}

func (w *spillWriter) add(k changelog.Key) error {
	w.max = batch.Number(w.written/uint64(w.size) + 1)
	if err := w.chunk.Set(w.table.rowKey(w.max, k), nil, nil); err != nil {
		return SpillErr{Op: "rebuild", Underlying: err}
	}
	w.written++
	if w.written%spillChunkRows == 0 {
		if err := w.chunk.Commit(pebble.NoSync); err != nil {
			return SpillErr{Op: "rebuild", Underlying: err}
		}
		_ = w.chunk.Close()
		w.chunk = w.table.db.NewBatch()
	}
	return nil
}

func (s *SpillTable) Keys(ctx context.Context, n batch.Number) ([]changelog.Key, error) {
	if n < 1 {
		return nil, nil
	}
	lower := s.numberPrefix(n)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: s.numberPrefix(n + 1),
	})
	if err != nil {
		return nil, SpillErr{Op: "read batch", Underlying: err}
	}
	var keys []changelog.Key
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, changelog.Key(iter.Key()[len(lower):]))
	}
	if err := iter.Close(); err != nil {
		return nil, SpillErr{Op: "read batch", Underlying: err}
	}
	return keys, nil
}

func (s *SpillTable) MaxNumber(ctx context.Context) (batch.Number, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: s.prefix,
		UpperBound: s.upperBound(),
	})
	if err != nil {
		return 0, SpillErr{Op: "read batch count", Underlying: err}
	}
	var max batch.Number
	if iter.Last() {
		raw := iter.Key()[len(s.prefix):]
		max = batch.Number(binary.BigEndian.Uint64(raw[:8]))
	}
	if err := iter.Close(); err != nil {
		return 0, SpillErr{Op: "read batch count", Underlying: err}
	}
	return max, nil
}

func (s *SpillTable) Drop(ctx context.Context) error {
	if err := s.db.DeleteRange(s.prefix, s.upperBound(), pebble.Sync); err != nil {
		return SpillErr{Op: "drop", Underlying: err}
	}
	return nil
}

func (s *SpillTable) numberPrefix(n batch.Number) []byte {
	key := make([]byte, len(s.prefix)+8)
	copy(key, s.prefix)
	binary.BigEndian.PutUint64(key[len(s.prefix):], uint64(n))
	return key
}

func (s *SpillTable) rowKey(n batch.Number, k changelog.Key) []byte {
	return append(s.numberPrefix(n), k...)
}

// upperBound is the first key past every row of this table
func (s *SpillTable) upperBound() []byte {
	upper := make([]byte, len(s.prefix))
	copy(upper, s.prefix)
	// the prefix always ends in '/', so this cannot overflow
	upper[len(upper)-1]++
	return upper
}
