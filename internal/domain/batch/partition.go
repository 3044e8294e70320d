package batch

import (
	"context"
	"sync"

	"github.com/lloydmeta/feedsync/internal/domain/changelog"
)

// Partition splits sorted, distinct keys into batches of at most size keys.
//
// The key at (0-based) index i lands in batch i/size + 1.
func Partition(keys []changelog.Key, size uint) ([]Batch, error) {
	if size == 0 {
		return nil, InvalidSize{Size: size}
	}
	batches := make([]Batch, 0, (uint(len(keys))+size-1)/size)
	for start := 0; start < len(keys); start += int(size) {
		end := start + int(size)
		if end > len(keys) {
			end = len(keys)
		}
		chunk := make([]changelog.Key, end-start)
		copy(chunk, keys[start:end])
		batches = append(batches, Batch{
			Number: Number(len(batches) + 1),
			Keys:   chunk,
		})
	}
	return batches, nil
}

// Table holds the batches of the current partition pass of a feed
type Table interface {

	// Rebuild replaces whatever the table held with the batches for the distinct keys changed in
	// since < version <= upTo, returning the highest batch number (0 when there are none)
	Rebuild(ctx context.Context, since changelog.VersionId, upTo changelog.VersionId, size uint) (Number, error)

	// Keys returns the keys of a batch, empty if there is no such batch
	Keys(ctx context.Context, n Number) ([]changelog.Key, error)

	// MaxNumber returns the highest batch number in the table
	MaxNumber(ctx context.Context) (Number, error)

	// Drop gets rid of the table
	Drop(ctx context.Context) error
}

// SnapshotTable is a Table held in memory, for a single process
type SnapshotTable struct {
	source  changelog.Source
	mu      sync.RWMutex
	batches []Batch
}

// NewSnapshotTable returns a Table that reads changed keys from the given source
func NewSnapshotTable(source changelog.Source) *SnapshotTable {
	return &SnapshotTable{source: source}
}

func (s *SnapshotTable) Rebuild(ctx context.Context, since changelog.VersionId, upTo changelog.VersionId, size uint) (Number, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = nil
	keys, err := s.source.ChangedKeys(ctx, since, upTo)
	if err != nil {
		return 0, err
	}
	batches, err := Partition(keys, size)
	if err != nil {
		return 0, err
	}
	s.batches = batches
	return Number(len(batches)), nil
}

func (s *SnapshotTable) Keys(ctx context.Context, n Number) ([]changelog.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n < 1 || int(n) > len(s.batches) {
		return nil, nil
	}
	return s.batches[n-1].Keys, nil
}

func (s *SnapshotTable) MaxNumber(ctx context.Context) (Number, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Number(len(s.batches)), nil
}

func (s *SnapshotTable) Drop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = nil
	return nil
}
