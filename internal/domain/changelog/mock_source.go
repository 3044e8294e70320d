package changelog

import (
	"context"
	"sort"
	"sync"
)

// MemorySource is a Source held in memory. Useful for tests and single-process setups.
type MemorySource struct {
	mu         sync.Mutex
	records    []Record
	checkpoint VersionId
}

// NewMemorySource returns a MemorySource with the given keys already appended, in order
func NewMemorySource(keys ...Key) *MemorySource {
	s := MemorySource{}
	s.appendLocked(keys)
	return &s
}

func (m *MemorySource) Checkpoint(ctx context.Context) (VersionId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkpoint, nil
}

func (m *MemorySource) Commit(ctx context.Context, upTo VersionId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if upTo > m.checkpoint {
		m.checkpoint = upTo
	}
	return nil
}

func (m *MemorySource) LastVersion(ctx context.Context) (VersionId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastVersionLocked(), nil
}

func (m *MemorySource) ChangedKeys(ctx context.Context, since VersionId, upTo VersionId) ([]Key, error) {
	if since > upTo {
		return nil, InvalidRange{Since: since, UpTo: upTo}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[Key]struct{})
	var keys []Key
	for _, r := range m.records {
		if r.VersionId > since && r.VersionId <= upTo {
			if _, ok := seen[r.Key]; !ok {
				seen[r.Key] = struct{}{}
				keys = append(keys, r.Key)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

func (m *MemorySource) Append(ctx context.Context, keys []Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(keys)
	return nil
}

func (m *MemorySource) Backlog(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count uint64
	for _, r := range m.records {
		if r.VersionId > m.checkpoint {
			count++
		}
	}
	return count, nil
}

// Records returns a copy of everything in the log
func (m *MemorySource) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

func (m *MemorySource) appendLocked(keys []Key) {
	v := m.lastVersionLocked()
	for _, k := range keys {
		v++
		m.records = append(m.records, Record{Key: k, VersionId: v})
	}
}

func (m *MemorySource) lastVersionLocked() VersionId {
	if len(m.records) == 0 {
		return 0
	}
	return m.records[len(m.records)-1].VersionId
}

// MockSource wraps a MemorySource and lets tests count calls and override results
type MockSource struct {
	*MemorySource
	ChangedKeysCalled   uint
	ChangedKeysOverride func() ([]Key, error)
	AppendCalled        uint
	AppendOverride      func() error
	CommitCalled        uint
	CommitOverride      func() error
}

func (m *MockSource) ChangedKeys(ctx context.Context, since VersionId, upTo VersionId) ([]Key, error) {
	m.ChangedKeysCalled++
	if m.ChangedKeysOverride != nil {
		return m.ChangedKeysOverride()
	} else {
		return m.MemorySource.ChangedKeys(ctx, since, upTo)
	}
}

func (m *MockSource) Append(ctx context.Context, keys []Key) error {
	m.AppendCalled++
	if m.AppendOverride != nil {
		return m.AppendOverride()
	} else {
		return m.MemorySource.Append(ctx, keys)
	}
}

func (m *MockSource) Commit(ctx context.Context, upTo VersionId) error {
	m.CommitCalled++
	if m.CommitOverride != nil {
		return m.CommitOverride()
	} else {
		return m.MemorySource.Commit(ctx, upTo)
	}
}
