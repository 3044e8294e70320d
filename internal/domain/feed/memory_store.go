package feed

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lloydmeta/feedsync/internal/domain/changelog"
)

// MemoryStore is a Store and Reader that keeps a single feed in memory
type MemoryStore struct {
	mu         sync.RWMutex
	rows       map[Identity]Record
	pageOffset uint
	mutable    []Column
}

// NewMemoryStore returns an empty MemoryStore that pages by the given offset
func NewMemoryStore(pageOffset uint, mutable ...Column) *MemoryStore {
	if len(mutable) == 0 {
		mutable = []Column{SnapshotColumn, ScopeColumn}
	}
	return &MemoryStore{
		rows:       make(map[Identity]Record),
		pageOffset: pageOffset,
		mutable:    mutable,
	}
}

func (m *MemoryStore) ActiveIdentities(ctx context.Context, keys []changelog.Key) ([]Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := make(map[changelog.Key]struct{}, len(keys))
	for _, k := range keys {
		wanted[k] = struct{}{}
	}
	var ids []Identity
	for id, r := range m.rows {
		if _, ok := wanted[r.Key]; ok && !r.IsDeleted {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemoryStore) Apply(ctx context.Context, changes Changes) (*Applied, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at := ModifiedAt(Truncate(changes.At))
	applied := Applied{}
	upserted := make(map[Identity]struct{}, len(changes.Upserts))
	for _, fresh := range changes.Upserts {
		upserted[fresh.Identity] = struct{}{}
		existing, exists := m.rows[fresh.Identity]
		if !exists {
			fresh.ModifiedAt = at
			fresh.IsDeleted = false
			m.rows[fresh.Identity] = fresh
			applied.Upserted = append(applied.Upserted, fresh.Identity)
			continue
		}
		updated := existing
		for _, c := range m.mutable {
			switch c {
			case SnapshotColumn:
				updated.Snapshot = fresh.Snapshot
			case ScopeColumn:
				updated.Scope = fresh.Scope
			}
		}
		if existing.IsDeleted || updated.Scope != existing.Scope || !bytes.Equal(updated.Snapshot, existing.Snapshot) {
			updated.IsDeleted = false
			updated.ModifiedAt = at
			m.rows[fresh.Identity] = updated
			applied.Upserted = append(applied.Upserted, fresh.Identity)
		}
	}
	for _, id := range changes.Deletes {
		if _, ok := upserted[id]; ok {
			continue
		}
		if existing, exists := m.rows[id]; exists && !existing.IsDeleted {
			existing.IsDeleted = true
			existing.ModifiedAt = at
			m.rows[id] = existing
			applied.Deleted = append(applied.Deleted, id)
		}
	}
	return &applied, nil
}

func (m *MemoryStore) GetSince(ctx context.Context, cursor Cursor, filter Filter) (*Page, error) {
	m.mu.RLock()
	sorted := make([]Record, 0, len(m.rows))
	for _, r := range m.rows {
		if filter.Scope == nil || r.Scope == *filter.Scope {
			sorted = append(sorted, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(sorted, func(i, j int) bool {
		ti, tj := time.Time(sorted[i].ModifiedAt), time.Time(sorted[j].ModifiedAt)
		if ti.Equal(tj) {
			return sorted[i].Identity < sorted[j].Identity
		}
		return ti.Before(tj)
	})
	page := Paginate(sorted, cursor, m.pageOffset)
	records, err := ProjectAll(page.Records, filter.Attributes)
	if err != nil {
		return nil, err
	}
	page.Records = records
	return &page, nil
}

func (m *MemoryStore) GetByIds(ctx context.Context, ids []Identity, filter Filter) ([]Record, error) {
	records := m.lookup(ids, func(r Record) bool {
		return !r.IsDeleted && (filter.Scope == nil || r.Scope == *filter.Scope)
	})
	return ProjectAll(records, filter.Attributes)
}

func (m *MemoryStore) GetDeletedByIds(ctx context.Context, ids []Identity) ([]Record, error) {
	return m.lookup(ids, func(r Record) bool {
		return r.IsDeleted
	}), nil
}

func (m *MemoryStore) lookup(ids []Identity, keep func(r Record) bool) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var records []Record
	for _, id := range ids {
		if r, ok := m.rows[id]; ok && keep(r) {
			records = append(records, r)
		}
	}
	return records
}

// All returns every row, ordered by Identity
func (m *MemoryStore) All() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]Record, 0, len(m.rows))
	for _, r := range m.rows {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Identity < records[j].Identity })
	return records
}
