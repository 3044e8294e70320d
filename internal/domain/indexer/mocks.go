package indexer

import (
	"context"
	"sync"
	"time"

	"github.com/lloydmeta/feedsync/internal/domain/changelog"
	"github.com/lloydmeta/feedsync/internal/domain/feed"
)

// MockExtractor extracts from a fixed set of entries
type MockExtractor struct {
	mu              sync.Mutex
	Entries         map[feed.Identity]Entry
	ExtractCalled   uint
	ExtractOverride func(keys []changelog.Key) (map[feed.Identity]Entry, error)
}

func (m *MockExtractor) Extract(ctx context.Context, keys []changelog.Key, cache *RequestCache) (map[feed.Identity]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExtractCalled++
	if m.ExtractOverride != nil {
		return m.ExtractOverride(keys)
	}
	wanted := make(map[changelog.Key]struct{}, len(keys))
	for _, k := range keys {
		wanted[k] = struct{}{}
	}
	out := make(map[feed.Identity]Entry)
	for id, e := range m.Entries {
		if _, ok := wanted[e.Key]; ok {
			out[id] = e
		}
	}
	return out, nil
}

// Set replaces the entries
func (m *MockExtractor) Set(entries map[feed.Identity]Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = entries
}

type MockNotifier struct {
	mu              sync.Mutex
	PublishCalled   uint
	PublishOverride func() error
	Upserted        []feed.Identity
	Removed         []feed.Identity
}

func (m *MockNotifier) Publish(ctx context.Context, name feed.Name, upserted []feed.Identity, removed []feed.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishCalled++
	if m.PublishOverride != nil {
		return m.PublishOverride()
	}
	m.Upserted = append(m.Upserted, upserted...)
	m.Removed = append(m.Removed, removed...)
	return nil
}

type MockObserver struct {
	mu                       sync.Mutex
	ProcessedCalled          uint
	NotificationFailedCalled uint
}

func (m *MockObserver) Processed(name feed.Name, keys int, applied *feed.Applied, took time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProcessedCalled++
}

func (m *MockObserver) NotificationFailed(name feed.Name, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NotificationFailedCalled++
}
