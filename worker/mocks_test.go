package worker

import (
	"context"
	"sync"

	"github.com/lloydmeta/feedsync/internal/domain/changelog"
	"github.com/lloydmeta/feedsync/internal/domain/feed"
)

type mockProcessor struct {
	mu              sync.Mutex
	ProcessCalled   uint
	ProcessOverride func(keys []changelog.Key) (*feed.Applied, error)
	Seen            []changelog.Key
}

func (m *mockProcessor) Process(ctx context.Context, keys []changelog.Key) (*feed.Applied, error) {
	m.mu.Lock()
	m.ProcessCalled++
	override := m.ProcessOverride
	m.mu.Unlock()
	if override != nil {
		applied, err := override(keys)
		if err != nil {
			return nil, err
		}
		m.record(keys)
		return applied, nil
	}
	m.record(keys)
	return &feed.Applied{}, nil
}

func (m *mockProcessor) record(keys []changelog.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Seen = append(m.Seen, keys...)
}

type mockObserver struct {
	mu                  sync.Mutex
	BatchRetriedCalled  uint
	SweepFinishedCalled uint
	LastSweepErr        error
}

func (m *mockObserver) BatchRetried(name feed.Name) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchRetriedCalled++
}

func (m *mockObserver) SweepFinished(name feed.Name, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SweepFinishedCalled++
	m.LastSweepErr = err
}
