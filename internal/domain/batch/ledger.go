package batch

import (
	"context"
	"fmt"
	"sync"
)

// Ledger records the open pass of a feed where every consumer can see it, and counts how many
// of its batches were settled (processed or marked for retry).
//
// Consumers in other processes find a pass through Current and join it; the process that
// generated the pass only commits the checkpoint once Settled reaches the pass's batch count.
type Ledger interface {

	// Open records the pass as the feed's open pass, replacing any earlier one
	Open(ctx context.Context, pass Pass) error

	// Current returns the open pass, if there is one
	Current(ctx context.Context) (Pass, bool, error)

	// Settle counts one more settled batch of the pass. Returns StalePass if the pass was
	// replaced in the meantime.
	Settle(ctx context.Context, pass Pass) error

	// Settled returns how many batches of the pass were settled so far
	Settled(ctx context.Context, pass Pass) (Number, error)

	// Close stops the pass from being joined. Consumers that already joined carry on.
	Close(ctx context.Context, pass Pass) error
}

// MemoryLedger is a Ledger visible to a single process only
type MemoryLedger struct {
	mu      sync.Mutex
	pass    *Pass
	open    bool
	settled Number
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (m *MemoryLedger) Open(ctx context.Context, pass Pass) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pass = &pass
	m.open = true
	m.settled = 0
	return nil
}

func (m *MemoryLedger) Current(ctx context.Context) (Pass, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pass == nil || !m.open {
		return Pass{}, false, nil
	}
	return *m.pass, true, nil
}

func (m *MemoryLedger) Settle(ctx context.Context, pass Pass) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.holds(pass) {
		return StalePass{Id: pass.Id}
	}
	m.settled++
	return nil
}

func (m *MemoryLedger) Settled(ctx context.Context, pass Pass) (Number, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.holds(pass) {
		return 0, StalePass{Id: pass.Id}
	}
	return m.settled, nil
}

func (m *MemoryLedger) Close(ctx context.Context, pass Pass) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holds(pass) {
		m.open = false
	}
	return nil
}

func (m *MemoryLedger) holds(pass Pass) bool {
	return m.pass != nil && m.pass.Id == pass.Id
}

// StalePass is returned when a pass is no longer the one recorded for its feed
type StalePass struct {
	Id PassId
}

func (s StalePass) Error() string {
	return fmt.Sprintf("Pass [%s] is no longer the feed's current pass", s.Id)
}

// NoOpenPass is returned when there is no pass to join
type NoOpenPass struct{}

func (n NoOpenPass) Error() string {
	return "No open pass to join"
}
