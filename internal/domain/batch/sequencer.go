package batch

import (
	"context"
	"sync"
	"sync/atomic"
)

// RawId is an id handed out by an Allocator, before normalisation
type RawId int64

// Step describes how an Allocator advances: the first id after a reset is Offset, and each
// following one is Stride more than the last. Replicated writers are typically set up with
// the same Stride and different Offsets so their ids never collide.
type Step struct {
	Stride int64
	Offset int64
}

// DefaultStep is the step of an allocator that counts 1, 2, 3...
var DefaultStep = Step{Stride: 1, Offset: 1}

// Allocator is a durable source of unique, increasing ids, shared by every consumer of a pass.
//
// Uniqueness across concurrent callers, including ones in other processes, is the Allocator's
// job; nothing above it takes locks.
type Allocator interface {

	// Reset (re)creates the allocator so that the next id handed out is the first
	Reset(ctx context.Context) error

	// Allocate hands out the next id
	Allocate(ctx context.Context) (RawId, error)

	// Step returns how the allocator advances
	Step(ctx context.Context) (Step, error)

	// Destroy releases the allocator
	Destroy(ctx context.Context) error
}

// Normalize maps a raw id onto the dense 1-based sequence of batch numbers
func Normalize(raw RawId, step Step) (Number, error) {
	if step.Stride <= 0 {
		return 0, InvalidAllocation{Raw: raw, Step: step}
	}
	shifted := int64(raw) - step.Offset
	if shifted < 0 || shifted%step.Stride != 0 {
		return 0, InvalidAllocation{Raw: raw, Step: step}
	}
	return Number(shifted/step.Stride + 1), nil
}

// Sequencer hands out batch numbers 1, 2, 3... to concurrent consumers of a pass, whatever the
// step of the Allocator underneath.
type Sequencer struct {
	allocator Allocator

	mu   sync.Mutex
	step *Step
}

// NewSequencer returns a Sequencer over the given Allocator
func NewSequencer(allocator Allocator) *Sequencer {
	return &Sequencer{allocator: allocator}
}

// Init resets the allocator and caches its step
func (s *Sequencer) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step = nil
	if err := s.allocator.Reset(ctx); err != nil {
		return err
	}
	step, err := s.allocator.Step(ctx)
	if err != nil {
		return err
	}
	s.step = &step
	return nil
}

// Next returns the next batch number
func (s *Sequencer) Next(ctx context.Context) (Number, error) {
	step, err := s.currentStep(ctx)
	if err != nil {
		return 0, err
	}
	raw, err := s.allocator.Allocate(ctx)
	if err != nil {
		return 0, err
	}
	return Normalize(raw, step)
}

// Destroy releases the allocator
func (s *Sequencer) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step = nil
	return s.allocator.Destroy(ctx)
}

// Sequencers attached to a pass started elsewhere have never seen Init
func (s *Sequencer) currentStep(ctx context.Context) (Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step == nil {
		step, err := s.allocator.Step(ctx)
		if err != nil {
			return Step{}, err
		}
		s.step = &step
	}
	return *s.step, nil
}

// MemoryAllocator is an Allocator for a single process
type MemoryAllocator struct {
	step Step
	last int64
}

// NewMemoryAllocator returns a MemoryAllocator with the given step
func NewMemoryAllocator(step Step) *MemoryAllocator {
	a := MemoryAllocator{step: step}
	a.last = step.Offset - step.Stride
	return &a
}

func (m *MemoryAllocator) Reset(ctx context.Context) error {
	atomic.StoreInt64(&m.last, m.step.Offset-m.step.Stride)
	return nil
}

func (m *MemoryAllocator) Allocate(ctx context.Context) (RawId, error) {
	return RawId(atomic.AddInt64(&m.last, m.step.Stride)), nil
}

func (m *MemoryAllocator) Step(ctx context.Context) (Step, error) {
	return m.step, nil
}

func (m *MemoryAllocator) Destroy(ctx context.Context) error {
	return m.Reset(ctx)
}
