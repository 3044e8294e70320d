package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	appconfig "github.com/lloydmeta/feedsync/internal/config"
	"github.com/lloydmeta/feedsync/internal/domain/batch"
	"github.com/lloydmeta/feedsync/internal/domain/feed"
	"github.com/lloydmeta/feedsync/worker/config"
)

// SweepObserver is told about batches being retried and sweeps finishing
type SweepObserver interface {
	Observer
	SweepFinished(name feed.Name, err error)
}

type NoopSweepObserver struct {
	NoopObserver
}

func (n NoopSweepObserver) SweepFinished(name feed.Name, err error) {}

// SweepInterrupted is returned when a sweep was shut down before every batch was consumed
type SweepInterrupted struct {
	Feed feed.Name
}

func (s SweepInterrupted) Error() string {
	return fmt.Sprintf("Sweep of Feed [%s] was interrupted before finishing", s.Feed)
}

// Unsettled is returned when batches claimed by other consumers of a pass were not settled in time
type Unsettled struct {
	Feed    feed.Name
	Settled batch.Number
	Batches batch.Number
}

func (u Unsettled) Error() string {
	return fmt.Sprintf("Only [%d] of [%d] batches of Feed [%s] were settled in time", u.Settled, u.Batches, u.Feed)
}

// Sweeper runs sweeps of one feed: a partition pass of everything changed since the checkpoint,
// consumed by several concurrent WorkLoops, and possibly by Sweepers in other processes that
// Join it. The checkpoint only moves once every batch was either processed or marked for retry,
// by whichever consumer claimed it.
type Sweeper struct {
	descriptor    feed.Descriptor
	generator     *batch.Generator
	processor     BatchProcessor
	concurrency   int
	batchesPerSec float64
	settleTimeout time.Duration
	observer      SweepObserver

	mu      sync.Mutex
	stopped bool
	loops   map[*WorkLoop]struct{}
}

const (
	defaultSettleTimeout = 30 * time.Second
	settlePollInterval   = 100 * time.Millisecond
)

// NewSweeper returns a Sweeper; a concurrency of 0 means a single loop
func NewSweeper(descriptor feed.Descriptor, generator *batch.Generator, processor BatchProcessor, conf appconfig.Workers, observer SweepObserver) *Sweeper {
	concurrency := int(conf.Concurrency)
	if concurrency < 1 {
		concurrency = 1
	}
	settleTimeout := conf.SettleTimeout
	if settleTimeout <= 0 {
		settleTimeout = defaultSettleTimeout
	}
	return &Sweeper{
		descriptor:    descriptor,
		generator:     generator,
		processor:     processor,
		concurrency:   concurrency,
		batchesPerSec: conf.BatchesPerSec,
		settleTimeout: settleTimeout,
		observer:      observer,
		loops:         make(map[*WorkLoop]struct{}),
	}
}

// Sweep runs one full pass. Only one Sweep per feed may run at a time.
func (s *Sweeper) Sweep(ctx context.Context) (err error) {
	defer func() {
		s.observer.SweepFinished(s.descriptor.Name, err)
	}()
	start := time.Now()
	iterator, err := s.generator.Generate(ctx)
	if err != nil {
		return err
	}
	pass := iterator.Pass()
	// drop the table and sequence even when the sweep's own context is done
	finishCtx := context.WithoutCancel(ctx)
	if pass.Empty() {
		return s.generator.Finish(finishCtx, pass, true)
	}

	loops, started := s.startLoops(iterator, pass)
	if !started {
		if err := s.generator.Finish(finishCtx, pass, false); err != nil {
			return err
		}
		return SweepInterrupted{Feed: s.descriptor.Name}
	}
	total, exhausted, runErr := s.runLoops(ctx, loops)

	complete := runErr == nil && exhausted
	if complete {
		// batches claimed by joined consumers may still be in flight
		if runErr = s.generator.Seal(finishCtx, pass); runErr == nil {
			runErr = s.awaitSettled(ctx, pass)
		}
		complete = runErr == nil
	}
	finishErr := s.generator.Finish(finishCtx, pass, complete)

	log.Info().
		Str("feed", string(s.descriptor.Name)).
		Str("pass_id", string(pass.Id)).
		Int64("since", int64(pass.Since)).
		Int64("up_to", int64(pass.UpTo)).
		Uint("processed", total.Processed).
		Uint("retried", total.Retried).
		Bool("committed", complete && finishErr == nil).
		Dur("took", time.Since(start)).
		Msg("Sweep finished")

	switch {
	case runErr != nil:
		return runErr
	case finishErr != nil:
		return finishErr
	case !complete:
		return SweepInterrupted{Feed: s.descriptor.Name}
	default:
		return nil
	}
}

// Join consumes batches of the feed's open pass, generated by a Sweeper in another process,
// until the pass runs out or this Sweeper is shut down. Does nothing if no pass is open.
func (s *Sweeper) Join(ctx context.Context) error {
	iterator, err := s.generator.Join(ctx)
	if err != nil {
		if _, none := err.(batch.NoOpenPass); none {
			return nil
		}
		return err
	}
	pass := iterator.Pass()
	loops, started := s.startLoops(iterator, pass)
	if !started {
		return nil
	}
	total, _, err := s.runLoops(ctx, loops)
	log.Info().
		Str("feed", string(s.descriptor.Name)).
		Str("pass_id", string(pass.Id)).
		Uint("processed", total.Processed).
		Uint("retried", total.Retried).
		Msg("Left joined pass")
	return err
}

// startLoops builds and registers the loops for a pass, unless the Sweeper was shut down
func (s *Sweeper) startLoops(first *batch.Iterator, pass batch.Pass) ([]*WorkLoop, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, false
	}
	loops := make([]*WorkLoop, 0, s.concurrency)
	for idx := 0; idx < s.concurrency; idx++ {
		iterator := first
		if idx > 0 {
			iterator = s.generator.Attach(pass)
		}
		loop := NewWorkLoop(
			config.NewWorkerId(string(s.descriptor.Name), idx),
			s.descriptor.Name,
			iterator,
			s.processor,
			s.batchesPerSec,
			s.observer,
		)
		s.loops[loop] = struct{}{}
		loops = append(loops, loop)
	}
	return loops, true
}

func (s *Sweeper) runLoops(ctx context.Context, loops []*WorkLoop) (LoopStats, bool, error) {
	defer func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, loop := range loops {
			delete(s.loops, loop)
		}
	}()
	stats := make([]LoopStats, len(loops))
	g, gctx := errgroup.WithContext(ctx)
	for idx, loop := range loops {
		idx, loop := idx, loop
		g.Go(func() error {
			loopStats, err := loop.Run(gctx)
			stats[idx] = loopStats
			return err
		})
	}
	err := g.Wait()

	var total LoopStats
	exhausted := true
	for _, st := range stats {
		total.Processed += st.Processed
		total.Retried += st.Retried
		exhausted = exhausted && st.Exhausted
	}
	return total, exhausted, err
}

func (s *Sweeper) awaitSettled(ctx context.Context, pass batch.Pass) error {
	deadline := time.NewTimer(s.settleTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(settlePollInterval)
	defer ticker.Stop()
	for {
		settled, err := s.generator.Settled(ctx, pass)
		if err != nil {
			return err
		}
		if settled >= pass.Batches {
			return nil
		}
		if s.isStopped() {
			return SweepInterrupted{Feed: s.descriptor.Name}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return Unsettled{Feed: s.descriptor.Name, Settled: settled, Batches: pass.Batches}
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Shutdown stops the Sweeper for good: running loops are stopped and waited for, and sweeps or
// joins that haven't started their loops yet never will.
func (s *Sweeper) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	loops := make([]*WorkLoop, 0, len(s.loops))
	for loop := range s.loops {
		loops = append(loops, loop)
	}
	s.mu.Unlock()
	g, gctx := errgroup.WithContext(ctx)
	for _, loop := range loops {
		loop := loop
		g.Go(func() error {
			return loop.Shutdown(gctx)
		})
	}
	return g.Wait()
}
