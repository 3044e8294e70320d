package leader

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/feedsync/internal/domain/tracing"
)

// InternalRecurringFunction defines a recurring function to run in the background, e.g.
// reporting changelog backlogs
type InternalRecurringFunction struct {
	name string
	// How often to run it
	interval time.Duration
	// What to run. Gets told whether we hold the leader lock so it can skip work that only
	// one process should do.
	f func(ctx context.Context, isLeader Checker) error
}

// NewInternalRecurringFunction returns a new recurring function (but doesn't run it)
// Also assumes f is non-nil.
func NewInternalRecurringFunction(name string, interval time.Duration, f func(ctx context.Context, isLeader Checker) error) InternalRecurringFunction {
	return InternalRecurringFunction{name: name, interval: interval, f: f}
}

// InternalRecurringFunctionRunner is a runner of InternalRecurringFunction
type InternalRecurringFunctionRunner struct {
	functions  []InternalRecurringFunction
	stopped    uint32
	tracer     tracing.Tracer
	leaderLock Lock
}

// NewInternalRecurringFunctionRunner creates a new InternalRecurringFunctionRunner
func NewInternalRecurringFunctionRunner(functions []InternalRecurringFunction, tracer tracing.Tracer, leaderLock Lock) InternalRecurringFunctionRunner {
	return InternalRecurringFunctionRunner{
		functions:  functions,
		stopped:    1,
		tracer:     tracer,
		leaderLock: leaderLock,
	}
}

// Start begins the InternalRecurringFunctionRunner loop
func (r *InternalRecurringFunctionRunner) Start() {
	atomic.StoreUint32(&r.stopped, 0)
	for _, t := range r.functions {
		go func(function InternalRecurringFunction, shouldRun func() bool, isLeader Checker) {
			for shouldRun() {
				startIterationTime := time.Now().UTC()
				tx := r.tracer.BackgroundTx(function.name)
				err := function.f(tx.Context(), isLeader)
				tx.End()
				if err != nil {
					log.Error().Err(err).Msgf("Failed when running recurring function [%s]", function.name)
				}
				waitTime := function.interval - time.Since(startIterationTime)
				if waitTime > 0 {
					time.Sleep(waitTime)
				}
			}
			log.Info().Msgf("Recurring function ended [%s]", function.name)
		}(t, r.shouldRun, r.leaderLock)
	}
}

// Stop stops the InternalRecurringFunctionRunner loop
func (r *InternalRecurringFunctionRunner) Stop() {
	log.Info().Msg("Stopping recurring functions")
	atomic.StoreUint32(&r.stopped, 1)
}

func (r *InternalRecurringFunctionRunner) shouldRun() bool {
	return atomic.LoadUint32(&r.stopped) == 0
}
