package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/lloydmeta/feedsync/internal/domain/batch"
	"github.com/lloydmeta/feedsync/internal/domain/changelog"
	"github.com/lloydmeta/feedsync/internal/domain/feed"
	"github.com/lloydmeta/feedsync/worker/config"
)

// BatchProcessor materialises the keys of a batch into a feed
type BatchProcessor interface {
	Process(ctx context.Context, keys []changelog.Key) (*feed.Applied, error)
}

// Observer is told about batches that had to be put back on the changelog
type Observer interface {
	BatchRetried(name feed.Name)
}

type NoopObserver struct{}

func (n NoopObserver) BatchRetried(name feed.Name) {}

// LoopStats sums up what a WorkLoop did
type LoopStats struct {
	Processed uint
	Retried   uint
	// Exhausted is true if the loop ran out of batches, rather than being stopped
	Exhausted bool
}

type RetryFailed struct {
	Batch      batch.Number
	Cause      error
	Underlying error
}

func (r RetryFailed) Error() string {
	return fmt.Sprintf("Failed to mark batch [%d] for retry after [%v]: %v", r.Batch, r.Cause, r.Underlying)
}

func (r RetryFailed) Unwrap() error {
	return r.Underlying
}

// WorkLoop pulls batches off an Iterator and processes them one at a time until the pass is
// exhausted or it is stopped. A batch that fails to process gets its keys marked for retry,
// and the loop carries on.
type WorkLoop struct {
	workerId         config.WorkerId
	feed             feed.Name
	iterator         *batch.Iterator
	processor        BatchProcessor
	limiter          *rate.Limiter // nil means unlimited
	observer         Observer
	stopSignal       uint32
	loopStopNotifier chan bool
}

// NewWorkLoop returns a WorkLoop; batchesPerSec <= 0 means no rate limit
func NewWorkLoop(workerId config.WorkerId, name feed.Name, iterator *batch.Iterator, processor BatchProcessor, batchesPerSec float64, observer Observer) *WorkLoop {
	var limiter *rate.Limiter
	if batchesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(batchesPerSec), 1)
	}
	return &WorkLoop{
		workerId:         workerId,
		feed:             name,
		iterator:         iterator,
		processor:        processor,
		limiter:          limiter,
		observer:         observer,
		loopStopNotifier: make(chan bool, 1),
	}
}

// Run consumes batches until there are none left, the loop is stopped, or something fails
// in a way retrying can't cover (claiming a batch, or marking it for retry)
func (w *WorkLoop) Run(ctx context.Context) (LoopStats, error) {
	defer func() {
		w.loopStopNotifier <- true
	}()
	var stats LoopStats
	for !w.isStopped() {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return stats, err
			}
		}
		b, err := w.iterator.Next(ctx)
		if err != nil {
			if _, done := err.(batch.Exhausted); done {
				stats.Exhausted = true
				break
			}
			return stats, err
		}
		if _, err := w.processor.Process(ctx, b.Keys); err != nil {
			log.Warn().
				Err(err).
				Str("feed", string(w.feed)).
				Str("worker_id", string(w.workerId)).
				Int64("batch_number", int64(b.Number)).
				Int("keys_count", len(b.Keys)).
				Msg("Failed to process batch, marking it for retry")
			if retryErr := w.iterator.MarkForRetry(ctx); retryErr != nil {
				return stats, RetryFailed{Batch: b.Number, Cause: err, Underlying: retryErr}
			}
			w.observer.BatchRetried(w.feed)
			stats.Retried++
			w.settle(ctx, b)
			continue
		}
		stats.Processed++
		w.settle(ctx, b)
		if log.Debug().Enabled() {
			log.Debug().
				Str("feed", string(w.feed)).
				Str("worker_id", string(w.workerId)).
				Int64("batch_number", int64(b.Number)).
				Int("keys_count", len(b.Keys)).
				Msg("Processed batch")
		}
	}
	return stats, nil
}

// A batch that fails to settle only keeps the pass from committing its checkpoint; its keys
// get swept again by the next pass.
func (w *WorkLoop) settle(ctx context.Context, b batch.Batch) {
	if err := w.iterator.Settle(ctx); err != nil {
		log.Warn().
			Err(err).
			Str("feed", string(w.feed)).
			Str("worker_id", string(w.workerId)).
			Int64("batch_number", int64(b.Number)).
			Msg("Failed to settle batch")
	}
}

func (w *WorkLoop) isStopped() bool {
	return atomic.LoadUint32(&w.stopSignal) > 0
}

func (w *WorkLoop) stop() {
	atomic.StoreUint32(&w.stopSignal, 1)
}

// Shutdown stops the loop after its current batch, waiting for that to happen until ctx is done.
// Only call it on a loop that is running.
func (w *WorkLoop) Shutdown(ctx context.Context) error {
	w.stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.loopStopNotifier:
		return nil
	}
}
