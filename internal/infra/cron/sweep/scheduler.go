package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/feedsync/internal/domain/feed"
	"github.com/lloydmeta/feedsync/internal/domain/leader"
	"github.com/lloydmeta/feedsync/internal/domain/tracing"
)

// Sweeper runs one full pass over the changelog of a feed
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// Scheduler triggers sweeps of feeds on their cron schedules.
//
// A sweep only runs while this process holds the feed's leader lock, and never overlaps a
// still-running sweep of the same feed, so there is at most one partition pass per feed at a
// time.
type Scheduler struct {
	cron *cron.Cron

	tracer tracing.Tracer

	namesToEntryIds map[feed.Name]cron.EntryID

	mu sync.Mutex
}

// NewScheduler returns a Scheduler that delegates to the standard robfig/cron
func NewScheduler(tracer tracing.Tracer) *Scheduler {
	return &Scheduler{
		cron:            cron.New(cron.WithLocation(time.UTC)),
		tracer:          tracer,
		namesToEntryIds: make(map[feed.Name]cron.EntryID),
	}
}

// Schedule (re)schedules sweeps of the named feed
func (s *Scheduler) Schedule(name feed.Name, schedule string, lock leader.Checker, sweeper Sweeper) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Info().
		Str("feed", string(name)).
		Str("expression", schedule).
		Msg("Scheduling Feed sweeps to Cron")

	if entryId, ok := s.namesToEntryIds[name]; ok {
		s.cron.Remove(entryId)
		delete(s.namesToEntryIds, name)
	}

	job := cron.NewChain(
		cron.Recover(zeroLogCronLogger{}),
		cron.SkipIfStillRunning(zeroLogCronLogger{}),
	).Then(cron.FuncJob(func() {
		s.run(name, lock, sweeper)
	}))

	entryId, err := s.cron.AddJob(schedule, job)
	if err != nil {
		return InvalidSchedule{Feed: name, Expression: schedule, Underlying: err}
	}
	s.namesToEntryIds[name] = entryId
	return nil
}

func (s *Scheduler) run(name feed.Name, lock leader.Checker, sweeper Sweeper) {
	if !lock.IsLeader() {
		if log.Debug().Enabled() {
			log.Debug().Str("feed", string(name)).Msg("Not the leader, skipping sweep")
		}
		return
	}
	tx := s.tracer.BackgroundTx("feed-sweep")
	defer tx.End()
	tx.Label("feed", string(name))
	if err := sweeper.Sweep(tx.Context()); err != nil {
		tx.Fail(err)
		log.Error().
			Err(err).
			Str("feed", string(name)).
			Msg("Sweep failed, checkpoint left where it was")
	}
}

func (s *Scheduler) Unschedule(name feed.Name) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryId, ok := s.namesToEntryIds[name]; ok {
		log.Info().
			Str("feed", string(name)).
			Msg("Unscheduling Feed sweeps from Cron")
		s.cron.Remove(entryId)
		delete(s.namesToEntryIds, name)
		return true
	} else {
		return false
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Start()
}

// Stop stops scheduling new sweeps; the returned context is done once running ones finish
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron.Stop()
}

// Parse validates a schedule expression
func Parse(spec string) (cron.Schedule, error) {
	return cron.ParseStandard(spec)
}

type InvalidSchedule struct {
	Feed       feed.Name
	Expression string
	Underlying error
}

func (i InvalidSchedule) Error() string {
	return fmt.Sprintf("Invalid schedule [%s] for Feed [%s]: %v", i.Expression, i.Feed, i.Underlying)
}

func (i InvalidSchedule) Unwrap() error {
	return i.Underlying
}

type zeroLogCronLogger struct {
}

func (z zeroLogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	if log.Debug().Enabled() {
		log.Debug().Fields(formatTimeValues(keysAndValues)).Msg(msg)
	}
}

func (z zeroLogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	if log.Error().Enabled() {
		log.Error().Err(err).Fields(formatTimeValues(keysAndValues)).Msg(msg)
	}
}

// formatTimeValues formats any time.Time values as RFC3339 *and*
// returns the even-odd idx key-value pair slice as a map
func formatTimeValues(keysAndValues []interface{}) map[string]interface{} {
	formattedArgs := make(map[string]interface{}, len(keysAndValues)/2)
	for idx := 0; idx < len(keysAndValues); idx += 2 {
		key, ok := keysAndValues[idx].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[idx])
		}
		if valueIdx := idx + 1; valueIdx < len(keysAndValues) {
			value := keysAndValues[valueIdx]
			if t, ok := value.(time.Time); ok {
				value = t.Format(time.RFC3339)
			}
			formattedArgs[key] = value
		}
	}
	return formattedArgs
}
