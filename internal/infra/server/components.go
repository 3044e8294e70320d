package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/logger"
	"github.com/gin-gonic/gin"
	"github.com/gomodule/redigo/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/swaggo/gin-swagger/swaggerFiles"
	"go.elastic.co/apm/module/apmgin"
	"golang.org/x/sync/errgroup"

	feedController "github.com/lloydmeta/feedsync/internal/api/controllers/feed"
	"github.com/lloydmeta/feedsync/internal/config"
	"github.com/lloydmeta/feedsync/internal/domain/batch"
	"github.com/lloydmeta/feedsync/internal/domain/changelog"
	"github.com/lloydmeta/feedsync/internal/domain/feed"
	"github.com/lloydmeta/feedsync/internal/domain/indexer"
	"github.com/lloydmeta/feedsync/internal/domain/leader"
	"github.com/lloydmeta/feedsync/internal/domain/tracing"
	apmTracing "github.com/lloydmeta/feedsync/internal/infra/apm/tracing"
	"github.com/lloydmeta/feedsync/internal/infra/cron/sweep"
	"github.com/lloydmeta/feedsync/internal/infra/elasticsearch/common"
	"github.com/lloydmeta/feedsync/internal/infra/elasticsearch/events"
	esLeader "github.com/lloydmeta/feedsync/internal/infra/elasticsearch/leader"
	"github.com/lloydmeta/feedsync/internal/infra/elasticsearch/sequence"
	"github.com/lloydmeta/feedsync/internal/infra/metrics"
	spill "github.com/lloydmeta/feedsync/internal/infra/pebble"
	redisInfra "github.com/lloydmeta/feedsync/internal/infra/redis"
	"github.com/lloydmeta/feedsync/internal/infra/server/binding/validation"
	"github.com/lloydmeta/feedsync/internal/infra/server/routing"
	"github.com/lloydmeta/feedsync/internal/infra/server/routing/feeds"
	"github.com/lloydmeta/feedsync/internal/infra/sqlite"
	"github.com/lloydmeta/feedsync/worker"
)

const (
	defaultShutdownTimeout     = 30 * time.Second
	defaultLoopStopTimeout     = 10 * time.Second
	defaultLeaderCheckInterval = 5 * time.Second
	defaultLeaderLagTolerance  = 30 * time.Second
	defaultBacklogInterval     = 15 * time.Second
	defaultJoinInterval        = 5 * time.Second
	defaultConflictRetries     = 50
)

// Components holds everything a running feedsync server is made of
type Components struct {
	Config *config.App

	db        *sql.DB
	spillDb   *pebble.DB
	redisPool *redis.Pool

	scheduler *sweep.Scheduler
	sweepers  []*worker.Sweeper
	locks     []leader.Lock
	recurring leader.InternalRecurringFunctionRunner
	server    *http.Server
}

// NewComponents builds the Components of the server out of the config, setting up whatever
// storage is missing along the way.
func NewComponents(conf *config.App) (*Components, error) {
	ctx := context.Background()

	descriptors, err := descriptorsFromConfig(conf.Feeds)
	if err != nil {
		return nil, err
	}

	db, err := sqlite.Open(ctx, conf.Storage)
	if err != nil {
		return nil, err
	}
	c := Components{Config: conf, db: db}

	var esClient *elasticsearch.Client
	if conf.Elasticsearch != nil {
		if esClient, err = common.NewClient(*conf.Elasticsearch); err != nil {
			return nil, err
		}
	}
	if err := NewSetup(db, esClient, conf, descriptors).RunIfNeeded(ctx); err != nil {
		return nil, err
	}

	if conf.Partition.Backend == config.PartitionPebble {
		if c.spillDb, err = spill.Open(conf.Partition); err != nil {
			return nil, err
		}
	}
	if conf.Redis != nil {
		c.redisPool = redisInfra.NewPool(*conf.Redis)
	}

	tracer := apmTracing.NewTracer()
	collector := metrics.NewCollector()
	registry := prometheus.NewRegistry()
	if err := registry.Register(collector); err != nil {
		return nil, err
	}

	var notifier indexer.Notifier = indexer.LoggingNotifier{}
	if esClient != nil && conf.Elasticsearch.Events.Enabled {
		notifier = indexer.FanOutNotifier{events.NewEsNotifier(esClient), indexer.LoggingNotifier{}}
	}

	c.scheduler = sweep.NewScheduler(tracer)
	controllerFeeds := make(map[feed.Name]feedController.Feed, len(descriptors))
	sources := make(map[feed.Name]changelog.Source, len(descriptors))
	var joins []joinTarget
	for _, d := range descriptors {
		source := sqlite.NewChangelogSource(db, d.Name, d.ChangelogTable)
		store := sqlite.NewFeedStore(db, d)
		allocator, err := c.buildAllocator(esClient, d)
		if err != nil {
			return nil, err
		}
		table, err := c.buildTable(source, d)
		if err != nil {
			return nil, err
		}
		ledger, joinable := c.buildLedger(d)
		generator := batch.NewGenerator(string(d.Name), source, table, allocator, ledger, d.BatchSize)
		processor := indexer.NewIndexer(d, sqlite.NewEntityExtractor(db, d), store, notifier, collector)
		sweeper := worker.NewSweeper(d, generator, processor, conf.Workers, collector)
		lock := c.buildLock(esClient, d.Name, tracer)
		if joinable {
			joins = append(joins, joinTarget{name: d.Name, lock: lock, sweeper: sweeper})
		}

		if err := c.scheduler.Schedule(d.Name, d.Schedule, lock, sweeper); err != nil {
			return nil, err
		}
		c.sweepers = append(c.sweepers, sweeper)
		c.locks = append(c.locks, lock)
		controllerFeeds[d.Name] = feedController.Feed{Reader: store, Source: source}
		sources[d.Name] = source
	}

	recurringFunctions := []leader.InternalRecurringFunction{
		backlogReporter(orDuration(conf.Recurring.BacklogReports.RunInterval, defaultBacklogInterval), sources, collector),
	}
	if len(joins) > 0 {
		recurringFunctions = append(recurringFunctions, passJoiner(orDuration(conf.Workers.JoinInterval, defaultJoinInterval), joins))
	}
	c.recurring = leader.NewInternalRecurringFunctionRunner(recurringFunctions, tracer, leader.ConstantLock(true))

	c.server = &http.Server{
		Addr:    conf.BindAddress,
		Handler: buildEngine(conf, feedController.New(controllerFeeds), registry),
	}
	return &c, nil
}

// Run starts everything and blocks until SIGINT or SIGTERM, then shuts down gracefully
func (c *Components) Run() {
	for _, l := range c.locks {
		l.Start()
	}
	c.scheduler.Start()
	c.recurring.Start()

	go func() {
		log.Info().Str("bind_address", c.server.Addr).Msg("Starting server")
		if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), orDuration(c.Config.ShutdownTimeout, defaultShutdownTimeout))
	defer cancel()
	if err := c.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to shut down cleanly")
	}
	log.Info().Msg("Bye")
}

// Shutdown stops taking requests, stops scheduling sweeps, waits for running sweeps to wind
// down and then releases storage.
func (c *Components) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error {
		return c.server.Shutdown(ctx)
	})
	c.recurring.Stop()
	cronStopped := c.scheduler.Stop()
	loopsCtx, cancelLoops := context.WithTimeout(ctx, orDuration(c.Config.Workers.LoopStopTimeout, defaultLoopStopTimeout))
	defer cancelLoops()
	for _, s := range c.sweepers {
		s := s
		g.Go(func() error {
			return s.Shutdown(loopsCtx)
		})
	}
	select {
	case <-cronStopped.Done():
	case <-ctx.Done():
		log.Warn().Msg("Timed out waiting for sweeps to end")
	}
	for _, l := range c.locks {
		l.Stop()
	}
	err := g.Wait()
	if c.redisPool != nil {
		_ = c.redisPool.Close()
	}
	if c.spillDb != nil {
		if closeErr := c.spillDb.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	if closeErr := c.db.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func descriptorsFromConfig(feeds []config.Feed) ([]feed.Descriptor, error) {
	if len(feeds) == 0 {
		return nil, fmt.Errorf("no feeds configured")
	}
	descriptors := make([]feed.Descriptor, 0, len(feeds))
	seen := make(map[feed.Name]struct{}, len(feeds))
	for _, f := range feeds {
		d, err := feed.DescriptorFromConfig(f)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("feed [%s] configured more than once", d.Name)
		}
		if _, err := sweep.Parse(d.Schedule); err != nil {
			return nil, sweep.InvalidSchedule{Feed: d.Name, Expression: d.Schedule, Underlying: err}
		}
		seen[d.Name] = struct{}{}
		descriptors = append(descriptors, *d)
	}
	return descriptors, nil
}

func (c *Components) buildAllocator(esClient *elasticsearch.Client, d feed.Descriptor) (batch.Allocator, error) {
	seq := c.Config.Sequence
	step := batch.DefaultStep
	if seq.Stride > 0 {
		step.Stride = seq.Stride
	}
	if seq.Offset > 0 {
		step.Offset = seq.Offset
	}
	switch seq.Backend {
	case config.SequenceAutoIncrement, "":
		return sqlite.NewAutoIncrementAllocator(c.db, d.SequenceName(), step.Offset), nil
	case config.SequenceCounter:
		return sqlite.NewCounterAllocator(c.db, d.SequenceName(), step), nil
	case config.SequenceMemory:
		return batch.NewMemoryAllocator(step), nil
	case config.SequenceRedis:
		if c.redisPool == nil {
			return nil, fmt.Errorf("sequence backend [%s] needs redis to be configured", seq.Backend)
		}
		return redisInfra.NewSequenceAllocator(c.redisPool, d.SequenceName(), step), nil
	case config.SequenceElasticsearch:
		if esClient == nil {
			return nil, fmt.Errorf("sequence backend [%s] needs elasticsearch to be configured", seq.Backend)
		}
		retries := seq.VersionConflictRetryTimes
		if retries == 0 {
			retries = defaultConflictRetries
		}
		return sequence.NewEsAllocator(esClient, d.SequenceName(), step, retries), nil
	default:
		return nil, fmt.Errorf("unknown sequence backend [%s]", seq.Backend)
	}
}

func (c *Components) buildTable(source changelog.Source, d feed.Descriptor) (batch.Table, error) {
	switch c.Config.Partition.Backend {
	case config.PartitionSqlite, "":
		return sqlite.NewBatchTable(c.db, d.BatchTable(), d.ChangelogTable), nil
	case config.PartitionMemory:
		return batch.NewSnapshotTable(source), nil
	case config.PartitionPebble:
		return spill.NewSpillTable(c.spillDb, d.BatchTable(), source), nil
	default:
		return nil, fmt.Errorf("unknown partition backend [%s]", c.Config.Partition.Backend)
	}
}

// Passes can only be joined from other processes when both the batch table and the allocator
// live in shared storage
func (c *Components) buildLedger(d feed.Descriptor) (batch.Ledger, bool) {
	sharedTable := c.Config.Partition.Backend == config.PartitionSqlite || c.Config.Partition.Backend == ""
	sharedAllocator := c.Config.Sequence.Backend != config.SequenceMemory
	if sharedTable && sharedAllocator {
		return sqlite.NewPassLedger(c.db, d.Name), true
	}
	return batch.NewMemoryLedger(), false
}

// One lock per feed, so sweeps of different feeds can land on different processes
func (c *Components) buildLock(esClient *elasticsearch.Client, name feed.Name, tracer tracing.Tracer) leader.Lock {
	if esClient == nil {
		return leader.ConstantLock(true)
	}
	lockConf := c.Config.Recurring.LeaderLock
	return esLeader.NewLeaderLock(
		common.DocumentID(fmt.Sprintf("sweep-%s", name)),
		esClient,
		orDuration(lockConf.CheckInterval, defaultLeaderCheckInterval),
		orDuration(lockConf.ReportLagTolerance, defaultLeaderLagTolerance),
		tracer,
	)
}

func backlogReporter(interval time.Duration, sources map[feed.Name]changelog.Source, collector *metrics.Collector) leader.InternalRecurringFunction {
	return leader.NewInternalRecurringFunction(
		"report-backlogs",
		interval,
		func(ctx context.Context, isLeader leader.Checker) error {
			var errs []error
			for name, source := range sources {
				backlog, err := source.Backlog(ctx)
				if err != nil {
					errs = append(errs, fmt.Errorf("feed [%s]: %w", name, err))
					continue
				}
				collector.SetBacklog(name, backlog)
			}
			return errors.Join(errs...)
		},
	)
}

type joinTarget struct {
	name    feed.Name
	lock    leader.Checker
	sweeper *worker.Sweeper
}

// passJoiner has this process help out with open passes of feeds it doesn't lead. The leader
// consumes its own passes as part of the sweep.
func passJoiner(interval time.Duration, joins []joinTarget) leader.InternalRecurringFunction {
	return leader.NewInternalRecurringFunction(
		"join-passes",
		interval,
		func(ctx context.Context, isLeader leader.Checker) error {
			var g errgroup.Group
			for _, j := range joins {
				j := j
				if j.lock.IsLeader() {
					continue
				}
				g.Go(func() error {
					if err := j.sweeper.Join(ctx); err != nil {
						return fmt.Errorf("feed [%s]: %w", j.name, err)
					}
					return nil
				})
			}
			return g.Wait()
		},
	)
}

func buildEngine(conf *config.App, controller feedController.Controller, registry *prometheus.Registry) *gin.Engine {
	validation.SetUpValidators()
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(
		logger.SetLogger(logger.Config{Logger: &log.Logger, UTC: true}),
		gin.Recovery(),
		apmgin.Middleware(engine),
		gzip.Gzip(gzip.DefaultCompression),
	)
	engine.NoRoute(routing.NoRoute)
	engine.NoMethod(routing.NoMethod)

	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	topLevelGroup := routing.NewTopLevelRoutesGroup(conf.Auth, engine)
	feedsHandler := feeds.RoutesHandler{Controller: controller}
	feedsHandler.RegisterRoutes(topLevelGroup)
	return engine
}

func orDuration(d time.Duration, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
