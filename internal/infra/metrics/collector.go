package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lloydmeta/feedsync/internal/domain/feed"
)

const namespace = "feedsync"

// Collector is a prometheus.Collector keeping per-feed metrics about sweeps.
//
// It doubles as the observer handed to the indexer and the worker.
type Collector struct {
	batchesProcessed     *prometheus.CounterVec
	batchesRetried       *prometheus.CounterVec
	recordsUpserted      *prometheus.CounterVec
	recordsDeleted       *prometheus.CounterVec
	notificationFailures *prometheus.CounterVec
	sweeps               *prometheus.CounterVec
	batchDuration        *prometheus.HistogramVec
	backlog              *prometheus.GaugeVec
}

func NewCollector() *Collector {
	feedLabel := []string{"feed"}
	return &Collector{
		batchesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_processed_total",
			Help:      "The number of batches materialised into a feed.",
		}, feedLabel),
		batchesRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_retried_total",
			Help:      "The number of batches whose keys were put back on the changelog after failing.",
		}, feedLabel),
		recordsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_upserted_total",
			Help:      "The number of feed records inserted or changed.",
		}, feedLabel),
		recordsDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_deleted_total",
			Help:      "The number of feed records soft deleted.",
		}, feedLabel),
		notificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "The number of times publishing feed changes failed.",
		}, feedLabel),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "The number of sweeps run, by outcome.",
		}, []string{"feed", "result"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "The time taken to materialise a batch.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, feedLabel),
		backlog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "changelog_backlog",
			Help:      "The number of changelog rows past the checkpoint of a feed.",
		}, feedLabel),
	}
}

func (c *Collector) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.batchesProcessed,
		c.batchesRetried,
		c.recordsUpserted,
		c.recordsDeleted,
		c.notificationFailures,
		c.sweeps,
		c.batchDuration,
		c.backlog,
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.all() {
		m.Describe(ch)
	}
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.all() {
		m.Collect(ch)
	}
}

func (c *Collector) Processed(name feed.Name, keys int, applied *feed.Applied, took time.Duration) {
	c.batchesProcessed.WithLabelValues(string(name)).Inc()
	c.batchDuration.WithLabelValues(string(name)).Observe(took.Seconds())
	if applied != nil {
		c.recordsUpserted.WithLabelValues(string(name)).Add(float64(len(applied.Upserted)))
		c.recordsDeleted.WithLabelValues(string(name)).Add(float64(len(applied.Deleted)))
	}
}

func (c *Collector) NotificationFailed(name feed.Name, err error) {
	c.notificationFailures.WithLabelValues(string(name)).Inc()
}

func (c *Collector) BatchRetried(name feed.Name) {
	c.batchesRetried.WithLabelValues(string(name)).Inc()
}

func (c *Collector) SweepFinished(name feed.Name, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.sweeps.WithLabelValues(string(name), result).Inc()
}

func (c *Collector) SetBacklog(name feed.Name, backlog uint64) {
	c.backlog.WithLabelValues(string(name)).Set(float64(backlog))
}
