package config

import "time"

type TopLevel struct {
	Feedsync Feedsync `json:"feedsync" mapstructure:"feedsync"`
}

type Feedsync struct {
	Server App `json:"server" mapstructure:"server"`
}

type App struct {
	BindAddress     string               `json:"bind_address" mapstructure:"bind_address"`
	ShutdownTimeout time.Duration        `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	Storage         Storage              `json:"storage" mapstructure:"storage"`
	Elasticsearch   *ElasticsearchClient `json:"elasticsearch,omitempty" mapstructure:"elasticsearch"`
	Redis           *Redis               `json:"redis,omitempty" mapstructure:"redis"`
	ApmClient       *ApmClient           `json:"apm,omitempty" mapstructure:"apm"`
	Auth            *Auth                `json:"auth,omitempty" mapstructure:"auth"`
	Logging         *Logging             `json:"logging,omitempty" mapstructure:"logging"`
	Sequence        Sequence             `json:"sequence" mapstructure:"sequence"`
	Partition       Partition            `json:"partition" mapstructure:"partition"`
	Workers         Workers              `json:"workers" mapstructure:"workers"`
	Recurring       Recurring            `json:"recurring" mapstructure:"recurring"`
	Feeds           []Feed               `json:"feeds" mapstructure:"feeds"`
}

type Logging struct {
	Json  *bool   `json:"json,omitempty" mapstructure:"json"`
	File  *string `json:"file,omitempty" mapstructure:"file"`
	Level *string `json:"level,omitempty" mapstructure:"level"`
}

// Storage configures the relational store that holds changelogs, batch tables and feeds
type Storage struct {
	Path        string        `json:"path" mapstructure:"path"`
	BusyTimeout time.Duration `json:"busy_timeout" mapstructure:"busy_timeout"`
}

type ElasticsearchClient struct {
	Addresses []string       `json:"addresses" mapstructure:"addresses"`
	User      *BasicAuthUser `json:"user,omitempty" mapstructure:"user"`
	// Publish CDC events into per-feed event indices
	Events EventsIndexing `json:"events" mapstructure:"events"`
}

type EventsIndexing struct {
	Enabled   bool          `json:"enabled" mapstructure:"enabled"`
	Retention time.Duration `json:"retention" mapstructure:"retention"`
}

type Redis struct {
	Address     string        `json:"address" mapstructure:"address"`
	MaxIdle     int           `json:"max_idle" mapstructure:"max_idle"`
	IdleTimeout time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
}

type ApmClient struct {
	Address     *string `json:"address,omitempty" mapstructure:"address"`
	SecretToken *string `json:"secret_token,omitempty" mapstructure:"secret_token"`
}

type Auth struct {
	BasicAuth []BasicAuthUser `json:"basic_auth" mapstructure:"basic_auth"`
}

type BasicAuthUser struct {
	Name     string `json:"name" mapstructure:"name"`
	Password string `json:"password" mapstructure:"password"`
}

type SequenceBackend string

const (
	SequenceAutoIncrement SequenceBackend = "auto_increment"
	SequenceCounter       SequenceBackend = "counter"
	SequenceElasticsearch SequenceBackend = "elasticsearch"
	SequenceRedis         SequenceBackend = "redis"
	SequenceMemory        SequenceBackend = "memory"
)

// Sequence configures the allocator behind batch numbers.
//
// Stride and Offset describe how the allocator advances raw ids; they are only
// honoured by backends that can be configured that way (redis, memory, and the
// offset of auto_increment).
type Sequence struct {
	Backend                   SequenceBackend `json:"backend" mapstructure:"backend"`
	Stride                    int64           `json:"stride" mapstructure:"stride"`
	Offset                    int64           `json:"offset" mapstructure:"offset"`
	VersionConflictRetryTimes uint            `json:"version_conflict_retry_times" mapstructure:"version_conflict_retry_times"`
}

type PartitionBackend string

const (
	PartitionSqlite PartitionBackend = "sqlite"
	PartitionMemory PartitionBackend = "memory"
	PartitionPebble PartitionBackend = "pebble"
)

type Partition struct {
	Backend PartitionBackend `json:"backend" mapstructure:"backend"`
	// Directory used by the pebble backend for spilled partitions
	SpillDir string `json:"spill_dir" mapstructure:"spill_dir"`
}

type Workers struct {
	Concurrency     uint          `json:"concurrency" mapstructure:"concurrency"`
	BatchesPerSec   float64       `json:"batches_per_sec" mapstructure:"batches_per_sec"`
	LoopStopTimeout time.Duration `json:"loop_stop_timeout" mapstructure:"loop_stop_timeout"`
	// How long a sweep waits for batches claimed by other processes to settle before giving up
	// on committing its checkpoint
	SettleTimeout time.Duration `json:"settle_timeout" mapstructure:"settle_timeout"`
	// How often a process that doesn't lead a feed looks for an open pass of it to join
	JoinInterval time.Duration `json:"join_interval" mapstructure:"join_interval"`
}

type Recurring struct {
	LeaderLock     LeaderLock     `json:"leader_lock" mapstructure:"leader_lock"`
	BacklogReports BacklogReports `json:"backlog_reports" mapstructure:"backlog_reports"`
}

type LeaderLock struct {
	CheckInterval      time.Duration `json:"check_interval" mapstructure:"check_interval"`
	ReportLagTolerance time.Duration `json:"report_lag_tolerance" mapstructure:"report_lag_tolerance"`
}

type BacklogReports struct {
	RunInterval time.Duration `json:"run_interval" mapstructure:"run_interval"`
}

// Feed is the metadata descriptor of a single feed
type Feed struct {
	Name           string   `json:"name" mapstructure:"name"`
	ChangelogTable string   `json:"changelog_table" mapstructure:"changelog_table"`
	FeedTable      string   `json:"feed_table" mapstructure:"feed_table"`
	EntityTable    string   `json:"entity_table" mapstructure:"entity_table"`
	ScopesTable    string   `json:"scopes_table,omitempty" mapstructure:"scopes_table"`
	IdentityField  string   `json:"identity_field" mapstructure:"identity_field"`
	BatchSize      uint     `json:"batch_size" mapstructure:"batch_size"`
	PageOffset     uint     `json:"page_offset" mapstructure:"page_offset"`
	MutableColumns []string `json:"mutable_columns" mapstructure:"mutable_columns"`
	Schedule       string   `json:"schedule" mapstructure:"schedule"`
}
