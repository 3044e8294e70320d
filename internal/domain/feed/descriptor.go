package feed

import (
	"fmt"
	"regexp"

	"github.com/lloydmeta/feedsync/internal/config"
)

// Column of a feed table that a reindex is allowed to overwrite. Identity and key are
// insert-only; ModifiedAt is always written.
type Column string

const (
	SnapshotColumn Column = "snapshot"
	ScopeColumn    Column = "scope"
)

var mutableColumns = map[Column]struct{}{
	SnapshotColumn: {},
	ScopeColumn:    {},
}

const (
	DefaultBatchSize  uint = 500
	DefaultPageOffset uint = 100
	DefaultSchedule        = "@every 1m"
)

var validTableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// Descriptor is the metadata for a single feed: where its data comes from, where it goes
// and how it is batched and paged.
type Descriptor struct {
	Name           Name
	ChangelogTable string
	FeedTable      string
	EntityTable    string
	ScopesTable    string
	IdentityField  string
	BatchSize      uint
	PageOffset     uint
	MutableColumns []Column
	Schedule       string
}

// DescriptorFromConfig validates the config of a feed and fills in defaults
func DescriptorFromConfig(conf config.Feed) (*Descriptor, error) {
	name, err := NameFromString(conf.Name)
	if err != nil {
		return nil, err
	}
	var errs []error
	d := Descriptor{
		Name:           *name,
		ChangelogTable: orDefault(conf.ChangelogTable, fmt.Sprintf("%s_changelog", *name)),
		FeedTable:      orDefault(conf.FeedTable, fmt.Sprintf("%s_feed", *name)),
		EntityTable:    orDefault(conf.EntityTable, fmt.Sprintf("%s_entities", *name)),
		ScopesTable:    conf.ScopesTable,
		IdentityField:  orDefault(conf.IdentityField, "id"),
		BatchSize:      conf.BatchSize,
		PageOffset:     conf.PageOffset,
		Schedule:       orDefault(conf.Schedule, DefaultSchedule),
	}
	if d.BatchSize == 0 {
		d.BatchSize = DefaultBatchSize
	}
	if d.PageOffset == 0 {
		d.PageOffset = DefaultPageOffset
	}
	for _, table := range []string{d.ChangelogTable, d.FeedTable, d.EntityTable} {
		if !validTableName.MatchString(table) {
			errs = append(errs, fmt.Errorf("invalid table name [%s]", table))
		}
	}
	if len(d.ScopesTable) > 0 && !validTableName.MatchString(d.ScopesTable) {
		errs = append(errs, fmt.Errorf("invalid table name [%s]", d.ScopesTable))
	}
	if len(conf.MutableColumns) == 0 {
		d.MutableColumns = []Column{SnapshotColumn, ScopeColumn}
	} else {
		for _, c := range conf.MutableColumns {
			if _, ok := mutableColumns[Column(c)]; ok {
				d.MutableColumns = append(d.MutableColumns, Column(c))
			} else {
				errs = append(errs, fmt.Errorf("column [%s] is not mutable", c))
			}
		}
		// without it, changed payloads would never be written and modified_at would never move
		if !d.Mutable(SnapshotColumn) {
			errs = append(errs, fmt.Errorf("column [%s] must be mutable", SnapshotColumn))
		}
	}
	if len(errs) != 0 {
		return nil, InvalidDescriptor{Name: *name, Errors: errs}
	}
	return &d, nil
}

// BatchTable is the name of the ephemeral table a partition pass materialises its batches into
func (d *Descriptor) BatchTable() string {
	return fmt.Sprintf("%s_batches", d.Name)
}

// SequenceName is the name of the ephemeral allocator behind batch numbers
func (d *Descriptor) SequenceName() string {
	return fmt.Sprintf("%s_batch_sequence", d.Name)
}

// Mutable returns true if the column may be overwritten on reindex
func (d *Descriptor) Mutable(c Column) bool {
	for _, m := range d.MutableColumns {
		if m == c {
			return true
		}
	}
	return false
}

func orDefault(s string, def string) string {
	if len(s) == 0 {
		return def
	}
	return s
}

type InvalidDescriptor struct {
	Name   Name
	Errors []error
}

func (i InvalidDescriptor) Error() string {
	return fmt.Sprintf("Invalid config for Feed [%s]: %v", i.Name, i.Errors)
}
