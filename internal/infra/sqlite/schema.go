package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/feedsync/internal/domain/feed"
)

const (
	stateTable    = "feedsync_state"
	countersTable = "feedsync_counters"
	passesTable   = "feedsync_passes"
)

type table struct {
	name       string
	statements []string
}

// SchemaSetup creates the durable tables the configured feeds need. Ephemeral batch and
// sequence tables are created by each partition pass instead.
type SchemaSetup struct {
	db     *sql.DB
	tables []table
}

func NewSchemaSetup(db *sql.DB, descriptors []feed.Descriptor) *SchemaSetup {
	tables := []table{
		{
			name: stateTable,
			statements: []string{
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
					feed TEXT PRIMARY KEY,
					last_version INTEGER NOT NULL
				)`, quote(stateTable)),
			},
		},
		{
			name: countersTable,
			statements: []string{
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
					name TEXT PRIMARY KEY,
					value INTEGER NOT NULL
				)`, quote(countersTable)),
			},
		},
		{
			name: passesTable,
			statements: []string{
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
					feed TEXT PRIMARY KEY,
					pass_id TEXT NOT NULL,
					since INTEGER NOT NULL,
					up_to INTEGER NOT NULL,
					batches INTEGER NOT NULL,
					settled INTEGER NOT NULL DEFAULT 0,
					is_open INTEGER NOT NULL DEFAULT 1
				)`, quote(passesTable)),
			},
		},
	}
	seen := map[string]struct{}{}
	add := func(t table) {
		if _, ok := seen[t.name]; !ok {
			seen[t.name] = struct{}{}
			tables = append(tables, t)
		}
	}
	for _, d := range descriptors {
		add(changelogTableDef(d.ChangelogTable))
		add(feedTableDef(d.FeedTable))
		add(entityTableDef(d.EntityTable))
		if len(d.ScopesTable) > 0 {
			add(scopesTableDef(d.ScopesTable))
		}
	}
	return &SchemaSetup{db: db, tables: tables}
}

// Check returns TablesNotInstalled if any table is missing
func (s *SchemaSetup) Check(ctx context.Context) error {
	var missing []string
	for _, t := range s.tables {
		var name string
		err := s.db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, t.name).Scan(&name)
		switch {
		case err == sql.ErrNoRows:
			missing = append(missing, t.name)
		case err != nil:
			return StoreErr{Op: "check schema", Underlying: err}
		}
	}
	if len(missing) > 0 {
		return TablesNotInstalled{Missing: missing}
	}
	return nil
}

// Run creates whatever is missing
func (s *SchemaSetup) Run(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return StoreErr{Op: "setup schema", Underlying: err}
	}
	defer rollback(tx)
	for _, t := range s.tables {
		log.Info().Str("table", t.name).Msg("Ensuring table")
		for _, stmt := range t.statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return StoreErr{Op: "setup schema", Underlying: err}
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return StoreErr{Op: "setup schema", Underlying: err}
	}
	return nil
}

type TablesNotInstalled struct {
	Missing []string
}

func (t TablesNotInstalled) Error() string {
	return fmt.Sprintf("One or more tables were not installed. Please run the setup command to install them [%v]", t.Missing)
}

func changelogTableDef(name string) table {
	return table{
		name: name,
		statements: []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				version_id INTEGER PRIMARY KEY AUTOINCREMENT,
				entity_key TEXT NOT NULL
			)`, quote(name)),
		},
	}
}

func feedTableDef(name string) table {
	return table{
		name: name,
		statements: []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				identity TEXT PRIMARY KEY,
				entity_key TEXT NOT NULL,
				scope TEXT NOT NULL DEFAULT '',
				snapshot TEXT NOT NULL,
				modified_at INTEGER NOT NULL,
				is_deleted INTEGER NOT NULL DEFAULT 0
			)`, quote(name)),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (modified_at)`, quote(name+"_modified_at_idx"), quote(name)),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (entity_key)`, quote(name+"_entity_key_idx"), quote(name)),
		},
	}
}

func entityTableDef(name string) table {
	return table{
		name: name,
		statements: []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				entity_key TEXT NOT NULL,
				scope TEXT NOT NULL DEFAULT '',
				payload TEXT NOT NULL,
				PRIMARY KEY (entity_key, scope)
			)`, quote(name)),
		},
	}
}

func scopesTableDef(name string) table {
	return table{
		name: name,
		statements: []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				scope TEXT PRIMARY KEY,
				is_active INTEGER NOT NULL DEFAULT 1
			)`, quote(name)),
		},
	}
}
