package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lloydmeta/feedsync/internal/domain/changelog"
	"github.com/lloydmeta/feedsync/internal/domain/feed"
)

// ChangelogSource reads a changelog table on behalf of a single feed. Rows are appended to
// the table by triggers on the source entities, or by Append when a batch is retried.
type ChangelogSource struct {
	db    *sql.DB
	feed  feed.Name
	table string
}

func NewChangelogSource(db *sql.DB, name feed.Name, table string) *ChangelogSource {
	return &ChangelogSource{db: db, feed: name, table: table}
}

func (c *ChangelogSource) Checkpoint(ctx context.Context) (changelog.VersionId, error) {
	var v int64
	err := c.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT last_version FROM %s WHERE feed = ?`, quote(stateTable)),
		string(c.feed),
	).Scan(&v)
	switch {
	case err == sql.ErrNoRows:
		return 0, nil
	case err != nil:
		return 0, StoreErr{Op: "read checkpoint", Underlying: err}
	default:
		return changelog.VersionId(v), nil
	}
}

func (c *ChangelogSource) Commit(ctx context.Context, upTo changelog.VersionId) error {
	_, err := c.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %[1]s (feed, last_version) VALUES (?, ?)
			ON CONFLICT (feed) DO UPDATE SET last_version = MAX(%[1]s.last_version, excluded.last_version)`, quote(stateTable)),
		string(c.feed), int64(upTo),
	)
	if err != nil {
		return StoreErr{Op: "commit checkpoint", Underlying: err}
	}
	return nil
}

func (c *ChangelogSource) LastVersion(ctx context.Context) (changelog.VersionId, error) {
	var v int64
	if err := c.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COALESCE(MAX(version_id), 0) FROM %s`, quote(c.table)),
	).Scan(&v); err != nil {
		return 0, StoreErr{Op: "read last version", Underlying: err}
	}
	return changelog.VersionId(v), nil
}

func (c *ChangelogSource) ChangedKeys(ctx context.Context, since changelog.VersionId, upTo changelog.VersionId) ([]changelog.Key, error) {
	var keys []changelog.Key
	if err := c.EachChangedKey(ctx, since, upTo, func(k changelog.Key) error {
		keys = append(keys, k)
		return nil
	}); err != nil {
		return nil, err
	}
	return keys, nil
}

// EachChangedKey streams the changed keys straight off the result set
func (c *ChangelogSource) EachChangedKey(ctx context.Context, since changelog.VersionId, upTo changelog.VersionId, f func(changelog.Key) error) error {
	if since > upTo {
		return changelog.InvalidRange{Since: since, UpTo: upTo}
	}
	rows, err := c.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT DISTINCT entity_key FROM %s WHERE version_id > ? AND version_id <= ? ORDER BY entity_key`, quote(c.table)),
		int64(since), int64(upTo),
	)
	if err != nil {
		return StoreErr{Op: "read changed keys", Underlying: err}
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return StoreErr{Op: "read changed keys", Underlying: err}
		}
		if err := f(changelog.Key(k)); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return StoreErr{Op: "read changed keys", Underlying: err}
	}
	return nil
}

func (c *ChangelogSource) Append(ctx context.Context, keys []changelog.Key) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return StoreErr{Op: "append changelog", Underlying: err}
	}
	defer rollback(tx)
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (entity_key) VALUES (?)`, quote(c.table)))
	if err != nil {
		return StoreErr{Op: "append changelog", Underlying: err}
	}
	defer stmt.Close()
	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, string(k)); err != nil {
			return StoreErr{Op: "append changelog", Underlying: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return StoreErr{Op: "append changelog", Underlying: err}
	}
	return nil
}

func (c *ChangelogSource) Backlog(ctx context.Context) (uint64, error) {
	checkpoint, err := c.Checkpoint(ctx)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := c.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE version_id > ?`, quote(c.table)),
		int64(checkpoint),
	).Scan(&count); err != nil {
		return 0, StoreErr{Op: "count backlog", Underlying: err}
	}
	return uint64(count), nil
}
