package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lloydmeta/feedsync/internal/domain/batch"
	"github.com/lloydmeta/feedsync/internal/domain/changelog"
)

// BatchTable materialises a partition pass into a table of (batch_number, entity_key) rows,
// numbered with a window function so the store does the partitioning.
type BatchTable struct {
	db             *sql.DB
	name           string
	changelogTable string
}

func NewBatchTable(db *sql.DB, name string, changelogTable string) *BatchTable {
	return &BatchTable{db: db, name: name, changelogTable: changelogTable}
}

func (b *BatchTable) Rebuild(ctx context.Context, since changelog.VersionId, upTo changelog.VersionId, size uint) (batch.Number, error) {
	if size == 0 {
		return 0, batch.InvalidSize{Size: size}
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, StoreErr{Op: "rebuild batches", Underlying: err}
	}
	defer rollback(tx)
	statements := []struct {
		query string
		args  []interface{}
	}{
		{fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quote(b.name)), nil},
		{fmt.Sprintf(`CREATE TABLE %s (
			batch_number INTEGER NOT NULL,
			entity_key TEXT NOT NULL,
			PRIMARY KEY (batch_number, entity_key)
		)`, quote(b.name)), nil},
		{
			fmt.Sprintf(`INSERT INTO %s (batch_number, entity_key)
				SELECT (ROW_NUMBER() OVER (ORDER BY entity_key) - 1) / ? + 1, entity_key
				FROM (SELECT DISTINCT entity_key FROM %s WHERE version_id > ? AND version_id <= ?)`,
				quote(b.name), quote(b.changelogTable)),
			[]interface{}{int64(size), int64(since), int64(upTo)},
		},
	}
	for _, s := range statements {
		if _, err := tx.ExecContext(ctx, s.query, s.args...); err != nil {
			return 0, StoreErr{Op: "rebuild batches", Underlying: err}
		}
	}
	var max int64
	if err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT COALESCE(MAX(batch_number), 0) FROM %s`, quote(b.name))).Scan(&max); err != nil {
		return 0, StoreErr{Op: "rebuild batches", Underlying: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, StoreErr{Op: "rebuild batches", Underlying: err}
	}
	return batch.Number(max), nil
}

func (b *BatchTable) Keys(ctx context.Context, n batch.Number) ([]changelog.Key, error) {
	rows, err := b.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT entity_key FROM %s WHERE batch_number = ? ORDER BY entity_key`, quote(b.name)),
		int64(n),
	)
	if err != nil {
		return nil, StoreErr{Op: "read batch", Underlying: err}
	}
	defer rows.Close()
	var keys []changelog.Key
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, StoreErr{Op: "read batch", Underlying: err}
		}
		keys = append(keys, changelog.Key(k))
	}
	if err := rows.Err(); err != nil {
		return nil, StoreErr{Op: "read batch", Underlying: err}
	}
	return keys, nil
}

func (b *BatchTable) MaxNumber(ctx context.Context) (batch.Number, error) {
	var max int64
	if err := b.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COALESCE(MAX(batch_number), 0) FROM %s`, quote(b.name))).Scan(&max); err != nil {
		return 0, StoreErr{Op: "read batch count", Underlying: err}
	}
	return batch.Number(max), nil
}

func (b *BatchTable) Drop(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quote(b.name))); err != nil {
		return StoreErr{Op: "drop batches", Underlying: err}
	}
	return nil
}
