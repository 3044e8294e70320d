package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lloydmeta/feedsync/internal/domain/batch"
)

// AutoIncrementAllocator allocates ids by inserting blank rows into a table whose only job is
// to have an auto-incrementing primary key.
//
// SQLite always increments by 1; the offset is honoured by seeding sqlite_sequence.
type AutoIncrementAllocator struct {
	db     *sql.DB
	table  string
	offset int64
}

func NewAutoIncrementAllocator(db *sql.DB, table string, offset int64) *AutoIncrementAllocator {
	if offset < 1 {
		offset = 1
	}
	return &AutoIncrementAllocator{db: db, table: table, offset: offset}
}

func (a *AutoIncrementAllocator) Reset(ctx context.Context) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return StoreErr{Op: "reset sequence", Underlying: err}
	}
	defer rollback(tx)
	statements := []struct {
		query string
		args  []interface{}
	}{
		{fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quote(a.table)), nil},
		{fmt.Sprintf(`CREATE TABLE %s (id INTEGER PRIMARY KEY AUTOINCREMENT, allocated_at INTEGER NOT NULL)`, quote(a.table)), nil},
	}
	if a.offset > 1 {
		statements = append(statements, struct {
			query string
			args  []interface{}
		}{`INSERT INTO sqlite_sequence (name, seq) VALUES (?, ?)`, []interface{}{a.table, a.offset - 1}})
	}
	for _, s := range statements {
		if _, err := tx.ExecContext(ctx, s.query, s.args...); err != nil {
			return StoreErr{Op: "reset sequence", Underlying: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return StoreErr{Op: "reset sequence", Underlying: err}
	}
	return nil
}

func (a *AutoIncrementAllocator) Allocate(ctx context.Context) (batch.RawId, error) {
	result, err := a.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (allocated_at) VALUES (?)`, quote(a.table)),
		time.Now().UTC().UnixMicro(),
	)
	if err != nil {
		return 0, StoreErr{Op: "allocate", Underlying: err}
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, StoreErr{Op: "allocate", Underlying: err}
	}
	return batch.RawId(id), nil
}

func (a *AutoIncrementAllocator) Step(ctx context.Context) (batch.Step, error) {
	return batch.Step{Stride: 1, Offset: a.offset}, nil
}

func (a *AutoIncrementAllocator) Destroy(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quote(a.table))); err != nil {
		return StoreErr{Op: "destroy sequence", Underlying: err}
	}
	return nil
}

// CounterAllocator allocates ids off a single durable counter row. Each allocation is one
// UPDATE ... RETURNING, so the row lock is what keeps concurrent callers apart.
type CounterAllocator struct {
	db   *sql.DB
	name string
	step batch.Step
}

func NewCounterAllocator(db *sql.DB, name string, step batch.Step) *CounterAllocator {
	return &CounterAllocator{db: db, name: name, step: step}
}

func (c *CounterAllocator) Reset(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (name, value) VALUES (?, ?)
			ON CONFLICT (name) DO UPDATE SET value = excluded.value`, quote(countersTable)),
		c.name, c.step.Offset-c.step.Stride,
	)
	if err != nil {
		return StoreErr{Op: "reset counter", Underlying: err}
	}
	return nil
}

func (c *CounterAllocator) Allocate(ctx context.Context) (batch.RawId, error) {
	var value int64
	err := c.db.QueryRowContext(ctx,
		fmt.Sprintf(`UPDATE %s SET value = value + ? WHERE name = ? RETURNING value`, quote(countersTable)),
		c.step.Stride, c.name,
	).Scan(&value)
	switch {
	case err == sql.ErrNoRows:
		return 0, CounterNotFound{Name: c.name}
	case err != nil:
		return 0, StoreErr{Op: "allocate", Underlying: err}
	default:
		return batch.RawId(value), nil
	}
}

func (c *CounterAllocator) Step(ctx context.Context) (batch.Step, error) {
	return c.step, nil
}

func (c *CounterAllocator) Destroy(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = ?`, quote(countersTable)), c.name); err != nil {
		return StoreErr{Op: "destroy counter", Underlying: err}
	}
	return nil
}

type CounterNotFound struct {
	Name string
}

func (c CounterNotFound) Error() string {
	return fmt.Sprintf("Counter [%s] does not exist, it needs to be reset first", c.Name)
}
