// sqlite holds implementations of the changelog, batch and feed algebras on top of a
// relational store, via mattn/go-sqlite3
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/feedsync/internal/config"
)

const driverName = "sqlite3"

// Max number of bound params we put into a single IN (...) list
const maxInParams = 500

type StoreErr struct {
	Op         string
	Underlying error
}

func (e StoreErr) Error() string {
	return fmt.Sprintf("Error from store during [%s]: %v", e.Op, e.Underlying)
}

func (e StoreErr) Unwrap() error {
	return e.Underlying
}

// Open returns a handle to the database at the configured path, creating it if needed
func Open(ctx context.Context, conf config.Storage) (*sql.DB, error) {
	busyTimeout := conf.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	params := url.Values{}
	params.Set("_busy_timeout", fmt.Sprint(busyTimeout.Milliseconds()))
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	dsn := fmt.Sprintf("file:%s?%s", conf.Path, params.Encode())

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, StoreErr{Op: "open", Underlying: err}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, StoreErr{Op: "ping", Underlying: err}
	}
	log.Info().Str("path", conf.Path).Msg("Opened store")
	return db, nil
}

// quote quotes an identifier. Identifiers are validated before they get here; this just
// keeps keywords from tripping up the parser.
func quote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

// placeholders returns "?, ?, ?" with n question marks
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// chunked splits n items into [start, end) ranges of at most size
func chunked(n int, size int) [][2]int {
	if size <= 0 || size > n {
		size = n
	}
	var ranges [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		ranges = append(ranges, [2]int{start, end})
	}
	return ranges
}

// rollback is for deferring; a rollback after a commit is a no-op error we don't care about
func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		log.Error().Err(err).Msg("Failed to roll back transaction")
	}
}
