package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lloydmeta/feedsync/internal/domain/batch"
	"github.com/lloydmeta/feedsync/internal/domain/changelog"
	"github.com/lloydmeta/feedsync/internal/domain/feed"
)

// PassLedger keeps the open pass of a feed in the passes table, one row per feed, so every
// process sharing the database can join it.
type PassLedger struct {
	db   *sql.DB
	feed feed.Name
}

func NewPassLedger(db *sql.DB, name feed.Name) *PassLedger {
	return &PassLedger{db: db, feed: name}
}

func (p *PassLedger) Open(ctx context.Context, pass batch.Pass) error {
	_, err := p.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (feed, pass_id, since, up_to, batches, settled, is_open) VALUES (?, ?, ?, ?, ?, 0, 1)
			ON CONFLICT (feed) DO UPDATE SET
				pass_id = excluded.pass_id,
				since = excluded.since,
				up_to = excluded.up_to,
				batches = excluded.batches,
				settled = 0,
				is_open = 1`, quote(passesTable)),
		string(p.feed), string(pass.Id), int64(pass.Since), int64(pass.UpTo), int64(pass.Batches),
	)
	if err != nil {
		return StoreErr{Op: "open pass", Underlying: err}
	}
	return nil
}

func (p *PassLedger) Current(ctx context.Context) (batch.Pass, bool, error) {
	var id string
	var since, upTo, batches int64
	err := p.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT pass_id, since, up_to, batches FROM %s WHERE feed = ? AND is_open = 1`, quote(passesTable)),
		string(p.feed),
	).Scan(&id, &since, &upTo, &batches)
	switch {
	case err == sql.ErrNoRows:
		return batch.Pass{}, false, nil
	case err != nil:
		return batch.Pass{}, false, StoreErr{Op: "read open pass", Underlying: err}
	default:
		return batch.Pass{
			Id:      batch.PassId(id),
			Since:   changelog.VersionId(since),
			UpTo:    changelog.VersionId(upTo),
			Batches: batch.Number(batches),
		}, true, nil
	}
}

func (p *PassLedger) Settle(ctx context.Context, pass batch.Pass) error {
	result, err := p.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET settled = settled + 1 WHERE feed = ? AND pass_id = ?`, quote(passesTable)),
		string(p.feed), string(pass.Id),
	)
	if err != nil {
		return StoreErr{Op: "settle batch", Underlying: err}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return StoreErr{Op: "settle batch", Underlying: err}
	}
	if affected == 0 {
		return batch.StalePass{Id: pass.Id}
	}
	return nil
}

func (p *PassLedger) Settled(ctx context.Context, pass batch.Pass) (batch.Number, error) {
	var settled int64
	err := p.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT settled FROM %s WHERE feed = ? AND pass_id = ?`, quote(passesTable)),
		string(p.feed), string(pass.Id),
	).Scan(&settled)
	switch {
	case err == sql.ErrNoRows:
		return 0, batch.StalePass{Id: pass.Id}
	case err != nil:
		return 0, StoreErr{Op: "read settled batches", Underlying: err}
	default:
		return batch.Number(settled), nil
	}
}

func (p *PassLedger) Close(ctx context.Context, pass batch.Pass) error {
	if _, err := p.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET is_open = 0 WHERE feed = ? AND pass_id = ?`, quote(passesTable)),
		string(p.feed), string(pass.Id),
	); err != nil {
		return StoreErr{Op: "close pass", Underlying: err}
	}
	return nil
}
