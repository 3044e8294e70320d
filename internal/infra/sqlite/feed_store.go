package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lloydmeta/feedsync/internal/domain/changelog"
	"github.com/lloydmeta/feedsync/internal/domain/feed"
)

const feedColumns = "identity, entity_key, scope, snapshot, modified_at, is_deleted"

// FeedStore is the feed.Store and feed.Reader for a single feed table
type FeedStore struct {
	db         *sql.DB
	descriptor feed.Descriptor
	table      string
}

func NewFeedStore(db *sql.DB, descriptor feed.Descriptor) *FeedStore {
	return &FeedStore{db: db, descriptor: descriptor, table: quote(descriptor.FeedTable)}
}

func (f *FeedStore) ActiveIdentities(ctx context.Context, keys []changelog.Key) ([]feed.Identity, error) {
	var ids []feed.Identity
	for _, r := range chunked(len(keys), maxInParams) {
		chunk := keys[r[0]:r[1]]
		args := make([]interface{}, 0, len(chunk))
		for _, k := range chunk {
			args = append(args, string(k))
		}
		rows, err := f.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT identity FROM %s WHERE is_deleted = 0 AND entity_key IN (%s)`, f.table, placeholders(len(chunk))),
			args...,
		)
		if err != nil {
			return nil, StoreErr{Op: "read active identities", Underlying: err}
		}
		chunkIds, err := scanIdentities(rows)
		if err != nil {
			return nil, StoreErr{Op: "read active identities", Underlying: err}
		}
		ids = append(ids, chunkIds...)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *FeedStore) Apply(ctx context.Context, changes feed.Changes) (*feed.Applied, error) {
	at := feed.Truncate(changes.At).UnixMicro()
	chunkSize := int(changes.ChunkSize)
	// 5 bound params per row
	if chunkSize <= 0 || chunkSize > maxInParams/5 {
		chunkSize = maxInParams / 5
	}

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, StoreErr{Op: "apply", Underlying: err}
	}
	defer rollback(tx)

	applied := feed.Applied{}
	upserted := make(map[feed.Identity]struct{}, len(changes.Upserts))
	upsertQuery := f.upsertQuery()
	for _, r := range chunked(len(changes.Upserts), chunkSize) {
		chunk := changes.Upserts[r[0]:r[1]]
		values := make([]string, 0, len(chunk))
		args := make([]interface{}, 0, len(chunk)*5)
		for _, record := range chunk {
			upserted[record.Identity] = struct{}{}
			values = append(values, "(?, ?, ?, ?, ?, 0)")
			args = append(args, string(record.Identity), string(record.Key), string(record.Scope), string(record.Snapshot), at)
		}
		rows, err := tx.QueryContext(ctx, fmt.Sprintf(upsertQuery, strings.Join(values, ", ")), args...)
		if err != nil {
			return nil, StoreErr{Op: "upsert", Underlying: err}
		}
		ids, err := scanIdentities(rows)
		if err != nil {
			return nil, StoreErr{Op: "upsert", Underlying: err}
		}
		applied.Upserted = append(applied.Upserted, ids...)
	}

	deletes := make([]feed.Identity, 0, len(changes.Deletes))
	for _, id := range changes.Deletes {
		if _, ok := upserted[id]; !ok {
			deletes = append(deletes, id)
		}
	}
	for _, r := range chunked(len(deletes), chunkSize) {
		chunk := deletes[r[0]:r[1]]
		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, at)
		for _, id := range chunk {
			args = append(args, string(id))
		}
		rows, err := tx.QueryContext(ctx,
			fmt.Sprintf(`UPDATE %s SET is_deleted = 1, modified_at = ? WHERE is_deleted = 0 AND identity IN (%s) RETURNING identity`,
				f.table, placeholders(len(chunk))),
			args...,
		)
		if err != nil {
			return nil, StoreErr{Op: "mark deleted", Underlying: err}
		}
		ids, err := scanIdentities(rows)
		if err != nil {
			return nil, StoreErr{Op: "mark deleted", Underlying: err}
		}
		applied.Deleted = append(applied.Deleted, ids...)
	}

	if err := tx.Commit(); err != nil {
		return nil, StoreErr{Op: "apply", Underlying: err}
	}
	sort.Slice(applied.Upserted, func(i, j int) bool { return applied.Upserted[i] < applied.Upserted[j] })
	sort.Slice(applied.Deleted, func(i, j int) bool { return applied.Deleted[i] < applied.Deleted[j] })
	return &applied, nil
}

// upsertQuery returns the upsert statement with a %s left for the VALUES rows.
//
// Conflicting rows are only touched when a mutable column actually changes or the row was
// deleted, so ModifiedAt stays put for no-op reindexes.
func (f *FeedStore) upsertQuery() string {
	sets := []string{"modified_at = excluded.modified_at", "is_deleted = 0"}
	changed := []string{f.table + ".is_deleted = 1"}
	for _, c := range f.descriptor.MutableColumns {
		col := string(c)
		sets = append(sets, fmt.Sprintf("%[1]s = excluded.%[1]s", col))
		changed = append(changed, fmt.Sprintf("%[1]s.%[2]s IS NOT excluded.%[2]s", f.table, col))
	}
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES %%s
		ON CONFLICT (identity) DO UPDATE SET %s
		WHERE %s
		RETURNING identity`,
		f.table, feedColumns, strings.Join(sets, ", "), strings.Join(changed, " OR "))
}

func (f *FeedStore) GetSince(ctx context.Context, cursor feed.Cursor, filter feed.Filter) (*feed.Page, error) {
	tx, err := f.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, StoreErr{Op: "read since", Underlying: err}
	}
	defer rollback(tx)

	where := []string{"modified_at > ?"}
	args := []interface{}{time.Time(cursor).UnixMicro()}
	if filter.Scope != nil {
		where = append(where, "scope = ?")
		args = append(args, string(*filter.Scope))
	}

	if f.descriptor.PageOffset > 0 {
		var limitTs int64
		boundaryArgs := append(append([]interface{}{}, args...), int64(f.descriptor.PageOffset-1))
		err := tx.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT modified_at FROM %s WHERE %s ORDER BY modified_at LIMIT 1 OFFSET ?`, f.table, strings.Join(where, " AND ")),
			boundaryArgs...,
		).Scan(&limitTs)
		switch {
		case err == sql.ErrNoRows:
			// fewer rows than a page left: no upper bound
		case err != nil:
			return nil, StoreErr{Op: "read since", Underlying: err}
		default:
			where = append(where, "modified_at <= ?")
			args = append(args, limitTs)
		}
	}

	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY modified_at, identity`, feedColumns, f.table, strings.Join(where, " AND ")),
		args...,
	)
	if err != nil {
		return nil, StoreErr{Op: "read since", Underlying: err}
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, StoreErr{Op: "read since", Underlying: err}
	}
	if err := tx.Commit(); err != nil {
		return nil, StoreErr{Op: "read since", Underlying: err}
	}

	page := feed.Page{RecentTimestamp: cursor}
	if len(records) > 0 {
		page.RecentTimestamp = feed.Cursor(records[len(records)-1].ModifiedAt)
	}
	if page.Records, err = feed.ProjectAll(records, filter.Attributes); err != nil {
		return nil, err
	}
	return &page, nil
}

func (f *FeedStore) GetByIds(ctx context.Context, ids []feed.Identity, filter feed.Filter) ([]feed.Record, error) {
	var extra []string
	var extraArgs []interface{}
	if filter.Scope != nil {
		extra = append(extra, "scope = ?")
		extraArgs = append(extraArgs, string(*filter.Scope))
	}
	records, err := f.byIds(ctx, ids, false, extra, extraArgs)
	if err != nil {
		return nil, err
	}
	return feed.ProjectAll(records, filter.Attributes)
}

func (f *FeedStore) GetDeletedByIds(ctx context.Context, ids []feed.Identity) ([]feed.Record, error) {
	return f.byIds(ctx, ids, true, nil, nil)
}

func (f *FeedStore) byIds(ctx context.Context, ids []feed.Identity, deleted bool, extra []string, extraArgs []interface{}) ([]feed.Record, error) {
	isDeleted := 0
	if deleted {
		isDeleted = 1
	}
	var records []feed.Record
	for _, r := range chunked(len(ids), maxInParams) {
		chunk := ids[r[0]:r[1]]
		where := append([]string{"is_deleted = ?", fmt.Sprintf("identity IN (%s)", placeholders(len(chunk)))}, extra...)
		args := make([]interface{}, 0, len(chunk)+len(extraArgs)+1)
		args = append(args, isDeleted)
		for _, id := range chunk {
			args = append(args, string(id))
		}
		args = append(args, extraArgs...)
		rows, err := f.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY identity`, feedColumns, f.table, strings.Join(where, " AND ")),
			args...,
		)
		if err != nil {
			return nil, StoreErr{Op: "read by ids", Underlying: err}
		}
		chunkRecords, err := scanRecords(rows)
		if err != nil {
			return nil, StoreErr{Op: "read by ids", Underlying: err}
		}
		records = append(records, chunkRecords...)
	}
	return records, nil
}

func scanIdentities(rows *sql.Rows) ([]feed.Identity, error) {
	defer rows.Close()
	var ids []feed.Identity
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, feed.Identity(id))
	}
	return ids, rows.Err()
}

func scanRecords(rows *sql.Rows) ([]feed.Record, error) {
	defer rows.Close()
	var records []feed.Record
	for rows.Next() {
		var (
			identity, key, scope, snapshot string
			modifiedAt                     int64
			isDeleted                      bool
		)
		if err := rows.Scan(&identity, &key, &scope, &snapshot, &modifiedAt, &isDeleted); err != nil {
			return nil, err
		}
		records = append(records, feed.Record{
			Identity:   feed.Identity(identity),
			Key:        changelog.Key(key),
			Scope:      feed.Scope(scope),
			Snapshot:   []byte(snapshot),
			ModifiedAt: feed.ModifiedAt(time.UnixMicro(modifiedAt).UTC()),
			IsDeleted:  isDeleted,
		})
	}
	return records, rows.Err()
}
