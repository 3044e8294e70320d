package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lloydmeta/feedsync/internal/domain/changelog"
	"github.com/lloydmeta/feedsync/internal/domain/feed"
	"github.com/lloydmeta/feedsync/internal/domain/indexer"
)

// EntityExtractor reads ready-made payloads out of an entity table holding one row per
// key and scope. When the feed has a scopes table, only rows in active scopes are extracted.
type EntityExtractor struct {
	db          *sql.DB
	table       string
	scopesTable string
}

func NewEntityExtractor(db *sql.DB, descriptor feed.Descriptor) *EntityExtractor {
	return &EntityExtractor{db: db, table: descriptor.EntityTable, scopesTable: descriptor.ScopesTable}
}

// IdentityOf returns the feed identity of an entity in a scope
func IdentityOf(key changelog.Key, scope feed.Scope) feed.Identity {
	if len(scope) == 0 {
		return feed.Identity(key)
	}
	return feed.Identity(fmt.Sprintf("%s:%s", key, scope))
}

func (e *EntityExtractor) Extract(ctx context.Context, keys []changelog.Key, cache *indexer.RequestCache) (map[feed.Identity]indexer.Entry, error) {
	var activeScopes map[feed.Scope]struct{}
	if len(e.scopesTable) > 0 {
		loaded, err := cache.GetOrLoad("active_scopes:"+e.scopesTable, func() (interface{}, error) {
			return e.loadActiveScopes(ctx)
		})
		if err != nil {
			return nil, err
		}
		activeScopes = loaded.(map[feed.Scope]struct{})
	}

	entries := make(map[feed.Identity]indexer.Entry, len(keys))
	for _, r := range chunked(len(keys), maxInParams) {
		chunk := keys[r[0]:r[1]]
		args := make([]interface{}, 0, len(chunk))
		for _, k := range chunk {
			args = append(args, string(k))
		}
		rows, err := e.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT entity_key, scope, payload FROM %s WHERE entity_key IN (%s)`, quote(e.table), placeholders(len(chunk))),
			args...,
		)
		if err != nil {
			return nil, StoreErr{Op: "extract", Underlying: err}
		}
		if err := func() error {
			defer rows.Close()
			for rows.Next() {
				var key, scope, payload string
				if err := rows.Scan(&key, &scope, &payload); err != nil {
					return err
				}
				if activeScopes != nil {
					if _, active := activeScopes[feed.Scope(scope)]; !active {
						continue
					}
				}
				entries[IdentityOf(changelog.Key(key), feed.Scope(scope))] = indexer.Entry{
					Key:     changelog.Key(key),
					Scope:   feed.Scope(scope),
					Payload: json.RawMessage(payload),
				}
			}
			return rows.Err()
		}(); err != nil {
			return nil, StoreErr{Op: "extract", Underlying: err}
		}
	}
	return entries, nil
}

func (e *EntityExtractor) loadActiveScopes(ctx context.Context) (map[feed.Scope]struct{}, error) {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(`SELECT scope FROM %s WHERE is_active = 1`, quote(e.scopesTable)))
	if err != nil {
		return nil, StoreErr{Op: "load scopes", Underlying: err}
	}
	defer rows.Close()
	scopes := make(map[feed.Scope]struct{})
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, StoreErr{Op: "load scopes", Underlying: err}
		}
		scopes[feed.Scope(s)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, StoreErr{Op: "load scopes", Underlying: err}
	}
	return scopes, nil
}
