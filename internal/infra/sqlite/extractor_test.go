package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lloydmeta/feedsync/internal/config"
	"github.com/lloydmeta/feedsync/internal/domain/changelog"
	"github.com/lloydmeta/feedsync/internal/domain/feed"
	"github.com/lloydmeta/feedsync/internal/domain/indexer"
)

func TestEntityExtractor_Extract(t *testing.T) {
	ctx := context.Background()
	d := testDescriptor(t, config.Feed{ScopesTable: "store_views"})
	db := openTestDB(t, d)
	extractor := NewEntityExtractor(db, d)

	insertEntity(t, db, d.EntityTable, "a", "en", `{"id":"a"}`)
	insertEntity(t, db, d.EntityTable, "a", "fr", `{"id":"a","lang":"fr"}`)
	insertEntity(t, db, d.EntityTable, "a", "de", `{"id":"a","lang":"de"}`)
	insertEntity(t, db, d.EntityTable, "b", "en", `{"id":"b"}`)
	_, err := db.Exec(`INSERT INTO store_views (scope, is_active) VALUES ('en', 1), ('fr', 1), ('de', 0)`)
	require.NoError(t, err)

	cache := indexer.NewRequestCache()
	entries, err := extractor.Extract(ctx, changelog.Keys("a", "c"), cache)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, indexer.Entry{Key: "a", Scope: "fr", Payload: []byte(`{"id":"a","lang":"fr"}`)}, entries["a:fr"])
	_, hasGerman := entries["a:de"]
	assert.False(t, hasGerman)
	assert.Equal(t, 1, cache.Len())

	// scopes are only loaded once per cache
	_, err = db.Exec(`UPDATE store_views SET is_active = 1 WHERE scope = 'de'`)
	require.NoError(t, err)
	entries, err = extractor.Extract(ctx, changelog.Keys("a"), cache)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = extractor.Extract(ctx, changelog.Keys("a"), indexer.NewRequestCache())
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestIdentityOf(t *testing.T) {
	assert.Equal(t, feed.Identity("a"), IdentityOf("a", ""))
	assert.Equal(t, feed.Identity("a:en"), IdentityOf("a", "en"))
}
