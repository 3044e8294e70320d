package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lloydmeta/feedsync/internal/config"
	"github.com/lloydmeta/feedsync/internal/domain/feed"
)

func testDescriptor(t *testing.T, conf config.Feed) feed.Descriptor {
	if len(conf.Name) == 0 {
		conf.Name = "products"
	}
	d, err := feed.DescriptorFromConfig(conf)
	require.NoError(t, err)
	return *d
}

func openTestDB(t *testing.T, descriptors ...feed.Descriptor) *sql.DB {
	ctx := context.Background()
	db, err := Open(ctx, config.Storage{
		Path:        filepath.Join(t.TempDir(), "feedsync.db"),
		BusyTimeout: 10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	require.NoError(t, NewSchemaSetup(db, descriptors).Run(ctx))
	return db
}

func insertEntity(t *testing.T, db *sql.DB, table string, key string, scope string, payload string) {
	_, err := db.Exec(`INSERT INTO `+quote(table)+` (entity_key, scope, payload) VALUES (?, ?, ?)
		ON CONFLICT (entity_key, scope) DO UPDATE SET payload = excluded.payload`, key, scope, payload)
	require.NoError(t, err)
}

func deleteEntity(t *testing.T, db *sql.DB, table string, key string, scope string) {
	_, err := db.Exec(`DELETE FROM `+quote(table)+` WHERE entity_key = ? AND scope = ?`, key, scope)
	require.NoError(t, err)
}
