package feed

import (
	"context"
	"time"

	"github.com/lloydmeta/feedsync/internal/domain/changelog"
)

// Changes is a set of writes to apply to a feed in one go
type Changes struct {
	// Fresh snapshots, keyed by their Identity
	Upserts []Record
	// Identities to soft-delete, unless they are also in Upserts
	Deletes []Identity
	// The ModifiedAt given to every row that is actually written
	At time.Time
	// How many rows to send per statement; 0 means all at once
	ChunkSize uint
}

// Applied reports what Changes actually touched
type Applied struct {
	// Identities that were inserted or whose mutable columns changed
	Upserted []Identity
	// Identities that went from live to deleted
	Deleted []Identity
}

// Store is the write side of a feed
type Store interface {

	// ActiveIdentities returns the identities of the non-deleted rows that belong to the given keys
	ActiveIdentities(ctx context.Context, keys []changelog.Key) ([]Identity, error)

	// Apply writes the given changes atomically.
	//
	// Rows whose mutable columns would not change are left alone, ModifiedAt included, so
	// applying the same changes twice is a no-op the second time.
	Apply(ctx context.Context, changes Changes) (*Applied, error)
}

// Reader is the read side of a feed
type Reader interface {

	// GetSince returns the next page of rows modified after the cursor, deleted ones included.
	//
	// Rows sharing a ModifiedAt are never split across pages.
	GetSince(ctx context.Context, cursor Cursor, filter Filter) (*Page, error)

	// GetByIds returns the non-deleted rows for the given identities
	GetByIds(ctx context.Context, ids []Identity, filter Filter) ([]Record, error)

	// GetDeletedByIds returns the deleted rows for the given identities
	GetDeletedByIds(ctx context.Context, ids []Identity) ([]Record, error)
}
