package changelog

import "context"

// Source is the algebra for reading from and appending to a changelog.
//
// A Source is bound to a single feed: checkpoints are per feed, so two feeds built off the
// same changelog table progress independently.
type Source interface {

	// Checkpoint returns the last version that was fully processed for the feed, 0 if
	// nothing has been processed yet
	Checkpoint(ctx context.Context) (VersionId, error)

	// Commit durably records that every change up to and including the given version was processed
	Commit(ctx context.Context, upTo VersionId) error

	// LastVersion returns the highest version currently in the changelog, 0 if it's empty
	LastVersion(ctx context.Context) (VersionId, error)

	// ChangedKeys returns the distinct keys with since < version <= upTo, ordered by key
	ChangedKeys(ctx context.Context, since VersionId, upTo VersionId) ([]Key, error)

	// Append adds new rows for the given keys, so that they get picked up by a later pass
	Append(ctx context.Context, keys []Key) error

	// Backlog returns the number of changelog rows newer than the checkpoint
	Backlog(ctx context.Context) (uint64, error)
}

// KeyStreamer is implemented by Sources that can hand out changed keys one at a time, so that
// very large ranges never have to be held in memory at once
type KeyStreamer interface {

	// EachChangedKey calls f with every distinct key with since < version <= upTo, in key order,
	// stopping at the first error f returns
	EachChangedKey(ctx context.Context, since VersionId, upTo VersionId, f func(Key) error) error
}
