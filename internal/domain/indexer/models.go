// indexer re-derives snapshots for changed entities and materialises them into a feed
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lloydmeta/feedsync/internal/domain/changelog"
	"github.com/lloydmeta/feedsync/internal/domain/feed"
)

// Entry is a freshly extracted snapshot of an entity, for one feed identity
type Entry struct {
	Key     changelog.Key
	Scope   feed.Scope
	Payload json.RawMessage
}

// Extractor derives the current snapshots of entities.
//
// A key may produce no identities (the entity is gone) or several (one per scope).
type Extractor interface {
	Extract(ctx context.Context, keys []changelog.Key, cache *RequestCache) (map[feed.Identity]Entry, error)
}

// Notifier tells the outside world what changed in a feed
type Notifier interface {
	Publish(ctx context.Context, name feed.Name, upserted []feed.Identity, removed []feed.Identity) error
}

// Observer is told about what the Indexer does, e.g. to keep metrics
type Observer interface {
	Processed(name feed.Name, keys int, applied *feed.Applied, took time.Duration)
	NotificationFailed(name feed.Name, err error)
}

type NoopObserver struct{}

func (n NoopObserver) Processed(name feed.Name, keys int, applied *feed.Applied, took time.Duration) {}

func (n NoopObserver) NotificationFailed(name feed.Name, err error) {}

type ExtractionErr struct {
	Keys       []changelog.Key
	Underlying error
}

func (e ExtractionErr) Error() string {
	return fmt.Sprintf("Failed to extract [%d] keys: %v", len(e.Keys), e.Underlying)
}

func (e ExtractionErr) Unwrap() error {
	return e.Underlying
}

// InvalidSnapshot is returned when extraction produced something that must not be written
type InvalidSnapshot struct {
	Identity feed.Identity
	Reason   string
}

func (i InvalidSnapshot) Error() string {
	return fmt.Sprintf("Invalid snapshot for identity [%s]: %s", i.Identity, i.Reason)
}

type NotificationErr struct {
	Feed       feed.Name
	Underlying error
}

func (n NotificationErr) Error() string {
	return fmt.Sprintf("Failed to publish changes for Feed [%s]: %v", n.Feed, n.Underlying)
}

func (n NotificationErr) Unwrap() error {
	return n.Underlying
}
