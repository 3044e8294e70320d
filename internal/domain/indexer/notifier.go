package indexer

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/feedsync/internal/domain/feed"
)

// LoggingNotifier publishes changes to the log. Used when nothing else is configured.
type LoggingNotifier struct{}

func (l LoggingNotifier) Publish(ctx context.Context, name feed.Name, upserted []feed.Identity, removed []feed.Identity) error {
	log.Info().
		Str("feed", string(name)).
		Int("upserted", len(upserted)).
		Int("removed", len(removed)).
		Msg("Feed changed")
	return nil
}

// FanOutNotifier publishes to each of its Notifiers in turn, stopping at the first failure
type FanOutNotifier []Notifier

func (f FanOutNotifier) Publish(ctx context.Context, name feed.Name, upserted []feed.Identity, removed []feed.Identity) error {
	for _, n := range f {
		if err := n.Publish(ctx, name, upserted, removed); err != nil {
			return err
		}
	}
	return nil
}
