package indexer

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/lloydmeta/feedsync/internal/domain/changelog"
	"github.com/lloydmeta/feedsync/internal/domain/feed"
)

// Indexer materialises fresh snapshots of changed keys into a feed
type Indexer struct {
	descriptor feed.Descriptor
	extractor  Extractor
	store      feed.Store
	notifier   Notifier
	observer   Observer
	getUTC     func() time.Time // for mocking
}

func NewIndexer(descriptor feed.Descriptor, extractor Extractor, store feed.Store, notifier Notifier, observer Observer) *Indexer {
	return &Indexer{
		descriptor: descriptor,
		extractor:  extractor,
		store:      store,
		notifier:   notifier,
		observer:   observer,
		getUTC: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Process reindexes the given keys.
//
// Identities that were live for these keys but are no longer extracted get soft-deleted. Store
// and extraction errors are returned and nothing is partially written; a failure to notify is
// logged and reported to the Observer, but does not fail the call because the feed is already
// up to date by then.
func (i *Indexer) Process(ctx context.Context, keys []changelog.Key) (*feed.Applied, error) {
	start := i.getUTC()
	extracted, err := i.extractor.Extract(ctx, keys, NewRequestCache())
	if err != nil {
		return nil, ExtractionErr{Keys: keys, Underlying: err}
	}
	upserts, err := i.validate(keys, extracted)
	if err != nil {
		return nil, err
	}

	previous, err := i.store.ActiveIdentities(ctx, keys)
	if err != nil {
		return nil, err
	}
	var deleteCandidates []feed.Identity
	for _, id := range previous {
		if _, stillThere := extracted[id]; !stillThere {
			deleteCandidates = append(deleteCandidates, id)
		}
	}

	applied, err := i.store.Apply(ctx, feed.Changes{
		Upserts:   upserts,
		Deletes:   deleteCandidates,
		At:        i.getUTC(),
		ChunkSize: i.descriptor.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	if len(applied.Upserted) > 0 || len(applied.Deleted) > 0 {
		if err := i.notifier.Publish(ctx, i.descriptor.Name, applied.Upserted, applied.Deleted); err != nil {
			notificationErr := NotificationErr{Feed: i.descriptor.Name, Underlying: err}
			log.Error().
				Err(notificationErr).
				Str("feed", string(i.descriptor.Name)).
				Int("upserted", len(applied.Upserted)).
				Int("deleted", len(applied.Deleted)).
				Msg("Failed to publish changes, feed is up to date regardless")
			i.observer.NotificationFailed(i.descriptor.Name, notificationErr)
		}
	}

	took := i.getUTC().Sub(start)
	i.observer.Processed(i.descriptor.Name, len(keys), applied, took)
	if log.Debug().Enabled() {
		log.Debug().
			Str("feed", string(i.descriptor.Name)).
			Int("keys_count", len(keys)).
			Int("upserted", len(applied.Upserted)).
			Int("deleted", len(applied.Deleted)).
			Dur("took", took).
			Msg("Processed keys")
	}
	return applied, nil
}

func (i *Indexer) validate(keys []changelog.Key, extracted map[feed.Identity]Entry) ([]feed.Record, error) {
	requested := make(map[changelog.Key]struct{}, len(keys))
	for _, k := range keys {
		requested[k] = struct{}{}
	}
	records := make([]feed.Record, 0, len(extracted))
	for id, entry := range extracted {
		switch {
		case len(id) == 0:
			return nil, InvalidSnapshot{Identity: id, Reason: "empty identity"}
		case !json.Valid(entry.Payload):
			return nil, InvalidSnapshot{Identity: id, Reason: "payload is not valid JSON"}
		case !gjson.GetBytes(entry.Payload, i.descriptor.IdentityField).Exists():
			return nil, InvalidSnapshot{Identity: id, Reason: "missing field [" + i.descriptor.IdentityField + "]"}
		}
		if _, ok := requested[entry.Key]; !ok {
			return nil, InvalidSnapshot{Identity: id, Reason: "belongs to key [" + string(entry.Key) + "] which was not requested"}
		}
		records = append(records, feed.Record{
			Identity: id,
			Key:      entry.Key,
			Scope:    entry.Scope,
			Snapshot: entry.Payload,
		})
	}
	sort.Slice(records, func(a, b int) bool { return records[a].Identity < records[b].Identity })
	return records, nil
}
