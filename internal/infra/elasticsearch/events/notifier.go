package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/feedsync/internal/domain/feed"
	"github.com/lloydmeta/feedsync/internal/infra/elasticsearch/common"
)

// IndexPrefix is shared by every events index; each feed gets its own daily indices under it
const IndexPrefix = ".feedsync_events-"

type EventType string

const (
	Upserted EventType = "upserted"
	Removed  EventType = "removed"
)

// BuildIndexName returns the events index a change to the given feed at the given time goes into
func BuildIndexName(name feed.Name, at time.Time) common.IndexName {
	return common.IndexName(fmt.Sprintf("%s%s-%s", IndexPrefix, name, at.UTC().Format("2006.01.02")))
}

type persistedEvent struct {
	Feed     string    `json:"feed"`
	Identity string    `json:"identity"`
	Type     EventType `json:"type"`
	At       time.Time `json:"at"`
}

// EsNotifier publishes feed changes as CDC events, bulk indexed into per-feed daily indices
// that an ILM policy expires.
type EsNotifier struct {
	client *elasticsearch.Client
	getUTC func() time.Time // for mocking
}

func NewEsNotifier(client *elasticsearch.Client) *EsNotifier {
	return &EsNotifier{
		client: client,
		getUTC: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type PublishFailed struct {
	Failed []common.EsBulkResponseItemInfo
}

func (p PublishFailed) Error() string {
	return fmt.Sprintf("Failed to index [%d] events, first: [%s]", len(p.Failed), string(p.Failed[0].Error))
}

func (n *EsNotifier) Publish(ctx context.Context, name feed.Name, upserted []feed.Identity, removed []feed.Identity) error {
	if len(upserted)+len(removed) == 0 {
		return nil
	}
	now := n.getUTC()
	body, err := buildBulkBody(name, now, upserted, removed)
	if err != nil {
		return err
	}
	req := esapi.BulkRequest{
		Index: string(BuildIndexName(name, now)),
		Body:  bytes.NewReader(body),
	}
	rawResp, err := req.Do(ctx, n.client)
	if err != nil {
		return common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	if rawResp.StatusCode != 200 {
		return common.UnexpectedEsStatusError(rawResp)
	}
	var resp common.EsBulkResponse
	if err := json.NewDecoder(rawResp.Body).Decode(&resp); err != nil {
		return common.JsonSerdesErr{Underlying: []error{err}}
	}
	if failed := resp.Failures(); len(failed) > 0 {
		return PublishFailed{Failed: failed}
	}
	if log.Debug().Enabled() {
		log.Debug().
			Str("feed", string(name)).
			Int("events", len(resp.Items)).
			Uint("took_ms", resp.Took).
			Msg("Indexed events")
	}
	return nil
}

// buildBulkBody writes one index action per event, in NDJSON
func buildBulkBody(name feed.Name, at time.Time, upserted []feed.Identity, removed []feed.Identity) ([]byte, error) {
	var buf bytes.Buffer
	action := []byte(`{"index":{}}` + "\n")
	var errs []error
	write := func(ids []feed.Identity, eventType EventType) {
		for _, id := range ids {
			asBytes, err := json.Marshal(persistedEvent{
				Feed:     string(name),
				Identity: string(id),
				Type:     eventType,
				At:       at,
			})
			if err != nil {
				errs = append(errs, err)
				continue
			}
			buf.Write(action)
			buf.Write(asBytes)
			buf.WriteByte('\n')
		}
	}
	write(upserted, Upserted)
	write(removed, Removed)
	if len(errs) > 0 {
		return nil, common.JsonSerdesErr{Underlying: errs}
	}
	return buf.Bytes(), nil
}
