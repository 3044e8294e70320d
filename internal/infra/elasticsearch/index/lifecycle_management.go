package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/feedsync/internal/config"
	"github.com/lloydmeta/feedsync/internal/infra/elasticsearch/common"
)

const (
	EventsPolicyName       = "feedsync_events_policy"
	DefaultEventsRetention = 7 * 24 * time.Hour
)

// ILMSetup installs the lifecycle policy that expires old events indices
type ILMSetup struct {
	esClient *elasticsearch.Client
	config   config.EventsIndexing
}

func NewILMSetup(esClient *elasticsearch.Client, config config.EventsIndexing) *ILMSetup {
	return &ILMSetup{
		esClient: esClient,
		config:   config,
	}
}

// EventsTemplateHook returns a function that attaches the events policy to a Template
func (i *ILMSetup) EventsTemplateHook() func(t *Template) {
	return func(t *Template) {
		if i.config.Enabled {
			if t.Settings == nil {
				t.Settings = make(Json)
			}
			t.Settings["index.lifecycle.name"] = EventsPolicyName
		}
	}
}

// Policy returns the events policy: delete an index once it is older than the retention
func (i *ILMSetup) Policy() Json {
	retention := i.config.Retention
	if retention <= 0 {
		retention = DefaultEventsRetention
	}
	return Json{
		"policy": Json{
			"phases": Json{
				"delete": Json{
					"min_age": fmt.Sprintf("%ds", int64(retention/time.Second)),
					"actions": Json{
						"delete": Json{},
					},
				},
			},
		},
	}
}

// InstallPolicies puts the events policy, if events are enabled
func (i *ILMSetup) InstallPolicies(ctx context.Context) error {
	if !i.config.Enabled {
		return nil
	}
	asBytes, err := json.Marshal(i.Policy())
	if err != nil {
		return common.JsonSerdesErr{Underlying: []error{err}}
	}
	log.Info().RawJSON("body", asBytes).Str("policy_name", EventsPolicyName).Msg("Applying lifecycle policy")
	req := esapi.ILMPutLifecycleRequest{
		Policy: EventsPolicyName,
		Body:   bytes.NewReader(asBytes),
	}
	rawResp, err := req.Do(ctx, i.esClient)
	if err != nil {
		return common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch rawResp.StatusCode {
	case 200:
		return nil
	default:
		return common.UnexpectedEsStatusError(rawResp)
	}
}

// Check makes sure that, if enabled, the policy was installed.
// Does NOT make sure the installed policy is up to date.
func (i *ILMSetup) Check(ctx context.Context) error {
	if !i.config.Enabled {
		return nil
	}
	req := esapi.ILMGetLifecycleRequest{
		Policy: EventsPolicyName,
	}
	rawResp, err := req.Do(ctx, i.esClient)
	if err != nil {
		return common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch rawResp.StatusCode {
	case 200:
		return nil
	case 404:
		return PolicyNotInstalled{NotInstalled: []string{EventsPolicyName}}
	default:
		return common.UnexpectedEsStatusError(rawResp)
	}
}

type PolicyNotInstalled struct {
	NotInstalled []string
}

func (t PolicyNotInstalled) Error() string {
	return fmt.Sprintf("One or more app ILM policies were not installed. Please run the setup command to install them [%v]", t.NotInstalled)
}
