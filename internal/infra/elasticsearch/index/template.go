package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/feedsync/internal/infra/elasticsearch/common"
	"github.com/lloydmeta/feedsync/internal/infra/elasticsearch/events"
	"github.com/lloydmeta/feedsync/internal/infra/elasticsearch/leader"
	"github.com/lloydmeta/feedsync/internal/infra/elasticsearch/sequence"
)

type TemplateName string
type Pattern = string
type Json = map[string]interface{}
type Mappings = map[string]interface{}

// Template defines a template to be applied when setup is run
type Template struct {
	name     TemplateName // ignored when serialising because the name doesn't start with a capital
	Patterns []Pattern    `json:"index_patterns"`
	Settings Json         `json:"settings,omitempty"`
	Mappings Mappings     `json:"mappings,omitempty"`
}

func (t *Template) Name() TemplateName {
	return t.name
}

func NewTemplate(name TemplateName, patterns []Pattern, mappings Mappings) Template {
	return Template{name: name, Patterns: patterns, Mappings: mappings}
}

// TemplatesSetup holds a list of Templates and has the ability to actually
// send them to the server
type TemplatesSetup struct {
	esClient  *elasticsearch.Client
	Templates []Template
}

// DefaultTemplateSetup returns the setter upper for every template the app needs, after
// passing the events template through the given hooks
func DefaultTemplateSetup(esClient *elasticsearch.Client, eventsHooks ...func(t *Template)) TemplatesSetup {
	eventsTemplate := NewTemplate(EventsTemplate.name, EventsTemplate.Patterns, EventsTemplate.Mappings)
	for _, hook := range eventsHooks {
		hook(&eventsTemplate)
	}
	return TemplatesSetup{
		esClient: esClient,
		Templates: []Template{
			LocksTemplate,
			SequencesTemplate,
			eventsTemplate,
		},
	}
}

// Runs the setup
func (s *TemplatesSetup) Run(ctx context.Context) error {
	var errors []error
	for idx := range s.Templates {
		if err := s.putTemplate(ctx, &s.Templates[idx]); err != nil {
			errors = append(errors, err)
		}
	}
	if len(errors) != 0 {
		return PutTemplateErrors{Errors: errors}
	} else {
		return nil
	}
}

// Checks if the current TemplatesSetup was run.
//
// This is currently a shallow check for template presence only.
func (s *TemplatesSetup) Check(ctx context.Context) error {
	indexTemplateNames := make([]string, 0, len(s.Templates))
	for _, t := range s.Templates {
		indexTemplateNames = append(indexTemplateNames, string(t.Name()))
	}

	indexTemplatesGetReq := esapi.IndicesGetTemplateRequest{Name: indexTemplateNames}

	rawResp, err := indexTemplatesGetReq.Do(ctx, s.esClient)
	if err != nil {
		return common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch rawResp.StatusCode {
	case 200:
		var mappings map[string]interface{}
		if err = json.NewDecoder(rawResp.Body).Decode(&mappings); err != nil {
			return common.JsonSerdesErr{Underlying: []error{err}}
		}
		var notPresent []string
		for _, name := range indexTemplateNames {
			if _, ok := mappings[name]; !ok {
				notPresent = append(notPresent, name)
			}
		}
		if len(notPresent) != 0 {
			return TemplatesNotInstalled{NotInstalled: notPresent}
		} else {
			return nil
		}
	case 404:
		return TemplatesNotInstalled{NotInstalled: indexTemplateNames}
	default:
		return common.UnexpectedEsStatusError(rawResp)
	}
}

func (s *TemplatesSetup) putTemplate(ctx context.Context, t *Template) error {
	asBytes, err := json.Marshal(t)
	if err != nil {
		return common.JsonSerdesErr{Underlying: []error{err}}
	}
	log.Info().RawJSON("body", asBytes).Str("template_name", string(t.name)).Msg("Applying template")
	putTemplateReq := esapi.IndicesPutTemplateRequest{
		Body: bytes.NewReader(asBytes),
		Name: string(t.name),
	}
	rawResp, err := putTemplateReq.Do(ctx, s.esClient)
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

type PutTemplateErrors struct {
	Errors []error
}

func (e PutTemplateErrors) Error() string {
	return fmt.Sprintf("Errors encountered [%v]", e.Errors)
}

type TemplatesNotInstalled struct {
	NotInstalled []string
}

func (t TemplatesNotInstalled) Error() string {
	return fmt.Sprintf("One or more app index templates were not installed. Please run the setup command to install them [%v]", t.NotInstalled)
}

// Templates

var LocksTemplate = NewTemplate(
	".feedsync_leader_locks_index_template",
	[]Pattern{Pattern(leader.IndexName)},
	Mappings{
		"_source": Json{
			"enabled": true,
		},
		"dynamic": false,
		"properties": Json{
			"leader_id": Json{
				"type": "keyword",
			},
			"at": Json{
				"type": "date",
			},
		},
	},
)

// Counters are only ever read by id
var SequencesTemplate = NewTemplate(
	".feedsync_sequences_index_template",
	[]Pattern{Pattern(sequence.IndexName)},
	Mappings{
		"_source": Json{
			"enabled": true,
		},
		"dynamic": false,
		"properties": Json{
			"value": Json{
				"type":  "long",
				"index": false,
			},
			"stride": Json{
				"type":  "long",
				"index": false,
			},
			"offset": Json{
				"type":  "long",
				"index": false,
			},
		},
	},
)

var EventsTemplate = NewTemplate(
	".feedsync_events_index_template",
	[]Pattern{Pattern(events.IndexPrefix + "*")},
	Mappings{
		"_source": Json{
			"enabled": true,
		},
		"dynamic": false,
		"properties": Json{
			"feed": Json{
				"type": "keyword",
			},
			"identity": Json{
				"type": "keyword",
			},
			"type": Json{
				"type": "keyword",
			},
			"at": Json{
				"type": "date",
			},
		},
	},
)
