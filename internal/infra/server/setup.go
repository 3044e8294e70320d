package server

import (
	"context"
	"database/sql"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/feedsync/internal/config"
	"github.com/lloydmeta/feedsync/internal/domain/feed"
	"github.com/lloydmeta/feedsync/internal/infra/elasticsearch/index"
	"github.com/lloydmeta/feedsync/internal/infra/sqlite"
)

// Setup abstracts away:
//
// 1. Setting up the environment for running feedsync
// 2. Checking that things are set up
type Setup interface {

	// Check returns an error if all the necessary setup is not complete
	Check(ctx context.Context) error

	// RunIfNeeded attempts to run the subroutines necessary, no more no less
	RunIfNeeded(ctx context.Context) error
}

type impl struct {
	schema *sqlite.SchemaSetup
	// nil when Elasticsearch is not configured
	ilm           *index.ILMSetup
	templateSetup *index.TemplatesSetup
}

// NewSetup returns a Setup implementation. esClient may be nil, in which case only the
// relational schema is looked after.
func NewSetup(db *sql.DB, esClient *elasticsearch.Client, conf *config.App, descriptors []feed.Descriptor) Setup {
	i := impl{
		schema: sqlite.NewSchemaSetup(db, descriptors),
	}
	if esClient != nil && conf.Elasticsearch != nil {
		ilmSetup := index.NewILMSetup(esClient, conf.Elasticsearch.Events)
		templateSetup := index.DefaultTemplateSetup(esClient, ilmSetup.EventsTemplateHook())
		i.ilm = ilmSetup
		i.templateSetup = &templateSetup
	}
	return &i
}

func (i *impl) Check(ctx context.Context) error {
	if err := i.schema.Check(ctx); err != nil {
		return err
	}
	if i.ilm == nil {
		return nil
	}
	if err := i.ilm.Check(ctx); err != nil {
		return err
	} else if err := i.templateSetup.Check(ctx); err != nil {
		return err
	} else {
		return nil
	}
}

func (i *impl) RunIfNeeded(ctx context.Context) error {

	if err := i.schema.Check(ctx); err != nil {
		if _, tablesNotFound := err.(sqlite.TablesNotInstalled); tablesNotFound {
			log.Info().Msg("Setting up tables")
			if err := i.schema.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Could not set up tables")
				return err
			}
		} else {
			return err
		}
	}

	if i.ilm == nil {
		log.Info().Msg("Elasticsearch not configured, skipping ILM and Index template setup")
		log.Info().Msg("Setup complete")
		return nil
	}

	if err := i.ilm.Check(ctx); err != nil {
		if _, policiesNotFound := err.(index.PolicyNotInstalled); policiesNotFound {
			log.Info().Msg("Setting up ILM")
			if err := i.ilm.InstallPolicies(ctx); err != nil {
				log.Error().Err(err).Msg("Could not install ILM policies")
				return err
			}
		} else {
			log.Info().Msg("Skipping ILM setup")
			return err
		}
	}

	// Templates refer to the ILM policy, so they go in after it
	if err := i.templateSetup.Check(ctx); err != nil {
		if _, templateNotFound := err.(index.TemplatesNotInstalled); templateNotFound {
			log.Info().Msg("Setting up Index templates")
			if err := i.templateSetup.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to install index templates")
				return err
			}
		} else {
			return err
		}
	}

	log.Info().Msg("Setup complete")
	return nil
}
