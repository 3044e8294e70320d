package cmd

import (
	"context"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lloydmeta/feedsync/internal/domain/feed"
	"github.com/lloydmeta/feedsync/internal/infra/elasticsearch/common"
	"github.com/lloydmeta/feedsync/internal/infra/server"
	"github.com/lloydmeta/feedsync/internal/infra/sqlite"
)

var checkOnly bool

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Run feedsync setup",
	Long:  "Runs various setup routines for feedsync. Includes the tables of every configured Feed, and ILM policies and Index Templates if Elasticsearch is configured",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		descriptors := make([]feed.Descriptor, 0, len(appConfig.Feeds))
		for _, f := range appConfig.Feeds {
			d, err := feed.DescriptorFromConfig(f)
			if err != nil {
				log.Fatal().Err(err).Msg("Invalid Feed config")
			}
			descriptors = append(descriptors, *d)
		}

		db, err := sqlite.Open(ctx, appConfig.Storage)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not open the store")
		}
		defer db.Close()

		var esClient *elasticsearch.Client
		if appConfig.Elasticsearch != nil {
			esClient, err = common.NewClient(*appConfig.Elasticsearch)
			if err != nil {
				log.Fatal().Err(err).Msg("Could not setup Elasticsearch client")
			}
		}

		setup := server.NewSetup(db, esClient, &appConfig, descriptors)
		if checkOnly {
			if err := setup.Check(ctx); err != nil {
				log.Fatal().Err(err).Msg("Setup is incomplete")
			}
			log.Info().Msg("Setup is complete.")
			return
		}
		if err := setup.RunIfNeeded(ctx); err != nil {
			log.Fatal().Err(err).Msg("Setup failed")
		}
	},
}

func init() {
	setupCmd.Flags().BoolVar(&checkOnly, "check", false, "only check that setup is complete")
	rootCmd.AddCommand(setupCmd)
}
