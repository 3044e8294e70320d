// +build integration

package integration_tests

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lloydmeta/feedsync/internal/config"
	"github.com/lloydmeta/feedsync/internal/domain/feed"
	"github.com/lloydmeta/feedsync/internal/infra/elasticsearch/events"
	"github.com/lloydmeta/feedsync/internal/infra/elasticsearch/index"
)

func Test_IlmAndTemplatesSetup(t *testing.T) {
	ilm := index.NewILMSetup(esClient, config.EventsIndexing{Enabled: true, Retention: 48 * time.Hour})
	assert.IsType(t, index.PolicyNotInstalled{}, ilm.Check(ctx))
	assert.NoError(t, ilm.InstallPolicies(ctx))
	assert.NoError(t, ilm.Check(ctx))

	templates := index.DefaultTemplateSetup(esClient, ilm.EventsTemplateHook())
	assert.NoError(t, templates.Run(ctx))
	assert.NoError(t, templates.Check(ctx))
}

func Test_EsNotifier_Publish(t *testing.T) {
	notifier := events.NewEsNotifier(esClient)
	assert.NoError(t, notifier.Publish(ctx, "products", feed.Identities("a", "b"), feed.Identities("c")))
	assert.NoError(t, notifier.Publish(ctx, "products", nil, nil))
}
