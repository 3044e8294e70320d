package common

import (
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"go.elastic.co/apm/module/apmelasticsearch"

	"github.com/lloydmeta/feedsync/internal/config"
)

// NewClient returns a configured elasticsearch.Client based on the given conf.
//
// Requests are traced, so calls made inside a background transaction show up as spans.
func NewClient(conf config.ElasticsearchClient) (*elasticsearch.Client, error) {
	esClientConfig := elasticsearch.Config{
		Addresses: conf.Addresses,
		Transport: apmelasticsearch.WrapRoundTripper(http.DefaultTransport),
	}
	if conf.User != nil {
		esClientConfig.Username = conf.User.Name
		esClientConfig.Password = conf.User.Password
	}
	return elasticsearch.NewClient(esClientConfig)
}
