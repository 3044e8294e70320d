package feed

import (
	"context"
	"net/http"
	"sort"

	"github.com/lloydmeta/feedsync/internal/api/models/common"
	"github.com/lloydmeta/feedsync/internal/api/models/feed"
	"github.com/lloydmeta/feedsync/internal/domain/changelog"
	domainFeed "github.com/lloydmeta/feedsync/internal/domain/feed"
)

// Controller is an interface that defines the methods that are available to the routing
// layer. It is framework-agnostic
type Controller interface {

	// Names returns the names of the feeds that can be read, sorted
	Names() []domainFeed.Name

	// GetSince returns the page of records modified after the given raw cursor.
	GetSince(ctx context.Context, name domainFeed.Name, since string, filter domainFeed.Filter) (*feed.Page, *common.ApiError)

	// GetByIds returns the live records with the given identities
	GetByIds(ctx context.Context, name domainFeed.Name, ids []domainFeed.Identity, filter domainFeed.Filter) ([]feed.Record, *common.ApiError)

	// GetDeletedByIds returns the deleted records with the given identities
	GetDeletedByIds(ctx context.Context, name domainFeed.Name, ids []domainFeed.Identity) ([]feed.Record, *common.ApiError)

	// Backlog reports how far behind the changelog a feed is
	Backlog(ctx context.Context, name domainFeed.Name) (*feed.Backlog, *common.ApiError)
}

// Feed is what the controller needs to serve a single feed
type Feed struct {
	Reader domainFeed.Reader
	Source changelog.Source
}

func New(feeds map[domainFeed.Name]Feed) Controller {
	return &impl{
		feeds: feeds,
	}
}

type impl struct {
	feeds map[domainFeed.Name]Feed
}

func (c *impl) Names() []domainFeed.Name {
	names := make([]domainFeed.Name, 0, len(c.feeds))
	for name := range c.feeds {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return names[i] < names[j]
	})
	return names
}

func (c *impl) GetSince(ctx context.Context, name domainFeed.Name, since string, filter domainFeed.Filter) (*feed.Page, *common.ApiError) {
	f, err := c.lookup(name)
	if err != nil {
		return nil, handleErr(err)
	}
	cursor, err := domainFeed.ParseCursor(since)
	if err != nil {
		return nil, handleErr(err)
	}
	result, err := f.Reader.GetSince(ctx, cursor, filter)
	if err != nil {
		return nil, handleErr(err)
	} else {
		p := feed.FromDomainPage(result)
		return &p, nil
	}
}

func (c *impl) GetByIds(ctx context.Context, name domainFeed.Name, ids []domainFeed.Identity, filter domainFeed.Filter) ([]feed.Record, *common.ApiError) {
	f, err := c.lookup(name)
	if err != nil {
		return nil, handleErr(err)
	}
	result, err := f.Reader.GetByIds(ctx, ids, filter)
	if err != nil {
		return nil, handleErr(err)
	} else {
		return feed.FromDomainRecords(result), nil
	}
}

func (c *impl) GetDeletedByIds(ctx context.Context, name domainFeed.Name, ids []domainFeed.Identity) ([]feed.Record, *common.ApiError) {
	f, err := c.lookup(name)
	if err != nil {
		return nil, handleErr(err)
	}
	result, err := f.Reader.GetDeletedByIds(ctx, ids)
	if err != nil {
		return nil, handleErr(err)
	} else {
		return feed.FromDomainRecords(result), nil
	}
}

func (c *impl) Backlog(ctx context.Context, name domainFeed.Name) (*feed.Backlog, *common.ApiError) {
	f, err := c.lookup(name)
	if err != nil {
		return nil, handleErr(err)
	}
	checkpoint, err := f.Source.Checkpoint(ctx)
	if err != nil {
		return nil, handleErr(err)
	}
	lastVersion, err := f.Source.LastVersion(ctx)
	if err != nil {
		return nil, handleErr(err)
	}
	backlog, err := f.Source.Backlog(ctx)
	if err != nil {
		return nil, handleErr(err)
	}
	return &feed.Backlog{
		Feed:        name,
		Backlog:     backlog,
		Checkpoint:  checkpoint,
		LastVersion: lastVersion,
	}, nil
}

func (c *impl) lookup(name domainFeed.Name) (*Feed, error) {
	if f, ok := c.feeds[name]; ok {
		return &f, nil
	} else {
		return nil, domainFeed.UnknownFeed{Name: name}
	}
}

func handleErr(err error) *common.ApiError {
	switch v := err.(type) {
	case domainFeed.UnknownFeed:
		return unknownFeed(v)
	case domainFeed.InvalidCursor:
		return invalidCursor(v)
	default:
		return unhandledErr(v)
	}
}

func unknownFeed(err domainFeed.UnknownFeed) *common.ApiError {
	return &common.ApiError{
		StatusCode: http.StatusNotFound,
		Body: common.Body{
			Message: err.Error(),
		},
	}
}

func invalidCursor(err domainFeed.InvalidCursor) *common.ApiError {
	return &common.ApiError{
		StatusCode: http.StatusBadRequest,
		Body: common.Body{
			Message: err.Error(),
		},
	}
}

func unhandledErr(e error) *common.ApiError {
	return &common.ApiError{
		StatusCode: http.StatusInternalServerError,
		Body: common.Body{
			Message: e.Error(),
		},
	}
}
