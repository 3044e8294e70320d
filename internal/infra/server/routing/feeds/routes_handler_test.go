package feeds

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/lloydmeta/feedsync/internal/api/models/common"
	apiFeed "github.com/lloydmeta/feedsync/internal/api/models/feed"
	"github.com/lloydmeta/feedsync/internal/domain/feed"
	"github.com/lloydmeta/feedsync/internal/infra/server/binding/validation"
	"github.com/lloydmeta/feedsync/internal/infra/server/routing"
)

func init() {
	validation.SetUpValidators()
}

var mockRecord = apiFeed.Record{
	Identity:   "sku-1",
	Key:        "sku-1",
	Scope:      "en",
	Snapshot:   json.RawMessage(`{"name":"Shoe"}`),
	ModifiedAt: time.Date(2020, 3, 1, 10, 0, 0, 0, time.UTC),
}

func setupRouter() (*gin.Engine, *mockFeedsController) {
	engine := gin.Default()
	mockController := mockFeedsController{}
	topLevelRouterGroup := routing.NewTopLevelRoutesGroup(nil, engine)
	handler := RoutesHandler{Controller: &mockController}
	handler.RegisterRoutes(topLevelRouterGroup)

	return engine, &mockController
}

func performRequest(r http.Handler, method, url string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, url, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func Test_List(t *testing.T) {
	router, _ := setupRouter()
	resp := performRequest(router, http.MethodGet, "/feeds")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `["orders","products"]`, resp.Body.String())
}

func Test_GetSince_Ok(t *testing.T) {
	router, mockController := setupRouter()
	resp := performRequest(router, http.MethodGet, "/feeds/products/records?since=1583056800000000&scope=en&attributes=name,price.amount")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.EqualValues(t, 1, mockController.getSinceCalled)
	assert.EqualValues(t, "products", mockController.lastName)
	assert.Equal(t, "1583056800000000", mockController.lastSince)
	if assert.NotNil(t, mockController.lastFilter.Scope) {
		assert.EqualValues(t, "en", *mockController.lastFilter.Scope)
	}
	assert.Equal(t, []string{"name", "price.amount"}, mockController.lastFilter.Attributes)

	var page apiFeed.Page
	if err := json.Unmarshal(resp.Body.Bytes(), &page); err != nil {
		t.Error(err)
	} else {
		assert.Equal(t, []apiFeed.Record{mockRecord}, page.Records)
		assert.Equal(t, mockRecord.ModifiedAt, page.RecentTimestamp)
	}
}

func Test_GetSince_NoFilter(t *testing.T) {
	router, mockController := setupRouter()
	resp := performRequest(router, http.MethodGet, "/feeds/products/records")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Nil(t, mockController.lastFilter.Scope)
	assert.Empty(t, mockController.lastFilter.Attributes)
	assert.Equal(t, "", mockController.lastSince)
}

func Test_GetSince_InvalidFeedName(t *testing.T) {
	router, mockController := setupRouter()
	resp := performRequest(router, http.MethodGet, "/feeds/Products/records")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.EqualValues(t, 0, mockController.getSinceCalled)
}

func Test_GetSince_Err(t *testing.T) {
	router, mockController := setupRouter()
	apiErr := common.ApiError{
		StatusCode: http.StatusNotFound,
		Body: common.Body{
			Message: "nope",
		},
	}
	mockController.getSinceOverride = func() (*apiFeed.Page, *common.ApiError) {
		return nil, &apiErr
	}
	resp := performRequest(router, http.MethodGet, "/feeds/reviews/records")
	assert.Equal(t, apiErr.StatusCode, resp.Code)
	var body common.Body
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Error(err)
	} else {
		assert.Equal(t, apiErr.Body, body)
	}
}

func Test_GetByIds(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		wantCode  int
		wantIds   []feed.Identity
		wantScope *string
	}{
		{
			"comma separated",
			"/feeds/products/records/ids?ids=a,b&scope=en",
			http.StatusOK,
			feed.Identities("a", "b"),
			strPtr("en"),
		},
		{
			"repeated",
			"/feeds/products/records/ids?ids=a&ids=b,c",
			http.StatusOK,
			feed.Identities("a", "b", "c"),
			nil,
		},
		{
			"missing ids",
			"/feeds/products/records/ids",
			http.StatusBadRequest,
			nil,
			nil,
		},
		{
			"only blanks",
			"/feeds/products/records/ids?ids=,%20,",
			http.StatusBadRequest,
			nil,
			nil,
		},
		{
			"too many",
			"/feeds/products/records/ids?ids=" + strings.Repeat("x,", 1001),
			http.StatusBadRequest,
			nil,
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, mockController := setupRouter()
			resp := performRequest(router, http.MethodGet, tt.url)
			assert.Equal(t, tt.wantCode, resp.Code)
			if tt.wantCode == http.StatusOK {
				assert.EqualValues(t, 1, mockController.getByIdsCalled)
				assert.Equal(t, tt.wantIds, mockController.lastIds)
				if tt.wantScope == nil {
					assert.Nil(t, mockController.lastFilter.Scope)
				} else if assert.NotNil(t, mockController.lastFilter.Scope) {
					assert.EqualValues(t, *tt.wantScope, *mockController.lastFilter.Scope)
				}
			} else {
				assert.EqualValues(t, 0, mockController.getByIdsCalled)
			}
		})
	}
}

func Test_GetDeletedByIds(t *testing.T) {
	router, mockController := setupRouter()
	resp := performRequest(router, http.MethodGet, "/feeds/products/deleted?ids=a,b")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.EqualValues(t, 1, mockController.getDeletedByIdsCalled)
	assert.Equal(t, feed.Identities("a", "b"), mockController.lastIds)
	var records []apiFeed.Record
	if err := json.Unmarshal(resp.Body.Bytes(), &records); err != nil {
		t.Error(err)
	} else {
		assert.Len(t, records, 1)
	}
}

func Test_Backlog(t *testing.T) {
	router, mockController := setupRouter()
	resp := performRequest(router, http.MethodGet, "/feeds/products/backlog")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.EqualValues(t, 1, mockController.backlogCalled)
	assert.JSONEq(t, `{"feed":"products","backlog":2,"checkpoint":40,"last_version":42}`, resp.Body.String())
}

func Test_NoRoute(t *testing.T) {
	router, _ := setupRouter()
	router.NoRoute(routing.NoRoute)
	resp := performRequest(router, http.MethodGet, "/nope")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func strPtr(s string) *string {
	return &s
}

type mockFeedsController struct {
	getSinceCalled        uint
	getSinceOverride      func() (*apiFeed.Page, *common.ApiError)
	getByIdsCalled        uint
	getDeletedByIdsCalled uint
	backlogCalled         uint

	lastName   feed.Name
	lastSince  string
	lastFilter feed.Filter
	lastIds    []feed.Identity
}

func (m *mockFeedsController) Names() []feed.Name {
	return []feed.Name{"orders", "products"}
}

func (m *mockFeedsController) GetSince(ctx context.Context, name feed.Name, since string, filter feed.Filter) (*apiFeed.Page, *common.ApiError) {
	m.getSinceCalled++
	m.lastName = name
	m.lastSince = since
	m.lastFilter = filter
	if m.getSinceOverride != nil {
		return m.getSinceOverride()
	} else {
		return &apiFeed.Page{
			Records:         []apiFeed.Record{mockRecord},
			RecentTimestamp: mockRecord.ModifiedAt,
		}, nil
	}
}

func (m *mockFeedsController) GetByIds(ctx context.Context, name feed.Name, ids []feed.Identity, filter feed.Filter) ([]apiFeed.Record, *common.ApiError) {
	m.getByIdsCalled++
	m.lastName = name
	m.lastIds = ids
	m.lastFilter = filter
	return []apiFeed.Record{mockRecord}, nil
}

func (m *mockFeedsController) GetDeletedByIds(ctx context.Context, name feed.Name, ids []feed.Identity) ([]apiFeed.Record, *common.ApiError) {
	m.getDeletedByIdsCalled++
	m.lastName = name
	m.lastIds = ids
	deleted := mockRecord
	deleted.Snapshot = nil
	deleted.IsDeleted = true
	return []apiFeed.Record{deleted}, nil
}

func (m *mockFeedsController) Backlog(ctx context.Context, name feed.Name) (*apiFeed.Backlog, *common.ApiError) {
	m.backlogCalled++
	return &apiFeed.Backlog{
		Feed:        name,
		Backlog:     2,
		Checkpoint:  40,
		LastVersion: 42,
	}, nil
}
