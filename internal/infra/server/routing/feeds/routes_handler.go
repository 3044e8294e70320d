package feeds

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	feedController "github.com/lloydmeta/feedsync/internal/api/controllers/feed"
	"github.com/lloydmeta/feedsync/internal/domain/feed"
	"github.com/lloydmeta/feedsync/internal/infra/server/routing"
)

var subPath = "feeds"

var feedPathKey = "feed"

type RoutesHandler struct {
	Controller feedController.Controller
}

func (h *RoutesHandler) RegisterRoutes(routerGroup *gin.RouterGroup) {
	subGroup := routerGroup.Group(subPath)
	subGroup.GET("", h.list)
	subGroup.GET("/:"+feedPathKey+"/records", h.getSince)
	subGroup.GET("/:"+feedPathKey+"/records/ids", h.getByIds)
	subGroup.GET("/:"+feedPathKey+"/deleted", h.getDeletedByIds)
	subGroup.GET("/:"+feedPathKey+"/backlog", h.backlog)
}

type feedUri struct {
	Feed feed.Name `uri:"feed" binding:"required,feedName"`
}

type sinceQuery struct {
	Since      string  `form:"since"`
	Scope      *string `form:"scope"`
	Attributes string  `form:"attributes"`
}

type idsQuery struct {
	Ids   []string `form:"ids" binding:"required"`
	Scope *string  `form:"scope"`
}

// At most 1000 identities per lookup
type identities struct {
	Ids []feed.Identity `binding:"required,min=1,max=1000,dive,identity"`
}

// @Summary List Feeds
// @ID list-feeds
// @Tags feeds
// @Description Lists the names of the Feeds that can be read
// @Produce  json
// @Success 200 {array} string
// @Router /feeds [get]
func (h *RoutesHandler) list(c *gin.Context) {
	c.JSON(http.StatusOK, h.Controller.Names())
}

// @Summary Read a Feed incrementally
// @ID get-feed-records-since
// @Tags feeds
// @Description Returns the Records modified after the given cursor, deleted ones included. Records sharing a
// @Description timestamp are never split across pages, so pass recent_timestamp back as since to get the next page.
// @Produce  json
// @Param   feed path string true "The Feed"
// @Param   since query string false "RFC3339 timestamp or microseconds since the epoch; empty reads from the start"
// @Param   scope query string false "Only Records with this scope"
// @Param   attributes query string false "Comma separated attribute paths to keep in each snapshot"
// @Success 200 {object} feed.Page
// @Failure 400 {object} common.Body "Invalid cursor"
// @Failure 404 {object} common.Body "Feed does not exist"
// @Router /feeds/{feed}/records [get]
func (h *RoutesHandler) getSince(c *gin.Context) {
	var uri feedUri
	if err := c.ShouldBindUri(&uri); err != nil {
		routing.HandleJsonSerdesErr(c, err)
		return
	}
	var query sinceQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		routing.HandleJsonSerdesErr(c, err)
		return
	}
	filter := feed.Filter{
		Scope:      toScope(query.Scope),
		Attributes: splitCommas([]string{query.Attributes}),
	}
	if page, err := h.Controller.GetSince(c.Request.Context(), uri.Feed, query.Since, filter); err == nil {
		c.JSON(http.StatusOK, page)
	} else {
		routing.HandleApiErr(c, err)
	}
}

// @Summary Get Records by identity
// @ID get-feed-records-by-ids
// @Tags feeds
// @Description Returns the live Records with the given identities
// @Produce  json
// @Param   feed path string true "The Feed"
// @Param   ids query string true "Comma separated identities"
// @Param   scope query string false "Only Records with this scope"
// @Success 200 {array} feed.Record
// @Failure 400 {object} common.Body "Invalid identities"
// @Failure 404 {object} common.Body "Feed does not exist"
// @Router /feeds/{feed}/records/ids [get]
func (h *RoutesHandler) getByIds(c *gin.Context) {
	uri, ids, query, ok := bindIdsRequest(c)
	if !ok {
		return
	}
	filter := feed.Filter{Scope: toScope(query.Scope)}
	if records, err := h.Controller.GetByIds(c.Request.Context(), uri.Feed, ids, filter); err == nil {
		c.JSON(http.StatusOK, records)
	} else {
		routing.HandleApiErr(c, err)
	}
}

// @Summary Get deleted Records by identity
// @ID get-feed-deleted-by-ids
// @Tags feeds
// @Description Returns the deleted Records with the given identities
// @Produce  json
// @Param   feed path string true "The Feed"
// @Param   ids query string true "Comma separated identities"
// @Success 200 {array} feed.Record
// @Failure 400 {object} common.Body "Invalid identities"
// @Failure 404 {object} common.Body "Feed does not exist"
// @Router /feeds/{feed}/deleted [get]
func (h *RoutesHandler) getDeletedByIds(c *gin.Context) {
	uri, ids, _, ok := bindIdsRequest(c)
	if !ok {
		return
	}
	if records, err := h.Controller.GetDeletedByIds(c.Request.Context(), uri.Feed, ids); err == nil {
		c.JSON(http.StatusOK, records)
	} else {
		routing.HandleApiErr(c, err)
	}
}

// @Summary Get the backlog of a Feed
// @ID get-feed-backlog
// @Tags feeds
// @Description Reports how many changelog rows a Feed has yet to process
// @Produce  json
// @Param   feed path string true "The Feed"
// @Success 200 {object} feed.Backlog
// @Failure 404 {object} common.Body "Feed does not exist"
// @Router /feeds/{feed}/backlog [get]
func (h *RoutesHandler) backlog(c *gin.Context) {
	var uri feedUri
	if err := c.ShouldBindUri(&uri); err != nil {
		routing.HandleJsonSerdesErr(c, err)
		return
	}
	if backlog, err := h.Controller.Backlog(c.Request.Context(), uri.Feed); err == nil {
		c.JSON(http.StatusOK, backlog)
	} else {
		routing.HandleApiErr(c, err)
	}
}

// bindIdsRequest writes a 400 and returns false if the request is not valid
func bindIdsRequest(c *gin.Context) (*feedUri, []feed.Identity, *idsQuery, bool) {
	var uri feedUri
	if err := c.ShouldBindUri(&uri); err != nil {
		routing.HandleJsonSerdesErr(c, err)
		return nil, nil, nil, false
	}
	var query idsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		routing.HandleJsonSerdesErr(c, err)
		return nil, nil, nil, false
	}
	ids := identities{Ids: feed.Identities(splitCommas(query.Ids)...)}
	if err := binding.Validator.ValidateStruct(&ids); err != nil {
		routing.HandleJsonSerdesErr(c, err)
		return nil, nil, nil, false
	}
	return &uri, ids.Ids, &query, true
}

// Both ids=a,b and ids=a&ids=b are accepted
func splitCommas(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(part); len(trimmed) > 0 {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func toScope(s *string) *feed.Scope {
	if s == nil || len(*s) == 0 {
		return nil
	}
	scope := feed.Scope(*s)
	return &scope
}
