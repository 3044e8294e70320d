// feed holds the API models for reading feeds. Timestamps go out as RFC3339 with
// microsecond precision so that they can be fed straight back in as a cursor.
package feed

import (
	"encoding/json"
	"time"

	"github.com/lloydmeta/feedsync/internal/domain/changelog"
	"github.com/lloydmeta/feedsync/internal/domain/feed"
)

type Record struct {
	Identity   feed.Identity   `json:"identity" binding:"required" swaggertype:"string" example:"sku-1-default"`
	Key        changelog.Key   `json:"key" binding:"required" swaggertype:"string" example:"sku-1"`
	Scope      feed.Scope      `json:"scope" swaggertype:"string" example:"default"`
	Snapshot   json.RawMessage `json:"snapshot,omitempty" swaggertype:"object"`
	ModifiedAt time.Time       `json:"modified_at" binding:"required" swaggertype:"string" format:"date-time"`
	IsDeleted  bool            `json:"is_deleted"`
}

// Page is a boundary-safe page of a feed
type Page struct {
	Records []Record `json:"records" binding:"required"`
	// Pass this back as `since` to get the next page
	RecentTimestamp time.Time `json:"recent_timestamp" binding:"required" swaggertype:"string" format:"date-time"`
}

type Backlog struct {
	Feed feed.Name `json:"feed" binding:"required" swaggertype:"string" example:"products"`
	// Changelog rows not processed yet
	Backlog uint64 `json:"backlog" binding:"required" example:"42"`
	// Last fully processed changelog version
	Checkpoint changelog.VersionId `json:"checkpoint" binding:"required" swaggertype:"integer" example:"1000"`
	// Highest changelog version
	LastVersion changelog.VersionId `json:"last_version" binding:"required" swaggertype:"integer" example:"1042"`
}

// Deleted records have no snapshot
func FromDomainRecord(r *feed.Record) Record {
	record := Record{
		Identity:   r.Identity,
		Key:        r.Key,
		Scope:      r.Scope,
		ModifiedAt: time.Time(r.ModifiedAt).UTC(),
		IsDeleted:  r.IsDeleted,
	}
	if !r.IsDeleted && len(r.Snapshot) > 0 {
		record.Snapshot = r.Snapshot
	}
	return record
}

func FromDomainRecords(records []feed.Record) []Record {
	apiRecords := make([]Record, 0, len(records))
	for idx := range records {
		apiRecords = append(apiRecords, FromDomainRecord(&records[idx]))
	}
	return apiRecords
}

func FromDomainPage(p *feed.Page) Page {
	return Page{
		Records:         FromDomainRecords(p.Records),
		RecentTimestamp: time.Time(p.RecentTimestamp).UTC(),
	}
}
