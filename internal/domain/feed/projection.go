package feed

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Project returns a JSON object holding only the given attributes of the snapshot, keyed by
// the path used to look each one up. Attributes that are missing from the snapshot are left out.
func Project(snapshot json.RawMessage, attributes []string) (json.RawMessage, error) {
	if len(attributes) == 0 {
		return snapshot, nil
	}
	projected := make(map[string]json.RawMessage, len(attributes))
	for _, attr := range attributes {
		result := gjson.GetBytes(snapshot, attr)
		if result.Exists() {
			projected[attr] = json.RawMessage(result.Raw)
		}
	}
	return json.Marshal(projected)
}

// ProjectAll runs Project over the snapshots of every non-deleted record.
func ProjectAll(records []Record, attributes []string) ([]Record, error) {
	if len(attributes) == 0 {
		return records, nil
	}
	for idx := range records {
		if records[idx].IsDeleted {
			continue
		}
		projected, err := Project(records[idx].Snapshot, attributes)
		if err != nil {
			return nil, err
		}
		records[idx].Snapshot = projected
	}
	return records, nil
}
