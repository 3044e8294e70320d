package feed

import "time"

// Paginate returns the page following cursor out of records, which must be sorted by ModifiedAt.
//
// The page ends at the ModifiedAt of the offset-th row after the cursor, and takes in every
// row with that same ModifiedAt, so a tie group is never split. When fewer than offset rows
// remain, or offset is 0, everything after the cursor is returned.
func Paginate(sorted []Record, cursor Cursor, offset uint) Page {
	after := time.Time(cursor)
	start := len(sorted)
	for idx, r := range sorted {
		if time.Time(r.ModifiedAt).After(after) {
			start = idx
			break
		}
	}
	remaining := sorted[start:]

	end := len(remaining)
	if offset > 0 && uint(len(remaining)) >= offset {
		limitTs := time.Time(remaining[offset-1].ModifiedAt)
		end = int(offset)
		for end < len(remaining) && !time.Time(remaining[end].ModifiedAt).After(limitTs) {
			end++
		}
	}

	page := Page{
		Records:         make([]Record, end),
		RecentTimestamp: cursor,
	}
	copy(page.Records, remaining[:end])
	if end > 0 {
		page.RecentTimestamp = Cursor(page.Records[end-1].ModifiedAt)
	}
	return page
}
