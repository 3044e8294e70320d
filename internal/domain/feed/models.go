// feed holds the models and algebras for feeds: materialised, per-identity snapshots of
// entities, read by consumers through a timestamp cursor.
package feed

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lloydmeta/feedsync/internal/domain/changelog"
)

// Name of a feed.
//
// Names end up in table and index names, so they are restricted to lower case
// alphanumerics and underscores.
type Name string

var validName = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// NameFromString takes a string and returns a Name if valid, otherwise returns an InvalidName error.
func NameFromString(s string) (*Name, error) {
	var errs []error
	if len(s) == 0 {
		errs = append(errs, fmt.Errorf("empty string"))
	}
	if s != strings.ToLower(s) {
		errs = append(errs, fmt.Errorf("not lower case [%v]", s))
	}
	if len(errs) == 0 && !validName.MatchString(s) {
		errs = append(errs, fmt.Errorf("must start with a letter and only contain [a-z0-9_], at most 63 chars"))
	}
	if len(errs) == 0 {
		n := Name(s)
		return &n, nil
	} else {
		return nil, &InvalidName{Errors: errs}
	}
}

// Identity of a row in a feed. One source entity may fan out to several identities,
// e.g. one per scope.
type Identity string

// Scope narrows a row down, e.g. to a store view or locale
type Scope string

// Identities turns strings into Identities
func Identities(s ...string) []Identity {
	ids := make([]Identity, 0, len(s))
	for _, i := range s {
		ids = append(ids, Identity(i))
	}
	return ids
}

// ModifiedAt is when a feed row was last written. Stored with microsecond precision.
type ModifiedAt time.Time

// Record is the current state of a single identity in a feed
type Record struct {
	Identity   Identity
	Key        changelog.Key
	Scope      Scope
	Snapshot   json.RawMessage
	ModifiedAt ModifiedAt
	IsDeleted  bool
}

// Cursor marks the last ModifiedAt a reader has consumed
type Cursor time.Time

// StartCursor is the cursor to use when nothing has been read yet
var StartCursor = Cursor(time.Unix(0, 0).UTC())

// ParseCursor reads a cursor that is either empty (start from scratch), an RFC3339 timestamp,
// or an integer number of microseconds since the Unix epoch.
func ParseCursor(s string) (Cursor, error) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) == 0 {
		return StartCursor, nil
	}
	if micros, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return Cursor(time.UnixMicro(micros).UTC()), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		return Cursor(t.UTC()), nil
	} else {
		return StartCursor, InvalidCursor{Raw: s, Underlying: err}
	}
}

// Truncate returns a time with the precision rows are stored with
func Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Filter narrows down what a read returns
type Filter struct {
	// Only rows with this scope
	Scope *Scope
	// Only these attributes of each snapshot, as gjson paths. Empty means everything.
	Attributes []string
}

// Page is the result of reading a feed incrementally
type Page struct {
	Records []Record
	// The greatest ModifiedAt in Records; the cursor passed in if there are none
	RecentTimestamp Cursor
}

type InvalidName struct {
	Errors []error
}

func (i *InvalidName) Error() string {
	return fmt.Sprintf("Illegal Feed name: [%v]", i.Errors)
}

type UnknownFeed struct {
	Name Name
}

func (u UnknownFeed) Error() string {
	return fmt.Sprintf("Unknown Feed [%s]", u.Name)
}

type InvalidCursor struct {
	Raw        string
	Underlying error
}

func (i InvalidCursor) Error() string {
	return fmt.Sprintf("Invalid cursor [%s]: %v", i.Raw, i.Underlying)
}

func (i InvalidCursor) Unwrap() error {
	return i.Underlying
}
