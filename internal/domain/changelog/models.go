// changelog holds the models and algebra for the append-only log of mutated entity keys
// that feeds are built from.
package changelog

import "fmt"

// Key identifies an entity in the source store (e.g. a product id)
type Key string

// VersionId is the monotonically increasing id of a row in a changelog
type VersionId int64

// Record is a single changelog row: an entity was mutated at a given version
type Record struct {
	Key       Key
	VersionId VersionId
}

// Keys turns strings into Keys
func Keys(s ...string) []Key {
	keys := make([]Key, 0, len(s))
	for _, k := range s {
		keys = append(keys, Key(k))
	}
	return keys
}

// InvalidRange is returned when asked for changes in a range that goes backwards
type InvalidRange struct {
	Since VersionId
	UpTo  VersionId
}

func (e InvalidRange) Error() string {
	return fmt.Sprintf("Invalid changelog range: since [%d] is after up to [%d]", e.Since, e.UpTo)
}
