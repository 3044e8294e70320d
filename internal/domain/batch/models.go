// batch holds the models and algebras for turning a changelog into numbered, disjoint units
// of work that many consumers, possibly in different processes, can pull from concurrently.
package batch

import (
	"fmt"

	"github.com/lloydmeta/feedsync/internal/domain/changelog"
)

// Number of a batch within a partition pass. Numbers in a pass are contiguous and start at 1.
type Number int64

// Batch is a set of distinct keys to process together
type Batch struct {
	Number Number
	Keys   []changelog.Key
}

// PassId tells passes apart, even passes over the same range
type PassId string

// Pass describes a single partitioning of a changelog range
type Pass struct {
	Id PassId
	// Exclusive lower bound
	Since changelog.VersionId
	// Inclusive upper bound
	UpTo changelog.VersionId
	// Highest batch number in the pass, 0 if there was nothing to do
	Batches Number
}

// Empty returns true if there are no batches in the pass
func (p Pass) Empty() bool {
	return p.Batches == 0
}

type Exhausted struct{}

func (e Exhausted) Error() string {
	return "No more batches"
}

type NoCurrentBatch struct{}

func (n NoCurrentBatch) Error() string {
	return "Iterator is not positioned on a batch"
}

type InvalidSize struct {
	Size uint
}

func (i InvalidSize) Error() string {
	return fmt.Sprintf("Invalid batch size [%d]", i.Size)
}

// InvalidAllocation is returned when an allocator hands out an id that doesn't fit its own step
type InvalidAllocation struct {
	Raw  RawId
	Step Step
}

func (i InvalidAllocation) Error() string {
	return fmt.Sprintf("Allocated id [%d] does not fit stride [%d] and offset [%d]", i.Raw, i.Step.Stride, i.Step.Offset)
}
