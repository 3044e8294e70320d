// metadata contains models that hold data about data, for documents kept in Elasticsearch
// where optimistic concurrency control works off a seq number and primary term
package metadata

import "time"

type CreatedAt time.Time
type ModifiedAt time.Time

type SeqNum uint64
type PrimaryTerm uint64

// Version is what a conditional write to a document has to match
type Version struct {
	SeqNum      SeqNum
	PrimaryTerm PrimaryTerm
}

type Metadata struct {
	CreatedAt  CreatedAt
	ModifiedAt ModifiedAt
	Version    Version
}
