package sequence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/feedsync/internal/domain/batch"
	"github.com/lloydmeta/feedsync/internal/domain/metadata"
	"github.com/lloydmeta/feedsync/internal/infra/elasticsearch/common"
)

var (
	IndexName = common.IndexName(".feedsync_sequences")
)

type SequenceNotFound struct {
	Name string
}

func (e SequenceNotFound) Error() string {
	return fmt.Sprintf("Sequence [%s] does not exist, it needs to be reset first", e.Name)
}

type VersionConflictRetriesExhausted struct {
	Name    string
	Retries uint
}

func (e VersionConflictRetriesExhausted) Error() string {
	return fmt.Sprintf("Could not allocate from sequence [%s] after [%d] retries on version conflicts", e.Name, e.Retries)
}

type conflict struct{}

func (conflict) Error() string {
	return "version conflict"
}

// EsAllocator is a batch.Allocator backed by a counter document, advanced with
// compare-and-set writes on the doc's seq no and primary term. The step is stored alongside the
// value so every process sharing the sequence normalises ids the same way.
type EsAllocator struct {
	client          *elasticsearch.Client
	name            string
	step            batch.Step
	conflictRetries uint
}

// NewEsAllocator returns an EsAllocator for the named sequence. The given step is only used
// when resetting; afterwards the stored one wins.
func NewEsAllocator(client *elasticsearch.Client, name string, step batch.Step, conflictRetries uint) *EsAllocator {
	return &EsAllocator{client: client, name: name, step: step, conflictRetries: conflictRetries}
}

type persistedSequence struct {
	Value  int64 `json:"value"`
	Stride int64 `json:"stride"`
	Offset int64 `json:"offset"`
}

type versionedSequence struct {
	persistedSequence
	Version metadata.Version
}

func (a *EsAllocator) Reset(ctx context.Context) error {
	_, err := a.put(ctx, persistedSequence{
		Value:  a.step.Offset - a.step.Stride,
		Stride: a.step.Stride,
		Offset: a.step.Offset,
	}, nil)
	return err
}

func (a *EsAllocator) Allocate(ctx context.Context) (batch.RawId, error) {
	for attempt := uint(0); attempt <= a.conflictRetries; attempt++ {
		current, err := a.get(ctx)
		if err != nil {
			return 0, err
		}
		next := current.persistedSequence
		next.Value += next.Stride
		if _, err := a.put(ctx, next, &current.Version); err != nil {
			if _, isConflict := err.(conflict); isConflict {
				if log.Debug().Enabled() {
					log.Debug().Str("sequence", a.name).Uint("attempt", attempt).Msg("Version conflict allocating, retrying")
				}
				continue
			}
			return 0, err
		}
		return batch.RawId(next.Value), nil
	}
	return 0, VersionConflictRetriesExhausted{Name: a.name, Retries: a.conflictRetries}
}

func (a *EsAllocator) Step(ctx context.Context) (batch.Step, error) {
	current, err := a.get(ctx)
	if err != nil {
		return batch.Step{}, err
	}
	return batch.Step{Stride: current.Stride, Offset: current.Offset}, nil
}

func (a *EsAllocator) Destroy(ctx context.Context) error {
	req := esapi.DeleteRequest{
		Index:      string(IndexName),
		DocumentID: a.name,
	}
	rawResp, err := req.Do(ctx, a.client)
	if err != nil {
		return common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch rawResp.StatusCode {
	case 200, 404:
		return nil
	default:
		return common.UnexpectedEsStatusError(rawResp)
	}
}

func (a *EsAllocator) get(ctx context.Context) (*versionedSequence, error) {
	req := esapi.GetRequest{
		Index:      string(IndexName),
		DocumentID: a.name,
	}
	rawResp, err := req.Do(ctx, a.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch rawResp.StatusCode {
	case 200:
		var resp common.EsGetResponse
		if err := json.NewDecoder(rawResp.Body).Decode(&resp); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		var seq versionedSequence
		if err := json.Unmarshal(resp.Source, &seq.persistedSequence); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		seq.Version = resp.Version()
		return &seq, nil
	case 404:
		return nil, SequenceNotFound{Name: a.name}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

// put writes the sequence doc, conditionally on its version if one is given
func (a *EsAllocator) put(ctx context.Context, seq persistedSequence, ifVersion *metadata.Version) (*metadata.Version, error) {
	asBytes, err := json.Marshal(seq)
	if err != nil {
		return nil, common.JsonSerdesErr{Underlying: []error{err}}
	}
	req := esapi.IndexRequest{
		Index:      string(IndexName),
		DocumentID: a.name,
		Body:       bytes.NewReader(asBytes),
	}
	if ifVersion != nil {
		req.IfSeqNo = esapi.IntPtr(int(ifVersion.SeqNum))
		req.IfPrimaryTerm = esapi.IntPtr(int(ifVersion.PrimaryTerm))
	}
	rawResp, err := req.Do(ctx, a.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	statusCode := rawResp.StatusCode
	switch {
	case 200 <= statusCode && statusCode <= 299:
		var resp common.EsWriteResponse
		if err := json.NewDecoder(rawResp.Body).Decode(&resp); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		version := resp.Version()
		return &version, nil
	case statusCode == 409:
		return nil, conflict{}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}
