package leader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/feedsync/internal/domain/leader"
	"github.com/lloydmeta/feedsync/internal/domain/metadata"
	"github.com/lloydmeta/feedsync/internal/domain/tracing"
	"github.com/lloydmeta/feedsync/internal/infra/elasticsearch/common"
)

var (
	IndexName = common.IndexName(".feedsync_leader_locks")
)

type processId string

type state uint32

func (s state) String() string {
	return statesToString[s]
}

const (
	CHECKER state = iota
	PRETENDER
	USURPER
	LEADER
	STOPPED
)

var statesToString = map[state]string{
	CHECKER:   "CHECKER",
	PRETENDER: "PRETENDER",
	USURPER:   "USURPER",
	LEADER:    "LEADER",
	STOPPED:   "STOPPED",
}

/*
 * EsLock decides which feedsync process runs partition passes. Every process polls a single
 * document in the leader index; the one named in it, with a recent enough timestamp, is the
 * leader and keeps refreshing it.
 *
 * Transitions are guarded by ES optimistic concurrency (seq no + primary term), so two
 * processes racing for the lock can't both win.
 *
 * Limitations:
 *  - Not real time (polling..)
 *  - Depends on not having too much drift in machine clock between all servers (time diff).
 */
type EsLock struct {
	docId common.DocumentID

	processId processId
	client    *elasticsearch.Client
	getUTC    func() time.Time // for mocking
	state     state            // set and get via atomic ops

	loopInterval             time.Duration
	leaderReportLagTolerance time.Duration

	stashedDoc *leaderDoc // nil unless we hold or are about to usurp the lock

	tracer    tracing.Tracer
	stateLock sync.Mutex // held while a transition is being worked out
}

// Ignore: this is for tests
func (e *EsLock) SetUTCGetter(getter func() time.Time) {
	e.getUTC = getter
}

func buildProcessId(id common.DocumentID) processId {
	uniqueId := strings.ReplaceAll(uuid.New().String(), "-", "")
	return processId(fmt.Sprintf("%s-%s", string(id), uniqueId))
}

// NewLeaderLock returns a new leader.Lock
//
// Generates a random process id for the returned instance.
func NewLeaderLock(docId common.DocumentID, client *elasticsearch.Client, loopInterval time.Duration, leaderReportLagTolerance time.Duration, tracer tracing.Tracer) *EsLock {
	return &EsLock{
		docId:     docId,
		processId: buildProcessId(docId),
		client:    client,
		getUTC: func() time.Time {
			return time.Now().UTC()
		},
		state:                    CHECKER,
		loopInterval:             loopInterval,
		leaderReportLagTolerance: leaderReportLagTolerance,
		tracer:                   tracer,
	}
}

var _ leader.Lock = &EsLock{}

func (e *EsLock) IsLeader() bool {
	return e.getState() == LEADER
}

func (e *EsLock) getState() state {
	return state(atomic.LoadUint32((*uint32)(&e.state)))
}

func (e *EsLock) setState(newState state) {
	if oldState := state(atomic.SwapUint32((*uint32)(&e.state), uint32(newState))); oldState != newState {
		log.Info().
			Str("old_state", oldState.String()).
			Str("new_state", newState.String()).
			Str("process_id", string(e.processId)).
			Msg("Setting State")
	}
}

func (e *EsLock) Start() {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	e.setState(CHECKER)
	go e.loop()
}

func (e *EsLock) Stop() {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	e.setState(STOPPED)
}

func (e *EsLock) loop() {
	for {
		loopStartTime := e.getUTC()
		again, stopped := e.transition()
		if stopped {
			return
		}
		if !again {
			if waitTime := e.loopInterval - e.getUTC().Sub(loopStartTime); waitTime > 0 {
				time.Sleep(waitTime)
			}
		}
	}
}

// transition moves the FSM one step, returning whether the next step should run right away
func (e *EsLock) transition() (again bool, stopped bool) {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	tx := e.tracer.BackgroundTx(fmt.Sprintf("leader-lock-%s", strings.ToLower(e.getState().String())))
	defer tx.End()
	ctx := tx.Context()

	switch e.getState() {
	case STOPPED:
		return false, true
	case CHECKER:
		return e.check(ctx, tx), false
	case PRETENDER:
		doc, err := e.submitNameForLeader(ctx)
		if err != nil {
			e.giveUp(tx, err)
			return false, false
		}
		e.become(LEADER, doc)
		return false, false
	case LEADER, USURPER:
		if e.stashedDoc == nil {
			log.Error().Str("state", e.getState().String()).Msg("No stashed leader doc, going back to checking")
			e.become(CHECKER, nil)
			return false, false
		}
		wasUsurper := e.getState() == USURPER
		doc, err := e.jostleForLeader(ctx, e.stashedDoc.Version)
		if err != nil {
			if _, notFound := err.(NotFound); notFound {
				e.become(PRETENDER, nil)
				return true, false
			}
			e.giveUp(tx, err)
			return false, false
		}
		e.become(LEADER, doc)
		return wasUsurper, false
	default:
		e.become(CHECKER, nil)
		return false, false
	}
}

func (e *EsLock) check(ctx context.Context, tx tracing.Transaction) bool {
	doc, err := e.getLeaderDoc(ctx)
	if err != nil {
		if _, notFound := err.(NotFound); notFound {
			e.become(PRETENDER, nil)
			return true
		}
		e.giveUp(tx, err)
		return false
	}
	lag := e.getUTC().Sub(doc.Source.At)
	switch {
	case lag > e.leaderReportLagTolerance:
		if log.Debug().Enabled() {
			log.Debug().
				Str("leader", string(doc.Source.LeaderId)).
				Dur("lag", lag).
				Dur("tolerance", e.leaderReportLagTolerance).
				Msg("Leader has not reported in recently enough")
		}
		e.become(USURPER, doc)
		return true
	case doc.Source.LeaderId == e.processId:
		e.become(LEADER, doc)
		return true
	default:
		e.become(CHECKER, nil)
		return false
	}
}

func (e *EsLock) become(s state, doc *leaderDoc) {
	e.stashedDoc = doc
	e.setState(s)
}

// giveUp goes back to checking. Conflicts mean someone else got there first, anything else
// is unexpected but not fatal.
func (e *EsLock) giveUp(tx tracing.Transaction, err error) {
	if _, conflict := err.(Conflict); !conflict {
		tx.Fail(err)
		log.Error().Err(err).Str("state", e.getState().String()).Msg("Unexpected error, ignoring for now")
	}
	e.become(CHECKER, nil)
}

func (e *EsLock) getLeaderDoc(ctx context.Context) (*leaderDoc, error) {
	getReq := esapi.GetRequest{
		Index:      string(IndexName),
		DocumentID: string(e.docId),
	}
	rawResp, err := getReq.Do(ctx, e.client)
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
		var data leaderData
		if err := json.Unmarshal(resp.Source, &data); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		return &leaderDoc{Version: resp.Version(), Source: data}, nil
	case 404:
		return nil, NotFound{}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

func (e *EsLock) submitNameForLeader(ctx context.Context) (*leaderDoc, error) {
	data := leaderData{LeaderId: e.processId, At: e.getUTC()}
	dataAsBytes, err := json.Marshal(data)
	if err != nil {
		return nil, common.JsonSerdesErr{Underlying: []error{err}}
	}
	createReq := esapi.CreateRequest{
		Index:      string(IndexName),
		DocumentID: string(e.docId),
		Body:       bytes.NewReader(dataAsBytes),
	}
	rawResp, err := createReq.Do(ctx, e.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	return e.handleWriteResponse(rawResp, data)
}

// jostleForLeader overwrites the lock doc, as long as nobody else wrote to it since we read it
func (e *EsLock) jostleForLeader(ctx context.Context, version metadata.Version) (*leaderDoc, error) {
	data := leaderData{LeaderId: e.processId, At: e.getUTC()}
	dataAsBytes, err := json.Marshal(data)
	if err != nil {
		return nil, common.JsonSerdesErr{Underlying: []error{err}}
	}
	// Index rather than update, so nothing from an old leader sticks around
	indexReq := esapi.IndexRequest{
		Index:         string(IndexName),
		DocumentID:    string(e.docId),
		Body:          bytes.NewReader(dataAsBytes),
		IfPrimaryTerm: esapi.IntPtr(int(version.PrimaryTerm)),
		IfSeqNo:       esapi.IntPtr(int(version.SeqNum)),
	}
	rawResp, err := indexReq.Do(ctx, e.client)
	if err != nil {
		return nil, common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	return e.handleWriteResponse(rawResp, data)
}

func (e *EsLock) handleWriteResponse(rawResp *esapi.Response, data leaderData) (*leaderDoc, error) {
	statusCode := rawResp.StatusCode
	switch {
	case 200 <= statusCode && statusCode <= 299:
		var resp common.EsWriteResponse
		if err := json.NewDecoder(rawResp.Body).Decode(&resp); err != nil {
			return nil, common.JsonSerdesErr{Underlying: []error{err}}
		}
		return &leaderDoc{Version: resp.Version(), Source: data}, nil
	case statusCode == 404:
		return nil, NotFound{}
	case statusCode == 409:
		return nil, Conflict{}
	default:
		return nil, common.UnexpectedEsStatusError(rawResp)
	}
}

type NotFound struct{}

func (n NotFound) Error() string {
	return "Leader lock doc not found"
}

type Conflict struct{}

func (n Conflict) Error() string {
	return "Leader lock doc was modified concurrently"
}

type leaderData struct {
	LeaderId processId `json:"leader_id"`
	At       time.Time `json:"at"`
}

type leaderDoc struct {
	Version metadata.Version
	Source  leaderData
}
