// Package pipeline defines the working record — the stateful entity moving
// through an agent's extract → transform → enrich → publish flow — and its
// status machine.
package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/LogPipe-Agents/internal/config"
	"github.com/turtacn/LogPipe-Agents/pkg/types/common"
)

// Status is the lifecycle state of a working record.
type Status int

const (
	// StatusReady means the record is waiting: for an enrichment query if it
	// has a database binding, otherwise for a fresh transform result.
	StatusReady Status = iota + 1

	// StatusQueryRunning means an enrichment query is in flight.  No second
	// query may be submitted until the completion callback fires.
	StatusQueryRunning

	// StatusUpdated means the record carries a result that has not been
	// published yet; the next dispatch pass will send it.
	StatusUpdated

	// StatusExpired means the record's TTL has passed; the next eviction pass
	// removes it from the working set.
	StatusExpired
)

// String returns the human-readable representation.
func (s Status) String() string {
	switch s {
	case StatusReady:
		return "READY"
	case StatusQueryRunning:
		return "QUERY_RUNNING"
	case StatusUpdated:
		return "UPDATED"
	case StatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// WorkingRecord is one record in an agent's working set.  Static fields are
// copied from the data connection at creation and never change; dynamic fields
// are guarded by a record-level lock because the database completion callback
// runs on an executor goroutine while the agent goroutine reads the status.
type WorkingRecord struct {
	// Static identity.
	ID           string
	Name         string
	ProducerType string
	ProducerName string
	Topic        string
	DatabaseType string
	DatabaseName string
	Query        string
	IsError      bool
	IsWarning    bool
	TTLMinutes   int

	// HasSource records whether the connection declares a regex source.
	// Seed records of sourced connections wait for a match-derived bind set
	// before they are queryable.
	HasSource bool

	mu          sync.Mutex
	status      Status
	expiresAt   time.Time // zero means the record never auto-expires
	match       map[string]string
	querySource map[string]any
	resultDict  map[string]any
	resultList  []common.Row
}

// NewWorkingRecord builds a READY record from its producer connection and data
// connection configuration.  When the connection declares a TTL the expiry
// deadline starts at creation.
func NewWorkingRecord(pc *config.ProducerConnectionConfig, dc *config.DataConnectionConfig) *WorkingRecord {
	r := &WorkingRecord{
		ID:           uuid.NewString(),
		Name:         dc.Name,
		ProducerType: pc.Type,
		ProducerName: pc.Name,
		Topic:        pc.Topic,
		IsError:      dc.IsError,
		IsWarning:    dc.IsWarning,
		TTLMinutes:   dc.TTLMinutes,
		HasSource:    dc.SourceRef != nil,
		status:       StatusReady,
	}
	if dc.DestinationRef != nil {
		r.DatabaseType = dc.DestinationRef.DatabaseType
		r.DatabaseName = dc.DestinationRef.DatabaseName
		r.Query = dc.DestinationRef.Query
	}
	if dc.TTLMinutes > 0 {
		r.expiresAt = time.Now().Add(time.Duration(dc.TTLMinutes) * time.Minute)
	}
	return r
}

// HasQuery reports whether the record carries an enrichment binding.
func (r *WorkingRecord) HasQuery() bool { return r.Query != "" }

// Status returns the current lifecycle state.
func (r *WorkingRecord) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// SetReady returns the record to the READY state.
func (r *WorkingRecord) SetReady() {
	r.mu.Lock()
	r.status = StatusReady
	r.mu.Unlock()
}

// SetMatch stores the named capture groups of the line that spawned the record.
func (r *WorkingRecord) SetMatch(groups map[string]string) {
	r.mu.Lock()
	r.match = groups
	r.mu.Unlock()
}

// Match returns the stored capture groups.
func (r *WorkingRecord) Match() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.match
}

// SetQuerySource stores the transform result as bind parameters for the next
// enrichment query and returns the record to READY.
func (r *WorkingRecord) SetQuerySource(params map[string]any) {
	r.mu.Lock()
	r.querySource = params
	r.status = StatusReady
	r.mu.Unlock()
}

// QuerySource returns the stored bind parameters.
func (r *WorkingRecord) QuerySource() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.querySource
}

// SetResult stores a single-row transform result and marks the record UPDATED.
func (r *WorkingRecord) SetResult(result map[string]any) {
	r.mu.Lock()
	r.resultDict = result
	r.status = StatusUpdated
	r.mu.Unlock()
}

// ResultDict returns the single-row result, nil for query flows.
func (r *WorkingRecord) ResultDict() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resultDict
}

// ResultList returns the multi-row query result.
func (r *WorkingRecord) ResultList() []common.Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resultList
}

// TryBeginQuery transitions READY → QUERY_RUNNING.  It returns false when the
// record is in any other state, which is what guarantees at most one query in
// flight per record.
func (r *WorkingRecord) TryBeginQuery() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusReady {
		return false
	}
	r.status = StatusQueryRunning
	return true
}

// CompleteQuery is the enrichment completion callback.  It runs on an executor
// goroutine.
//
// On success the returned rows are compared with the stored result: a changed
// result is stored and the record becomes UPDATED; an identical result returns
// the record to READY so no duplicate message is emitted.  On failure the
// record is expired immediately so the next eviction pass prunes it.
func (r *WorkingRecord) CompleteQuery(rows []common.Row, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.expiresAt = time.Now()
		r.status = StatusExpired
		return
	}
	if common.RowsEqual(r.resultList, rows) {
		r.status = StatusReady
		return
	}
	r.resultList = rows
	r.status = StatusUpdated
}

// CheckExpired transitions the record to EXPIRED when its deadline has passed.
func (r *WorkingRecord) CheckExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.expiresAt.IsZero() {
		return
	}
	if time.Now().After(r.expiresAt) {
		r.status = StatusExpired
	}
}

// UpdateExpiry moves the deadline to now + minutes.
func (r *WorkingRecord) UpdateExpiry(minutes int) {
	r.mu.Lock()
	r.expiresAt = time.Now().Add(time.Duration(minutes) * time.Minute)
	r.mu.Unlock()
}

// ForceExpire expires the record immediately; used when a dispatch attempt
// fails terminally.
func (r *WorkingRecord) ForceExpire() {
	r.mu.Lock()
	r.expiresAt = time.Now()
	r.status = StatusExpired
	r.mu.Unlock()
}

// Expired reports whether the record is in the EXPIRED state.
func (r *WorkingRecord) Expired() bool {
	return r.Status() == StatusExpired
}

// BuildMessage assembles the outgoing bus message for the record: the payload
// is the multi-row query result for query flows, the single-row transform
// result otherwise.
func (r *WorkingRecord) BuildMessage() common.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	var payload any
	if r.resultList != nil {
		payload = r.resultList
	} else {
		payload = r.resultDict
	}
	return common.Message{
		Topic:     r.Topic,
		IsError:   r.IsError,
		IsWarning: r.IsWarning,
		Payload:   payload,
	}
}
