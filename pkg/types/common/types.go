// Package common defines the cross-layer value types exchanged between the
// agent runtime, the executors, and the drivers.  Keeping them here avoids
// import cycles between the application and infrastructure layers.
package common

import "encoding/json"

// Row is one result row of an enrichment query: column name (lowercased by
// the driver) to value.
type Row map[string]any

// RowsEqual reports deep equality of two result sets, used to suppress
// duplicate emissions when a re-executed query returns an unchanged result.
func RowsEqual(a, b []Row) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !valueEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// ValuesEqual reports deep equality of two single-row payloads.
func ValuesEqual(a, b map[string]any) bool {
	return valueEqual(a, b)
}

// valueEqual compares via JSON round-trip semantics: the payloads travel as
// JSON, so two values that serialise identically are the same message.
func valueEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}

// Query is one enrichment request: a template with named :param placeholders
// and the values bound to them.
type Query struct {
	Template string
	Params   map[string]any
}

// Message is one outgoing bus message.  Payload is either a map[string]any
// (single-row flow) or a []Row (query flow).
type Message struct {
	Topic     string
	IsError   bool
	IsWarning bool
	Payload   any
}

// envelope is the wire form shared by all producer drivers.
type envelope struct {
	IsError   bool `json:"is_error"`
	IsWarning bool `json:"is_warning"`
	Message   any  `json:"message"`
}

// MarshalPayload serialises the message into the pipeline's wire envelope.
func (m Message) MarshalPayload() ([]byte, error) {
	return json.Marshal(envelope{
		IsError:   m.IsError,
		IsWarning: m.IsWarning,
		Message:   m.Payload,
	})
}
