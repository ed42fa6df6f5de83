package ir

import "time"

// EventType names an outbound domain event.
type EventType string

const (
	EventRecordSubmitted    EventType = "RecordSubmitted"
	EventRevealRequested    EventType = "RevealRequested"
	EventRecordRevealed     EventType = "RecordRevealed"
	EventScoreComputed      EventType = "ScoreComputed"
	EventScoreRevealed      EventType = "ScoreRevealed"
	EventRequestInvalidated EventType = "RequestInvalidated"
	EventCallbackRejected   EventType = "CallbackRejected"
)

// Event is one entry of the append-only audit log.
//
// Seq is assigned by the store when the event is appended and is the only
// ordering key. At is informational.
type Event struct {
	Seq       int64          `json:"seq"`
	Type      EventType      `json:"type"`
	RecordID  RecordID       `json:"record_id,omitempty"`
	RequestID RequestID      `json:"request_id,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
	At        time.Time      `json:"at"`
}

// NewRecordSubmitted builds the event emitted after Submit.
func NewRecordSubmitted(id RecordID, at time.Time) Event {
	return Event{
		Type:     EventRecordSubmitted,
		RecordID: id,
		Attrs:    map[string]any{"timestamp": at.Unix()},
		At:       at,
	}
}

// NewRevealRequested builds the event emitted after a request is issued.
func NewRevealRequested(id RecordID, req RequestID, kind RevealKind, at time.Time) Event {
	return Event{
		Type:      EventRevealRequested,
		RecordID:  id,
		RequestID: req,
		Attrs:     map[string]any{"kind": string(kind)},
		At:        at,
	}
}

// NewRecordRevealed builds the event emitted when raw fields are revealed.
func NewRecordRevealed(id RecordID, req RequestID, at time.Time) Event {
	return Event{Type: EventRecordRevealed, RecordID: id, RequestID: req, At: at}
}

// NewScoreComputed builds the event emitted when a score ciphertext is stored.
func NewScoreComputed(id RecordID, at time.Time) Event {
	return Event{Type: EventScoreComputed, RecordID: id, At: at}
}

// NewScoreRevealed builds the event emitted when the score is revealed.
func NewScoreRevealed(id RecordID, req RequestID, at time.Time) Event {
	return Event{Type: EventScoreRevealed, RecordID: id, RequestID: req, At: at}
}

// NewRequestInvalidated builds the event emitted when a pending request is retired.
func NewRequestInvalidated(id RecordID, req RequestID, kind RevealKind, at time.Time) Event {
	return Event{
		Type:      EventRequestInvalidated,
		RecordID:  id,
		RequestID: req,
		Attrs:     map[string]any{"kind": string(kind)},
		At:        at,
	}
}

// NewCallbackRejected builds the audit event for a refused callback.
// recordID is zero when the request id could not be resolved.
func NewCallbackRejected(recordID RecordID, req RequestID, code ErrorCode, at time.Time) Event {
	return Event{
		Type:      EventCallbackRejected,
		RecordID:  recordID,
		RequestID: req,
		Attrs:     map[string]any{"code": string(code)},
		At:        at,
	}
}
