package ir

import (
	"fmt"
	"time"
)

// RecordID identifies a telemetry record.
// Allocated monotonically by the store, never reused. Zero is never valid.
type RecordID int64

// RequestID identifies a decryption request.
// Minted by the decryption subsystem; opaque to the core. Empty is never valid.
type RequestID string

// RevealKind names the logical operation a decryption request resolves.
type RevealKind string

const (
	// RevealRawFields opens the three submitted telemetry ciphertexts.
	RevealRawFields RevealKind = "raw_fields"

	// RevealScore opens the derived score ciphertext.
	RevealScore RevealKind = "score"
)

// Arity returns the number of cleartext values a callback of this kind carries.
// Returns 0 for unknown kinds.
func (k RevealKind) Arity() int {
	switch k {
	case RevealRawFields:
		return 3
	case RevealScore:
		return 1
	default:
		return 0
	}
}

// Valid reports whether k is a known reveal kind.
func (k RevealKind) Valid() bool {
	return k.Arity() > 0
}

// ParseRevealKind converts a string into a RevealKind.
func ParseRevealKind(s string) (RevealKind, error) {
	k := RevealKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown reveal kind %q", s)
	}
	return k, nil
}

// RequestStatus is the lifecycle state of a decryption request.
type RequestStatus string

const (
	// StatusPending means the request was issued and awaits its callback.
	StatusPending RequestStatus = "pending"

	// StatusConsumed means a verified callback was applied. Terminal.
	StatusConsumed RequestStatus = "consumed"

	// StatusInvalidated means the request was explicitly retired before a
	// callback arrived. Terminal; late callbacks are rejected as unknown.
	StatusInvalidated RequestStatus = "invalidated"
)

// Fields holds the three telemetry values of a record.
type Fields struct {
	Pressure    uint32 `json:"pressure"`
	Temperature uint32 `json:"temperature"`
	Flow        uint32 `json:"flow"`
}

// Values returns the fields in submission order.
func (f Fields) Values() []uint32 {
	return []uint32{f.Pressure, f.Temperature, f.Flow}
}

// FieldsFromValues builds Fields from exactly three values in submission order.
func FieldsFromValues(v []uint32) (Fields, error) {
	if len(v) != 3 {
		return Fields{}, fmt.Errorf("expected 3 field values, got %d", len(v))
	}
	return Fields{Pressure: v[0], Temperature: v[1], Flow: v[2]}, nil
}

// Record is a telemetry record with its encrypted inputs and reveal state.
type Record struct {
	ID RecordID `json:"id"`

	// Encrypted inputs, immutable after creation.
	Pressure    []byte `json:"pressure"`
	Temperature []byte `json:"temperature"`
	Flow        []byte `json:"flow"`

	CreatedAt time.Time `json:"created_at"`

	Revealed   Fields `json:"revealed"`
	IsRevealed bool   `json:"is_revealed"`

	// Score is the encrypted weighted sum. Nil until computed.
	Score []byte `json:"score,omitempty"`

	// ScoreValue is the revealed score. Nil until the score callback is applied.
	ScoreValue *uint32 `json:"score_value,omitempty"`
}

// Handles returns the encrypted inputs in submission order.
func (r *Record) Handles() [][]byte {
	return [][]byte{r.Pressure, r.Temperature, r.Flow}
}

// HasScore reports whether a score ciphertext has been stored.
func (r *Record) HasScore() bool {
	return len(r.Score) > 0
}

// Stage is a position in the per-record state machine.
type Stage string

const (
	StageSubmitted      Stage = "submitted"
	StageRawRequested   Stage = "raw_requested"
	StageRawRevealed    Stage = "raw_revealed"
	StageScoreComputed  Stage = "score_computed"
	StageScoreRequested Stage = "score_requested"
	StageScoreRevealed  Stage = "score_revealed"
)

// Stage derives the state machine position from the record and the kinds
// that currently have a pending request.
func (r *Record) Stage(pending map[RevealKind]bool) Stage {
	switch {
	case r.ScoreValue != nil:
		return StageScoreRevealed
	case pending[RevealScore]:
		return StageScoreRequested
	case r.HasScore():
		return StageScoreComputed
	case r.IsRevealed:
		return StageRawRevealed
	case pending[RevealRawFields]:
		return StageRawRequested
	default:
		return StageSubmitted
	}
}

// DecryptionRequest correlates an oracle request with the record and
// operation its callback will mutate.
type DecryptionRequest struct {
	ID       RequestID     `json:"id"`
	RecordID RecordID      `json:"record_id"`
	Kind     RevealKind    `json:"kind"`
	Status   RequestStatus `json:"status"`

	// HandlesDigest commits to the exact ciphertexts being opened.
	HandlesDigest string `json:"handles_digest"`

	Seq      int64     `json:"seq"`
	IssuedAt time.Time `json:"issued_at"`
}

// Consumed reports whether a callback has already been applied.
func (r *DecryptionRequest) Consumed() bool {
	return r.Status == StatusConsumed
}
