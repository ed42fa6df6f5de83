package engine

import (
	"context"
	"fmt"

	"github.com/roach88/sealgauge/internal/ir"
)

// ReadRecord returns the revealed fields of a record and whether they have
// been revealed. Fields are zero until the raw reveal callback is applied.
func (e *Engine) ReadRecord(ctx context.Context, id ir.RecordID) (ir.Fields, bool, error) {
	rec, err := e.store.ReadRecord(ctx, id)
	if err != nil {
		return ir.Fields{}, false, err
	}
	return rec.Revealed, rec.IsRevealed, nil
}

// ReadScore returns the revealed score of a record and whether it has been
// revealed.
func (e *Engine) ReadScore(ctx context.Context, id ir.RecordID) (uint32, bool, error) {
	rec, err := e.store.ReadRecord(ctx, id)
	if err != nil {
		return 0, false, err
	}
	if rec.ScoreValue == nil {
		return 0, false, nil
	}
	return *rec.ScoreValue, true, nil
}

// Inspection is everything known about one record.
type Inspection struct {
	Record   ir.Record              `json:"record"`
	Stage    ir.Stage               `json:"stage"`
	Requests []ir.DecryptionRequest `json:"requests"`
	Events   []ir.Event             `json:"events"`
}

// Inspect returns a record with its stage, requests and audit events.
func (e *Engine) Inspect(ctx context.Context, id ir.RecordID) (Inspection, error) {
	rec, err := e.store.ReadRecord(ctx, id)
	if err != nil {
		return Inspection{}, err
	}
	pending, err := e.store.PendingKinds(ctx, id)
	if err != nil {
		return Inspection{}, fmt.Errorf("inspect record %d: %w", id, err)
	}
	reqs, err := e.store.RequestsForRecord(ctx, id)
	if err != nil {
		return Inspection{}, fmt.Errorf("inspect record %d: %w", id, err)
	}
	evs, err := e.store.EventsForRecord(ctx, id)
	if err != nil {
		return Inspection{}, fmt.Errorf("inspect record %d: %w", id, err)
	}
	return Inspection{
		Record:   rec,
		Stage:    rec.Stage(pending),
		Requests: reqs,
		Events:   evs,
	}, nil
}

// Request resolves a request id the way a callback would.
func (e *Engine) Request(ctx context.Context, id ir.RequestID) (ir.DecryptionRequest, error) {
	return e.broker.Resolve(ctx, id)
}
