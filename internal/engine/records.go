package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/sealgauge/internal/cipher"
	"github.com/roach88/sealgauge/internal/ir"
	"github.com/roach88/sealgauge/internal/policy"
	"github.com/roach88/sealgauge/internal/store"
)

// Submit stores a record of three ciphertext handles and returns its id.
// Each handle must import under the engine's scheme.
func (e *Engine) Submit(ctx context.Context, pressure, temperature, flow []byte) (ir.RecordID, error) {
	if err := e.authorize(ctx, policy.Request{Action: policy.ActionSubmit}); err != nil {
		return 0, err
	}
	names := []string{"pressure", "temperature", "flow"}
	for i, h := range [][]byte{pressure, temperature, flow} {
		if _, err := e.scheme.Import(h); err != nil {
			return 0, ir.NewInvalidArgument(fmt.Sprintf("%s is not a ciphertext handle", names[i]), err)
		}
	}

	at := e.now().UTC()
	var id ir.RecordID
	err := e.update(ctx, func(tx *store.Tx, emit emitFunc) error {
		var err error
		if id, err = tx.CreateRecord(ctx, pressure, temperature, flow, at); err != nil {
			return err
		}
		return emit(ir.NewRecordSubmitted(id, at))
	})
	if err != nil {
		return 0, fmt.Errorf("submit: %w", err)
	}

	slog.Info("record submitted", "record_id", id)
	return id, nil
}

// SubmitValues encrypts f under the public scheme and submits it.
func (e *Engine) SubmitValues(ctx context.Context, f ir.Fields) (ir.RecordID, error) {
	handles := make([]cipher.Handle, 0, 3)
	for _, v := range f.Values() {
		h, err := e.scheme.Encrypt(v)
		if err != nil {
			return 0, ir.NewInvalidArgument("field value out of range", err)
		}
		handles = append(handles, h)
	}
	raw, err := cipher.ExportAll(handles...)
	if err != nil {
		return 0, fmt.Errorf("submit: export handles: %w", err)
	}
	return e.Submit(ctx, raw[0], raw[1], raw[2])
}

// RequestRawReveal asks the oracle to open the record's three ciphertexts.
//
// Returns ALREADY_REVEALED for a revealed record and
// DUPLICATE_OUTSTANDING_REQUEST while an earlier raw request is pending.
func (e *Engine) RequestRawReveal(ctx context.Context, id ir.RecordID) (ir.RequestID, error) {
	return e.requestReveal(ctx, id, ir.RevealRawFields, policy.ActionRequestRawReveal,
		func(rec ir.Record) ([][]byte, error) {
			if rec.IsRevealed {
				return nil, ir.NewRecordError(ir.ErrCodeAlreadyRevealed, rec.ID, "raw fields already revealed")
			}
			return rec.Handles(), nil
		})
}

// RequestScoreReveal asks the oracle to open the record's score ciphertext.
//
// Returns SCORE_NOT_COMPUTED until ComputeScore has run and
// SCORE_ALREADY_REVEALED once the score is known.
func (e *Engine) RequestScoreReveal(ctx context.Context, id ir.RecordID) (ir.RequestID, error) {
	return e.requestReveal(ctx, id, ir.RevealScore, policy.ActionRequestScoreReveal,
		func(rec ir.Record) ([][]byte, error) {
			switch {
			case rec.ScoreValue != nil:
				return nil, ir.NewRecordError(ir.ErrCodeScoreAlreadyRevealed, rec.ID, "score already revealed")
			case !rec.HasScore():
				return nil, ir.NewRecordError(ir.ErrCodeScoreNotComputed, rec.ID, "score has not been computed")
			}
			return [][]byte{rec.Score}, nil
		})
}

func (e *Engine) requestReveal(
	ctx context.Context,
	id ir.RecordID,
	kind ir.RevealKind,
	action policy.Action,
	handles func(ir.Record) ([][]byte, error),
) (ir.RequestID, error) {
	if err := e.authorize(ctx, policy.Request{Action: action, RecordID: id, Kind: kind}); err != nil {
		return "", err
	}

	var reqID ir.RequestID
	err := e.update(ctx, func(tx *store.Tx, emit emitFunc) error {
		rec, err := tx.ReadRecord(ctx, id)
		if err != nil {
			return err
		}
		hs, err := handles(rec)
		if err != nil {
			return err
		}
		if reqID, err = e.broker.Issue(ctx, tx, id, kind, hs); err != nil {
			return err
		}
		return emit(ir.NewRevealRequested(id, reqID, kind, e.now().UTC()))
	})
	if err != nil {
		// Issue succeeded but the transaction did not commit.
		e.broker.Cancel(reqID)
		return "", err
	}

	slog.Info("reveal requested", "record_id", id, "request_id", reqID, "kind", kind)
	return reqID, nil
}

// ComputeScore derives the encrypted weighted score of a revealed record and
// stores it. The cleartext score never exists until its own reveal.
func (e *Engine) ComputeScore(ctx context.Context, id ir.RecordID) (cipher.Handle, error) {
	if err := e.authorize(ctx, policy.Request{Action: policy.ActionComputeScore, RecordID: id}); err != nil {
		return nil, err
	}

	var h cipher.Handle
	err := e.update(ctx, func(tx *store.Tx, emit emitFunc) error {
		var err error
		if h, err = e.scorer.ComputeScore(ctx, tx, id); err != nil {
			return err
		}
		return emit(ir.NewScoreComputed(id, e.now().UTC()))
	})
	if err != nil {
		return nil, err
	}

	slog.Info("score computed", "record_id", id)
	return h, nil
}
