package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/sealgauge/internal/ir"
	"github.com/roach88/sealgauge/internal/policy"
	"github.com/roach88/sealgauge/internal/store"
)

// OracleCallback applies a signed decryption result.
//
// Order matters: resolve, then verify, then consume and apply in one
// transaction. Verification is pure, so a forged callback is refused before
// the store is touched. Consume and the reveal mutation commit together or
// not at all.
//
// Every domain failure is a rejection: logged, audited and returned with its
// code (UNKNOWN_REQUEST, VERIFICATION_FAILED, ALREADY_CONSUMED, ...). Other
// errors (I/O) are returned unaudited and leave the request pending.
func (e *Engine) OracleCallback(ctx context.Context, id ir.RequestID, payload, proof []byte) error {
	req, err := e.broker.Resolve(ctx, id)
	if err != nil {
		return e.reject(ctx, ir.DecryptionRequest{ID: id}, payload, err)
	}

	if err := e.authorize(ctx, policy.Request{
		Action:    policy.ActionOracleCallback,
		RecordID:  req.RecordID,
		Kind:      req.Kind,
		RequestID: id,
	}); err != nil {
		return e.reject(ctx, req, payload, err)
	}

	values, err := e.verifier.Verify(req, payload, proof)
	if err != nil {
		return e.reject(ctx, req, payload, err)
	}

	at := e.now().UTC()
	err = e.update(ctx, func(tx *store.Tx, emit emitFunc) error {
		if err := e.broker.Consume(ctx, tx, id); err != nil {
			return err
		}
		return e.apply(ctx, tx, emit, req, values)
	})
	if err != nil {
		if ir.CodeOf(err) != "" {
			return e.reject(ctx, req, payload, err)
		}
		return fmt.Errorf("oracle callback %s: %w", id, err)
	}

	if e.metrics != nil {
		e.metrics.ObserveLatency(req.Kind, req.IssuedAt, at)
	}
	slog.Info("callback applied",
		"request_id", id,
		"record_id", req.RecordID,
		"kind", req.Kind,
	)
	return nil
}

// apply performs the reveal mutation a consumed request authorizes.
func (e *Engine) apply(ctx context.Context, tx *store.Tx, emit emitFunc, req ir.DecryptionRequest, values []uint32) error {
	at := e.now().UTC()
	switch req.Kind {
	case ir.RevealRawFields:
		fields, err := ir.FieldsFromValues(values)
		if err != nil {
			return ir.NewVerificationFailed(req.ID, err)
		}
		if err := tx.ApplyRawReveal(ctx, req.RecordID, fields); err != nil {
			return err
		}
		return emit(ir.NewRecordRevealed(req.RecordID, req.ID, at))

	case ir.RevealScore:
		if len(values) != 1 {
			return ir.NewVerificationFailed(req.ID, fmt.Errorf("expected 1 value, got %d", len(values)))
		}
		if err := tx.ApplyScoreReveal(ctx, req.RecordID, values[0]); err != nil {
			return err
		}
		return emit(ir.NewScoreRevealed(req.RecordID, req.ID, at))

	default:
		return fmt.Errorf("apply: unknown reveal kind %q", req.Kind)
	}
}

// reject audits a refused callback and returns cause unchanged.
//
// The audit write uses a context detached from cancellation so that a
// client hanging up cannot erase the trail.
func (e *Engine) reject(ctx context.Context, req ir.DecryptionRequest, payload []byte, cause error) error {
	code := ir.CodeOf(cause)
	slog.Warn("callback rejected",
		"event", "callback_rejected",
		"request_id", req.ID,
		"record_id", req.RecordID,
		"kind", req.Kind,
		"code", code,
		"error", cause,
	)

	auditCtx := context.WithoutCancel(ctx)
	at := e.now().UTC()
	err := e.update(auditCtx, func(tx *store.Tx, emit emitFunc) error {
		if err := tx.RecordRejection(auditCtx, store.Rejection{
			RequestID: req.ID,
			RecordID:  req.RecordID,
			Code:      code,
			Reason:    cause.Error(),
			Payload:   payload,
			At:        at,
		}); err != nil {
			return err
		}
		return emit(ir.NewCallbackRejected(req.RecordID, req.ID, code, at))
	})
	if err != nil {
		slog.Error("failed to audit rejected callback",
			"request_id", req.ID,
			"code", code,
			"error", err,
		)
	}
	return cause
}
