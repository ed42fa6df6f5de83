package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/sealgauge/internal/ir"
	"github.com/roach88/sealgauge/internal/policy"
	"github.com/roach88/sealgauge/internal/store"
)

// InvalidateRequest retires a pending request so that a new one of the same
// kind can be issued for its record. A callback that arrives later for the
// retired id is rejected as UNKNOWN_REQUEST.
func (e *Engine) InvalidateRequest(ctx context.Context, id ir.RequestID) (ir.DecryptionRequest, error) {
	if err := e.authorize(ctx, policy.Request{Action: policy.ActionInvalidateRequest, RequestID: id}); err != nil {
		return ir.DecryptionRequest{}, err
	}
	return e.invalidate(ctx, id, "operator")
}

func (e *Engine) invalidate(ctx context.Context, id ir.RequestID, reason string) (ir.DecryptionRequest, error) {
	var req ir.DecryptionRequest
	err := e.update(ctx, func(tx *store.Tx, emit emitFunc) error {
		var err error
		if req, err = e.broker.Invalidate(ctx, tx, id); err != nil {
			return err
		}
		return emit(ir.NewRequestInvalidated(req.RecordID, id, req.Kind, e.now().UTC()))
	})
	if err != nil {
		return ir.DecryptionRequest{}, err
	}

	slog.Info("request invalidated",
		"request_id", id,
		"record_id", req.RecordID,
		"kind", req.Kind,
		"reason", reason,
	)
	return req, nil
}

// SweepStale invalidates every request that has been pending longer than
// the configured timeout and returns how many it retired. A request whose
// callback lands during the sweep is skipped.
func (e *Engine) SweepStale(ctx context.Context) (int, error) {
	if e.requestTimeout <= 0 {
		return 0, nil
	}
	return e.sweepOlderThan(ctx, e.requestTimeout)
}

func (e *Engine) sweepOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	stale, err := e.broker.Stale(ctx, maxAge)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, req := range stale {
		if _, err := e.invalidate(ctx, req.ID, "timeout"); err != nil {
			if ir.Is(err, ir.ErrCodeAlreadyConsumed) || ir.Is(err, ir.ErrCodeUnknownRequest) {
				continue
			}
			return n, err
		}
		n++
	}
	if n > 0 {
		slog.Info("stale requests invalidated", "count", n, "max_age", maxAge)
	}
	return n, nil
}

// Run sweeps stale requests every sweep interval until ctx is cancelled.
// Without a request timeout it only waits for cancellation.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "request_timeout", e.requestTimeout)

	if e.requestTimeout <= 0 {
		<-ctx.Done()
		slog.Info("engine stopping: context cancelled")
		return nil
	}

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			return nil
		case <-ticker.C:
			if _, err := e.SweepStale(ctx); err != nil && ctx.Err() == nil {
				// Log and continue; the next tick retries.
				slog.Error("stale sweep failed", "error", err)
			}
		}
	}
}
