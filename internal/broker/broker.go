// Package broker correlates decryption requests with the record and reveal
// operation their callbacks will mutate.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/sealgauge/internal/ir"
	"github.com/roach88/sealgauge/internal/store"
)

// Sequencer hands out logical timestamps.
type Sequencer interface {
	Next() int64
}

// Broker issues, resolves, consumes and invalidates decryption requests.
type Broker struct {
	store     *store.Store
	decrypter Decrypter
	seq       Sequencer
	now       func() time.Time
}

// Option configures a Broker.
type Option func(*Broker)

// WithNow overrides the wall clock used for issued_at and resolved_at.
func WithNow(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// New creates a broker.
func New(st *store.Store, d Decrypter, seq Sequencer, opts ...Option) *Broker {
	b := &Broker{
		store:     st,
		decrypter: d,
		seq:       seq,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Issue opens a decryption request for (recordID, kind) inside tx.
//
// The pending check, the hand-off to the decrypter and the insert all run in
// the caller's transaction; the partial unique index catches any race the
// check misses. If the insert fails the decrypter job is cancelled.
func (b *Broker) Issue(ctx context.Context, tx *store.Tx, recordID ir.RecordID, kind ir.RevealKind, handles [][]byte) (ir.RequestID, error) {
	if len(handles) != kind.Arity() {
		return "", fmt.Errorf("issue %s request: expected %d handles, got %d", kind, kind.Arity(), len(handles))
	}

	pending, found, err := tx.PendingRequest(ctx, recordID, kind)
	if err != nil {
		return "", fmt.Errorf("issue %s request: %w", kind, err)
	}
	if found {
		return "", ir.NewDuplicateOutstanding(recordID, kind, pending.ID)
	}

	digest := ir.HandlesDigest(handles)
	id, err := b.decrypter.RequestDecryption(ctx, Job{
		Kind:          kind,
		Handles:       handles,
		HandlesDigest: digest,
	})
	if err != nil {
		return "", fmt.Errorf("issue %s request: decrypter: %w", kind, err)
	}
	if id == "" {
		return "", fmt.Errorf("issue %s request: decrypter returned empty request id", kind)
	}

	req := ir.DecryptionRequest{
		ID:            id,
		RecordID:      recordID,
		Kind:          kind,
		Status:        ir.StatusPending,
		HandlesDigest: digest,
		Seq:           b.seq.Next(),
		IssuedAt:      b.now(),
	}
	if err := tx.InsertRequest(ctx, req); err != nil {
		b.decrypter.Cancel(id)
		return "", err
	}

	slog.Debug("decryption request issued",
		"request_id", id,
		"record_id", recordID,
		"kind", kind,
		"seq", req.Seq,
	)
	return id, nil
}

// Resolve maps a callback's request id to its request.
//
// The empty id, ids that were never issued and invalidated ids all return
// UNKNOWN_REQUEST. A consumed request is returned as is; Consume reports the
// replay.
func (b *Broker) Resolve(ctx context.Context, id ir.RequestID) (ir.DecryptionRequest, error) {
	if id == "" {
		return ir.DecryptionRequest{}, ir.NewUnknownRequest(id)
	}
	req, found, err := b.store.ReadRequest(ctx, id)
	if err != nil {
		return ir.DecryptionRequest{}, fmt.Errorf("resolve request: %w", err)
	}
	if !found || req.Status == ir.StatusInvalidated {
		return ir.DecryptionRequest{}, ir.NewUnknownRequest(id)
	}
	return req, nil
}

// Consume marks the request consumed inside tx, which must also carry the
// reveal mutation. Returns ALREADY_CONSUMED for a replay.
func (b *Broker) Consume(ctx context.Context, tx *store.Tx, id ir.RequestID) error {
	return tx.ConsumeRequest(ctx, id, b.now())
}

// Invalidate retires a pending request and cancels its decrypter job.
func (b *Broker) Invalidate(ctx context.Context, tx *store.Tx, id ir.RequestID) (ir.DecryptionRequest, error) {
	req, err := tx.InvalidateRequest(ctx, id, b.now())
	if err != nil {
		return ir.DecryptionRequest{}, err
	}
	b.decrypter.Cancel(id)
	return req, nil
}

// Stale returns pending requests issued more than maxAge ago.
func (b *Broker) Stale(ctx context.Context, maxAge time.Duration) ([]ir.DecryptionRequest, error) {
	return b.store.PendingBefore(ctx, b.now().Add(-maxAge))
}

// Cancel drops the decrypter job of a request whose issuing transaction was
// rolled back after Issue returned.
func (b *Broker) Cancel(id ir.RequestID) {
	if id == "" {
		return
	}
	b.decrypter.Cancel(id)
	slog.Debug("request job cancelled after rollback", "request_id", id)
}
