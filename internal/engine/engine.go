package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/sealgauge/internal/broker"
	"github.com/roach88/sealgauge/internal/cipher"
	"github.com/roach88/sealgauge/internal/events"
	"github.com/roach88/sealgauge/internal/ir"
	"github.com/roach88/sealgauge/internal/metrics"
	"github.com/roach88/sealgauge/internal/policy"
	"github.com/roach88/sealgauge/internal/proof"
	"github.com/roach88/sealgauge/internal/score"
	"github.com/roach88/sealgauge/internal/store"
)

// DefaultSweepInterval is how often Run looks for stale requests when a
// request timeout is configured but no interval is.
const DefaultSweepInterval = time.Minute

// Engine wires the record store, request broker, proof verifier and score
// engine behind the inbound operations.
//
// Thread-safety model:
//   - every exported method is safe from any goroutine
//   - writes serialize on the store's single connection
//   - events are published after commit, in commit order per caller
type Engine struct {
	store    *store.Store
	broker   *broker.Broker
	verifier proof.Verifier
	scheme   *cipher.Scheme
	scorer   *score.Engine
	authz    policy.Authorizer
	bus      *events.Bus
	metrics  *metrics.Metrics
	clock    *Clock
	now      func() time.Time

	scoreOpts      []score.Option
	requestTimeout time.Duration
	sweepInterval  time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithAuthorizer installs the capability check. Default: policy.AllowAll.
func WithAuthorizer(a policy.Authorizer) Option {
	return func(e *Engine) { e.authz = a }
}

// WithBus publishes events on b instead of a private bus.
func WithBus(b *events.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithMetrics feeds committed events and callback latency into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithNow overrides the wall clock for record and request timestamps.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithScoreOptions configures the score engine (weights, recompute policy).
func WithScoreOptions(opts ...score.Option) Option {
	return func(e *Engine) { e.scoreOpts = append(e.scoreOpts, opts...) }
}

// WithRequestTimeout makes SweepStale invalidate requests pending longer
// than d. Zero disables expiry.
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Engine) { e.requestTimeout = d }
}

// WithSweepInterval sets how often Run calls SweepStale.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Engine) { e.sweepInterval = d }
}

// New creates an engine over st. Decryption jobs go to dec; callbacks are
// checked with verifier; scores are encrypted under scheme.
//
// The request clock is seeded from the highest request seq already stored.
func New(
	ctx context.Context,
	st *store.Store,
	dec broker.Decrypter,
	verifier proof.Verifier,
	scheme *cipher.Scheme,
	opts ...Option,
) (*Engine, error) {
	e := &Engine{
		store:    st,
		verifier: verifier,
		scheme:   scheme,
		authz:    policy.AllowAll{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bus == nil {
		e.bus = events.New()
	}
	if e.metrics != nil {
		if err := e.bus.SubscribeAll(e.metrics.Observe); err != nil {
			return nil, err
		}
	}
	if e.sweepInterval <= 0 {
		e.sweepInterval = DefaultSweepInterval
	}

	last, err := st.MaxRequestSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed request clock: %w", err)
	}
	e.clock = NewClockAt(last)
	e.broker = broker.New(st, dec, e.clock, broker.WithNow(e.now))
	e.scorer = score.New(scheme, e.scoreOpts...)

	slog.Debug("engine ready", "request_seq", last, "weights", e.scorer.Weights())
	return e, nil
}

// Store returns the underlying store.
func (e *Engine) Store() *store.Store { return e.store }

// Scheme returns the public encryption scheme.
func (e *Engine) Scheme() *cipher.Scheme { return e.scheme }

// Bus returns the event bus.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Clock returns the request clock.
func (e *Engine) Clock() *Clock { return e.clock }

// Weights returns the score weights in use.
func (e *Engine) Weights() score.Weights { return e.scorer.Weights() }

// emitFunc appends an event inside the current transaction.
type emitFunc func(ev ir.Event) error

// update runs fn in one transaction and publishes the events it emitted
// after commit. Nothing is published if the transaction rolls back.
func (e *Engine) update(ctx context.Context, fn func(tx *store.Tx, emit emitFunc) error) error {
	var committed []ir.Event
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		committed = committed[:0]
		emit := func(ev ir.Event) error {
			stored, err := tx.AppendEvent(ctx, ev)
			if err != nil {
				return err
			}
			committed = append(committed, stored)
			return nil
		}
		return fn(tx, emit)
	})
	if err != nil {
		return err
	}
	e.bus.PublishAll(committed)
	return nil
}

func (e *Engine) authorize(ctx context.Context, req policy.Request) error {
	if req.Principal == "" {
		req.Principal = policy.PrincipalFrom(ctx)
	}
	if err := e.authz.Authorize(ctx, req); err != nil {
		slog.Warn("operation denied",
			"action", req.Action,
			"principal", req.Principal,
			"record_id", req.RecordID,
			"request_id", req.RequestID,
			"error", err,
		)
		return err
	}
	return nil
}
