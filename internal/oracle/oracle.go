// Package oracle is the reference decryption oracle.
//
// The oracle owns the BGV secret key and a committee of signing keys. The core
// talks to it only through broker.Decrypter: RequestDecryption queues a job and
// returns its id at once. Later, either the Run worker or a manual Deliver
// call opens the handles, signs the cleartexts and hands the callback to a
// CallbackFunc, usually the engine's OracleCallback.
//
// Callbacks run under the oracle's own principal (DefaultPrincipal unless
// WithPrincipal says otherwise), so capability rules can name it.
//
// With no keyring the oracle is an outbox: jobs queue up for an external
// oracle that polls Pending and answers over the HTTP callback endpoint.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/sealgauge/internal/broker"
	"github.com/roach88/sealgauge/internal/cipher"
	"github.com/roach88/sealgauge/internal/ir"
	"github.com/roach88/sealgauge/internal/policy"
	"github.com/roach88/sealgauge/internal/proof"
)

// DefaultPrincipal is the principal callbacks carry unless WithPrincipal
// overrides it.
const DefaultPrincipal = "oracle"

// DefaultRetryDelay is how long Run waits after requeueing a job whose
// callback failed without a domain code.
const DefaultRetryDelay = time.Second

// ErrNoKeyring is returned by fulfilment calls on an outbox-only oracle.
var ErrNoKeyring = errors.New("oracle: no keyring configured")

// ErrUnknownJob is returned by Deliver for an id that is not queued.
var ErrUnknownJob = errors.New("oracle: no queued job with that id")

// ErrClosed is returned by RequestDecryption after Close.
var ErrClosed = errors.New("oracle: closed")

// CallbackFunc receives a signed callback.
type CallbackFunc func(ctx context.Context, id ir.RequestID, payload, proof []byte) error

// Oracle queues decryption jobs and fulfils them.
type Oracle struct {
	ids       IDGenerator
	queue     *jobQueue
	keyring   *cipher.Keyring
	committee *proof.Committee
	quorum    int
	limiter   *rate.Limiter
	principal string
	retry     time.Duration
	now       func() time.Time
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithIDGenerator overrides the UUIDv7 request id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *Oracle) { o.ids = g }
}

// WithKeyring gives the oracle the secret key it decrypts with.
func WithKeyring(kr *cipher.Keyring) Option {
	return func(o *Oracle) { o.keyring = kr }
}

// WithCommittee sets the signing keys and how many of them sign each callback.
func WithCommittee(c *proof.Committee, quorum int) Option {
	return func(o *Oracle) {
		o.committee = c
		o.quorum = quorum
	}
}

// WithRateLimit throttles the Run worker to r callbacks per second.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(o *Oracle) { o.limiter = rate.NewLimiter(r, burst) }
}

// WithPrincipal sets the principal attached to every callback context.
func WithPrincipal(p string) Option {
	return func(o *Oracle) { o.principal = p }
}

// WithRetryDelay sets the pause after a requeued delivery in Run.
func WithRetryDelay(d time.Duration) Option {
	return func(o *Oracle) { o.retry = d }
}

// WithNow overrides the wall clock used for EnqueuedAt.
func WithNow(now func() time.Time) Option {
	return func(o *Oracle) { o.now = now }
}

// New creates an oracle. Without options it mints UUIDv7 ids, runs
// unthrottled and can only queue jobs.
func New(opts ...Option) *Oracle {
	o := &Oracle{
		ids:     UUIDv7Generator{},
		queue:   newJobQueue(),
		limiter:   rate.NewLimiter(rate.Inf, 1),
		principal: DefaultPrincipal,
		retry:     DefaultRetryDelay,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RequestDecryption implements broker.Decrypter.
func (o *Oracle) RequestDecryption(ctx context.Context, job broker.Job) (ir.RequestID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := o.ids.Generate()
	if !o.queue.Enqueue(Job{ID: id, Job: job, EnqueuedAt: o.now()}) {
		return "", ErrClosed
	}
	slog.Debug("oracle job queued", "request_id", id, "kind", job.Kind, "queued", o.queue.Len())
	return id, nil
}

// Cancel implements broker.Decrypter.
func (o *Oracle) Cancel(id ir.RequestID) {
	if _, ok := o.queue.Remove(id); ok {
		slog.Debug("oracle job cancelled", "request_id", id)
	}
}

// Pending returns the queued jobs in FIFO order.
func (o *Oracle) Pending() []Job {
	return o.queue.Snapshot()
}

// Fulfil decrypts a job's handles and signs the result.
func (o *Oracle) Fulfil(job Job) (payload, sig []byte, err error) {
	if o.keyring == nil {
		return nil, nil, ErrNoKeyring
	}
	if o.committee == nil {
		return nil, nil, errors.New("oracle: no signing committee configured")
	}
	values, err := o.keyring.OpenAll(job.Handles)
	if err != nil {
		return nil, nil, fmt.Errorf("oracle: decrypt %s: %w", job.ID, err)
	}
	return o.committee.Attest(job.ID, job.Kind, job.HandlesDigest, values, o.quorum)
}

// Deliver fulfils the queued job with the given id, regardless of its queue
// position, and passes the callback to fn. Used to deliver out of order.
//
// A callback error without a domain code (I/O, cancellation) puts the job
// back at the end of the queue, since the request is still pending.
func (o *Oracle) Deliver(ctx context.Context, id ir.RequestID, fn CallbackFunc) error {
	job, ok := o.queue.Remove(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	_, err := o.deliver(ctx, job, fn)
	return err
}

// Drain makes one pass over the jobs queued when it starts, delivering them
// in FIFO order, and returns the first delivery error after attempting all
// of them. Requeued jobs wait for the next Drain.
func (o *Oracle) Drain(ctx context.Context, fn CallbackFunc) error {
	var first error
	for n := o.queue.Len(); n > 0; n-- {
		job, ok := o.queue.TryDequeue()
		if !ok {
			break
		}
		if _, err := o.deliver(ctx, job, fn); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// deliver fulfils job and calls fn under the oracle principal. It reports
// whether the job went back on the queue.
func (o *Oracle) deliver(ctx context.Context, job Job, fn CallbackFunc) (bool, error) {
	payload, sig, err := o.Fulfil(job)
	if err != nil {
		return false, err
	}
	err = fn(policy.WithPrincipal(ctx, o.principal), job.ID, payload, sig)
	if err == nil || ir.CodeOf(err) != "" {
		return false, err
	}
	return o.queue.Enqueue(job), err
}

// Run is the asynchronous worker. It dequeues jobs, waits on the rate
// limiter, fulfils them and calls fn. Blocks until ctx is cancelled or Close
// is called.
//
// A rejected callback is final: the job is dropped and the request stays
// pending until reissued or invalidated. Other errors requeue the job and
// pause for the retry delay.
func (o *Oracle) Run(ctx context.Context, fn CallbackFunc) error {
	slog.Info("oracle worker starting", "quorum", o.quorum, "principal", o.principal)

	for {
		job, ok := o.queue.TryDequeue()
		if ok {
			if err := o.limiter.Wait(ctx); err != nil {
				o.queue.Enqueue(job)
				slog.Info("oracle worker stopping", "reason", err)
				return nil
			}
			requeued, err := o.deliver(ctx, job, fn)
			switch {
			case err == nil:
			case requeued:
				slog.Warn("oracle delivery failed, job requeued",
					"request_id", job.ID,
					"kind", job.Kind,
					"retry_in", o.retry,
					"error", err,
				)
				if !o.pause(ctx) {
					slog.Info("oracle worker stopping", "reason", ctx.Err())
					return nil
				}
			default:
				slog.Error("oracle delivery failed",
					"request_id", job.ID,
					"kind", job.Kind,
					"error", err,
				)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("oracle worker stopping", "reason", ctx.Err())
			return nil
		case _, open := <-o.queue.Wait():
			if !open && o.queue.Len() == 0 {
				slog.Info("oracle worker stopping", "reason", "closed")
				return nil
			}
		}
	}
}

// pause waits for the retry delay. It returns false if ctx ends first.
func (o *Oracle) pause(ctx context.Context) bool {
	if o.retry <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(o.retry)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Close stops accepting jobs and ends Run once the queue is empty.
func (o *Oracle) Close() {
	o.queue.Close()
}
