package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sealgauge/internal/cipher"
	"github.com/roach88/sealgauge/internal/ir"
	"github.com/roach88/sealgauge/internal/metrics"
	"github.com/roach88/sealgauge/internal/oracle"
	"github.com/roach88/sealgauge/internal/policy"
	"github.com/roach88/sealgauge/internal/proof"
	"github.com/roach88/sealgauge/internal/score"
	"github.com/roach88/sealgauge/internal/store"
	"github.com/roach88/sealgauge/internal/testutil"
)

type fixture struct {
	engine    *Engine
	store     *store.Store
	oracle    *oracle.Oracle
	keyring   *cipher.Keyring
	committee *proof.Committee
	clock     *testutil.Clock

	mu     sync.Mutex
	events []ir.Event
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureOn(t, setupTestStore(t), opts...)
}

func newFixtureOn(t *testing.T, s *store.Store, opts ...Option) *fixture {
	t.Helper()
	kr := testutil.Keyring(t)
	c, v := testutil.Committee(t, 3, 2)
	clock := testutil.NewClock()

	o := oracle.New(
		oracle.WithIDGenerator(oracle.NewSequentialGenerator("req")),
		oracle.WithKeyring(kr),
		oracle.WithCommittee(c, 2),
		oracle.WithNow(clock.Now),
	)
	t.Cleanup(o.Close)

	base := []Option{WithNow(clock.Now)}
	e, err := New(context.Background(), s, o, v, kr.Scheme(), append(base, opts...)...)
	require.NoError(t, err)

	f := &fixture{engine: e, store: s, oracle: o, keyring: kr, committee: c, clock: clock}
	require.NoError(t, e.Bus().SubscribeAll(func(ev ir.Event) {
		f.mu.Lock()
		f.events = append(f.events, ev)
		f.mu.Unlock()
	}))
	return f
}

func (f *fixture) submit(t *testing.T, p, temp, flow uint32) ir.RecordID {
	t.Helper()
	id, err := f.engine.SubmitValues(context.Background(), ir.Fields{Pressure: p, Temperature: temp, Flow: flow})
	require.NoError(t, err)
	return id
}

// deliver has the oracle fulfil id and hands the callback to the engine.
func (f *fixture) deliver(id ir.RequestID) error {
	return f.oracle.Deliver(context.Background(), id, f.engine.OracleCallback)
}

type signedCallback struct {
	payload []byte
	proof   []byte
}

// fulfil signs the queued job for id without delivering it.
func (f *fixture) fulfil(t *testing.T, id ir.RequestID) signedCallback {
	t.Helper()
	for _, job := range f.oracle.Pending() {
		if job.ID == id {
			payload, sig, err := f.oracle.Fulfil(job)
			require.NoError(t, err)
			return signedCallback{payload: payload, proof: sig}
		}
	}
	t.Fatalf("no queued job %s", id)
	return signedCallback{}
}

func (f *fixture) eventTypes() []ir.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ir.EventType, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Type
	}
	return out
}

func (f *fixture) record(t *testing.T, id ir.RecordID) ir.Record {
	t.Helper()
	rec, err := f.store.ReadRecord(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func assertCode(t *testing.T, err error, code ir.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, ir.CodeOf(err), "error: %v", err)
}

func TestEndToEnd_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.submit(t, 100, 80, 60)

	rawReq, err := f.engine.RequestRawReveal(ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.deliver(rawReq))

	fields, revealed, err := f.engine.ReadRecord(ctx, id)
	require.NoError(t, err)
	assert.True(t, revealed)
	assert.Equal(t, ir.Fields{Pressure: 100, Temperature: 80, Flow: 60}, fields)

	_, err = f.engine.ComputeScore(ctx, id)
	require.NoError(t, err)

	scoreReq, err := f.engine.RequestScoreReveal(ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.deliver(scoreReq))

	value, ok, err := f.engine.ReadScore(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint32(8200), value)

	insp, err := f.engine.Inspect(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ir.StageScoreRevealed, insp.Stage)
	require.Len(t, insp.Requests, 2)
	for _, req := range insp.Requests {
		assert.Equal(t, ir.StatusConsumed, req.Status)
	}

	assert.Equal(t, []ir.EventType{
		ir.EventRecordSubmitted,
		ir.EventRevealRequested,
		ir.EventRecordRevealed,
		ir.EventScoreComputed,
		ir.EventRevealRequested,
		ir.EventScoreRevealed,
	}, f.eventTypes())
}

func TestTwoRecords_ReverseOrderCallbacks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.submit(t, 1, 2, 3)
	b := f.submit(t, 400, 500, 600)

	reqA, err := f.engine.RequestRawReveal(ctx, a)
	require.NoError(t, err)
	reqB, err := f.engine.RequestRawReveal(ctx, b)
	require.NoError(t, err)

	require.NoError(t, f.deliver(reqB))
	require.NoError(t, f.deliver(reqA))

	assert.Equal(t, ir.Fields{Pressure: 1, Temperature: 2, Flow: 3}, f.record(t, a).Revealed)
	assert.Equal(t, ir.Fields{Pressure: 400, Temperature: 500, Flow: 600}, f.record(t, b).Revealed)
}

func TestDuplicateOutstandingRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, 1, 2, 3)

	first, err := f.engine.RequestRawReveal(ctx, id)
	require.NoError(t, err)

	_, err = f.engine.RequestRawReveal(ctx, id)
	assertCode(t, err, ir.ErrCodeDuplicateOutstanding)
	assert.True(t, ir.Recoverable(ir.CodeOf(err)))
	assert.Len(t, f.oracle.Pending(), 1, "a refused request leaves no oracle job")

	// Once the pending request is consumed the record is revealed, so the
	// raw slot stays closed for good.
	require.NoError(t, f.deliver(first))
	_, err = f.engine.RequestRawReveal(ctx, id)
	assertCode(t, err, ir.ErrCodeAlreadyRevealed)
}

func TestReplayedCallbackRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, 10, 20, 30)

	reqID, err := f.engine.RequestRawReveal(ctx, id)
	require.NoError(t, err)
	cb := f.fulfil(t, reqID)

	require.NoError(t, f.engine.OracleCallback(ctx, reqID, cb.payload, cb.proof))
	before := f.record(t, id)

	err = f.engine.OracleCallback(ctx, reqID, cb.payload, cb.proof)
	assertCode(t, err, ir.ErrCodeAlreadyConsumed)
	assert.Equal(t, before, f.record(t, id), "replay must not mutate the record")

	rejections, err := f.store.ListRejections(ctx)
	require.NoError(t, err)
	require.Len(t, rejections, 1)
	assert.Equal(t, ir.ErrCodeAlreadyConsumed, rejections[0].Code)
	assert.Equal(t, reqID, rejections[0].RequestID)
	assert.Equal(t, id, rejections[0].RecordID)
	assert.Equal(t, ir.EventCallbackRejected, f.eventTypes()[len(f.eventTypes())-1])
}

func TestUnknownAndSentinelRequestIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, 1, 2, 3)

	reqID, err := f.engine.RequestRawReveal(ctx, id)
	require.NoError(t, err)
	cb := f.fulfil(t, reqID)

	for _, bogus := range []ir.RequestID{"", "0", "never-issued"} {
		err := f.engine.OracleCallback(ctx, bogus, cb.payload, cb.proof)
		assertCode(t, err, ir.ErrCodeUnknownRequest)
	}

	assert.False(t, f.record(t, id).IsRevealed)
	rejections, err := f.store.ListRejections(ctx)
	require.NoError(t, err)
	assert.Len(t, rejections, 3)
	for _, r := range rejections {
		assert.Equal(t, ir.RecordID(0), r.RecordID, "unknown ids resolve to no record")
	}

	// The real request is untouched and still applies.
	require.NoError(t, f.engine.OracleCallback(ctx, reqID, cb.payload, cb.proof))
	assert.True(t, f.record(t, id).IsRevealed)
}

func TestForgedProofRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, 1, 2, 3)

	reqID, err := f.engine.RequestRawReveal(ctx, id)
	require.NoError(t, err)
	req, err := f.engine.Request(ctx, reqID)
	require.NoError(t, err)

	rogue, _ := testutil.Committee(t, 3, 2)
	payload, sig, err := rogue.Attest(reqID, ir.RevealRawFields, req.HandlesDigest, []uint32{9, 9, 9}, 2)
	require.NoError(t, err)

	err = f.engine.OracleCallback(ctx, reqID, payload, sig)
	assertCode(t, err, ir.ErrCodeVerificationFailed)
	assert.False(t, ir.Recoverable(ir.CodeOf(err)))

	assert.False(t, f.record(t, id).IsRevealed)
	pending, err := f.engine.Request(ctx, reqID)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusPending, pending.Status, "a forged callback does not consume the request")

	require.NoError(t, f.deliver(reqID))
	assert.Equal(t, ir.Fields{Pressure: 1, Temperature: 2, Flow: 3}, f.record(t, id).Revealed)
}

func TestMisdirectedCallbackRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.submit(t, 1, 2, 3)
	b := f.submit(t, 7, 8, 9)

	reqA, err := f.engine.RequestRawReveal(ctx, a)
	require.NoError(t, err)
	reqB, err := f.engine.RequestRawReveal(ctx, b)
	require.NoError(t, err)

	cbA := f.fulfil(t, reqA)
	err = f.engine.OracleCallback(ctx, reqB, cbA.payload, cbA.proof)
	assertCode(t, err, ir.ErrCodeVerificationFailed)

	assert.False(t, f.record(t, a).IsRevealed)
	assert.False(t, f.record(t, b).IsRevealed)
}

func TestInvalidatedRequest_LateCallbackAndReissue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, 4, 5, 6)

	stale, err := f.engine.RequestRawReveal(ctx, id)
	require.NoError(t, err)
	late := f.fulfil(t, stale)

	req, err := f.engine.InvalidateRequest(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusInvalidated, req.Status)
	assert.Empty(t, f.oracle.Pending(), "invalidation cancels the oracle job")

	err = f.engine.OracleCallback(ctx, stale, late.payload, late.proof)
	assertCode(t, err, ir.ErrCodeUnknownRequest)
	assert.False(t, f.record(t, id).IsRevealed)

	fresh, err := f.engine.RequestRawReveal(ctx, id)
	require.NoError(t, err)
	assert.NotEqual(t, stale, fresh)
	require.NoError(t, f.deliver(fresh))
	assert.True(t, f.record(t, id).IsRevealed)

	_, err = f.engine.InvalidateRequest(ctx, fresh)
	assertCode(t, err, ir.ErrCodeAlreadyConsumed)
}

func TestSequencingErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, 1, 2, 3)

	_, err := f.engine.ComputeScore(ctx, id)
	assertCode(t, err, ir.ErrCodeRecordNotRevealed)

	_, err = f.engine.RequestScoreReveal(ctx, id)
	assertCode(t, err, ir.ErrCodeScoreNotComputed)

	_, err = f.engine.RequestRawReveal(ctx, 999)
	assertCode(t, err, ir.ErrCodeRecordNotFound)

	_, _, err = f.engine.ReadRecord(ctx, 999)
	assertCode(t, err, ir.ErrCodeRecordNotFound)

	reqID, err := f.engine.RequestRawReveal(ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.deliver(reqID))

	_, err = f.engine.ComputeScore(ctx, id)
	require.NoError(t, err)
	_, err = f.engine.ComputeScore(ctx, id)
	assertCode(t, err, ir.ErrCodeScoreAlreadySet)

	scoreReq, err := f.engine.RequestScoreReveal(ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.deliver(scoreReq))

	_, err = f.engine.RequestScoreReveal(ctx, id)
	assertCode(t, err, ir.ErrCodeScoreAlreadyRevealed)
}

func TestRecomputeBlockedByPendingScoreRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, 1, 2, 3)

	reqID, err := f.engine.RequestRawReveal(ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.deliver(reqID))

	// A second engine on the same store with recomputation enabled.
	g := newFixtureOn(t, f.store, WithScoreOptions(score.WithRecompute(true)))
	_, err = g.engine.ComputeScore(ctx, id)
	require.NoError(t, err)
	_, err = g.engine.ComputeScore(ctx, id)
	require.NoError(t, err, "recompute allowed before any score request")

	_, err = g.engine.RequestScoreReveal(ctx, id)
	require.NoError(t, err)
	_, err = g.engine.ComputeScore(ctx, id)
	assertCode(t, err, ir.ErrCodeScoreAlreadySet)
}

func TestSubmitRejectsMalformedHandle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	good, err := f.keyring.Scheme().Encrypt(1)
	require.NoError(t, err)
	b, err := good.Bytes()
	require.NoError(t, err)

	_, err = f.engine.Submit(ctx, b, []byte("not a ciphertext"), b)
	assertCode(t, err, ir.ErrCodeInvalidArgument)
	assert.Contains(t, err.Error(), "temperature")

	n, err := f.store.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAuthorizerGatesMutations(t *testing.T) {
	authz, err := policy.NewCELAuthorizer([]policy.Rule{
		{Action: string(policy.ActionRequestRawReveal), Expr: `principal == "auditor"`},
	})
	require.NoError(t, err)
	f := newFixture(t, WithAuthorizer(authz))
	ctx := context.Background()
	id := f.submit(t, 1, 2, 3)

	_, err = f.engine.RequestRawReveal(policy.WithPrincipal(ctx, "operator"), id)
	assertCode(t, err, ir.ErrCodeUnauthorized)
	assert.Empty(t, f.oracle.Pending(), "a denied call issues nothing")

	_, err = f.engine.RequestRawReveal(policy.WithPrincipal(ctx, "auditor"), id)
	require.NoError(t, err)
}

func TestSweepStale(t *testing.T) {
	f := newFixture(t, WithRequestTimeout(10*time.Minute))
	ctx := context.Background()
	a := f.submit(t, 1, 2, 3)
	b := f.submit(t, 4, 5, 6)

	stale, err := f.engine.RequestRawReveal(ctx, a)
	require.NoError(t, err)

	f.clock.Advance(11 * time.Minute)
	fresh, err := f.engine.RequestRawReveal(ctx, b)
	require.NoError(t, err)

	n, err := f.engine.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.engine.Request(ctx, stale)
	assertCode(t, err, ir.ErrCodeUnknownRequest)
	req, err := f.engine.Request(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusPending, req.Status)

	_, err = f.engine.RequestRawReveal(ctx, a)
	require.NoError(t, err, "the swept slot can be reissued")
}

func TestSweepStale_DisabledWithoutTimeout(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, 1, 2, 3)
	_, err := f.engine.RequestRawReveal(context.Background(), id)
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	n, err := f.engine.SweepStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRequestClockSeededFromStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, 1, 2, 3)

	_, err := f.engine.RequestRawReveal(ctx, id)
	require.NoError(t, err)
	last := f.engine.Clock().Current()
	require.Equal(t, int64(1), last)

	restarted := newFixtureOn(t, f.store)
	assert.Equal(t, last, restarted.engine.Clock().Current())
}

func TestConcurrentCallbacks_SingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, 1, 2, 3)

	reqID, err := f.engine.RequestRawReveal(ctx, id)
	require.NoError(t, err)
	cb := f.fulfil(t, reqID)

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.engine.OracleCallback(ctx, reqID, cb.payload, cb.proof)
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.Equal(t, ir.ErrCodeAlreadyConsumed, ir.CodeOf(err))
	}
	assert.Equal(t, 1, wins)
}

func TestFailedOperationPublishesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, 1, 2, 3)
	before := len(f.eventTypes())

	_, err := f.engine.ComputeScore(ctx, id)
	require.Error(t, err)
	assert.Len(t, f.eventTypes(), before)

	stored, err := f.store.ListEvents(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, stored, before)
}

func TestRunWithOracleWorker(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.oracle.Run(ctx, f.engine.OracleCallback) }()

	id := f.submit(t, 100, 80, 60)
	_, err := f.engine.RequestRawReveal(ctx, id)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, revealed, err := f.engine.ReadRecord(ctx, id)
		return err == nil && revealed
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRunWithOracleWorker_PrincipalScopedRules(t *testing.T) {
	authz, err := policy.NewCELAuthorizer([]policy.Rule{
		{Action: policy.AnyAction, Expr: `principal in ["ops", "oracle"]`},
	})
	require.NoError(t, err)
	f := newFixture(t, WithAuthorizer(authz))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.oracle.Run(ctx, f.engine.OracleCallback) }()

	ops := policy.WithPrincipal(ctx, "ops")
	id, err := f.engine.SubmitValues(ops, ir.Fields{Pressure: 100, Temperature: 80, Flow: 60})
	require.NoError(t, err)
	reqID, err := f.engine.RequestRawReveal(ops, id)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, revealed, err := f.engine.ReadRecord(ctx, id)
		return err == nil && revealed
	}, 5*time.Second, 10*time.Millisecond)

	req, err := f.engine.Request(ctx, reqID)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusConsumed, req.Status)
	rejections, err := f.store.ListRejections(ctx)
	require.NoError(t, err)
	assert.Empty(t, rejections)

	cancel()
	require.NoError(t, <-done)
}

func TestMetricsObserveCommittedEvents(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	f := newFixture(t, WithMetrics(m))
	ctx := context.Background()
	id := f.submit(t, 1, 2, 3)

	reqID, err := f.engine.RequestRawReveal(ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.deliver(reqID))
	_ = f.engine.OracleCallback(ctx, "bogus", nil, nil)

	assert.Equal(t, 1.0, promtest.ToFloat64(m.Records))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Requests.WithLabelValues("raw_fields")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Callbacks.WithLabelValues("raw_fields")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Rejections.WithLabelValues("UNKNOWN_REQUEST")))
}
