package harness

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/sealgauge/internal/cipher"
	"github.com/roach88/sealgauge/internal/engine"
	"github.com/roach88/sealgauge/internal/ir"
	"github.com/roach88/sealgauge/internal/oracle"
	"github.com/roach88/sealgauge/internal/policy"
	"github.com/roach88/sealgauge/internal/proof"
	"github.com/roach88/sealgauge/internal/score"
	"github.com/roach88/sealgauge/internal/store"
	"github.com/roach88/sealgauge/internal/testutil"
)

const (
	committeeSize = 3
	quorum        = 2
)

// Harness executes one scenario against a private engine.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	oracle *oracle.Oracle
	rogue  *proof.Committee
	clock  *testutil.Clock

	records  map[string]ir.RecordID
	requests map[string]ir.RequestID
	signed   map[ir.RequestID]signedCallback
}

type signedCallback struct {
	payload []byte
	proof   []byte
}

type runConfig struct {
	keyring *cipher.Keyring
}

// Option configures Run.
type Option func(*runConfig)

// WithKeyring reuses kr instead of generating a keyring per scenario.
func WithKeyring(kr *cipher.Keyring) Option {
	return func(c *runConfig) { c.keyring = kr }
}

// Run executes a scenario and returns the result.
//
// A step that fails with an unexpected domain error, or an assertion that
// does not hold, marks the result failed. Any other error (a broken store,
// an alias that was never defined) aborts the run and is returned.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.keyring == nil {
		kr, err := cipher.NewKeyring(cipher.DefaultParams())
		if err != nil {
			return nil, fmt.Errorf("failed to create keyring: %w", err)
		}
		cfg.keyring = kr
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(st, cfg.keyring, scenario.Settings)
	if err != nil {
		return nil, err
	}
	defer h.oracle.Close()

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.step(ctx, i, step, result); err != nil {
			return nil, err
		}
	}

	if result.Events, err = st.ListEvents(ctx, 0, 0); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	actx := &AssertionContext{
		Ctx:     ctx,
		Engine:  h.engine,
		Store:   st,
		Records: h.records,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(st *store.Store, kr *cipher.Keyring, s Settings) (*Harness, error) {
	members, err := proof.NewCommittee(committeeSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create committee: %w", err)
	}
	rogue, err := proof.NewCommittee(committeeSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create committee: %w", err)
	}
	verifier, err := proof.NewQuorumVerifier(members.Addresses(), quorum)
	if err != nil {
		return nil, err
	}

	clock := testutil.NewClock()
	o := oracle.New(
		oracle.WithIDGenerator(oracle.NewSequentialGenerator("req")),
		oracle.WithKeyring(kr),
		oracle.WithCommittee(members, quorum),
		oracle.WithNow(clock.Now),
	)

	opts := []engine.Option{engine.WithNow(clock.Now)}
	if s.Weights != nil {
		opts = append(opts, engine.WithScoreOptions(score.WithWeights(*s.Weights)))
	}
	if s.AllowRecompute {
		opts = append(opts, engine.WithScoreOptions(score.WithRecompute(true)))
	}
	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return nil, fmt.Errorf("settings.timeout: %w", err)
		}
		opts = append(opts, engine.WithRequestTimeout(d))
	}
	if len(s.Rules) > 0 {
		authz, err := policy.NewCELAuthorizer(s.Rules)
		if err != nil {
			return nil, fmt.Errorf("settings.rules: %w", err)
		}
		opts = append(opts, engine.WithAuthorizer(authz))
	}

	eng, err := engine.New(context.Background(), st, o, verifier, kr.Scheme(), opts...)
	if err != nil {
		o.Close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	return &Harness{
		store:    st,
		engine:   eng,
		oracle:   o,
		rogue:    rogue,
		clock:    clock,
		records:  make(map[string]ir.RecordID),
		requests: make(map[string]ir.RequestID),
		signed:   make(map[ir.RequestID]signedCallback),
	}, nil
}

// step runs one step and records its outcome against its expectation.
func (h *Harness) step(ctx context.Context, i int, s Step, result *Result) error {
	ts := TraceStep{Step: i + 1, Op: s.Op, Outcome: OutcomeOK}
	if s.Principal != "" {
		ctx = policy.WithPrincipal(ctx, s.Principal)
	}

	if err := h.execute(ctx, s, &ts); err != nil {
		code := ir.CodeOf(err)
		if code == "" {
			return fmt.Errorf("step %d (%s): %w", ts.Step, s.Op, err)
		}
		ts.Outcome = string(code)
	}
	result.AddStep(ts)

	want := s.Expect
	if want == "" {
		want = OutcomeOK
	}
	if ts.Outcome != want {
		result.AddError(fmt.Sprintf("step %d (%s): expected %s, got %s", ts.Step, s.Op, want, ts.Outcome))
	}
	return nil
}

func (h *Harness) execute(ctx context.Context, s Step, ts *TraceStep) error {
	switch s.Op {
	case OpSubmit:
		id, err := h.engine.SubmitValues(ctx, s.Values.Fields())
		if err != nil {
			return err
		}
		ts.RecordID = id
		h.nameRecord(s.As, id)
		return nil

	case OpRequestRaw, OpRequestScore:
		id, err := h.record(s.Record)
		if err != nil {
			return err
		}
		ts.RecordID = id
		request := h.engine.RequestRawReveal
		if s.Op == OpRequestScore {
			request = h.engine.RequestScoreReveal
		}
		reqID, err := request(ctx, id)
		if err != nil {
			return err
		}
		ts.RequestID = reqID
		h.nameRequest(s.As, reqID)
		return nil

	case OpCompute:
		id, err := h.record(s.Record)
		if err != nil {
			return err
		}
		ts.RecordID = id
		_, err = h.engine.ComputeScore(ctx, id)
		return err

	case OpSign:
		id := h.request(s.Request)
		ts.RequestID = id
		_, err := h.sign(id)
		return err

	case OpDeliver:
		id := h.request(s.Request)
		ts.RequestID = id
		cb, ok := h.signed[id]
		if !ok {
			var err error
			if cb, err = h.sign(id); err != nil {
				return err
			}
		}
		h.oracle.Cancel(id)
		return h.engine.OracleCallback(ctx, id, cb.payload, cb.proof)

	case OpReplay:
		id := h.request(s.Request)
		ts.RequestID = id
		cb, ok := h.signed[id]
		if !ok {
			return fmt.Errorf("request %s was never signed", id)
		}
		return h.engine.OracleCallback(ctx, id, cb.payload, cb.proof)

	case OpForge:
		id := h.request(s.Request)
		ts.RequestID = id
		return h.forge(ctx, id)

	case OpInvalidate:
		id := h.request(s.Request)
		ts.RequestID = id
		req, err := h.engine.InvalidateRequest(ctx, id)
		if err != nil {
			return err
		}
		ts.RecordID = req.RecordID
		return nil

	case OpAdvance:
		d, err := time.ParseDuration(s.By)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
		return nil

	case OpSweep:
		_, err := h.engine.SweepStale(ctx)
		return err

	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
}

// sign has the oracle decrypt and sign a queued job without delivering it.
// A request with no queued job (never issued, delivered or invalidated)
// is UNKNOWN_REQUEST.
func (h *Harness) sign(id ir.RequestID) (signedCallback, error) {
	for _, job := range h.oracle.Pending() {
		if job.ID != id {
			continue
		}
		payload, sig, err := h.oracle.Fulfil(job)
		if err != nil {
			return signedCallback{}, err
		}
		cb := signedCallback{payload: payload, proof: sig}
		h.signed[id] = cb
		return cb, nil
	}
	return signedCallback{}, ir.NewUnknownRequest(id)
}

// forge delivers a well-formed callback signed by the rogue committee.
func (h *Harness) forge(ctx context.Context, id ir.RequestID) error {
	kind, digest := ir.RevealRawFields, ""
	if req, err := h.engine.Request(ctx, id); err == nil {
		kind, digest = req.Kind, req.HandlesDigest
	}
	payload, sig, err := h.rogue.Attest(id, kind, digest, make([]uint32, kind.Arity()), quorum)
	if err != nil {
		return err
	}
	return h.engine.OracleCallback(ctx, id, payload, sig)
}

func (h *Harness) nameRecord(alias string, id ir.RecordID) {
	if alias != "" {
		h.records[alias] = id
	}
}

func (h *Harness) nameRequest(alias string, id ir.RequestID) {
	if alias != "" {
		h.requests[alias] = id
	}
}

// record resolves an alias or a literal record id.
func (h *Harness) record(ref string) (ir.RecordID, error) {
	return resolveRecord(h.records, ref)
}

// request resolves an alias; anything else is taken as a literal id.
func (h *Harness) request(ref string) ir.RequestID {
	if id, ok := h.requests[ref]; ok {
		return id
	}
	return ir.RequestID(ref)
}

func resolveRecord(aliases map[string]ir.RecordID, ref string) (ir.RecordID, error) {
	if id, ok := aliases[ref]; ok {
		return id, nil
	}
	n, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("record %q is neither an alias nor an id", ref)
	}
	return ir.RecordID(n), nil
}
