package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/roach88/sealgauge/internal/cipher"
	"github.com/roach88/sealgauge/internal/config"
	"github.com/roach88/sealgauge/internal/engine"
	"github.com/roach88/sealgauge/internal/metrics"
	"github.com/roach88/sealgauge/internal/oracle"
	"github.com/roach88/sealgauge/internal/policy"
	"github.com/roach88/sealgauge/internal/proof"
	"github.com/roach88/sealgauge/internal/score"
	"github.com/roach88/sealgauge/internal/store"
)

// runtime is a fully wired service built from a Config.
type runtime struct {
	cfg      *config.Config
	store    *store.Store
	keyring  *cipher.Keyring
	oracle   *oracle.Oracle
	engine   *engine.Engine
	metrics  *metrics.Metrics
	registry *prometheus.Registry
}

// buildOptions adjusts how a runtime is assembled.
type buildOptions struct {
	database string // overrides cfg.Database when set
	metrics  bool
}

// buildRuntime opens the store and wires the oracle and engine described by
// cfg. The caller must Close the result.
func buildRuntime(ctx context.Context, cfg *config.Config, bo buildOptions) (*runtime, error) {
	path := cfg.Database
	if bo.database != "" {
		path = bo.database
	}

	params := cipher.Params{LogN: cfg.Cipher.LogN, PlaintextModulus: cfg.Cipher.PlaintextModulus}
	kr, err := loadKeyring(params, cfg.Cipher.KeyFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load keyring", err)
	}

	verifier, oracleOpts, err := buildOracle(cfg, kr)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to configure oracle", err)
	}

	engineOpts := []engine.Option{
		engine.WithScoreOptions(
			score.WithWeights(cfg.Weights),
			score.WithRecompute(cfg.Score.AllowRecompute),
		),
		engine.WithRequestTimeout(cfg.RequestTimeout()),
		engine.WithSweepInterval(cfg.SweepInterval()),
	}
	if len(cfg.Policy.Rules) > 0 {
		authz, err := policy.NewCELAuthorizer(cfg.Policy.Rules)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to compile policy rules", err)
		}
		engineOpts = append(engineOpts, engine.WithAuthorizer(authz))
	}

	rt := &runtime{cfg: cfg, keyring: kr}
	if bo.metrics {
		rt.registry = prometheus.NewRegistry()
		rt.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		rt.metrics = metrics.New(rt.registry)
		engineOpts = append(engineOpts, engine.WithMetrics(rt.metrics))
	}

	slog.Info("opening database", "path", path)
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	rt.store = st
	rt.oracle = oracle.New(oracleOpts...)

	rt.engine, err = engine.New(ctx, st, rt.oracle, verifier, kr.Scheme(), engineOpts...)
	if err != nil {
		rt.Close()
		return nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}

	slog.Info("runtime ready",
		"oracle_mode", cfg.Oracle.Mode,
		"threshold", cfg.Oracle.Threshold,
		"weights", cfg.Weights,
	)
	return rt, nil
}

// loadKeyring reads (or creates) the key file, or generates an ephemeral
// keyring when no file is configured.
func loadKeyring(p cipher.Params, path string) (*cipher.Keyring, error) {
	if path == "" {
		slog.Warn("no key_file configured, using an ephemeral keyring")
		return cipher.NewKeyring(p)
	}
	return cipher.LoadKeyring(p, path)
}

// buildOracle returns the callback verifier and oracle options for the
// configured mode.
//
// Local mode signs with a committee held in-process: the configured keys,
// or fresh ones. External mode only queues jobs and trusts the configured
// signer addresses.
func buildOracle(cfg *config.Config, kr *cipher.Keyring) (proof.Verifier, []oracle.Option, error) {
	o := cfg.Oracle
	opts := []oracle.Option{oracle.WithRateLimit(rate.Limit(o.DispatchRate), o.Burst)}

	if o.Mode == config.OracleExternal {
		addrs, err := proof.ParseAddresses(o.Signers)
		if err != nil {
			return nil, nil, err
		}
		v, err := proof.NewQuorumVerifier(addrs, o.Threshold)
		if err != nil {
			return nil, nil, err
		}
		return v, opts, nil
	}

	var (
		committee *proof.Committee
		err       error
	)
	if len(o.Keys) > 0 {
		committee, err = proof.CommitteeFromHex(o.Keys)
	} else {
		committee, err = proof.NewCommittee(o.Committee)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("committee: %w", err)
	}
	v, err := proof.NewQuorumVerifier(committee.Addresses(), o.Threshold)
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts,
		oracle.WithKeyring(kr),
		oracle.WithCommittee(committee, o.Threshold),
		oracle.WithPrincipal(o.Principal),
	)
	return v, opts, nil
}

// local reports whether the in-process oracle fulfils jobs.
func (rt *runtime) local() bool {
	return rt.cfg.Oracle.Mode != config.OracleExternal
}

// Close releases the oracle queue and the database.
func (rt *runtime) Close() {
	if rt.oracle != nil {
		rt.oracle.Close()
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			slog.Error("error closing database", "error", err)
		}
	}
}
