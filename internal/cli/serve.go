package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/roach88/sealgauge/internal/api"
	"github.com/roach88/sealgauge/internal/events"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen   string
	Database string
	Rate     float64
	Burst    int
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Long: `Run the sealgauge HTTP service.

Opens the database, loads (or generates) the BGV key file and serves the
record API. In local oracle mode an in-process worker fulfils decryption
jobs; in external mode jobs wait on GET /v1/oracle/jobs for a remote
oracle. Stale requests are swept when oracle.timeout is set.

Example:
  sealgauge serve --config sealgauge.cue
  sealgauge serve --listen :9090 --db /var/lib/sealgauge.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().Float64Var(&opts.Rate, "rate", 0, "max HTTP requests per second, 0 for unlimited")
	cmd.Flags().IntVar(&opts.Burst, "burst", 20, "HTTP rate limit burst")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	listen := cfg.Listen
	if opts.Listen != "" {
		listen = opts.Listen
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, buildOptions{database: opts.Database, metrics: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	serverOpts := []api.Option{api.WithMetrics(rt.metrics, rt.registry)}
	if !rt.local() {
		serverOpts = append(serverOpts, api.WithOutbox(rt.oracle))
	}
	if opts.Rate > 0 {
		serverOpts = append(serverOpts, api.WithRateLimit(rate.Limit(opts.Rate), opts.Burst))
	}
	srv := api.New(rt.engine, serverOpts...)

	bus := rt.engine.Bus()
	if err := bus.SubscribeAsync(events.LogHandler(slog.Default())); err != nil {
		return WrapExitError(ExitFailure, "event log", err)
	}
	defer bus.WaitAsync()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.engine.Run(gctx) })
	if rt.local() {
		g.Go(func() error { return rt.oracle.Run(gctx, rt.engine.OracleCallback) })
	}
	g.Go(func() error { return srv.ListenAndServe(gctx, listen) })

	fmt.Fprintf(cmd.OutOrStdout(), "sealgauge listening on %s (oracle: %s)\n", listen, cfg.Oracle.Mode)

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "service error", err)
	}
	slog.Info("service stopped gracefully")
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM, or when
// the command's own context ends.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
