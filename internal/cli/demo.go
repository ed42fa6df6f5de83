package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/sealgauge/internal/config"
	"github.com/roach88/sealgauge/internal/ir"
)

// DemoOptions holds flags for the demo command.
type DemoOptions struct {
	*RootOptions
	Database string
	Values   ir.Fields
}

// DemoResult is the outcome of one full record lifecycle.
type DemoResult struct {
	RecordID ir.RecordID `json:"record_id"`
	Fields   ir.Fields   `json:"fields"`
	Score    uint32      `json:"score"`
	Expected uint32      `json:"expected"`
	Events   []string    `json:"events"`
}

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DemoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run one record through submit, reveal and score",
		Long: `Run one record through the whole lifecycle with the in-process oracle.

The values are encrypted, submitted, revealed through a signed callback,
scored under encryption and the score revealed. The database defaults to
an in-memory store; the oracle always runs in local mode.

Example:
  sealgauge demo
  sealgauge demo --pressure 10 --temperature 20 --flow 30 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", ":memory:", "path to SQLite database")
	cmd.Flags().Uint32Var(&opts.Values.Pressure, "pressure", 100, "pressure reading")
	cmd.Flags().Uint32Var(&opts.Values.Temperature, "temperature", 80, "temperature reading")
	cmd.Flags().Uint32Var(&opts.Values.Flow, "flow", 60, "flow reading")

	return cmd
}

func runDemo(opts *DemoOptions, cmd *cobra.Command) error {
	out := formatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	cfg.Oracle.Mode = config.OracleLocal

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := buildRuntime(ctx, cfg, buildOptions{database: opts.Database})
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := demoLifecycle(ctx, rt, opts.Values, out)
	if err != nil {
		return out.Fail(err)
	}

	return out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "record %d\n", result.RecordID)
		fmt.Fprintf(w, "  pressure:    %d\n", result.Fields.Pressure)
		fmt.Fprintf(w, "  temperature: %d\n", result.Fields.Temperature)
		fmt.Fprintf(w, "  flow:        %d\n", result.Fields.Flow)
		fmt.Fprintf(w, "  score:       %d\n", result.Score)
		for _, ev := range result.Events {
			fmt.Fprintf(w, "  event %s\n", ev)
		}
	})
}

func demoLifecycle(ctx context.Context, rt *runtime, values ir.Fields, out *OutputFormatter) (DemoResult, error) {
	e := rt.engine

	id, err := e.SubmitValues(ctx, values)
	if err != nil {
		return DemoResult{}, err
	}
	out.VerboseLog("submitted record %d", id)

	if _, err := e.RequestRawReveal(ctx, id); err != nil {
		return DemoResult{}, err
	}
	if err := rt.oracle.Drain(ctx, e.OracleCallback); err != nil {
		return DemoResult{}, fmt.Errorf("raw reveal: %w", err)
	}
	fields, ok, err := e.ReadRecord(ctx, id)
	if err != nil {
		return DemoResult{}, err
	}
	if !ok {
		return DemoResult{}, fmt.Errorf("record %d was not revealed", id)
	}
	out.VerboseLog("revealed record %d: %+v", id, fields)

	if _, err := e.ComputeScore(ctx, id); err != nil {
		return DemoResult{}, err
	}
	if _, err := e.RequestScoreReveal(ctx, id); err != nil {
		return DemoResult{}, err
	}
	if err := rt.oracle.Drain(ctx, e.OracleCallback); err != nil {
		return DemoResult{}, fmt.Errorf("score reveal: %w", err)
	}
	score, ok, err := e.ReadScore(ctx, id)
	if err != nil {
		return DemoResult{}, err
	}
	if !ok {
		return DemoResult{}, fmt.Errorf("score of record %d was not revealed", id)
	}

	insp, err := e.Inspect(ctx, id)
	if err != nil {
		return DemoResult{}, err
	}
	evs := make([]string, 0, len(insp.Events))
	for _, ev := range insp.Events {
		evs = append(evs, string(ev.Type))
	}

	return DemoResult{
		RecordID: id,
		Fields:   fields,
		Score:    score,
		Expected: e.Weights().Expected(fields, e.Scheme().PlaintextModulus()),
		Events:   evs,
	}, nil
}
