package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/sealgauge/internal/engine"
	"github.com/roach88/sealgauge/internal/ir"
	"github.com/roach88/sealgauge/internal/store"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Database string
	After    int64
	Limit    int
}

// RecordSummary is one line of the record listing.
type RecordSummary struct {
	ID        ir.RecordID `json:"id"`
	Stage     ir.Stage    `json:"stage"`
	Revealed  *ir.Fields  `json:"revealed,omitempty"`
	Score     *uint32     `json:"score,omitempty"`
	CreatedAt string      `json:"created_at"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show [record-id]",
		Short: "Show records",
		Long: `Show one record with its requests and audit trail, or list records.

Reads the database directly; no keys are loaded.

Example:
  sealgauge show --db sealgauge.db
  sealgauge show 7 --db sealgauge.db --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().Int64Var(&opts.After, "after", 0, "list records with id greater than this")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "max records to list, 0 for all")

	return cmd
}

func runShow(opts *ShowOptions, args []string, cmd *cobra.Command) error {
	out := formatter(opts.RootOptions, cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openStore(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	if len(args) == 0 {
		list, err := listRecords(ctx, st, ir.RecordID(opts.After), opts.Limit)
		if err != nil {
			return out.Fail(err)
		}
		return out.Success(list, func(w io.Writer) {
			if len(list) == 0 {
				fmt.Fprintln(w, "No records.")
				return
			}
			for _, r := range list {
				fmt.Fprintf(w, "%-6d %-16s %s\n", r.ID, r.Stage, r.CreatedAt)
			}
		})
	}

	n, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || n <= 0 {
		return out.Fail(NewExitError(ExitCommandError, fmt.Sprintf("invalid record id %q", args[0])))
	}
	insp, err := inspect(ctx, st, ir.RecordID(n))
	if err != nil {
		return out.Fail(err)
	}
	return out.Success(insp, func(w io.Writer) { writeInspection(w, insp) })
}

// openStore opens the database named by --db, or by the config.
func openStore(opts *RootOptions, override string) (*store.Store, error) {
	path := override
	if path == "" {
		cfg, err := loadConfig(opts)
		if err != nil {
			return nil, err
		}
		path = cfg.Database
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func listRecords(ctx context.Context, st *store.Store, after ir.RecordID, limit int) ([]RecordSummary, error) {
	recs, err := st.ListRecords(ctx, after, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RecordSummary, 0, len(recs))
	for _, rec := range recs {
		pending, err := st.PendingKinds(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		s := RecordSummary{
			ID:        rec.ID,
			Stage:     rec.Stage(pending),
			Score:     rec.ScoreValue,
			CreatedAt: rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
		if rec.IsRevealed {
			f := rec.Revealed
			s.Revealed = &f
		}
		out = append(out, s)
	}
	return out, nil
}

// inspect assembles the same view as engine.Inspect from the store alone.
func inspect(ctx context.Context, st *store.Store, id ir.RecordID) (engine.Inspection, error) {
	rec, err := st.ReadRecord(ctx, id)
	if err != nil {
		return engine.Inspection{}, err
	}
	pending, err := st.PendingKinds(ctx, id)
	if err != nil {
		return engine.Inspection{}, err
	}
	reqs, err := st.RequestsForRecord(ctx, id)
	if err != nil {
		return engine.Inspection{}, err
	}
	evs, err := st.EventsForRecord(ctx, id)
	if err != nil {
		return engine.Inspection{}, err
	}
	return engine.Inspection{Record: rec, Stage: rec.Stage(pending), Requests: reqs, Events: evs}, nil
}

func writeInspection(w io.Writer, insp engine.Inspection) {
	rec := insp.Record
	fmt.Fprintf(w, "record %d (%s)\n", rec.ID, insp.Stage)
	if rec.IsRevealed {
		fmt.Fprintf(w, "  fields:  pressure=%d temperature=%d flow=%d\n",
			rec.Revealed.Pressure, rec.Revealed.Temperature, rec.Revealed.Flow)
	}
	switch {
	case rec.ScoreValue != nil:
		fmt.Fprintf(w, "  score:   %d\n", *rec.ScoreValue)
	case rec.HasScore():
		fmt.Fprintln(w, "  score:   computed, not revealed")
	}
	for _, r := range insp.Requests {
		fmt.Fprintf(w, "  request %s %s %s\n", r.ID, r.Kind, r.Status)
	}
	for _, ev := range insp.Events {
		fmt.Fprintf(w, "  #%d %s %s\n", ev.Seq, ev.Type, ev.RequestID)
	}
}
