package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/sealgauge/internal/ir"
	"github.com/roach88/sealgauge/internal/queryir"
	"github.com/roach88/sealgauge/internal/store"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	Database   string
	After      int64
	Limit      int
	Rejections bool
	Verify     bool
	Type       string
	Record     int64
	Request    string
	Code       string
}

// VerifyResult reports whether stored event hashes match their content.
type VerifyResult struct {
	Events     int     `json:"events"`
	Mismatched []int64 `json:"mismatched"`
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print or verify the audit log",
		Long: `Print the append-only audit log in seq order.

--type, --record and --request narrow the events shown. --rejections
lists refused oracle callbacks instead, optionally narrowed by --code. --verify recomputes
every event's content hash and compares it with the hash stored at append
time; any mismatch exits 1.

Example:
  sealgauge audit --db sealgauge.db --after 100 --limit 20
  sealgauge audit --db sealgauge.db --record 7 --type CallbackRejected
  sealgauge audit --db sealgauge.db --rejections --code VERIFICATION_FAILED
  sealgauge audit --db sealgauge.db --verify`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().Int64Var(&opts.After, "after", 0, "only events with seq greater than this")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "max events, 0 for all")
	cmd.Flags().BoolVar(&opts.Rejections, "rejections", false, "list rejected callbacks")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "verify stored event hashes")
	cmd.Flags().StringVar(&opts.Type, "type", "", "only events of this type")
	cmd.Flags().Int64Var(&opts.Record, "record", 0, "only events or rejections of this record")
	cmd.Flags().StringVar(&opts.Request, "request", "", "only events or rejections of this request")
	cmd.Flags().StringVar(&opts.Code, "code", "", "only rejections with this error code")
	cmd.MarkFlagsMutuallyExclusive("rejections", "verify")

	return cmd
}

func runAudit(opts *AuditOptions, cmd *cobra.Command) error {
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

	switch {
	case opts.Rejections:
		rejs, err := st.QueryRejections(ctx, queryir.Select{
			Filter: queryir.Where(opts.filter(), equalsIf("code", opts.Code)),
			Limit:  opts.Limit,
		})
		if err != nil {
			return out.Fail(err)
		}
		return out.Success(rejs, func(w io.Writer) {
			if len(rejs) == 0 {
				fmt.Fprintln(w, "No rejected callbacks.")
				return
			}
			for _, r := range rejs {
				fmt.Fprintf(w, "%s %-28s request=%s record=%d %s\n",
					r.At.Format("2006-01-02T15:04:05Z07:00"), r.Code, r.RequestID, r.RecordID, r.Reason)
			}
		})

	case opts.Verify:
		res, err := verifyEvents(ctx, st)
		if err != nil {
			return out.Fail(err)
		}
		if err := out.Success(res, func(w io.Writer) {
			fmt.Fprintf(w, "%d events checked, %d mismatched\n", res.Events, len(res.Mismatched))
			for _, seq := range res.Mismatched {
				fmt.Fprintf(w, "  seq %d: hash mismatch\n", seq)
			}
		}); err != nil {
			return err
		}
		if len(res.Mismatched) > 0 {
			return NewExitError(ExitFailure, fmt.Sprintf("%d event(s) failed verification", len(res.Mismatched)))
		}
		return nil

	default:
		evs, err := st.QueryEvents(ctx, queryir.Select{
			Filter: queryir.Where(
				queryir.After{Field: "seq", Value: opts.After},
				equalsIf("type", opts.Type),
				opts.filter(),
			),
			Limit: opts.Limit,
		})
		if err != nil {
			return out.Fail(err)
		}
		return out.Success(evs, func(w io.Writer) { writeEvents(w, evs) })
	}
}

// filter is the record and request condition shared by events and
// rejections.
func (opts *AuditOptions) filter() queryir.Predicate {
	var rec queryir.Predicate
	if opts.Record > 0 {
		rec = queryir.Equals{Field: "record_id", Value: ir.RecordID(opts.Record)}
	}
	return queryir.Where(rec, equalsIf("request_id", opts.Request))
}

func equalsIf(field, value string) queryir.Predicate {
	if value == "" {
		return nil
	}
	return queryir.Equals{Field: field, Value: value}
}

// verifyEvents recomputes the content hash of every stored event.
func verifyEvents(ctx context.Context, st *store.Store) (VerifyResult, error) {
	evs, err := st.ListEvents(ctx, 0, 0)
	if err != nil {
		return VerifyResult{}, err
	}
	hashes, err := st.EventHashes(ctx)
	if err != nil {
		return VerifyResult{}, err
	}
	if len(hashes) != len(evs) {
		return VerifyResult{}, fmt.Errorf("audit log changed during verification: %d events, %d hashes", len(evs), len(hashes))
	}

	res := VerifyResult{Events: len(evs), Mismatched: []int64{}}
	for i, ev := range evs {
		h, err := ir.EventHash(ev)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("hash event %d: %w", ev.Seq, err)
		}
		if h != hashes[i] {
			res.Mismatched = append(res.Mismatched, ev.Seq)
		}
	}
	return res, nil
}

func writeEvents(w io.Writer, evs []ir.Event) {
	if len(evs) == 0 {
		fmt.Fprintln(w, "No events.")
		return
	}
	for _, ev := range evs {
		fmt.Fprintf(w, "#%-5d %s %-18s record=%d", ev.Seq, ev.At.Format("2006-01-02T15:04:05Z07:00"), ev.Type, ev.RecordID)
		if ev.RequestID != "" {
			fmt.Fprintf(w, " request=%s", ev.RequestID)
		}
		for _, k := range []string{"kind", "code"} {
			if v, ok := ev.Attrs[k]; ok {
				fmt.Fprintf(w, " %s=%v", k, v)
			}
		}
		fmt.Fprintln(w)
	}
}
