package broker

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/roach88/sealgauge/internal/ir"
	"github.com/roach88/sealgauge/internal/store"
)

// TestPendingSlotProperty drives random issue/consume/invalidate sequences
// against one record and checks the broker against a one-slot-per-kind model.
// Property: Issue succeeds iff the model slot is empty, and at most one
// request per kind is ever pending.
func TestPendingSlotProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	kinds := []ir.RevealKind{ir.RevealRawFields, ir.RevealScore}

	properties.Property("at most one pending request per kind", prop.ForAll(
		func(ops []int) bool {
			f := newFixture(t)
			ctx := context.Background()
			rec := f.record(t)

			slot := map[ir.RevealKind]ir.RequestID{}
			for _, op := range ops {
				kind := kinds[op%2]
				switch (op / 2) % 3 {
				case 0:
					id, err := f.issue(ctx, rec, kind)
					if slot[kind] == "" {
						if err != nil {
							return false
						}
						slot[kind] = id
					} else if !ir.Is(err, ir.ErrCodeDuplicateOutstanding) {
						return false
					}
				case 1:
					err := f.store.WithTx(ctx, func(tx *store.Tx) error {
						return f.broker.Consume(ctx, tx, slot[kind])
					})
					if slot[kind] == "" {
						if !ir.Is(err, ir.ErrCodeUnknownRequest) {
							return false
						}
					} else if err != nil {
						return false
					}
					slot[kind] = ""
				case 2:
					if slot[kind] == "" {
						continue
					}
					err := f.store.WithTx(ctx, func(tx *store.Tx) error {
						_, err := f.broker.Invalidate(ctx, tx, slot[kind])
						return err
					})
					if err != nil {
						return false
					}
					slot[kind] = ""
				}

				pending, err := f.store.PendingKinds(ctx, rec)
				if err != nil {
					return false
				}
				for _, k := range kinds {
					if pending[k] != (slot[k] != "") {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOfN(12, gen.IntRange(0, 5)),
	))

	properties.TestingRun(t)
}
