package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/sealgauge/internal/ir"
)

// MarshalTrace renders a result as canonical JSON for golden comparison.
//
// Wall-clock times and ciphertext-derived values are left out so the trace
// is byte-identical across runs.
func MarshalTrace(name string, result *Result) ([]byte, error) {
	steps := make([]any, len(result.Steps))
	for i, s := range result.Steps {
		m := map[string]any{
			"step":    s.Step,
			"op":      s.Op,
			"outcome": s.Outcome,
		}
		if s.RecordID != 0 {
			m["record_id"] = s.RecordID
		}
		if s.RequestID != "" {
			m["request_id"] = s.RequestID
		}
		steps[i] = m
	}

	events := make([]any, len(result.Events))
	for i, ev := range result.Events {
		m := map[string]any{
			"seq":  ev.Seq,
			"type": string(ev.Type),
		}
		if ev.RecordID != 0 {
			m["record_id"] = ev.RecordID
		}
		if ev.RequestID != "" {
			m["request_id"] = ev.RequestID
		}
		for _, key := range []string{"kind", "code"} {
			if v, ok := ev.Attrs[key].(string); ok {
				m[key] = v
			}
		}
		events[i] = m
	}

	return ir.MarshalCanonical(map[string]any{
		"scenario_name": name,
		"steps":         steps,
		"events":        events,
	})
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	trace, err := MarshalTrace(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, trace)
	return nil
}
