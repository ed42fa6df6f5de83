package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/sealgauge/internal/engine"
	"github.com/roach88/sealgauge/internal/ir"
	"github.com/roach88/sealgauge/internal/store"
)

// AssertionContext provides what assertions read the final state from.
type AssertionContext struct {
	Ctx     context.Context
	Engine  *engine.Engine
	Store   *store.Store
	Records map[string]ir.RecordID
}

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, actual %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertFields:
		return assertFields(a, actx)
	case AssertScore:
		return assertScore(a, actx)
	case AssertStage:
		return assertStage(a, actx)
	case AssertEventOrder:
		return assertEventOrder(result.Events, a)
	case AssertEventCount:
		return assertEventCount(result.Events, a)
	case AssertRejectionCount:
		return assertRejectionCount(a, actx)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertFields(a Assertion, actx *AssertionContext) error {
	id, err := resolveRecord(actx.Records, a.Record)
	if err != nil {
		return err
	}
	fields, revealed, err := actx.Engine.ReadRecord(actx.Ctx, id)
	if err != nil {
		return err
	}
	want := a.Fields.Fields()
	if !revealed {
		return &AssertionError{Type: AssertFields, Expected: fmt.Sprintf("%+v", want), Actual: "not revealed"}
	}
	if fields != want {
		return &AssertionError{Type: AssertFields, Expected: fmt.Sprintf("%+v", want), Actual: fmt.Sprintf("%+v", fields)}
	}
	return nil
}

func assertScore(a Assertion, actx *AssertionContext) error {
	id, err := resolveRecord(actx.Records, a.Record)
	if err != nil {
		return err
	}
	v, revealed, err := actx.Engine.ReadScore(actx.Ctx, id)
	if err != nil {
		return err
	}
	if !revealed {
		return &AssertionError{Type: AssertScore, Expected: fmt.Sprint(*a.Score), Actual: "not revealed"}
	}
	if v != *a.Score {
		return &AssertionError{Type: AssertScore, Expected: fmt.Sprint(*a.Score), Actual: fmt.Sprint(v)}
	}
	return nil
}

func assertStage(a Assertion, actx *AssertionContext) error {
	id, err := resolveRecord(actx.Records, a.Record)
	if err != nil {
		return err
	}
	in, err := actx.Engine.Inspect(actx.Ctx, id)
	if err != nil {
		return err
	}
	if string(in.Stage) != a.Stage {
		return &AssertionError{Type: AssertStage, Expected: a.Stage, Actual: string(in.Stage)}
	}
	return nil
}

// assertEventOrder checks that the listed event types occur in this
// relative order. Other events may be interleaved.
func assertEventOrder(events []ir.Event, a Assertion) error {
	next := 0
	for _, ev := range events {
		if next < len(a.Events) && string(ev.Type) == a.Events[next] {
			next++
		}
	}
	if next < len(a.Events) {
		return &AssertionError{
			Type:     AssertEventOrder,
			Expected: strings.Join(a.Events, " < "),
			Actual:   strings.Join(eventTypes(events), ", "),
		}
	}
	return nil
}

func assertEventCount(events []ir.Event, a Assertion) error {
	n := 0
	for _, ev := range events {
		if string(ev.Type) == a.Event {
			n++
		}
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d x %s", *a.Count, a.Event),
			Actual:   fmt.Sprint(n),
		}
	}
	return nil
}

func assertRejectionCount(a Assertion, actx *AssertionContext) error {
	rejections, err := actx.Store.ListRejections(actx.Ctx)
	if err != nil {
		return err
	}
	n := 0
	for _, r := range rejections {
		if a.Code == "" || string(r.Code) == a.Code {
			n++
		}
	}
	if n != *a.Count {
		label := "rejections"
		if a.Code != "" {
			label = a.Code + " rejections"
		}
		return &AssertionError{
			Type:     AssertRejectionCount,
			Expected: fmt.Sprintf("%d %s", *a.Count, label),
			Actual:   fmt.Sprint(n),
		}
	}
	return nil
}

func eventTypes(events []ir.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = string(ev.Type)
	}
	return out
}
