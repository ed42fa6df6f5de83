package harness

import (
	"github.com/roach88/sealgauge/internal/ir"
)

// TraceStep records the outcome of one scenario step.
type TraceStep struct {
	Step      int          `json:"step"`
	Op        string       `json:"op"`
	RecordID  ir.RecordID  `json:"record_id,omitempty"`
	RequestID ir.RequestID `json:"request_id,omitempty"`

	// Outcome is "ok" or the domain error code the step failed with.
	Outcome string `json:"outcome"`
}

// OutcomeOK is the outcome of a step that succeeded.
const OutcomeOK = "ok"

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step matched its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	Steps  []TraceStep `json:"steps"`
	Events []ir.Event  `json:"events"`

	// Errors is empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []TraceStep{},
		Events: []ir.Event{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep appends a step outcome to the trace.
func (r *Result) AddStep(s TraceStep) {
	r.Steps = append(r.Steps, s)
}
