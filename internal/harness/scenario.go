package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sealgauge/internal/ir"
	"github.com/roach88/sealgauge/internal/policy"
	"github.com/roach88/sealgauge/internal/score"
)

// Scenario is a scripted walk through the record lifecycle.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	Settings Settings `yaml:"settings,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Settings configures the engine a scenario runs against.
type Settings struct {
	Weights        *score.Weights `yaml:"weights,omitempty"`
	AllowRecompute bool           `yaml:"allow_recompute,omitempty"`

	// Timeout enables SweepStale. Empty disables it.
	Timeout string `yaml:"timeout,omitempty"`

	Rules []policy.Rule `yaml:"rules,omitempty"`
}

// Values are cleartext telemetry fields.
type Values struct {
	Pressure    uint32 `yaml:"pressure"`
	Temperature uint32 `yaml:"temperature"`
	Flow        uint32 `yaml:"flow"`
}

// Fields converts v to the domain type.
func (v Values) Fields() ir.Fields {
	return ir.Fields{Pressure: v.Pressure, Temperature: v.Temperature, Flow: v.Flow}
}

// Step is one operation of a scenario.
type Step struct {
	Op string `yaml:"op"`

	// Record references a record alias or a literal record id.
	Record string `yaml:"record,omitempty"`

	// Request references a request alias or a literal request id.
	Request string `yaml:"request,omitempty"`

	// Values are the submitted fields (submit).
	Values *Values `yaml:"values,omitempty"`

	// As names the record or request a step creates.
	As string `yaml:"as,omitempty"`

	// Principal is the caller identity seen by the capability check.
	Principal string `yaml:"principal,omitempty"`

	// By is the duration to advance the clock (advance).
	By string `yaml:"by,omitempty"`

	// Expect is the error code the step must fail with. Empty means the step
	// must succeed.
	Expect string `yaml:"expect,omitempty"`
}

// Step ops.
const (
	OpSubmit       = "submit"
	OpRequestRaw   = "request_raw"
	OpRequestScore = "request_score"
	OpCompute      = "compute"
	OpSign         = "sign"
	OpDeliver      = "deliver"
	OpReplay       = "replay"
	OpForge        = "forge"
	OpInvalidate   = "invalidate"
	OpAdvance      = "advance"
	OpSweep        = "sweep"
)

// Assertion checks the final state of a scenario.
type Assertion struct {
	Type string `yaml:"type"`

	Record string   `yaml:"record,omitempty"`
	Fields *Values  `yaml:"fields,omitempty"`
	Score  *uint32  `yaml:"score,omitempty"`
	Stage  string   `yaml:"stage,omitempty"`
	Events []string `yaml:"events,omitempty"`
	Event  string   `yaml:"event,omitempty"`
	Code   string   `yaml:"code,omitempty"`
	Count  *int     `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertFields         = "fields"
	AssertScore          = "score"
	AssertStage          = "stage"
	AssertEventOrder     = "event_order"
	AssertEventCount     = "event_count"
	AssertRejectionCount = "rejection_count"
)

// LoadScenario reads and validates a scenario file. Unknown fields are an
// error so that typos do not silently weaken a scenario.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps must contain at least one step")
	}
	if s.Settings.Timeout != "" {
		if _, err := time.ParseDuration(s.Settings.Timeout); err != nil {
			return fmt.Errorf("settings.timeout: %w", err)
		}
	}
	if s.Settings.Weights != nil {
		if err := s.Settings.Weights.Validate(); err != nil {
			return fmt.Errorf("settings.weights: %w", err)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s Step) error {
	switch s.Op {
	case OpSubmit:
		if s.Values == nil {
			return fmt.Errorf("steps[%d]: values are required for submit", index)
		}
	case OpRequestRaw, OpRequestScore, OpCompute:
		if s.Record == "" {
			return fmt.Errorf("steps[%d]: record is required for %s", index, s.Op)
		}
	case OpSign, OpDeliver, OpReplay, OpForge, OpInvalidate:
		if s.Request == "" {
			return fmt.Errorf("steps[%d]: request is required for %s", index, s.Op)
		}
	case OpAdvance:
		if _, err := time.ParseDuration(s.By); err != nil {
			return fmt.Errorf("steps[%d]: by must be a duration: %w", index, err)
		}
	case OpSweep:
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertFields:
		if a.Record == "" || a.Fields == nil {
			return fmt.Errorf("assertions[%d]: record and fields are required for fields", index)
		}
	case AssertScore:
		if a.Record == "" || a.Score == nil {
			return fmt.Errorf("assertions[%d]: record and score are required for score", index)
		}
	case AssertStage:
		if a.Record == "" || a.Stage == "" {
			return fmt.Errorf("assertions[%d]: record and stage are required for stage", index)
		}
	case AssertEventOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for event_order", index)
		}
	case AssertEventCount:
		if a.Event == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: event and count are required for event_count", index)
		}
	case AssertRejectionCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for rejection_count", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count != nil && *a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
