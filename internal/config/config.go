// Package config loads sealgauge configuration from CUE.
//
// A config file is unified with the embedded schema, which supplies
// defaults and constraints, and then decoded into Config. An absent file
// yields the schema defaults.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/format"
	"cuelang.org/go/cue/token"

	"github.com/roach88/sealgauge/internal/cipher"
	"github.com/roach88/sealgauge/internal/policy"
	"github.com/roach88/sealgauge/internal/score"
)

//go:embed schema.cue
var schemaCUE []byte

// Oracle modes.
const (
	OracleLocal    = "local"
	OracleExternal = "external"
)

// Config is the decoded configuration.
type Config struct {
	Database string        `json:"database"`
	Listen   string        `json:"listen"`
	Weights  score.Weights `json:"weights"`
	Cipher   CipherConfig  `json:"cipher"`
	Oracle   OracleConfig  `json:"oracle"`
	Policy   PolicyConfig  `json:"policy"`
	Score    ScoreConfig   `json:"score"`
}

// CipherConfig selects the BGV parameters.
type CipherConfig struct {
	LogN             int    `json:"log_n"`
	PlaintextModulus uint64 `json:"plaintext_modulus"`
	KeyFile          string `json:"key_file"`
}

// OracleConfig configures the decryption oracle and callback verification.
type OracleConfig struct {
	Mode          string   `json:"mode"`
	Committee     int      `json:"committee"`
	Threshold     int      `json:"threshold"`
	Keys          []string `json:"keys"`
	Signers       []string `json:"signers"`
	Principal     string   `json:"principal"`
	DispatchRate  float64  `json:"dispatch_rate"`
	Burst         int      `json:"burst"`
	Timeout       string   `json:"timeout"`
	SweepInterval string   `json:"sweep_interval"`
}

// PolicyConfig holds the CEL capability rules.
type PolicyConfig struct {
	Rules []policy.Rule `json:"rules"`
}

// ScoreConfig holds the recompute policy.
type ScoreConfig struct {
	AllowRecompute bool `json:"allow_recompute"`
}

// Error is a configuration error with its CUE source position, if known.
type Error struct {
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// Default returns the schema defaults.
func Default() (*Config, error) {
	return Parse(nil, "")
}

// Load reads and decodes the config file at path. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path)
}

// Parse unifies data with the schema and decodes it.
func Parse(data []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))

	if len(data) > 0 {
		file := ctx.CompileBytes(data, cue.Filename(filename))
		if err := file.Err(); err != nil {
			return nil, formatCUEError(err)
		}
		v = v.Unify(file)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, formatCUEError(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the constraints CUE cannot express.
func (c *Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return &Error{Message: err.Error()}
	}
	if c.Cipher.PlaintextModulus < 2 || c.Cipher.PlaintextModulus > cipher.MaxPlaintextModulus {
		return &Error{Message: fmt.Sprintf("cipher.plaintext_modulus: %d outside [2, 2^32]", c.Cipher.PlaintextModulus)}
	}
	if _, err := time.ParseDuration(c.Oracle.Timeout); err != nil {
		return &Error{Message: fmt.Sprintf("oracle.timeout: %v", err)}
	}
	if d, err := time.ParseDuration(c.Oracle.SweepInterval); err != nil || d <= 0 {
		return &Error{Message: fmt.Sprintf("oracle.sweep_interval: must be a positive duration, got %q", c.Oracle.SweepInterval)}
	}
	if c.Oracle.Threshold > c.Oracle.Committee {
		return &Error{Message: fmt.Sprintf("oracle.threshold: %d exceeds committee size %d", c.Oracle.Threshold, c.Oracle.Committee)}
	}
	switch c.Oracle.Mode {
	case OracleLocal:
		if n := len(c.Oracle.Keys); n > 0 && n != c.Oracle.Committee {
			return &Error{Message: fmt.Sprintf("oracle.keys: %d keys for a committee of %d", n, c.Oracle.Committee)}
		}
	case OracleExternal:
		if len(c.Oracle.Signers) < c.Oracle.Threshold {
			return &Error{Message: fmt.Sprintf("oracle.signers: %d signers cannot meet threshold %d", len(c.Oracle.Signers), c.Oracle.Threshold)}
		}
	}
	return nil
}

// RequestTimeout returns oracle.timeout. Zero disables expiry.
func (c *Config) RequestTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Oracle.Timeout)
	return d
}

// SweepInterval returns oracle.sweep_interval.
func (c *Config) SweepInterval() time.Duration {
	d, _ := time.ParseDuration(c.Oracle.SweepInterval)
	return d
}

// Format renders c as CUE source.
func (c *Config) Format() ([]byte, error) {
	out := *c
	// nil slices encode as null, which the schema rejects.
	if out.Oracle.Keys == nil {
		out.Oracle.Keys = []string{}
	}
	if out.Oracle.Signers == nil {
		out.Oracle.Signers = []string{}
	}
	if out.Policy.Rules == nil {
		out.Policy.Rules = []policy.Rule{}
	}

	ctx := cuecontext.New()
	v := ctx.Encode(out)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return format.Node(v.Syntax(), format.Simplify())
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &Error{Message: first.Error(), Pos: positions[0]}
	}
	return &Error{Message: first.Error()}
}
