// Package score computes the encrypted weighted score of a revealed record.
//
// The score is never computed in the clear. The revealed fields are
// re-encrypted under the public scheme and combined with handle operations
// only, so the result is a ciphertext the oracle must open like any other.
package score

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/sealgauge/internal/cipher"
	"github.com/roach88/sealgauge/internal/ir"
	"github.com/roach88/sealgauge/internal/store"
)

// Weights are the per-field multipliers of the score.
type Weights struct {
	Pressure    uint64 `json:"pressure"`
	Temperature uint64 `json:"temperature"`
	Flow        uint64 `json:"flow"`
}

// DefaultWeights returns 40/30/30.
func DefaultWeights() Weights {
	return Weights{Pressure: 40, Temperature: 30, Flow: 30}
}

// Validate rejects an all-zero weight vector.
func (w Weights) Validate() error {
	if w.Pressure == 0 && w.Temperature == 0 && w.Flow == 0 {
		return fmt.Errorf("score weights: at least one weight must be non-zero")
	}
	return nil
}

// Expected is the cleartext value the encrypted score decrypts to:
// (wp*p + wt*t + wf*f) mod modulus. modulus must not exceed
// cipher.MaxPlaintextModulus.
func (w Weights) Expected(f ir.Fields, modulus uint64) uint32 {
	m := func(a, b uint64) uint64 { return (a % modulus) * (b % modulus) % modulus }
	sum := m(w.Pressure, uint64(f.Pressure))
	sum = (sum + m(w.Temperature, uint64(f.Temperature))) % modulus
	sum = (sum + m(w.Flow, uint64(f.Flow))) % modulus
	return uint32(sum)
}

// Engine computes and stores encrypted scores.
type Engine struct {
	scheme    *cipher.Scheme
	weights   Weights
	recompute bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithWeights overrides the default 40/30/30 weights.
func WithWeights(w Weights) Option {
	return func(e *Engine) { e.weights = w }
}

// WithRecompute lets ComputeScore overwrite a score that has not yet been
// revealed or requested.
func WithRecompute(allow bool) Option {
	return func(e *Engine) { e.recompute = allow }
}

// New creates a score engine encrypting under scheme.
func New(scheme *cipher.Scheme, opts ...Option) *Engine {
	e := &Engine{scheme: scheme, weights: DefaultWeights()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Weights returns the configured weights.
func (e *Engine) Weights() Weights {
	return e.weights
}

// Evaluate encrypts f and returns enc(p)*wp + enc(t)*wt + enc(f)*wf.
func (e *Engine) Evaluate(f ir.Fields) (cipher.Handle, error) {
	weights := []uint64{e.weights.Pressure, e.weights.Temperature, e.weights.Flow}

	var sum cipher.Handle
	for i, v := range f.Values() {
		h, err := e.scheme.Encrypt(v)
		if err != nil {
			return nil, fmt.Errorf("evaluate: encrypt field %d: %w", i, err)
		}
		term, err := h.MulConst(weights[i])
		if err != nil {
			return nil, fmt.Errorf("evaluate: weight field %d: %w", i, err)
		}
		if sum == nil {
			sum = term
			continue
		}
		if sum, err = sum.Add(term); err != nil {
			return nil, fmt.Errorf("evaluate: accumulate field %d: %w", i, err)
		}
	}
	return sum, nil
}

// ComputeScore evaluates the score of record id inside tx and stores it.
//
// Returns RECORD_NOT_REVEALED until the raw reveal callback has been applied
// and SCORE_ALREADY_SET on a second call unless recomputation is enabled.
func (e *Engine) ComputeScore(ctx context.Context, tx *store.Tx, id ir.RecordID) (cipher.Handle, error) {
	rec, err := tx.ReadRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.IsRevealed {
		return nil, ir.NewRecordError(ir.ErrCodeRecordNotRevealed, id, "raw fields must be revealed before scoring")
	}
	if rec.HasScore() && !e.recompute {
		return nil, ir.NewRecordError(ir.ErrCodeScoreAlreadySet, id, "score already computed")
	}

	h, err := e.Evaluate(rec.Revealed)
	if err != nil {
		return nil, err
	}
	b, err := h.Bytes()
	if err != nil {
		return nil, fmt.Errorf("compute score: export: %w", err)
	}

	if rec.HasScore() {
		err = tx.ReplaceScore(ctx, id, b)
	} else {
		err = tx.SetScore(ctx, id, b)
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("score computed", "record_id", id, "recomputed", rec.HasScore(), "bytes", len(b))
	return h, nil
}
