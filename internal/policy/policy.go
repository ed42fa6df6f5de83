// Package policy is the capability check run before every state-mutating
// entry point.
//
// Rules are CEL expressions over the request being authorized. An action is
// allowed when every rule that applies to it evaluates to true. Evaluation
// errors deny.
package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"

	"github.com/roach88/sealgauge/internal/ir"
)

// Action names a state-mutating entry point.
type Action string

const (
	ActionSubmit             Action = "submit"
	ActionRequestRawReveal   Action = "request_raw_reveal"
	ActionRequestScoreReveal Action = "request_score_reveal"
	ActionComputeScore       Action = "compute_score"
	ActionInvalidateRequest  Action = "invalidate_request"
	ActionOracleCallback     Action = "oracle_callback"
)

// AnyAction matches every action in a Rule.
const AnyAction = "*"

// Request describes the call being authorized.
type Request struct {
	Action    Action
	Principal string
	RecordID  ir.RecordID
	Kind      ir.RevealKind
	RequestID ir.RequestID
}

// Authorizer decides whether a request may proceed. A denial is an
// *ir.Error with code UNAUTHORIZED.
type Authorizer interface {
	Authorize(ctx context.Context, req Request) error
}

// AllowAll authorizes every request.
type AllowAll struct{}

// Authorize implements Authorizer.
func (AllowAll) Authorize(context.Context, Request) error { return nil }

type principalKey struct{}

// WithPrincipal attaches the calling principal to ctx.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFrom returns the principal attached to ctx, or "".
func PrincipalFrom(ctx context.Context) string {
	p, _ := ctx.Value(principalKey{}).(string)
	return p
}

// Rule is one CEL expression scoped to an action ("*" for all).
//
// Expressions see: principal (string), action (string), record_id (int),
// kind (string), request_id (string).
type Rule struct {
	Action string `json:"action"`
	Expr   string `json:"expr"`
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// CELAuthorizer evaluates compiled CEL rules.
type CELAuthorizer struct {
	rules []compiledRule
}

// NewCELAuthorizer compiles rules. Any rule that fails to compile, or does
// not produce a bool, is an error here rather than a denial later.
func NewCELAuthorizer(rules []Rule) (*CELAuthorizer, error) {
	env, err := cel.NewEnv(
		cel.Variable("principal", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("record_id", cel.IntType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("request_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	a := &CELAuthorizer{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		if r.Action == "" {
			r.Action = AnyAction
		}
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("policy rule %d: compile: %w", i, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("policy rule %d: expression must be bool, got %s", i, ast.OutputType())
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000),
		)
		if err != nil {
			return nil, fmt.Errorf("policy rule %d: program: %w", i, err)
		}
		a.rules = append(a.rules, compiledRule{Rule: r, prg: prg})
	}
	return a, nil
}

// Authorize implements Authorizer.
func (a *CELAuthorizer) Authorize(ctx context.Context, req Request) error {
	if req.Principal == "" {
		req.Principal = PrincipalFrom(ctx)
	}
	input := map[string]any{
		"principal":  req.Principal,
		"action":     string(req.Action),
		"record_id":  int64(req.RecordID),
		"kind":       string(req.Kind),
		"request_id": string(req.RequestID),
	}

	for i, r := range a.rules {
		if r.Action != AnyAction && r.Action != string(req.Action) {
			continue
		}
		out, _, err := r.prg.Eval(input)
		if err != nil {
			slog.Warn("policy evaluation failed", "rule", i, "action", req.Action, "error", err)
			return deny(req, fmt.Errorf("rule %d: eval: %w", i, err))
		}
		if allowed, ok := out.Value().(bool); !ok || !allowed {
			return deny(req, fmt.Errorf("rule %d denied: %s", i, r.Expr))
		}
	}
	return nil
}

func deny(req Request, cause error) *ir.Error {
	return &ir.Error{
		Code:      ir.ErrCodeUnauthorized,
		Message:   fmt.Sprintf("%s not permitted for principal %q", req.Action, req.Principal),
		RecordID:  req.RecordID,
		RequestID: req.RequestID,
		Err:       cause,
	}
}
