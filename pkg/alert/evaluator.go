// Package alert evaluates CEL threshold rules against telemetry snapshots.
package alert

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/amdgpu-stats/amdgpu-stats/pkg/gpu"
)

// Evaluator evaluates snapshots against a policy using CEL.
type Evaluator struct {
	policy   *Policy
	env      *cel.Env
	programs map[string]cel.Program
	mu       sync.RWMutex
}

// Result is the outcome of evaluating one snapshot.
type Result struct {
	// Severity is the worst severity among matching rules.
	Severity Severity

	// Matches lists every matching rule in priority order.
	Matches []Match
}

// Match records one rule whose condition held.
type Match struct {
	Rule     string
	Severity Severity
}

// Firing reports whether any rule above ok matched.
func (r *Result) Firing() bool {
	return r.Severity != SeverityOK
}

// NewEvaluator compiles every rule of the policy.
func NewEvaluator(policy *Policy) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("metrics", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("card", cel.StringType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	programs, err := compile(env, policy)
	if err != nil {
		return nil, err
	}

	return &Evaluator{
		policy:   policy,
		env:      env,
		programs: programs,
	}, nil
}

func compile(env *cel.Env, policy *Policy) (map[string]cel.Program, error) {
	programs := make(map[string]cel.Program, len(policy.Rules))
	for _, rule := range policy.Rules {
		ast, issues := env.Compile(rule.Condition)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile rule %q: %w", rule.Name, issues.Err())
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("create program for rule %q: %w", rule.Name, err)
		}
		programs[rule.Name] = program
	}
	return programs, nil
}

// Evaluate runs every rule against the snapshot's values. Rules that fail to
// evaluate are skipped.
func (e *Evaluator) Evaluate(ctx context.Context, snap *gpu.Snapshot) *Result {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Severity: SeverityOK}
	if snap == nil {
		return result
	}

	vars := map[string]any{
		"metrics": snap.Values(),
		"card":    snap.Device().ID,
	}

	for _, rule := range e.policy.SortedRules() {
		if ctx.Err() != nil {
			break
		}
		out, _, err := e.programs[rule.Name].Eval(vars)
		if err != nil {
			continue
		}
		if out.Type() != types.BoolType || !out.Value().(bool) {
			continue
		}

		result.Matches = append(result.Matches, Match{Rule: rule.Name, Severity: rule.Severity})
		if isWorse(rule.Severity, result.Severity) {
			result.Severity = rule.Severity
		}
	}

	return result
}

// UpdatePolicy replaces the current policy with a new one.
func (e *Evaluator) UpdatePolicy(policy *Policy) error {
	programs, err := compile(e.env, policy)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.policy = policy
	e.programs = programs
	e.mu.Unlock()

	return nil
}

// Policy returns the current policy.
func (e *Evaluator) Policy() *Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

// isWorse returns true if a is worse than b.
// critical > warning > ok
func isWorse(a, b Severity) bool {
	return severityRank(a) > severityRank(b)
}

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}
