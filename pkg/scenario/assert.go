package scenario

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// AssertionResult is the outcome of one assertion.
type AssertionResult struct {
	Name   string `json:"name"`
	Expr   string `json:"expr"`
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}

// Evaluator checks assertions against a run's trace using CEL.
//
// Expressions see these variables:
//
//	fired        map(string, list(double))  scheduler seconds of each firing, by label
//	fired_ticks  map(string, list(int))     scheduler tick of each firing, by label
//	invocations  int                        host invocations
//	alarm_delays list(double)               seconds requested of host alarms, in order
//	wakes        int                        wake sentinels that fired
//	dormant      bool                       nothing left queued at the end
//	ticks        int                        final tick count
//	time         double                     final scheduler seconds
//	stop_reason  string                     why the host stopped
type Evaluator struct {
	assertions []Assertion
	programs   []cel.Program
}

// NewEvaluator compiles assertions.
func NewEvaluator(assertions []Assertion) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("fired", cel.MapType(cel.StringType, cel.ListType(cel.DoubleType))),
		cel.Variable("fired_ticks", cel.MapType(cel.StringType, cel.ListType(cel.IntType))),
		cel.Variable("invocations", cel.IntType),
		cel.Variable("alarm_delays", cel.ListType(cel.DoubleType)),
		cel.Variable("wakes", cel.IntType),
		cel.Variable("dormant", cel.BoolType),
		cel.Variable("ticks", cel.IntType),
		cel.Variable("time", cel.DoubleType),
		cel.Variable("stop_reason", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	programs := make([]cel.Program, 0, len(assertions))
	for i, a := range assertions {
		ast, issues := env.Compile(a.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile assertion %s: %w", assertionName(i, a), issues.Err())
		}
		if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
			return nil, fmt.Errorf("assertion %s must be a bool expression, got %v", assertionName(i, a), t)
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("create program for assertion %s: %w", assertionName(i, a), err)
		}
		programs = append(programs, program)
	}

	return &Evaluator{assertions: assertions, programs: programs}, nil
}

// Evaluate runs every assertion against the report. An assertion that
// cannot be evaluated fails with the error recorded.
func (e *Evaluator) Evaluate(r *Report) []AssertionResult {
	vars := r.variables()
	results := make([]AssertionResult, 0, len(e.programs))
	for i, program := range e.programs {
		a := e.assertions[i]
		res := AssertionResult{Name: assertionName(i, a), Expr: a.Expr}

		out, _, err := program.Eval(vars)
		switch {
		case err != nil:
			res.Error = err.Error()
		case out.Type() == types.BoolType:
			res.Passed = out.Value().(bool)
		default:
			res.Error = fmt.Sprintf("expression returned %v, want bool", out.Type())
		}
		results = append(results, res)
	}
	return results
}

func assertionName(i int, a Assertion) string {
	if a.Name != "" {
		return a.Name
	}
	return fmt.Sprintf("#%d", i)
}
