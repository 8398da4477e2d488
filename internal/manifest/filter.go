package manifest

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Filter selects pipeline records via a CEL expression over the record's
// fields, e.g.:
//
//	pipeline == "recidivism" && input.endsWith("_historical")
//
// The expression sees the variables pipeline, job_name, input,
// reference_input and output, all strings. An absent reference_input is
// the empty string.
type Filter struct {
	prg cel.Program
}

// NewFilter compiles a CEL filter expression.
// The expression must evaluate to a boolean.
func NewFilter(expr string) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("pipeline", cel.StringType),
		cel.Variable("job_name", cel.StringType),
		cel.Variable("input", cel.StringType),
		cel.Variable("reference_input", cel.StringType),
		cel.Variable("output", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("invalid filter expression %q: %w", expr, iss.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build filter program: %w", err)
	}
	return &Filter{prg: prg}, nil
}

// Matches evaluates the filter against a single pipeline record.
func (f *Filter) Matches(p *Pipeline) (bool, error) {
	out, _, err := f.prg.Eval(map[string]any{
		"pipeline":        p.Pipeline,
		"job_name":        p.JobName,
		"input":           p.Input,
		"reference_input": p.ReferenceInput,
		"output":          p.Output,
	})
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter expression returned %T, want bool", out.Value())
	}
	return b, nil
}
