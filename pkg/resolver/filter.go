package resolver

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/openfroyo/froyo-agent/pkg/engine"
	"github.com/openfroyo/froyo-agent/pkg/semver"
)

// Filter is a compiled requirement filter.
type Filter struct {
	expr string
	prg  cel.Program
}

// FilterCompiler compiles filter expressions against one shared environment.
type FilterCompiler struct {
	env *cel.Env
}

// NewFilterCompiler builds the CEL environment for requirement filters.
func NewFilterCompiler() (*FilterCompiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("name", cel.StringType),
		cel.Variable("version", cel.StringType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.StringType)),
		cel.Function("semver",
			cel.Overload("semver_string_string",
				[]*cel.Type{cel.StringType, cel.StringType}, cel.BoolType,
				cel.BinaryBinding(semverContains),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter environment: %w", err)
	}
	return &FilterCompiler{env: env}, nil
}

// Compile parses and type-checks expr. The expression must be boolean.
func (fc *FilterCompiler) Compile(expr string) (*Filter, error) {
	ast, iss := fc.env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("filter %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("filter %q: must be a boolean expression, got %s", expr, ast.OutputType())
	}
	prg, err := fc.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", expr, err)
	}
	return &Filter{expr: expr, prg: prg}, nil
}

// Match evaluates the filter against a capability. Evaluation errors count
// as no match.
func (f *Filter) Match(c engine.Capability) bool {
	attrs := c.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	out, _, err := f.prg.Eval(map[string]interface{}{
		"name":    c.Name,
		"version": c.Version.String(),
		"kind":    string(c.Kind),
		"attrs":   attrs,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// String returns the source expression.
func (f *Filter) String() string {
	return f.expr
}

func semverContains(lhs, rhs ref.Val) ref.Val {
	vs, ok := lhs.(types.String)
	if !ok {
		return types.MaybeNoSuchOverloadErr(lhs)
	}
	rs, ok := rhs.(types.String)
	if !ok {
		return types.MaybeNoSuchOverloadErr(rhs)
	}
	v, err := semver.ParseVersion(string(vs))
	if err != nil {
		return types.NewErr("semver: %v", err)
	}
	r, err := semver.ParseRange(string(rs))
	if err != nil {
		return types.NewErr("semver: %v", err)
	}
	return types.Bool(r.Contains(v))
}
