package expressions

import (
	"context"
	"math"
)

// Engine evaluates expressions against a data map.
// Three implementations: Expr and CEL (condition clauses), GoJQ (script result transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Checker reports whether an expression compiles, without evaluating it.
type Checker interface {
	Check(expression string) error
}

// Conditions bundles the engines that back the expr and cel condition clauses.
type Conditions struct {
	Expr *ExprEngine
	CEL  *CELEngine
}

// NewConditions creates both condition engines.
func NewConditions() (*Conditions, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Conditions{Expr: NewExprEngine(), CEL: celEngine}, nil
}

// EvalExpr evaluates an expr-lang clause against the scope and reports truthiness.
func (c *Conditions) EvalExpr(ctx context.Context, expression string, scope *Scope) (bool, error) {
	out, err := c.Expr.Evaluate(ctx, expression, scope.Data())
	if err != nil {
		return false, err
	}
	return Truthy(out), nil
}

// EvalCEL evaluates a CEL clause against the scope and reports truthiness.
func (c *Conditions) EvalCEL(ctx context.Context, expression string, scope *Scope) (bool, error) {
	out, err := c.CEL.Evaluate(ctx, expression, scope.Data())
	if err != nil {
		return false, err
	}
	return Truthy(out), nil
}

// Truthy applies loose truthiness: false, nil, zero numbers and empty strings
// are false; everything else is true.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case uint64:
		return val != 0
	case float64:
		return val != 0 && !math.IsNaN(val)
	default:
		return true
	}
}
