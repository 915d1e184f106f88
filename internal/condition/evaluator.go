package condition

import (
	"fmt"
	"strings"
)

// EvalContext resolves field paths to values.
type EvalContext interface {
	Resolve(path []string) (interface{}, bool)
}

// Evaluate walks expr against ctx. AND and OR short-circuit.
func Evaluate(expr Expr, ctx EvalContext) (bool, error) {
	switch e := expr.(type) {
	case *BinaryExpr:
		left, err := Evaluate(e.Left, ctx)
		if err != nil {
			return false, err
		}
		if e.Op == "AND" && !left {
			return false, nil
		}
		if e.Op == "OR" && left {
			return true, nil
		}
		return Evaluate(e.Right, ctx)
	case *NotExpr:
		v, err := Evaluate(e.Expr, ctx)
		return !v && err == nil, err
	case *ComparisonExpr:
		left, err := resolveOperand(e.Left, ctx)
		if err != nil {
			return false, err
		}
		right, err := resolveOperand(e.Right, ctx)
		if err != nil {
			return false, err
		}
		return compare(e, left, right)
	default:
		return false, fmt.Errorf("unknown expr type %T", expr)
	}
}

func resolveOperand(op Operand, ctx EvalContext) (interface{}, error) {
	switch o := op.(type) {
	case *LiteralOperand:
		return o.Value, nil
	case *FieldOperand:
		val, ok := ctx.Resolve(o.Path)
		if !ok {
			return nil, fmt.Errorf("field %q not found", strings.Join(o.Path, "."))
		}
		return val, nil
	default:
		return nil, fmt.Errorf("unknown operand type %T", op)
	}
}
