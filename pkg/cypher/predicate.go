package cypher

import (
	"fmt"
)

// exprWriter renders expression trees into a writer.
type exprWriter struct {
	w      writer
	clause string
	// aggregates are legal in RETURN and ORDER BY but not in WHERE
	aggregates bool
}

func (ew exprWriter) write(e Expr) error {
	switch x := e.(type) {
	case PropertyExpr:
		ew.w.text(propertyRef(x))
		return nil

	case IdentityExpr:
		ew.w.text("id(" + x.Var.name + ")")
		return nil

	case LiteralExpr:
		if err := ew.w.slot(stylePredicate, x.Value); err != nil {
			return compileErr(ew.clause, err)
		}
		return nil

	case ComparisonExpr:
		switch x.Op {
		case OpEq, OpNe, OpLt, OpGt, OpLe, OpGe:
		default:
			return compileErr(ew.clause, fmt.Errorf("%w: comparison operator %q", ErrUnsupportedExpression, x.Op))
		}
		if err := checkOperands(x); err != nil {
			return compileErr(ew.clause, err)
		}
		if err := ew.write(x.Left); err != nil {
			return err
		}
		ew.w.text(" " + string(x.Op) + " ")
		return ew.write(x.Right)

	case LogicalExpr:
		if x.Op != OpAnd && x.Op != OpOr {
			return compileErr(ew.clause, fmt.Errorf("%w: logical operator %q", ErrUnsupportedExpression, x.Op))
		}
		ew.w.text("((")
		if err := ew.write(x.Left); err != nil {
			return err
		}
		ew.w.text(") " + string(x.Op) + " (")
		if err := ew.write(x.Right); err != nil {
			return err
		}
		ew.w.text("))")
		return nil

	case AggregateExpr:
		if !ew.aggregates {
			return compileErr(ew.clause, fmt.Errorf("%w: aggregate %s()", ErrUnsupportedExpression, x.Func))
		}
		return ew.aggregate(x)

	case nil:
		return compileErr(ew.clause, fmt.Errorf("%w: nil expression", ErrUnsupportedExpression))

	default:
		return compileErr(ew.clause, fmt.Errorf("%w: %T", ErrUnsupportedExpression, e))
	}
}

func (ew exprWriter) aggregate(a AggregateExpr) error {
	if a.err != nil {
		return a.err
	}
	switch a.Func {
	case "count", "sum", "avg", "min", "max", "collect":
	default:
		return compileErr(ew.clause, fmt.Errorf("%w: aggregate %q", ErrUnsupportedExpression, a.Func))
	}
	ew.w.text(a.Func + "(")
	if a.Distinct {
		ew.w.text("DISTINCT ")
	}
	switch {
	case a.Entity != nil:
		ew.w.text(a.Entity.name)
	case a.Arg != nil:
		if a.Arg.ExprKind() == ExprAggregate {
			return compileErr(ew.clause, fmt.Errorf("%w: nested aggregate", ErrUnsupportedExpression))
		}
		if err := ew.write(a.Arg); err != nil {
			return err
		}
	default:
		ew.w.text("*")
	}
	ew.w.text(")")
	return nil
}

func propertyRef(p PropertyExpr) string {
	ref := p.Var.name + "." + identifier(p.base())
	if p.Required() {
		ref += "!"
	}
	return ref
}

// checkOperands rejects a literal whose type contradicts the expected type
// of the property on the other side of the comparison.
func checkOperands(c ComparisonExpr) error {
	check := func(side, other Expr) error {
		want := expectedType(side)
		lit, ok := other.(LiteralExpr)
		if !ok {
			if ot := expectedType(other); ot != TypeAny && want != TypeAny && !want.accepts(ot) && !ot.accepts(want) {
				return fmt.Errorf("%w: %s compared with %s", ErrTypeMismatch, want, ot)
			}
			return nil
		}
		got := literalType(lit.Value)
		if !want.accepts(got) {
			return fmt.Errorf("%w: %s %s compared with %s literal %v", ErrTypeMismatch, describe(side), want, got, lit.Value)
		}
		return nil
	}
	if err := check(c.Left, c.Right); err != nil {
		return err
	}
	return check(c.Right, c.Left)
}

func expectedType(e Expr) ValueType {
	switch x := e.(type) {
	case PropertyExpr:
		return x.Type
	case IdentityExpr:
		return TypeInteger
	}
	return TypeAny
}

func describe(e Expr) string {
	switch x := e.(type) {
	case PropertyExpr:
		return "property " + propertyRef(x)
	case IdentityExpr:
		return "id(" + x.Var.name + ")"
	}
	return fmt.Sprintf("%T", e)
}
