package cypher

import (
	"reflect"
	"strings"
)

// ExprKind identifies the node type of an expression tree.
type ExprKind int

const (
	ExprProperty ExprKind = iota + 1
	ExprIdentity
	ExprLiteral
	ExprComparison
	ExprLogical
	ExprAggregate
)

// Expr is a node of a predicate or projection expression tree.
// The translator accepts the node types defined in this package and fails
// with ErrUnsupportedExpression for anything else.
type Expr interface {
	ExprKind() ExprKind
}

// CompareOp is a binary comparison operator.
type CompareOp string

const (
	OpEq CompareOp = "="
	OpNe CompareOp = "<>"
	OpLt CompareOp = "<"
	OpGt CompareOp = ">"
	OpLe CompareOp = "<="
	OpGe CompareOp = ">="
)

// LogicalOp joins two predicates.
type LogicalOp string

const (
	OpAnd LogicalOp = "AND"
	OpOr  LogicalOp = "OR"
)

// PropertyExpr references v.Name. Type, when set, is checked against the
// literal operands of a comparison.
type PropertyExpr struct {
	Var  *Var
	Name string
	Type ValueType
}

func (PropertyExpr) ExprKind() ExprKind { return ExprProperty }

// Required reports whether the property uses the existence-qualified form.
func (p PropertyExpr) Required() bool { return strings.HasSuffix(p.Name, "!") }

func (p PropertyExpr) base() string { return strings.TrimSuffix(p.Name, "!") }

func (p PropertyExpr) Eq(v any) ComparisonExpr { return Compare(p, OpEq, v) }
func (p PropertyExpr) Ne(v any) ComparisonExpr { return Compare(p, OpNe, v) }
func (p PropertyExpr) Lt(v any) ComparisonExpr { return Compare(p, OpLt, v) }
func (p PropertyExpr) Gt(v any) ComparisonExpr { return Compare(p, OpGt, v) }
func (p PropertyExpr) Le(v any) ComparisonExpr { return Compare(p, OpLe, v) }
func (p PropertyExpr) Ge(v any) ComparisonExpr { return Compare(p, OpGe, v) }

// Property references a property whose values are expected to be of type T.
//
//	cypher.Property[string](actor, "name").Eq("Bob")
func Property[T any](e Entity, name string) PropertyExpr {
	return PropertyExpr{Var: varOf(e), Name: name, Type: typeFor(reflect.TypeFor[T]())}
}

// IdentityExpr references id(v).
type IdentityExpr struct {
	Var *Var
}

func (IdentityExpr) ExprKind() ExprKind { return ExprIdentity }

func (i IdentityExpr) Eq(v any) ComparisonExpr { return Compare(i, OpEq, v) }
func (i IdentityExpr) Ne(v any) ComparisonExpr { return Compare(i, OpNe, v) }
func (i IdentityExpr) Lt(v any) ComparisonExpr { return Compare(i, OpLt, v) }
func (i IdentityExpr) Gt(v any) ComparisonExpr { return Compare(i, OpGt, v) }
func (i IdentityExpr) Le(v any) ComparisonExpr { return Compare(i, OpLe, v) }
func (i IdentityExpr) Ge(v any) ComparisonExpr { return Compare(i, OpGe, v) }

// LiteralExpr is a constant operand.
type LiteralExpr struct {
	Value any
}

func (LiteralExpr) ExprKind() ExprKind { return ExprLiteral }

// Lit wraps a constant value.
func Lit(v any) LiteralExpr { return LiteralExpr{Value: v} }

// ComparisonExpr is Left Op Right.
type ComparisonExpr struct {
	Op    CompareOp
	Left  Expr
	Right Expr
}

func (ComparisonExpr) ExprKind() ExprKind { return ExprComparison }

// Compare builds left op right. A right operand that is not an Expr is
// treated as a literal.
func Compare(left Expr, op CompareOp, right any) ComparisonExpr {
	return ComparisonExpr{Op: op, Left: left, Right: operand(right)}
}

func operand(v any) Expr {
	if e, ok := v.(Expr); ok {
		return e
	}
	return LiteralExpr{Value: v}
}

// LogicalExpr is (Left) Op (Right).
type LogicalExpr struct {
	Op    LogicalOp
	Left  Expr
	Right Expr
}

func (LogicalExpr) ExprKind() ExprKind { return ExprLogical }

// And conjoins predicates, folding left: And(a, b, c) is ((a AND b) AND c).
func And(a, b Expr, more ...Expr) LogicalExpr { return fold(OpAnd, a, b, more) }

// Or disjoins predicates, folding left.
func Or(a, b Expr, more ...Expr) LogicalExpr { return fold(OpOr, a, b, more) }

func fold(op LogicalOp, a, b Expr, more []Expr) LogicalExpr {
	out := LogicalExpr{Op: op, Left: a, Right: b}
	for _, e := range more {
		out = LogicalExpr{Op: op, Left: out, Right: e}
	}
	return out
}

// AggregateExpr is an aggregate function over a variable or property.
// A nil Arg renders count(*).
type AggregateExpr struct {
	Func     string
	Arg      Expr
	Entity   *Var
	Distinct bool

	err error
}

func (AggregateExpr) ExprKind() ExprKind { return ExprAggregate }

// Count counts rows of an entity, or non-null values of an expression.
// Use CountAll for count(*).
func Count(of any) AggregateExpr {
	a := AggregateExpr{Func: "count"}
	switch x := of.(type) {
	case Entity:
		a.Entity = varOf(x)
		if a.Entity == nil {
			a.err = declErr("count", "nil variable")
		}
	case Expr:
		a.Arg = x
	default:
		a.err = declErr("count", "argument %T is neither a variable nor an expression", of)
	}
	return a
}

// CountAll renders count(*).
func CountAll() AggregateExpr { return AggregateExpr{Func: "count"} }

func Sum(p PropertyExpr) AggregateExpr { return AggregateExpr{Func: "sum", Arg: p} }
func Avg(p PropertyExpr) AggregateExpr { return AggregateExpr{Func: "avg", Arg: p} }
func Min(p PropertyExpr) AggregateExpr { return AggregateExpr{Func: "min", Arg: p} }
func Max(p PropertyExpr) AggregateExpr { return AggregateExpr{Func: "max", Arg: p} }

// WithDistinct aggregates distinct values only.
func (a AggregateExpr) WithDistinct() AggregateExpr {
	a.Distinct = true
	return a
}

func (a AggregateExpr) resultType() ValueType {
	switch a.Func {
	case "count":
		return TypeInteger
	case "avg":
		return TypeFloat
	}
	if p, ok := a.Arg.(PropertyExpr); ok {
		return p.Type
	}
	return TypeAny
}

// exprVars collects the variables an expression references.
func exprVars(e Expr, out []*Var) []*Var {
	switch x := e.(type) {
	case PropertyExpr:
		return append(out, x.Var)
	case IdentityExpr:
		return append(out, x.Var)
	case ComparisonExpr:
		return exprVars(x.Right, exprVars(x.Left, out))
	case LogicalExpr:
		return exprVars(x.Right, exprVars(x.Left, out))
	case AggregateExpr:
		if x.Entity != nil {
			out = append(out, x.Entity)
		}
		if x.Arg != nil {
			out = exprVars(x.Arg, out)
		}
		return out
	}
	return out
}
