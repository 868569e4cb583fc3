package cypher

import "strconv"

// Kind classifies a query variable or result column.
type Kind int

const (
	KindNode Kind = iota + 1
	KindRelationship
	KindScalar
)

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindRelationship:
		return "relationship"
	case KindScalar:
		return "scalar"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Var is a named query variable allocated by a Binder.
type Var struct {
	name  string
	kind  Kind
	owner *Binder
}

// Name returns the variable name used in the statement.
func (v *Var) Name() string { return v.name }

// Kind returns the declared kind.
func (v *Var) Kind() Kind { return v.kind }

// Prop references a property of the variable with no expected type.
// A trailing "!" selects the existence-qualified form (v.name!).
func (v *Var) Prop(name string) PropertyExpr {
	return PropertyExpr{Var: v, Name: name}
}

// ID references the variable's identity, rendered id(v).
func (v *Var) ID() IdentityExpr {
	return IdentityExpr{Var: v}
}

// Set assigns a property in the SET clause.
func (v *Var) Set(prop string, value any) SetItem {
	return SetItem{Var: v, Prop: prop, Value: value}
}

// NodeVar is a variable bound to a node.
type NodeVar struct{ Var }

// RelVar is a variable bound to a relationship.
type RelVar struct{ Var }

// Entity is a node or relationship variable.
type Entity interface {
	entityVar() *Var
}

func (v *NodeVar) entityVar() *Var {
	if v == nil {
		return nil
	}
	return &v.Var
}

func (v *RelVar) entityVar() *Var {
	if v == nil {
		return nil
	}
	return &v.Var
}

func varOf(e Entity) *Var {
	if e == nil {
		return nil
	}
	return e.entityVar()
}
