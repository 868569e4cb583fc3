package cypher

// Generated column suffixes for entity projections.
const (
	IDSuffix   = "__Id"
	TypeSuffix = "__Type"
)

// Projection is one RETURN item. Node and relationship variables, property
// and identity expressions and aggregates are projections; As renames one.
type Projection interface {
	projected() projected
}

type projected struct {
	alias  string
	entity *Var
	expr   Expr
	typ    ValueType
	err    error
}

func (p projected) kind() Kind {
	if p.entity != nil {
		return p.entity.kind
	}
	return KindScalar
}

func (v *NodeVar) projected() projected { return entityProjection(v.entityVar()) }
func (v *RelVar) projected() projected  { return entityProjection(v.entityVar()) }

func entityProjection(v *Var) projected {
	if v == nil {
		return projected{err: declErr("RETURN", "nil variable")}
	}
	return projected{alias: v.name, entity: v}
}

func (p PropertyExpr) projected() projected {
	return projected{alias: p.base(), expr: p, typ: p.Type}
}

func (i IdentityExpr) projected() projected {
	if i.Var == nil {
		return projected{err: declErr("RETURN", "identity of nil variable")}
	}
	return projected{alias: "id_" + i.Var.name, expr: i, typ: TypeInteger}
}

func (a AggregateExpr) projected() projected {
	if a.err != nil {
		return projected{err: a.err}
	}
	alias := a.Func
	switch {
	case a.Entity != nil:
		alias += "_" + a.Entity.name
	case a.Arg != nil:
		if p, ok := a.Arg.(PropertyExpr); ok {
			alias += "_" + p.base()
		}
	}
	return projected{alias: alias, expr: a, typ: a.resultType()}
}

type aliased struct {
	alias string
	item  Projection
}

func (a aliased) projected() projected {
	if a.item == nil {
		return projected{alias: a.alias, err: declErr("RETURN", "nil projection for alias %q", a.alias)}
	}
	p := a.item.projected()
	p.alias = a.alias
	return p
}

// As returns item under the given column alias.
//
//	cypher.As("NewNode", n)   // n as NewNode, id(n) as NewNode__Id
func As(alias string, item Projection) Projection {
	return aliased{alias: alias, item: item}
}

// Column describes one logical result column. Entity columns span several
// physical columns; Names lists them.
type Column struct {
	Alias string
	Kind  Kind
	Type  ValueType
}

// Names returns the physical column names produced for c.
func (c Column) Names() []string {
	switch c.Kind {
	case KindNode:
		return []string{c.Alias, c.Alias + IDSuffix}
	case KindRelationship:
		return []string{c.Alias, c.Alias + IDSuffix, c.Alias + TypeSuffix}
	default:
		return []string{c.Alias}
	}
}

func writeProjection(w writer, p projected) error {
	if p.entity != nil {
		v := p.entity.name
		w.text(v + " as " + p.alias + ", id(" + v + ") as " + p.alias + IDSuffix)
		if p.entity.kind == KindRelationship {
			w.text(", type(" + v + ") as " + p.alias + TypeSuffix)
		}
		return nil
	}
	ew := exprWriter{w: w, clause: "RETURN", aggregates: true}
	if err := ew.write(p.expr); err != nil {
		return err
	}
	w.text(" as " + p.alias)
	return nil
}

// OrderKey is one ORDER BY key.
type OrderKey struct {
	Expr Expr
	Desc bool
}

// Orderable is accepted by OrderBy: an OrderKey, or a property, identity or
// aggregate expression sorted ascending.
type Orderable interface {
	orderKey() OrderKey
}

func (k OrderKey) orderKey() OrderKey      { return k }
func (p PropertyExpr) orderKey() OrderKey  { return OrderKey{Expr: p} }
func (i IdentityExpr) orderKey() OrderKey  { return OrderKey{Expr: i} }
func (a AggregateExpr) orderKey() OrderKey { return OrderKey{Expr: a} }

// Asc sorts ascending.
func Asc(e Expr) OrderKey { return OrderKey{Expr: e} }

// Desc sorts descending.
func Desc(e Expr) OrderKey { return OrderKey{Expr: e, Desc: true} }

func writeOrderKey(w writer, k OrderKey) error {
	ew := exprWriter{w: w, clause: "ORDER BY", aggregates: true}
	if k.Expr != nil && k.Expr.ExprKind() == ExprLiteral {
		return compileErr("ORDER BY", ErrUnsupportedExpression)
	}
	if err := ew.write(k.Expr); err != nil {
		return err
	}
	if k.Desc {
		w.text(" DESC")
	}
	return nil
}
