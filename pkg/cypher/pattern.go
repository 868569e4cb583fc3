package cypher

import (
	"strconv"
	"strings"
)

// StartPoint binds a variable to explicit ids, or to every entity.
type StartPoint struct {
	Var *Var
	IDs []int64
	All bool
}

// Starts is an ordered list of start bindings.
type Starts []StartPoint

// At binds v to the given ids: START v=node(1, 2).
func At(v Entity, ids ...int64) Starts {
	return Starts{{Var: varOf(v), IDs: append([]int64(nil), ids...)}}
}

// AnyOf binds v to every entity: START v=node(*).
func AnyOf(v Entity) Starts {
	return Starts{{Var: varOf(v), All: true}}
}

// At appends a binding.
func (s Starts) At(v Entity, ids ...int64) Starts {
	return append(append(Starts(nil), s...), At(v, ids...)...)
}

// AnyOf appends a wildcard binding.
func (s Starts) AnyOf(v Entity) Starts {
	return append(append(Starts(nil), s...), AnyOf(v)...)
}

func writeStart(w writer, p StartPoint) error {
	fn := "node"
	if p.Var.kind == KindRelationship {
		fn = "relationship"
	}
	w.text(p.Var.name + "=" + fn + "(")
	if p.All {
		w.text("*")
	} else if err := w.slot(styleIDList, p.IDs); err != nil {
		return err
	}
	w.text(")")
	return nil
}

// Direction of a relationship hop relative to the preceding node.
type Direction int

const (
	Outgoing Direction = iota + 1
	Incoming
	Either
)

// NodeRef is a node position in a path: a bound variable, or an anonymous
// node, with optional label constraints.
type NodeRef struct {
	Var    *Var
	Labels []string
}

// N references a node variable. A nil variable renders an anonymous node.
func N(v *NodeVar, labels ...string) NodeRef {
	return NodeRef{Var: v.entityVar(), Labels: labels}
}

// Anon references an anonymous node.
func Anon(labels ...string) NodeRef {
	return NodeRef{Labels: labels}
}

func (n NodeRef) render() string {
	var sb strings.Builder
	sb.WriteByte('(')
	if n.Var != nil {
		sb.WriteString(n.Var.name)
	}
	for _, l := range n.Labels {
		sb.WriteByte(':')
		sb.WriteString(identifier(l))
	}
	sb.WriteByte(')')
	return sb.String()
}

// RelSpec describes one relationship hop of a path.
type RelSpec struct {
	Var     *Var
	Types   []string
	MinHops int
	MaxHops int
	// Ranged marks a variable-length hop; Unbounded drops the upper bound.
	Ranged    bool
	Unbounded bool
}

// Rel matches relationships of any of the given types.
func Rel(types ...string) RelSpec {
	return RelSpec{Types: types}
}

// As binds the relationship to v.
func (r RelSpec) As(v *RelVar) RelSpec {
	r.Var = v.entityVar()
	return r
}

// Hops matches paths of min to max relationships.
func (r RelSpec) Hops(min, max int) RelSpec {
	r.MinHops, r.MaxHops = min, max
	r.Ranged, r.Unbounded = true, false
	return r
}

// AtLeast matches paths of at least min relationships.
func (r RelSpec) AtLeast(min int) RelSpec {
	r.MinHops, r.MaxHops = min, 0
	r.Ranged, r.Unbounded = true, true
	return r
}

func (r RelSpec) hopSuffix() string {
	switch {
	case !r.Ranged:
		return ""
	case r.Unbounded:
		return "*" + strconv.Itoa(r.MinHops) + ".."
	case r.MaxHops > r.MinHops:
		return "*" + strconv.Itoa(r.MinHops) + ".." + strconv.Itoa(r.MaxHops)
	case r.MinHops == 1:
		return ""
	default:
		return "*" + strconv.Itoa(r.MinHops)
	}
}

func (r RelSpec) render(dir Direction) string {
	var inner strings.Builder
	if r.Var != nil {
		inner.WriteString(r.Var.name)
	}
	for i, t := range r.Types {
		if i == 0 {
			inner.WriteByte(':')
		} else {
			inner.WriteByte('|')
		}
		inner.WriteString(identifier(t))
	}
	inner.WriteString(r.hopSuffix())

	left, right := "-", "-"
	switch dir {
	case Outgoing:
		right = "->"
	case Incoming:
		left = "<-"
	}
	if inner.Len() == 0 {
		return left + right
	}
	return left + "[" + inner.String() + "]" + right
}

// Segment is one hop and the node it reaches.
type Segment struct {
	Dir Direction
	Rel RelSpec
	To  NodeRef
}

// PathSpec is a node followed by zero or more hops.
type PathSpec struct {
	Start    NodeRef
	Segments []Segment
}

// Path starts a path at n.
func Path(n NodeRef) PathSpec {
	return PathSpec{Start: n}
}

// Out appends an outgoing hop: (prev)-[rel]->(to).
func (p PathSpec) Out(r RelSpec, to NodeRef) PathSpec { return p.hop(Outgoing, r, to) }

// In appends an incoming hop: (prev)<-[rel]-(to).
func (p PathSpec) In(r RelSpec, to NodeRef) PathSpec { return p.hop(Incoming, r, to) }

// Both appends an undirected hop: (prev)-[rel]-(to).
func (p PathSpec) Both(r RelSpec, to NodeRef) PathSpec { return p.hop(Either, r, to) }

func (p PathSpec) hop(dir Direction, r RelSpec, to NodeRef) PathSpec {
	segs := make([]Segment, len(p.Segments), len(p.Segments)+1)
	copy(segs, p.Segments)
	p.Segments = append(segs, Segment{Dir: dir, Rel: r, To: to})
	return p
}

// End returns the last node of the path.
func (p PathSpec) End() NodeRef {
	if len(p.Segments) == 0 {
		return p.Start
	}
	return p.Segments[len(p.Segments)-1].To
}

// vars returns the named variables of the path in order.
func (p PathSpec) vars() []*Var {
	var out []*Var
	if p.Start.Var != nil {
		out = append(out, p.Start.Var)
	}
	for _, s := range p.Segments {
		if s.Rel.Var != nil {
			out = append(out, s.Rel.Var)
		}
		if s.To.Var != nil {
			out = append(out, s.To.Var)
		}
	}
	return out
}

func (p PathSpec) validate(b *Binder) error {
	nodes := make([]NodeRef, 0, len(p.Segments)+1)
	nodes = append(nodes, p.Start)
	for _, s := range p.Segments {
		nodes = append(nodes, s.To)
	}
	for _, n := range nodes {
		if n.Var == nil {
			continue
		}
		if !b.owns(n.Var) {
			return declErr("MATCH", "node %q belongs to another query context", n.Var.name)
		}
		if n.Var.kind != KindNode {
			return declErr("MATCH", "%q is not a node variable", n.Var.name)
		}
	}
	for _, n := range nodes {
		for _, l := range n.Labels {
			if l == "" {
				return declErr("MATCH", "empty label")
			}
		}
	}
	for _, s := range p.Segments {
		r := s.Rel
		if r.Var != nil && !b.owns(r.Var) {
			return declErr("MATCH", "relationship %q belongs to another query context", r.Var.name)
		}
		for _, t := range r.Types {
			if t == "" {
				return declErr("MATCH", "empty relationship type")
			}
		}
		if r.Ranged {
			if r.MinHops < 0 {
				return declErr("MATCH", "negative hop count %d", r.MinHops)
			}
			if !r.Unbounded && r.MaxHops < r.MinHops {
				return declErr("MATCH", "hop range %d..%d is empty", r.MinHops, r.MaxHops)
			}
		}
		if s.Dir != Outgoing && s.Dir != Incoming && s.Dir != Either {
			return declErr("MATCH", "unknown direction %d", s.Dir)
		}
	}
	return nil
}

// writePaths renders a MATCH pattern list. A path whose start is the bare
// end variable of the preceding path continues it instead of starting a new
// comma-separated pattern.
func writePaths(w writer, paths []PathSpec) {
	var last NodeRef
	for i, p := range paths {
		continues := i > 0 && last.Var != nil && p.Start.Var == last.Var && len(p.Start.Labels) == 0
		if !continues {
			if i > 0 {
				w.text(", ")
			}
			w.text(p.Start.render())
		}
		for _, s := range p.Segments {
			w.text(s.Rel.render(s.Dir) + s.To.render())
		}
		last = p.End()
	}
}
