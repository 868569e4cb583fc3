package cypher

// CreateSpec is one element of a CREATE clause.
type CreateSpec interface {
	writeCreate(w writer) error
	validateCreate(d *Declaration) error
}

// RelCreate creates a relationship between two bound nodes.
type RelCreate struct {
	From  *Var
	To    *Var
	Rel   *Var
	Type  string
	Props Props
}

// Relationship declares (from)-[rel:relType]->(to). rel may be nil when the
// created relationship is not returned.
func Relationship(from *NodeVar, rel *RelVar, relType string, to *NodeVar) RelCreate {
	return RelCreate{From: from.entityVar(), Rel: rel.entityVar(), Type: relType, To: to.entityVar()}
}

// WithProps attaches properties to the created relationship.
func (c RelCreate) WithProps(p Props) RelCreate {
	c.Props = p
	return c
}

func (c RelCreate) validateCreate(d *Declaration) error {
	if c.Type == "" {
		return declErr("CREATE", "relationship type is required")
	}
	for _, end := range []*Var{c.From, c.To} {
		if end == nil {
			return declErr("CREATE", "relationship endpoints are required")
		}
		if !d.binder.owns(end) {
			return declErr("CREATE", "node %q belongs to another query context", end.name)
		}
		if !d.bound[end] {
			return declErr("CREATE", "endpoint %q is not bound by START, MATCH or an earlier CREATE", end.name)
		}
		if end.kind != KindNode {
			return declErr("CREATE", "endpoint %q is not a node variable", end.name)
		}
	}
	if c.Rel != nil {
		if !d.binder.owns(c.Rel) {
			return declErr("CREATE", "relationship %q belongs to another query context", c.Rel.name)
		}
		if d.bound[c.Rel] {
			return declErr("CREATE", "relationship %q is already bound", c.Rel.name)
		}
		d.bound[c.Rel] = true
	}
	return nil
}

func (c RelCreate) writeCreate(w writer) error {
	w.text("(" + c.From.name + ")-[")
	if c.Rel != nil {
		w.text(c.Rel.name)
	}
	w.text(":" + identifier(c.Type))
	if len(c.Props) > 0 {
		w.text(" ")
		if err := writeProps(w, c.Props); err != nil {
			return err
		}
	}
	w.text("]->(" + c.To.name + ")")
	return nil
}

// NodeCreate creates a node.
type NodeCreate struct {
	Var    *Var
	Labels []string
	Props  Props
}

// NewNode declares (v:labels {props}).
func NewNode(v *NodeVar, props Props, labels ...string) NodeCreate {
	return NodeCreate{Var: v.entityVar(), Props: props, Labels: labels}
}

func (c NodeCreate) validateCreate(d *Declaration) error {
	if c.Var == nil {
		return declErr("CREATE", "created node needs a variable")
	}
	if !d.binder.owns(c.Var) {
		return declErr("CREATE", "node %q belongs to another query context", c.Var.name)
	}
	if d.bound[c.Var] {
		return declErr("CREATE", "node %q is already bound", c.Var.name)
	}
	for _, l := range c.Labels {
		if l == "" {
			return declErr("CREATE", "empty label")
		}
	}
	d.bound[c.Var] = true
	return nil
}

func (c NodeCreate) writeCreate(w writer) error {
	w.text("(" + c.Var.name)
	for _, l := range c.Labels {
		w.text(":" + identifier(l))
	}
	if len(c.Props) > 0 {
		w.text(" ")
		if err := writeProps(w, c.Props); err != nil {
			return err
		}
	}
	w.text(")")
	return nil
}

// SetItem assigns Var.Prop = Value.
type SetItem struct {
	Var   *Var
	Prop  string
	Value any
}

func (s SetItem) write(w writer) error {
	w.text(s.Var.name + "." + identifier(s.Prop) + " = ")
	return w.slot(styleJSON, s.Value)
}
