package cypher

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

// Slot describes one variable of a Shape.
type Slot struct {
	Name string
	Kind Kind
}

// NodeSlot declares a node variable.
func NodeSlot(name string) Slot { return Slot{Name: name, Kind: KindNode} }

// RelSlot declares a relationship variable.
func RelSlot(name string) Slot { return Slot{Name: name, Kind: KindRelationship} }

// Shape is an ordered set of variable declarations bound in one step.
type Shape []Slot

// Binder allocates the variables of one query context. Names are unique
// within a Binder and every Var remembers the Binder that owns it.
type Binder struct {
	vars   []*Var
	byName map[string]*Var
}

// NewBinder returns an empty query context.
func NewBinder() *Binder {
	return &Binder{byName: make(map[string]*Var)}
}

// Node allocates a node variable.
func (b *Binder) Node(name string) (*NodeVar, error) {
	if err := b.check(name); err != nil {
		return nil, err
	}
	v := &NodeVar{Var{name: name, kind: KindNode, owner: b}}
	b.add(&v.Var)
	return v, nil
}

// Rel allocates a relationship variable.
func (b *Binder) Rel(name string) (*RelVar, error) {
	if err := b.check(name); err != nil {
		return nil, err
	}
	v := &RelVar{Var{name: name, kind: KindRelationship, owner: b}}
	b.add(&v.Var)
	return v, nil
}

// Bind allocates every slot of shape, in order. Either all variables are
// allocated or none are.
func (b *Binder) Bind(shape Shape) ([]Entity, error) {
	seen := make(map[string]bool, len(shape))
	for _, s := range shape {
		if err := b.check(s.Name); err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, declErr("variable", "name %q declared twice", s.Name)
		}
		if s.Kind != KindNode && s.Kind != KindRelationship {
			return nil, declErr("variable", "%q has unsupported kind %s", s.Name, s.Kind)
		}
		seen[s.Name] = true
	}

	out := make([]Entity, 0, len(shape))
	for _, s := range shape {
		if s.Kind == KindNode {
			v, _ := b.Node(s.Name)
			out = append(out, v)
		} else {
			v, _ := b.Rel(s.Name)
			out = append(out, v)
		}
	}
	return out, nil
}

// Lookup returns the variable with the given name.
func (b *Binder) Lookup(name string) (*Var, bool) {
	v, ok := b.byName[name]
	return v, ok
}

// Vars returns the variables in allocation order.
func (b *Binder) Vars() []*Var {
	out := make([]*Var, len(b.vars))
	copy(out, b.vars)
	return out
}

func (b *Binder) owns(v *Var) bool {
	return v != nil && v.owner == b
}

func (b *Binder) add(v *Var) {
	b.vars = append(b.vars, v)
	b.byName[v.name] = v
}

func (b *Binder) check(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if _, exists := b.byName[name]; exists {
		return declErr("variable", "name %q already bound", name)
	}
	return nil
}

// validName accepts plain identifiers. "__" is reserved for the generated
// id and type column suffixes.
func validName(name string) error {
	if name == "" {
		return declErr("variable", "empty name")
	}
	if strings.Contains(name, "__") {
		return declErr("variable", "name %q contains reserved separator \"__\"", name)
	}
	if !isIdentifier(name) {
		return declErr("variable", "name %q is not an identifier", name)
	}
	return nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && unicode.IsDigit(r):
		default:
			return false
		}
	}
	return true
}

// Bind allocates one variable per exported field of struct T and returns a
// populated *T. Fields must be *NodeVar or *RelVar; the variable name comes
// from the `cypher` tag, falling back to the lowerCamel field name. A tag of
// "-" skips the field.
//
//	type vars struct {
//		Actor   *cypher.NodeVar
//		Movie   *cypher.NodeVar
//		ActedIn *cypher.RelVar `cypher:"actedIn"`
//	}
//	v, err := cypher.Bind[vars](b)
func Bind[T any](b *Binder) (*T, error) {
	out := new(T)
	rv := reflect.ValueOf(out).Elem()
	if rv.Kind() != reflect.Struct {
		return nil, declErr("variable", "cannot bind into %T: not a struct", *out)
	}

	nodeType := reflect.TypeOf((*NodeVar)(nil))
	relType := reflect.TypeOf((*RelVar)(nil))

	var shape Shape
	var fields []int
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Tag.Get("cypher")
		if name == "-" {
			continue
		}
		if name == "" {
			name = lowerCamel(field.Name)
		}
		switch field.Type {
		case nodeType:
			shape = append(shape, NodeSlot(name))
		case relType:
			shape = append(shape, RelSlot(name))
		default:
			return nil, declErr("variable", "field %s has type %s, want *cypher.NodeVar or *cypher.RelVar", field.Name, field.Type)
		}
		fields = append(fields, i)
	}

	vars, err := b.Bind(shape)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", rt.Name(), err)
	}
	for i, idx := range fields {
		rv.Field(idx).Set(reflect.ValueOf(vars[i]))
	}
	return out, nil
}

// lowerCamel lowers the leading upper-case run: ActedIn -> actedIn,
// URLPath -> urlPath, ID -> id.
func lowerCamel(s string) string {
	runes := []rune(s)
	n := 0
	for n < len(runes) && unicode.IsUpper(runes[n]) {
		n++
	}
	switch {
	case n == 0:
		return s
	case n == 1 || n == len(runes):
		// single capital or all caps
	default:
		// keep the last capital when it starts the next word
		if unicode.IsLower(runes[n]) {
			n--
		}
	}
	for i := 0; i < n; i++ {
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}
