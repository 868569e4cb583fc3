package graph

import (
	"fmt"
	"sort"
)

// Properties maps property names to values.
type Properties map[string]Value

// PropertiesOf converts a decoded property map.
func PropertiesOf(raw map[string]any) (Properties, error) {
	props := make(Properties, len(raw))
	for k, v := range raw {
		val, err := ValueOf(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		props[k] = val
	}
	return props, nil
}

// Get returns the named value.
func (p Properties) Get(name string) (Value, bool) {
	v, ok := p[name]
	return v, ok
}

func (p Properties) lookup(name string) (Value, error) {
	v, ok := p[name]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrPropertyNotFound, name)
	}
	return v, nil
}

// String returns a string property.
func (p Properties) String(name string) (string, error) {
	v, err := p.lookup(name)
	if err != nil {
		return "", err
	}
	s, err := v.AsString()
	if err != nil {
		return "", fmt.Errorf("property %q: %w", name, err)
	}
	return s, nil
}

// Int returns an integer property.
func (p Properties) Int(name string) (int64, error) {
	v, err := p.lookup(name)
	if err != nil {
		return 0, err
	}
	i, err := v.AsInt()
	if err != nil {
		return 0, fmt.Errorf("property %q: %w", name, err)
	}
	return i, nil
}

// Float returns a numeric property.
func (p Properties) Float(name string) (float64, error) {
	v, err := p.lookup(name)
	if err != nil {
		return 0, err
	}
	f, err := v.AsFloat()
	if err != nil {
		return 0, fmt.Errorf("property %q: %w", name, err)
	}
	return f, nil
}

// Bool returns a boolean property.
func (p Properties) Bool(name string) (bool, error) {
	v, err := p.lookup(name)
	if err != nil {
		return false, err
	}
	b, err := v.AsBool()
	if err != nil {
		return false, fmt.Errorf("property %q: %w", name, err)
	}
	return b, nil
}

// Keys returns the property names in sorted order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns an independent copy.
func (p Properties) Clone() Properties {
	if p == nil {
		return Properties{}
	}
	cp := make(Properties, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}

// Get converts the named property to T with a checked conversion.
// T may be string, int, int64, float64, bool or Value.
func Get[T any](p Properties, name string) (T, error) {
	var zero T
	var out any
	var err error

	switch any(zero).(type) {
	case string:
		out, err = p.String(name)
	case int64:
		out, err = p.Int(name)
	case int:
		var i int64
		i, err = p.Int(name)
		out = int(i)
	case float64:
		out, err = p.Float(name)
	case bool:
		out, err = p.Bool(name)
	case Value:
		out, err = p.lookup(name)
	default:
		return zero, fmt.Errorf("%w: cannot read property into %T", ErrTypeMismatch, zero)
	}
	if err != nil {
		return zero, err
	}
	return out.(T), nil
}

// Node is a graph node returned by a query.
type Node struct {
	ID         int64      `json:"id"`
	Labels     []string   `json:"labels,omitempty"`
	Properties Properties `json:"properties"`
}

// HasLabel reports whether the node carries label.
func (n *Node) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (n Node) Clone() Node {
	labels := make([]string, len(n.Labels))
	copy(labels, n.Labels)
	return Node{ID: n.ID, Labels: labels, Properties: n.Properties.Clone()}
}

// Relationship is a graph relationship returned by a query.
type Relationship struct {
	ID         int64      `json:"id"`
	Type       string     `json:"type"`
	StartID    int64      `json:"start_id,omitempty"`
	EndID      int64      `json:"end_id,omitempty"`
	Properties Properties `json:"properties"`
}

// Clone returns a deep copy.
func (r Relationship) Clone() Relationship {
	cp := r
	cp.Properties = r.Properties.Clone()
	return cp
}
