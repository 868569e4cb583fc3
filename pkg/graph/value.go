// Package graph holds the entity types materialised from query results.
//
// Property values are carried as a tagged scalar union (Value) so that every
// conversion to a Go type is checked. Accessors fail with ErrTypeMismatch
// instead of coercing silently:
//
//	name, err := node.Properties.String("name")
//	age, err := graph.Get[int64](node.Properties, "age")
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Errors returned by value conversion and property access.
var (
	ErrTypeMismatch     = errors.New("type mismatch")
	ErrPropertyNotFound = errors.New("property not found")
	ErrUnsupportedValue = errors.New("unsupported property value")
)

// ValueKind is the semantic type tag of a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindInteger
	KindFloat
	KindBoolean
	KindList
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBoolean:
		return "boolean"
	case KindList:
		return "list"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is an immutable property value.
type Value struct {
	kind ValueKind
	s    string
	i    int64
	f    float64
	b    bool
	list []Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// StringValue wraps s.
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// IntegerValue wraps i.
func IntegerValue(i int64) Value { return Value{kind: KindInteger, i: i} }

// FloatValue wraps f.
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

// BoolValue wraps b.
func BoolValue(b bool) Value { return Value{kind: KindBoolean, b: b} }

// ListValue wraps the given elements. The slice is copied.
func ListValue(elems ...Value) Value {
	cp := make([]Value, len(elems))
	copy(cp, elems)
	return Value{kind: KindList, list: cp}
}

// ValueOf converts a decoded wire value into a Value.
// Supported inputs are nil, strings, bools, every Go integer and float type,
// json.Number, time.Time (stored as an RFC 3339 string) and slices of those.
func ValueOf(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case string:
		return StringValue(x), nil
	case bool:
		return BoolValue(x), nil
	case int:
		return IntegerValue(int64(x)), nil
	case int8:
		return IntegerValue(int64(x)), nil
	case int16:
		return IntegerValue(int64(x)), nil
	case int32:
		return IntegerValue(int64(x)), nil
	case int64:
		return IntegerValue(x), nil
	case uint8:
		return IntegerValue(int64(x)), nil
	case uint16:
		return IntegerValue(int64(x)), nil
	case uint32:
		return IntegerValue(int64(x)), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return Value{}, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, x)
		}
		return IntegerValue(int64(x)), nil
	case uint64:
		if x > math.MaxInt64 {
			return Value{}, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, x)
		}
		return IntegerValue(int64(x)), nil
	case float32:
		return FloatValue(float64(x)), nil
	case float64:
		return FloatValue(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return IntegerValue(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q", ErrUnsupportedValue, x.String())
		}
		return FloatValue(f), nil
	case time.Time:
		return StringValue(x.Format(time.RFC3339Nano)), nil
	case []any:
		elems := make([]Value, 0, len(x))
		for _, e := range x {
			ev, err := ValueOf(e)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, ev)
		}
		return Value{kind: KindList, list: elems}, nil
	}

	// Typed slices such as []string or []float64.
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		elems := make([]Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			ev, err := ValueOf(rv.Index(i).Interface())
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, ev)
		}
		return Value{kind: KindList, list: elems}, nil
	}

	return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

// Kind reports the type tag.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) mismatch(want ValueKind) error {
	return fmt.Errorf("%w: have %s, want %s", ErrTypeMismatch, v.kind, want)
}

// AsString returns the string payload.
func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", v.mismatch(KindString)
	}
	return v.s, nil
}

// AsInt returns the integer payload. Floats are rejected.
func (v Value) AsInt() (int64, error) {
	if v.kind != KindInteger {
		return 0, v.mismatch(KindInteger)
	}
	return v.i, nil
}

// AsFloat returns the numeric payload. Integers widen to float64.
func (v Value) AsFloat() (float64, error) {
	switch v.kind {
	case KindFloat:
		return v.f, nil
	case KindInteger:
		return float64(v.i), nil
	default:
		return 0, v.mismatch(KindFloat)
	}
}

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, error) {
	if v.kind != KindBoolean {
		return false, v.mismatch(KindBoolean)
	}
	return v.b, nil
}

// AsList returns a copy of the list elements.
func (v Value) AsList() ([]Value, error) {
	if v.kind != KindList {
		return nil, v.mismatch(KindList)
	}
	cp := make([]Value, len(v.list))
	copy(cp, v.list)
	return cp, nil
}

// Interface returns the payload as a plain Go value.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInteger:
		return v.i
	case KindFloat:
		return v.f
	case KindBoolean:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

// Equal reports deep equality of kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindInteger:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindBoolean:
		return v.b == o.b
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return strconv.Quote(v.s)
	case KindList:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(v.Interface())
	}
}

// MarshalJSON encodes the payload.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes any JSON scalar or array.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
