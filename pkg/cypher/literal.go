package cypher

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/orneryd/fluentcypher/pkg/graph"
)

// ValueType is the expected scalar type of a property or column.
type ValueType int

const (
	TypeAny ValueType = iota
	TypeString
	TypeInteger
	TypeFloat
	TypeBoolean
	TypeList
	TypeNull
)

func (t ValueType) String() string {
	switch t {
	case TypeAny:
		return "any"
	case TypeString:
		return "string"
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeBoolean:
		return "boolean"
	case TypeList:
		return "list"
	case TypeNull:
		return "null"
	default:
		return "type(" + strconv.Itoa(int(t)) + ")"
	}
}

// accepts reports whether a literal of type lit may be compared with or
// assigned to a value of type t. Null is accepted everywhere and integers
// widen to float.
func (t ValueType) accepts(lit ValueType) bool {
	switch {
	case t == TypeAny, lit == TypeAny, lit == TypeNull:
		return true
	case t == TypeFloat && lit == TypeInteger:
		return true
	default:
		return t == lit
	}
}

// typeFor maps a Go type to the ValueType it carries.
func typeFor(rt reflect.Type) ValueType {
	if rt == nil {
		return TypeAny
	}
	if rt == reflect.TypeOf(time.Time{}) {
		return TypeString
	}
	switch rt.Kind() {
	case reflect.String:
		return TypeString
	case reflect.Bool:
		return TypeBoolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeInteger
	case reflect.Float32, reflect.Float64:
		return TypeFloat
	case reflect.Slice, reflect.Array:
		return TypeList
	case reflect.Pointer:
		return typeFor(rt.Elem())
	default:
		return TypeAny
	}
}

// literalType classifies a literal value.
func literalType(v any) ValueType {
	switch x := v.(type) {
	case nil:
		return TypeNull
	case graph.Value:
		switch x.Kind() {
		case graph.KindString:
			return TypeString
		case graph.KindInteger:
			return TypeInteger
		case graph.KindFloat:
			return TypeFloat
		case graph.KindBoolean:
			return TypeBoolean
		case graph.KindList:
			return TypeList
		default:
			return TypeNull
		}
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return TypeInteger
		}
		return TypeFloat
	}
	return typeFor(reflect.TypeOf(v))
}

// literalStyle selects how a literal slot is rendered.
type literalStyle int

const (
	// stylePredicate renders strings single-quoted, as in WHERE clauses.
	stylePredicate literalStyle = iota
	// styleJSON renders strings double-quoted, as in SET values and
	// property maps.
	styleJSON
	// styleIDList renders a comma-separated list of entity ids.
	styleIDList
	// styleCount renders a non-negative integer for SKIP and LIMIT.
	styleCount
)

func (s literalStyle) String() string {
	switch s {
	case stylePredicate:
		return "predicate"
	case styleJSON:
		return "json"
	case styleIDList:
		return "ids"
	case styleCount:
		return "count"
	default:
		return "style(" + strconv.Itoa(int(s)) + ")"
	}
}

// formatLiteral renders v in the given style.
func formatLiteral(style literalStyle, v any) (string, error) {
	switch style {
	case styleIDList:
		ids, ok := v.([]int64)
		if !ok {
			return "", fmt.Errorf("%w: id list %T", ErrUnsupportedLiteral, v)
		}
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = strconv.FormatInt(id, 10)
		}
		return strings.Join(parts, ", "), nil
	case styleCount:
		n, ok := v.(int64)
		if !ok || n < 0 {
			return "", fmt.Errorf("%w: count %v", ErrUnsupportedLiteral, v)
		}
		return strconv.FormatInt(n, 10), nil
	}
	return formatValue(style, v)
}

func formatValue(style literalStyle, v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "null", nil
	case graph.Value:
		return formatValue(style, x.Interface())
	case string:
		return quoteString(style, x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.FormatInt(int64(x), 10), nil
	case int8:
		return strconv.FormatInt(int64(x), 10), nil
	case int16:
		return strconv.FormatInt(int64(x), 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		if x > math.MaxInt64 {
			return "", fmt.Errorf("%w: %d overflows int64", ErrUnsupportedLiteral, x)
		}
		return strconv.FormatUint(x, 10), nil
	case float32:
		return formatFloat(float64(x))
	case float64:
		return formatFloat(x)
	case json.Number:
		if _, err := x.Float64(); err != nil {
			return "", fmt.Errorf("%w: number %q", ErrUnsupportedLiteral, x.String())
		}
		return x.String(), nil
	case time.Time:
		return quoteString(style, x.Format(time.RFC3339Nano)), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return "", fmt.Errorf("%w: byte slice", ErrUnsupportedLiteral)
		}
		parts := make([]string, rv.Len())
		for i := range parts {
			s, err := formatValue(style, rv.Index(i).Interface())
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case reflect.Pointer:
		if rv.IsNil() {
			return "null", nil
		}
		return formatValue(style, rv.Elem().Interface())
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupportedLiteral, v)
}

func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedLiteral, f)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s, nil
}

func quoteString(style literalStyle, s string) string {
	if style == styleJSON {
		data, _ := json.Marshal(s)
		return string(data)
	}
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '\'':
			sb.WriteString(`\'`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('\'')
	return sb.String()
}

// identifier renders a label, type or property name, backtick-quoting it
// when it is not a plain identifier.
func identifier(name string) string {
	if isIdentifier(name) {
		return name
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Props is a property map rendered as {"key": value} with sorted keys.
type Props map[string]any

func (p Props) keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeProps(w writer, p Props) error {
	w.text("{")
	for i, k := range p.keys() {
		if i > 0 {
			w.text(", ")
		}
		w.text(quoteString(styleJSON, k) + ": ")
		if err := w.slot(styleJSON, p[k]); err != nil {
			return err
		}
	}
	w.text("}")
	return nil
}
