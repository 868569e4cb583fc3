package endpoint

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/orneryd/fluentcypher/pkg/cypher"
	"github.com/orneryd/fluentcypher/pkg/driver"
	"github.com/orneryd/fluentcypher/pkg/graph"
)

// Record is a row keyed by column alias. Entity columns hold graph.Node or
// graph.Relationship values.
type Record map[string]any

var (
	nodeType   = reflect.TypeFor[graph.Node]()
	relType    = reflect.TypeFor[graph.Relationship]()
	recordType = reflect.TypeFor[Record]()
	timeType   = reflect.TypeFor[time.Time]()
	anyType    = reflect.TypeFor[any]()
)

// boundColumn is a logical column with the positions of its physical
// columns in the response.
type boundColumn struct {
	cypher.Column
	value, id, typ int
}

// bindColumns locates every declared column in the response header.
func bindColumns(cols []cypher.Column, names []string) ([]boundColumn, error) {
	pos := make(map[string]int, len(names))
	for i, n := range names {
		pos[n] = i
	}
	out := make([]boundColumn, len(cols))
	for i, c := range cols {
		bc := boundColumn{Column: c, id: -1, typ: -1}
		physical := c.Names()
		idx := make([]int, len(physical))
		for j, name := range physical {
			p, ok := pos[name]
			if !ok {
				return nil, shapeErr(name, "missing from response")
			}
			idx[j] = p
		}
		bc.value = idx[0]
		if len(idx) > 1 {
			bc.id = idx[1]
		}
		if len(idx) > 2 {
			bc.typ = idx[2]
		}
		out[i] = bc
	}
	return out, nil
}

// logicalRow checks the cells of one response row against the declared
// columns and returns one value per logical column.
func logicalRow(cols []boundColumn, row []any) ([]any, error) {
	vals := make([]any, len(cols))
	for i, c := range cols {
		v, err := c.cell(row)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func (c boundColumn) cell(row []any) (any, error) {
	at := func(i int) any {
		if i < 0 || i >= len(row) {
			return nil
		}
		return row[i]
	}
	if c.value >= len(row) {
		return nil, shapeErr(c.Alias, "row has %d cells", len(row))
	}
	raw := at(c.value)

	switch c.Kind {
	case cypher.KindNode, cypher.KindRelationship:
		if raw == nil {
			return nil, nil
		}
		id, err := idCell(c.Alias, at(c.id))
		if err != nil {
			return nil, err
		}
		return entityCell(c, raw, id, at(c.typ))
	default:
		if !cellMatches(c.Type, raw) {
			return nil, shapeErr(c.Alias, "expected %s, got %T", c.Type, raw)
		}
		return raw, nil
	}
}

func idCell(alias string, v any) (int64, error) {
	switch id := v.(type) {
	case nil:
		return -1, nil
	case int64:
		return id, nil
	default:
		return 0, shapeErr(alias+cypher.IDSuffix, "expected integer id, got %T", v)
	}
}

// entityCell builds the entity for an entity column. The id column is
// authoritative. A bare property map is accepted for servers that return
// entities without metadata.
func entityCell(c boundColumn, raw any, id int64, typ any) (any, error) {
	if c.Kind == cypher.KindNode {
		switch v := raw.(type) {
		case graph.Node:
			if id >= 0 {
				v.ID = id
			}
			return v, nil
		case map[string]any:
			props, err := graph.PropertiesOf(v)
			if err != nil {
				return nil, shapeErr(c.Alias, "%v", err)
			}
			return graph.Node{ID: id, Properties: props}, nil
		}
		return nil, shapeErr(c.Alias, "expected node, got %T", raw)
	}

	var rel graph.Relationship
	switch v := raw.(type) {
	case graph.Relationship:
		rel = v
	case map[string]any:
		props, err := graph.PropertiesOf(v)
		if err != nil {
			return nil, shapeErr(c.Alias, "%v", err)
		}
		rel = graph.Relationship{Properties: props}
	default:
		return nil, shapeErr(c.Alias, "expected relationship, got %T", raw)
	}
	if id >= 0 {
		rel.ID = id
	}
	switch t := typ.(type) {
	case nil:
	case string:
		rel.Type = t
	default:
		return nil, shapeErr(c.Alias+cypher.TypeSuffix, "expected string type, got %T", typ)
	}
	return rel, nil
}

// cellMatches reports whether a normalised cell fits the declared type.
func cellMatches(t cypher.ValueType, v any) bool {
	if v == nil {
		return true
	}
	switch t {
	case cypher.TypeString:
		_, ok := v.(string)
		return ok
	case cypher.TypeInteger:
		_, ok := v.(int64)
		return ok
	case cypher.TypeFloat:
		switch v.(type) {
		case float64, int64:
			return true
		}
		return false
	case cypher.TypeBoolean:
		_, ok := v.(bool)
		return ok
	case cypher.TypeList:
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}

// converter turns a logical value into a value of a fixed Go type.
type converter func(v any) (reflect.Value, error)

// rowDecoder turns logical rows into T.
type rowDecoder[T any] func(vals []any) (T, error)

// planRows builds the decoder for T over cols, or reports why T cannot
// hold rows of that projection. Row types are, in order of precedence:
// Record, graph.Node or graph.Relationship (and pointers to them), structs
// and pointers to structs, and any other type for single-column results.
func planRows[T any](cols []cypher.Column) (rowDecoder[T], error) {
	t := reflect.TypeFor[T]()

	switch {
	case t == recordType:
		return func(vals []any) (T, error) {
			rec := make(Record, len(cols))
			for i, c := range cols {
				rec[c.Alias] = cloneEntity(vals[i])
			}
			return any(rec).(T), nil
		}, nil

	case isEntityType(t) || !isStructType(t):
		if len(cols) != 1 {
			return nil, shapeErr("", "%s holds one column, projection has %d", t, len(cols))
		}
		conv, err := converterFor(t, cols[0])
		if err != nil {
			return nil, shapeErr(cols[0].Alias, "%v", err)
		}
		return func(vals []any) (T, error) {
			rv, err := conv(vals[0])
			if err != nil {
				var zero T
				return zero, err
			}
			out, _ := rv.Interface().(T) // a nil interface value stays the zero T
			return out, nil
		}, nil
	}

	st := t
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	fields, err := structFields(st, cols)
	if err != nil {
		return nil, err
	}
	return func(vals []any) (T, error) {
		out := reflect.New(st).Elem()
		for _, f := range fields {
			rv, err := f.conv(vals[f.col])
			if err != nil {
				var zero T
				return zero, fmt.Errorf("field %s: %w", st.Field(f.index).Name, err)
			}
			out.Field(f.index).Set(rv)
		}
		if t.Kind() == reflect.Pointer {
			return out.Addr().Interface().(T), nil
		}
		return out.Interface().(T), nil
	}, nil
}

func isEntityType(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t == nodeType || t == relType
}

func isStructType(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct && t != timeType
}

type fieldPlan struct {
	index int
	col   int
	conv  converter
}

// structFields matches every column to a field by cypher tag, json tag or
// case-insensitive field name.
func structFields(t reflect.Type, cols []cypher.Column) ([]fieldPlan, error) {
	byName := fieldsByName(t)
	plans := make([]fieldPlan, 0, len(cols))
	for ci, c := range cols {
		fi, ok := byName[strings.ToLower(c.Alias)]
		if !ok {
			return nil, shapeErr(c.Alias, "no field of %s matches column", t)
		}
		conv, err := converterFor(t.Field(fi).Type, c)
		if err != nil {
			return nil, shapeErr(c.Alias, "field %s: %v", t.Field(fi).Name, err)
		}
		plans = append(plans, fieldPlan{index: fi, col: ci, conv: conv})
	}
	return plans, nil
}

// fieldsByName maps lower-cased column names to exported field indexes.
func fieldsByName(t reflect.Type) map[string]int {
	out := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Tag.Get("cypher")
		if name == "" {
			name = f.Tag.Get("json")
			if idx := strings.Index(name, ","); idx != -1 {
				name = name[:idx]
			}
		}
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		out[strings.ToLower(name)] = i
	}
	return out
}

func converterFor(t reflect.Type, c cypher.Column) (converter, error) {
	switch c.Kind {
	case cypher.KindNode:
		return entityConverter(t, nodeType)
	case cypher.KindRelationship:
		return entityConverter(t, relType)
	}
	if err := scalarCompatible(t, c.Type); err != nil {
		return nil, err
	}
	return func(v any) (reflect.Value, error) { return convertScalar(t, v) }, nil
}

// entityConverter accepts the entity type itself, a pointer to it, any, or
// a struct whose fields are filled from the entity's properties.
func entityConverter(t, entity reflect.Type) (converter, error) {
	switch {
	case t == entity || t == anyType:
		return func(v any) (reflect.Value, error) {
			if v == nil {
				return reflect.Zero(t), nil
			}
			out := reflect.New(t).Elem()
			out.Set(reflect.ValueOf(cloneEntity(v)))
			return out, nil
		}, nil

	case t.Kind() == reflect.Pointer && t.Elem() == entity:
		return func(v any) (reflect.Value, error) {
			if v == nil {
				return reflect.Zero(t), nil
			}
			p := reflect.New(entity)
			p.Elem().Set(reflect.ValueOf(cloneEntity(v)))
			return p, nil
		}, nil

	case isStructType(t) && !isEntityType(t):
		st := t
		if st.Kind() == reflect.Pointer {
			st = st.Elem()
		}
		byName := fieldsByName(st)
		return func(v any) (reflect.Value, error) {
			if v == nil {
				return reflect.Zero(t), nil
			}
			out := reflect.New(st).Elem()
			for name, val := range entityProps(v) {
				fi, ok := byName[strings.ToLower(name)]
				if !ok {
					continue
				}
				rv, err := convertScalar(st.Field(fi).Type, val.Interface())
				if err != nil {
					return reflect.Value{}, fmt.Errorf("property %s: %w", name, err)
				}
				out.Field(fi).Set(rv)
			}
			if t.Kind() == reflect.Pointer {
				return out.Addr(), nil
			}
			return out, nil
		}, nil
	}
	return nil, fmt.Errorf("%s cannot hold a %s", t, strings.ToLower(entity.Name()))
}

func cloneEntity(v any) any {
	switch e := v.(type) {
	case graph.Node:
		return e.Clone()
	case graph.Relationship:
		return e.Clone()
	default:
		return v
	}
}

func entityProps(v any) graph.Properties {
	switch e := v.(type) {
	case graph.Node:
		return e.Properties
	case graph.Relationship:
		return e.Properties
	default:
		return nil
	}
}

// scalarCompatible rejects Go types that can never hold a column of type
// vt. Untyped columns are checked per cell.
func scalarCompatible(t reflect.Type, vt cypher.ValueType) error {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.Interface {
		if t.NumMethod() == 0 {
			return nil
		}
		return fmt.Errorf("interface %s cannot hold a %s", t, vt)
	}

	ok := true
	switch vt {
	case cypher.TypeString:
		ok = t.Kind() == reflect.String || t == timeType
	case cypher.TypeInteger:
		ok = isInt(t.Kind()) || isUint(t.Kind()) || isFloat(t.Kind())
	case cypher.TypeFloat:
		ok = isFloat(t.Kind())
	case cypher.TypeBoolean:
		ok = t.Kind() == reflect.Bool
	case cypher.TypeList:
		ok = t.Kind() == reflect.Slice
	}
	if !ok {
		return fmt.Errorf("%s cannot hold a %s", t, vt)
	}
	return nil
}

// convertScalar converts a normalised cell to t. Integers narrow only when
// they fit and floats convert to integers only when they are whole.
func convertScalar(t reflect.Type, v any) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	if t.Kind() == reflect.Pointer {
		inner, err := convertScalar(t.Elem(), v)
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(inner)
		return p, nil
	}

	rv := reflect.ValueOf(v)
	if t.Kind() == reflect.Interface {
		if !rv.Type().Implements(t) {
			return reflect.Value{}, fmt.Errorf("cannot convert %T to %s", v, t)
		}
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out, nil
	}

	if t == timeType {
		return convertTime(v)
	}

	out := reflect.New(t).Elem()
	switch k := t.Kind(); {
	case k == reflect.String:
		if s, ok := v.(string); ok {
			out.SetString(s)
			return out, nil
		}
	case k == reflect.Bool:
		if b, ok := v.(bool); ok {
			out.SetBool(b)
			return out, nil
		}
	case isInt(k):
		if i, ok := wholeNumber(v); ok && !out.OverflowInt(i) {
			out.SetInt(i)
			return out, nil
		}
	case isUint(k):
		if i, ok := wholeNumber(v); ok && i >= 0 && !out.OverflowUint(uint64(i)) {
			out.SetUint(uint64(i))
			return out, nil
		}
	case isFloat(k):
		switch n := v.(type) {
		case float64:
			out.SetFloat(n)
			return out, nil
		case int64:
			out.SetFloat(float64(n))
			return out, nil
		}
	case k == reflect.Slice:
		if list, ok := v.([]any); ok {
			s := reflect.MakeSlice(t, len(list), len(list))
			for i, e := range list {
				ev, err := convertScalar(t.Elem(), e)
				if err != nil {
					return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
				}
				s.Index(i).Set(ev)
			}
			return s, nil
		}
	case k == reflect.Map && t.Key().Kind() == reflect.String:
		if m, ok := v.(map[string]any); ok {
			mv := reflect.MakeMapWithSize(t, len(m))
			for key, e := range m {
				ev, err := convertScalar(t.Elem(), e)
				if err != nil {
					return reflect.Value{}, fmt.Errorf("key %s: %w", key, err)
				}
				mv.SetMapIndex(reflect.ValueOf(key).Convert(t.Key()), ev)
			}
			return mv, nil
		}
	}

	if rv.Type().AssignableTo(t) {
		out.Set(rv)
		return out, nil
	}
	return reflect.Value{}, fmt.Errorf("cannot convert %T to %s", v, t)
}

func wholeNumber(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) && n >= math.MinInt64 && n < math.MaxInt64 {
			return int64(n), true
		}
	}
	return 0, false
}

// convertTime accepts RFC 3339 timestamps, dates, local date-times and
// Unix seconds.
func convertTime(v any) (reflect.Value, error) {
	switch x := v.(type) {
	case time.Time:
		return reflect.ValueOf(x), nil
	case int64:
		return reflect.ValueOf(time.Unix(x, 0).UTC()), nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02"} {
			if t, err := time.Parse(layout, x); err == nil {
				return reflect.ValueOf(t), nil
			}
		}
		return reflect.Value{}, fmt.Errorf("cannot parse time %q", x)
	}
	return reflect.Value{}, fmt.Errorf("cannot convert %T to time.Time", v)
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uint64
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

// materialize validates res against cols and decodes every row. Nothing
// is returned unless every row fits.
func materialize[T any](decode rowDecoder[T], cols []cypher.Column, res *driver.Result) ([]T, error) {
	bound, err := bindColumns(cols, res.Columns)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(res.Rows))
	for i, row := range res.Rows {
		vals, err := logicalRow(bound, row)
		if err != nil {
			return nil, atRow(err, i)
		}
		v, err := decode(vals)
		if err != nil {
			return nil, &ResultShapeError{Row: i, Reason: err.Error()}
		}
		out = append(out, v)
	}
	return out, nil
}

func atRow(err error, row int) error {
	if se, ok := err.(*ResultShapeError); ok {
		cp := *se
		cp.Row = row
		return &cp
	}
	return err
}
