package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueOf_Scalars(t *testing.T) {
	tests := []struct {
		name string
		in   any
		kind ValueKind
	}{
		{"nil", nil, KindNull},
		{"string", "mark", KindString},
		{"int", 33, KindInteger},
		{"int64", int64(7), KindInteger},
		{"float", 1.5, KindFloat},
		{"bool", true, KindBoolean},
		{"json int", json.Number("42"), KindInteger},
		{"json float", json.Number("4.2"), KindFloat},
		{"strings", []string{"a", "b"}, KindList},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ValueOf(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, v.Kind())
		})
	}
}

func TestValueOf_Unsupported(t *testing.T) {
	_, err := ValueOf(map[string]any{"nested": 1})
	assert.ErrorIs(t, err, ErrUnsupportedValue)

	_, err = ValueOf(uint64(1 << 63))
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestValue_CheckedConversion(t *testing.T) {
	v := StringValue("33")

	_, err := v.AsInt()
	assert.ErrorIs(t, err, ErrTypeMismatch)

	s, err := v.AsString()
	require.NoError(t, err)
	assert.Equal(t, "33", s)

	// integers widen to float, floats never narrow
	f, err := IntegerValue(3).AsFloat()
	require.NoError(t, err)
	assert.Equal(t, 3.0, f)

	_, err = FloatValue(3.0).AsInt()
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestProperties_Accessors(t *testing.T) {
	props, err := PropertiesOf(map[string]any{
		"name":   "mark",
		"age":    int64(33),
		"active": true,
		"score":  9.5,
	})
	require.NoError(t, err)

	name, err := props.String("name")
	require.NoError(t, err)
	assert.Equal(t, "mark", name)

	age, err := Get[int64](props, "age")
	require.NoError(t, err)
	assert.Equal(t, int64(33), age)

	n, err := Get[int](props, "age")
	require.NoError(t, err)
	assert.Equal(t, 33, n)

	active, err := Get[bool](props, "active")
	require.NoError(t, err)
	assert.True(t, active)

	_, err = Get[string](props, "age")
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = props.String("missing")
	assert.ErrorIs(t, err, ErrPropertyNotFound)

	assert.Equal(t, []string{"active", "age", "name", "score"}, props.Keys())
}

func TestNode_CloneIsIndependent(t *testing.T) {
	orig := Node{ID: 1, Labels: []string{"person"}, Properties: Properties{"name": StringValue("mark")}}
	cp := orig.Clone()
	cp.Properties["name"] = StringValue("bob")
	cp.Labels[0] = "robot"

	name, _ := orig.Properties.String("name")
	assert.Equal(t, "mark", name)
	assert.True(t, orig.HasLabel("person"))
}

func TestValue_JSONRoundTrip(t *testing.T) {
	node := Node{ID: 3, Properties: Properties{"tags": ListValue(StringValue("a"), IntegerValue(2))}}
	data, err := json.Marshal(node)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":3,"properties":{"tags":["a",2]}}`, string(data))

	var back Node
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Properties["tags"].Equal(node.Properties["tags"]))
}
