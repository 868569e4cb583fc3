package driver

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/orneryd/fluentcypher/pkg/graph"
)

// normalizeBolt converts a Bolt record value into the normalised cell types.
func normalizeBolt(v any) (any, error) {
	switch x := v.(type) {
	case neo4j.Node:
		props, err := normalizeProps(x.Props)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", x.Id, err)
		}
		labels := make([]string, len(x.Labels))
		copy(labels, x.Labels)
		return graph.Node{ID: x.Id, Labels: labels, Properties: props}, nil

	case neo4j.Relationship:
		props, err := normalizeProps(x.Props)
		if err != nil {
			return nil, fmt.Errorf("relationship %d: %w", x.Id, err)
		}
		return graph.Relationship{
			ID:         x.Id,
			Type:       x.Type,
			StartID:    x.StartId,
			EndID:      x.EndId,
			Properties: props,
		}, nil

	case neo4j.Date:
		return time.Time(x).Format(time.DateOnly), nil
	case neo4j.LocalDateTime:
		return time.Time(x).Format("2006-01-02T15:04:05.999999999"), nil
	case neo4j.LocalTime:
		return time.Time(x).Format("15:04:05.999999999"), nil
	case neo4j.Time:
		return time.Time(x).Format("15:04:05.999999999Z07:00"), nil
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	case neo4j.Duration:
		return x.String(), nil
	case neo4j.Point2D:
		return x.String(), nil
	case neo4j.Point3D:
		return x.String(), nil

	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			n, err := normalizeBolt(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil

	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			n, err := normalizeBolt(e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil

	case int:
		return int64(x), nil
	case float32:
		return float64(x), nil
	}
	return v, nil
}

func normalizeProps(raw map[string]any) (graph.Properties, error) {
	flat := make(map[string]any, len(raw))
	for k, v := range raw {
		n, err := normalizeBolt(v)
		if err != nil {
			return nil, err
		}
		flat[k] = n
	}
	return graph.PropertiesOf(flat)
}

// normalizeJSON converts a value decoded with json.Decoder.UseNumber.
func normalizeJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeJSON(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalizeJSON(e)
		}
		return out
	}
	return v
}

// parseID accepts HTTP entity ids, which arrive as strings in graph results
// and as numbers in row meta.
func parseID(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case json.Number:
		i, err := x.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(x, 10, 64)
		return i, err == nil
	}
	return 0, false
}
