package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/sealgauge/internal/ir"
)

// marshalAttrs converts event attributes to canonical JSON TEXT for storage.
func marshalAttrs(attrs map[string]any) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	data, err := ir.MarshalCanonical(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal attrs: %w", err)
	}
	return string(data), nil
}

// unmarshalAttrs parses attrs TEXT. Numbers are decoded as int64 so that a
// round trip through the store hashes identically; attributes never carry
// fractional values.
func unmarshalAttrs(data string) (map[string]any, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal attrs: %w", err)
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		conv, err := fromJSON(v)
		if err != nil {
			return nil, fmt.Errorf("unmarshal attrs: key %q: %w", k, err)
		}
		out[k] = conv
	}
	return out, nil
}

func fromJSON(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("non-integer number %s", val)
		}
		return n, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			conv, err := fromJSON(item)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			conv, err := fromJSON(item)
			if err != nil {
				return nil, err
			}
			out[k] = conv
		}
		return out, nil
	default:
		return val, nil
	}
}
