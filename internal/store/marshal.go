package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/helmsman/internal/exec"
)

// marshalPayload serializes a payload to canonical JSON for storage.
// A nil payload is stored as the empty object so round-trips are stable.
func marshalPayload(p exec.Payload) (string, error) {
	if p == nil {
		p = exec.Payload{}
	}
	b, err := exec.MarshalCanonical(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(b), nil
}

// unmarshalPayload deserializes a stored payload. Numbers decode to int64
// (never float64) so replayed payloads compare equal to the originals and
// survive re-hashing.
func unmarshalPayload(s string) (exec.Payload, error) {
	if s == "" {
		return exec.Payload{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	v, err := normalizeValue(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return exec.Payload(v.(map[string]any)), nil
}

func normalizeValue(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("non-integer number %q in stored payload", val.String())
		}
		return n, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			norm, err := normalizeValue(elem)
			if err != nil {
				return nil, fmt.Errorf("%q: %w", k, err)
			}
			out[k] = norm
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			norm, err := normalizeValue(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = norm
		}
		return out, nil
	default:
		return v, nil
	}
}
