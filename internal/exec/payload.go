package exec

import "fmt"

// Payload is the value shape exchanged with activities, signals, queries,
// and child executions.
//
// Allowed value kinds: string, int64, int, bool, []any, map[string]any,
// and nested Payload. Floats are rejected by the canonical marshaler, so
// they must never be placed in a Payload; use integer milliunits instead.
type Payload map[string]any

// String extracts a string field.
func (p Payload) String(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", fmt.Errorf("payload field %q missing", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("payload field %q is %T, want string", key, v)
	}
	return s, nil
}

// Int extracts an integer field. Accepts int and int64 representations
// (JSON round-trips through the store produce int64).
func (p Payload) Int(key string) (int64, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("payload field %q missing", key)
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("payload field %q is %T, want integer", key, v)
	}
}

// Bool extracts a boolean field.
func (p Payload) Bool(key string) (bool, error) {
	v, ok := p[key]
	if !ok {
		return false, fmt.Errorf("payload field %q missing", key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("payload field %q is %T, want bool", key, v)
	}
	return b, nil
}

// Object extracts a nested object field.
func (p Payload) Object(key string) (Payload, error) {
	v, ok := p[key]
	if !ok {
		return nil, fmt.Errorf("payload field %q missing", key)
	}
	switch m := v.(type) {
	case Payload:
		return m, nil
	case map[string]any:
		return Payload(m), nil
	default:
		return nil, fmt.Errorf("payload field %q is %T, want object", key, v)
	}
}

// Strings extracts a string-array field.
func (p Payload) Strings(key string) ([]string, error) {
	v, ok := p[key]
	if !ok {
		return nil, fmt.Errorf("payload field %q missing", key)
	}
	switch arr := v.(type) {
	case []string:
		return arr, nil
	case []any:
		out := make([]string, len(arr))
		for i, elem := range arr {
			s, ok := elem.(string)
			if !ok {
				return nil, fmt.Errorf("payload field %q[%d] is %T, want string", key, i, elem)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("payload field %q is %T, want string array", key, v)
	}
}

// IntOr returns an integer field or the fallback when the field is absent.
// A present-but-mistyped field still yields the fallback; inputs are
// caller-controlled and validated at the API boundary.
func (p Payload) IntOr(key string, fallback int64) int64 {
	n, err := p.Int(key)
	if err != nil {
		return fallback
	}
	return n
}

// StringOr returns a string field or the fallback when the field is absent.
func (p Payload) StringOr(key, fallback string) string {
	s, err := p.String(key)
	if err != nil {
		return fallback
	}
	return s
}

// BoolOr returns a boolean field or the fallback when the field is absent.
func (p Payload) BoolOr(key string, fallback bool) bool {
	b, err := p.Bool(key)
	if err != nil {
		return fallback
	}
	return b
}

// Clone returns a deep copy. Payloads handed to the substrate are cloned
// so later mutation by the producer cannot leak into recorded history.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Payload:
		return val.Clone()
	case map[string]any:
		return map[string]any(Payload(val).Clone())
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		// Scalars are immutable.
		return v
	}
}
