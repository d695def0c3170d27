package task

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DataPrefix marks parameters that are passed through as service data.
const DataPrefix = "data."

// Params holds the primitive parameters of a task. Values are string,
// float64 or bool; NormalizeParams is the only constructor that accepts
// loosely-typed input.
type Params map[string]any

// NormalizeParams validates decoded planner output into Params. Integers
// become float64, lists of primitives are joined with ", " and nested
// objects are flattened one level as "key.sub". Anything deeper, and
// any other type, is rejected.
func NormalizeParams(raw map[string]any) (Params, error) {
	p := make(Params, len(raw))
	for k, v := range raw {
		k = strings.TrimSpace(k)
		if k == "" || v == nil {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			for sk, sv := range nested {
				if sv == nil {
					continue
				}
				pv, err := primitive(sv)
				if err != nil {
					return nil, fmt.Errorf("param %s.%s: %w", k, sk, err)
				}
				p[k+"."+strings.TrimSpace(sk)] = pv
			}
			continue
		}
		pv, err := primitive(v)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", k, err)
		}
		p[k] = pv
	}
	return p, nil
}

func primitive(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return x, nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			pe, err := primitive(e)
			if err != nil {
				return nil, err
			}
			if _, isList := e.([]any); isList {
				return nil, fmt.Errorf("nested list")
			}
			parts = append(parts, formatValue(pe))
		}
		return strings.Join(parts, ", "), nil
	case []string:
		return strings.Join(x, ", "), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// String returns the string form of key, or "" when absent.
func (p Params) String(key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	return formatValue(v)
}

// Float returns key as a number when it is one, or parses a numeric string.
func (p Params) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// Has reports whether key is set.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// First returns the first non-empty string among keys.
func (p Params) First(keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(p.String(k)); s != "" {
			return s
		}
	}
	return ""
}

// Data returns the service data parameters with the prefix stripped.
func (p Params) Data() map[string]any {
	data := map[string]any{}
	for k, v := range p {
		if strings.HasPrefix(k, DataPrefix) {
			data[strings.TrimPrefix(k, DataPrefix)] = v
		}
	}
	return data
}

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	c := make(Params, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// Without returns a copy with the given keys removed.
func (p Params) Without(keys ...string) Params {
	c := p.Clone()
	for _, k := range keys {
		delete(c, k)
	}
	return c
}

// Canonical renders the normalized parameter set used for duplicate
// detection: keys sorted, strings trimmed and lower-cased.
func (p Params) Canonical() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(strings.ToLower(k))
		b.WriteByte('=')
		b.WriteString(strings.ToLower(strings.TrimSpace(formatValue(p[k]))))
	}
	return b.String()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
