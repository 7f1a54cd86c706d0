package expressions

import "encoding/json"

// Scope is the data visible to condition expressions: a frozen copy of the
// run variables under "vars" and the current page URL under "url".
type Scope struct {
	vars map[string]any
	url  string
}

// NewScope snapshots vars. Later mutation of the source map is not visible.
func NewScope(vars map[string]any, url string) *Scope {
	cp := CloneMap(vars)
	if cp == nil {
		cp = map[string]any{}
	}
	return &Scope{vars: cp, url: url}
}

// Vars returns the frozen variables.
func (s *Scope) Vars() map[string]any {
	return s.vars
}

// URL returns the page URL captured with the scope.
func (s *Scope) URL() string {
	return s.url
}

// Data returns the environment map passed to the engines.
func (s *Scope) Data() map[string]any {
	if s == nil {
		return map[string]any{"vars": map[string]any{}, "url": ""}
	}
	return map[string]any{"vars": s.vars, "url": s.url}
}

// CloneMap creates a deep copy of a map[string]any.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = CloneValue(v)
	}
	return cp
}

// CloneValue recursively deep-copies maps, slices and raw JSON.
// Primitives are returned as-is.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = CloneValue(item)
		}
		return cp
	case []string:
		cp := make([]string, len(val))
		copy(cp, val)
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
