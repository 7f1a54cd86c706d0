package expressions

import (
	"encoding/json"
	"regexp"
	"strconv"
)

// templateRef matches {{ name }} and {{ variables.name }} placeholders.
var templateRef = regexp.MustCompile(`{{\s*(?:variables\.)?([a-zA-Z0-9_]+)\s*}}`)

// RenderTemplate replaces placeholders in tpl with values from vars.
// Missing or nil values render empty, lists render their first element and
// maps render as JSON.
func RenderTemplate(tpl string, vars map[string]any) string {
	if tpl == "" {
		return tpl
	}
	return templateRef.ReplaceAllStringFunc(tpl, func(match string) string {
		name := templateRef.FindStringSubmatch(match)[1]
		return renderValue(vars[name])
	})
}

// HasTemplate reports whether s contains at least one placeholder.
func HasTemplate(s string) bool {
	return templateRef.MatchString(s)
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		if len(val) == 0 {
			return ""
		}
		return renderScalar(val[0])
	case []string:
		if len(val) == 0 {
			return ""
		}
		return val[0]
	case map[string]any:
		return marshalInline(val)
	default:
		return renderScalar(val)
	}
}

func renderScalar(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return marshalInline(val)
	}
}

func marshalInline(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
