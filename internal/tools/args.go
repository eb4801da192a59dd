package tools

import (
	"fmt"
	"math"
	"strings"

	"agentline/internal/engine"
)

// Args are the decoded JSON arguments of one tool call.
type Args map[string]any

func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (a Args) RequireString(key string) (string, error) {
	v := a.String(key)
	if v == "" {
		return "", engine.InputError{Field: key, Message: "is required"}
	}
	return v, nil
}

// OptionalString returns nil when key is absent or blank.
func (a Args) OptionalString(key string) *string {
	v := a.String(key)
	if v == "" {
		return nil
	}
	return &v
}

// Int accepts JSON numbers; absent keys yield def.
func (a Args) Int(key string, def int) (int, error) {
	switch v := a[key].(type) {
	case nil:
		return def, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, engine.InputError{Field: key, Message: "must be an integer"}
		}
		return int(v), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	default:
		return 0, engine.InputError{Field: key, Message: "must be a number"}
	}
}

// Strings accepts a JSON array of strings or a comma separated string.
func (a Args) Strings(key string) []string {
	var out []string
	switch v := a[key].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		for _, s := range v {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}
