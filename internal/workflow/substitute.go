package workflow

import (
	"fmt"
	"regexp"
	"strings"
)

var varPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveVariables substitutes ${name} tokens in a node config against the
// job params. A value that is exactly one token is replaced by the param
// with its original type; tokens embedded in a longer string interpolate as
// strings. Maps and slices recurse. Unresolved tokens survive literally.
func ResolveVariables(config, params map[string]any) map[string]any {
	if config == nil {
		return nil
	}
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = resolveValue(v, params)
	}
	return out
}

func resolveValue(v any, params map[string]any) any {
	switch val := v.(type) {
	case string:
		return resolveString(val, params)
	case map[string]any:
		return ResolveVariables(val, params)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = resolveValue(item, params)
		}
		return out
	default:
		return v
	}
}

func resolveString(s string, params map[string]any) any {
	// Whole-token substitution preserves the param's type.
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		name := s[2 : len(s)-1]
		if !strings.Contains(name, "}") {
			if v, ok := params[name]; ok {
				return v
			}
			return s
		}
	}
	// Embedded tokens coerce to string.
	return varPattern.ReplaceAllStringFunc(s, func(token string) string {
		name := token[2 : len(token)-1]
		if v, ok := params[name]; ok {
			return fmt.Sprintf("%v", v)
		}
		return token
	})
}
