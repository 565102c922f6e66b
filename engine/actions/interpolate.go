package actions

import (
	"fmt"
	"regexp"
)

var varPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// ResolveVariables substitutes {{name}} references in strings, recursing
// through maps and slices. Unknown references are left verbatim, which
// makes a second pass a no-op.
func ResolveVariables(value any, variables map[string]any) any {
	switch v := value.(type) {
	case string:
		return varPattern.ReplaceAllStringFunc(v, func(match string) string {
			name := varPattern.FindStringSubmatch(match)[1]
			if val, ok := variables[name]; ok {
				return fmt.Sprintf("%v", val)
			}
			return match
		})
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = ResolveVariables(item, variables)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = ResolveVariables(item, variables)
		}
		return out
	}
	return value
}

// ResolveConfig interpolates a node config map.
func ResolveConfig(config map[string]any, variables map[string]any) map[string]any {
	if config == nil {
		return map[string]any{}
	}
	return ResolveVariables(config, variables).(map[string]any)
}
