package apitools

import (
	"fmt"
	"os"
	"regexp"

	"mcphub/pkg/logging"
)

// substitutionPattern matches {{data.name}} and {{env.NAME}} placeholders,
// with optional whitespace inside the braces.
var substitutionPattern = regexp.MustCompile(`\{\{\s*(data|env)\.([a-zA-Z_][a-zA-Z0-9_.-]*)\s*\}\}`)

// substitute replaces {{data.*}} placeholders with tool-call arguments and
// {{env.*}} placeholders with process environment variables. Unresolved
// variables render as empty strings.
func substitute(template string, args map[string]interface{}) string {
	return substitutionPattern.ReplaceAllStringFunc(template, func(match string) string {
		groups := substitutionPattern.FindStringSubmatch(match)
		source, name := groups[1], groups[2]

		switch source {
		case "data":
			if value, ok := args[name]; ok {
				return stringify(value)
			}
		case "env":
			if value, ok := os.LookupEnv(name); ok {
				return value
			}
		}

		logging.Debug("APITools", "Unresolved template variable %s.%s, substituting empty string", source, name)
		return ""
	})
}

// substituteMap applies substitution to every value of a string map.
func substituteMap(templates map[string]string, args map[string]interface{}) map[string]string {
	if len(templates) == 0 {
		return nil
	}
	out := make(map[string]string, len(templates))
	for key, tmpl := range templates {
		out[key] = substitute(tmpl, args)
	}
	return out
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case float64:
		// JSON numbers arrive as float64; render integers without a decimal point.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case bool:
		return fmt.Sprintf("%t", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
