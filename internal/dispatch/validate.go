package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// argSchema is the slice of JSON Schema the validator understands: required
// fields, per-property type tags, and the additionalProperties switch.
type argSchema struct {
	Type                 string                 `json:"type"`
	Properties           map[string]interface{} `json:"properties"`
	Required             []string               `json:"required"`
	AdditionalProperties interface{}            `json:"additionalProperties"`
}

// schemaForTool extracts the validation view from a tool descriptor. A raw
// schema takes precedence because it preserves additionalProperties.
func schemaForTool(tool mcp.Tool) argSchema {
	if len(tool.RawInputSchema) > 0 {
		var schema argSchema
		if err := json.Unmarshal(tool.RawInputSchema, &schema); err == nil {
			return schema
		}
	}
	return argSchema{
		Type:       tool.InputSchema.Type,
		Properties: tool.InputSchema.Properties,
		Required:   tool.InputSchema.Required,
	}
}

// validateArguments checks args against the schema: required fields present
// and non-null, typed fields matching, and no extras when the schema forbids
// them.
func validateArguments(schema argSchema, args map[string]interface{}) error {
	for _, name := range schema.Required {
		value, ok := args[name]
		if !ok || value == nil {
			return fmt.Errorf("Missing required argument: %s", name)
		}
	}

	for name, value := range args {
		spec, ok := schema.Properties[name]
		if !ok {
			if allowed, isBool := schema.AdditionalProperties.(bool); isBool && !allowed {
				return fmt.Errorf("Unexpected argument: %s", name)
			}
			continue
		}
		if value == nil {
			continue
		}

		propSchema, ok := spec.(map[string]interface{})
		if !ok {
			continue
		}
		expected, ok := propSchema["type"].(string)
		if !ok {
			continue
		}
		if !matchesType(value, expected) {
			return fmt.Errorf("Invalid type for argument '%s': expected %s", name, expected)
		}
	}

	return nil
}

// matchesType checks a decoded JSON value against a schema type tag. Numeric
// values may arrive as float64, json.Number, or native ints depending on the
// decoder, so all are accepted for number and integer.
func matchesType(value interface{}, expected string) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		return isNumber(value)
	case "integer":
		return isInteger(value)
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	default:
		return true
	}
}

func isNumber(value interface{}) bool {
	switch value.(type) {
	case float64, float32, int, int32, int64:
		return true
	case json.Number:
		return true
	default:
		return false
	}
}

func isInteger(value interface{}) bool {
	switch v := value.(type) {
	case int, int32, int64:
		return true
	case float64:
		return v == float64(int64(v))
	case float32:
		return v == float32(int64(v))
	case json.Number:
		_, err := v.Int64()
		return err == nil
	default:
		return false
	}
}
