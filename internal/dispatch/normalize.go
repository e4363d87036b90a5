package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// normalizeResult rewrites an execution result into the canonical
// content/isError shape. Well-formed results pass through untouched; a result
// with no content is given a literal "null" text item so clients always see
// at least one item.
func normalizeResult(result *mcp.CallToolResult) *mcp.CallToolResult {
	if result == nil {
		return mcp.NewToolResultText("null")
	}
	if len(result.Content) == 0 {
		normalized := mcp.NewToolResultText("null")
		normalized.IsError = result.IsError
		return normalized
	}
	return result
}

// normalizeValue converts an arbitrary payload into a canonical text result.
// Used where upstream values arrive untyped (API transforms, diagnostics).
func normalizeValue(value interface{}) *mcp.CallToolResult {
	switch v := value.(type) {
	case nil:
		return mcp.NewToolResultText("null")
	case *mcp.CallToolResult:
		return normalizeResult(v)
	case string:
		return mcp.NewToolResultText(v)
	case bool:
		return mcp.NewToolResultText(fmt.Sprintf("%t", v))
	case float64, float32, int, int32, int64:
		return mcp.NewToolResultText(fmt.Sprintf("%v", v))
	case error:
		return mcp.NewToolResultError(fmt.Sprintf("Error: %s", v.Error()))
	default:
		encoded, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return mcp.NewToolResultText(fmt.Sprintf("%v", v))
		}
		return mcp.NewToolResultText(string(encoded))
	}
}
