package apitools

import (
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// ServerID is the sentinel owning-server identifier for HTTP-bridged tools.
const ServerID = "api-tools"

// ToolDefinition describes one HTTP endpoint exposed as an MCP tool.
type ToolDefinition struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name,omitempty"` // defaults to ID
	Description string `yaml:"description,omitempty"`

	Request    RequestSpec            `yaml:"request"`
	Parameters map[string]interface{} `yaml:"parameters,omitempty"`
	Response   *ResponseSpec          `yaml:"response,omitempty"`
	Cache      *CacheSpec             `yaml:"cache,omitempty"`
}

// ToolName returns the exposed tool name (Name, falling back to ID).
func (d *ToolDefinition) ToolName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// RequestSpec is the HTTP request template. URL, headers, query parameters and
// body all support {{data.*}} and {{env.*}} substitution.
type RequestSpec struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method,omitempty"` // defaults to GET
	Headers map[string]string `yaml:"headers,omitempty"`
	Query   map[string]string `yaml:"query,omitempty"`
	Body    string            `yaml:"body,omitempty"`

	// Timeout bounds the HTTP round trip (default: 30s).
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ResponseSpec configures the optional response transformation.
type ResponseSpec struct {
	// Transform is a Go template (with sprig functions) evaluated against the
	// parsed response body. Its output becomes the tool result payload.
	Transform string `yaml:"transform,omitempty"`
}

// CacheSpec enables per-tool response caching.
type CacheSpec struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl,omitempty"` // default: 5m
}

// DefaultCacheTTL applies when a cache spec enables caching without a TTL.
const DefaultCacheTTL = 5 * time.Minute

// MCPTool converts the definition into its MCP tool descriptor.
func (d *ToolDefinition) MCPTool() mcp.Tool {
	tool := mcp.Tool{
		Name:        d.ToolName(),
		Description: d.Description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}

	if d.Parameters == nil {
		return tool
	}

	if typ, ok := d.Parameters["type"].(string); ok {
		tool.InputSchema.Type = typ
	}
	if props, ok := d.Parameters["properties"].(map[string]interface{}); ok {
		tool.InputSchema.Properties = props
	}
	if rawRequired, ok := d.Parameters["required"].([]interface{}); ok {
		for _, r := range rawRequired {
			if s, ok := r.(string); ok {
				tool.InputSchema.Required = append(tool.InputSchema.Required, s)
			}
		}
	}

	return tool
}

// Health reports the bridge's observable state.
type Health struct {
	Initialized bool      `json:"initialized"`
	Healthy     bool      `json:"healthy"`
	ToolCount   int       `json:"toolCount"`
	LastReload  time.Time `json:"lastReload,omitempty"`
}

func validateDefinition(i int, def *ToolDefinition) error {
	if strings.TrimSpace(def.ID) == "" {
		return fmt.Errorf("tools[%d]: id is required", i)
	}
	if strings.TrimSpace(def.Request.URL) == "" {
		return fmt.Errorf("tools[%d] (%s): request.url is required", i, def.ID)
	}
	if def.Request.Method == "" {
		def.Request.Method = "GET"
	}
	def.Request.Method = strings.ToUpper(def.Request.Method)
	if def.Cache != nil && def.Cache.Enabled && def.Cache.TTL <= 0 {
		def.Cache.TTL = DefaultCacheTTL
	}
	return nil
}
