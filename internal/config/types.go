package config

// HubConfig is the top-level configuration structure for mcphub.
type HubConfig struct {
	Hub      HubSettings        `yaml:"hub"`
	Servers  []ServerDefinition `yaml:"servers"`
	Groups   []GroupDefinition  `yaml:"groups"`
	APITools APIToolsSettings   `yaml:"apiTools"`
}

// HubSettings configures the client-facing endpoints.
type HubSettings struct {
	Host string `yaml:"host,omitempty"` // Host to bind to (default: localhost)
	Port int    `yaml:"port,omitempty"` // Port for the HTTP API and SSE endpoint (default: 8080)

	// Transport for the hub's own MCP endpoint (default: streamable-http)
	Transport string `yaml:"transport,omitempty"`
}

// ServerTransport identifies how the hub connects to an upstream MCP server.
type ServerTransport string

const (
	// TransportStdio runs the server as a subprocess speaking MCP over stdio.
	TransportStdio ServerTransport = "stdio"
	// TransportSSE connects to a server over HTTP Server-Sent Events.
	TransportSSE ServerTransport = "sse"
	// TransportStreamableHTTP connects to a server over streamable HTTP.
	TransportStreamableHTTP ServerTransport = "streamable-http"
)

// ServerDefinition describes one upstream MCP server.
type ServerDefinition struct {
	Name      string          `yaml:"name"`
	Transport ServerTransport `yaml:"transport"`

	// stdio transport
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// sse / streamable-http transports
	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the server should be connected at startup.
func (s ServerDefinition) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// GroupDefinition pairs a set of servers with an optional tool allow-list.
// An empty AllowedTools list permits every tool from the listed servers.
type GroupDefinition struct {
	Name         string   `yaml:"name"`
	DisplayName  string   `yaml:"displayName,omitempty"`
	Description  string   `yaml:"description,omitempty"`
	Servers      []string `yaml:"servers"`
	AllowedTools []string `yaml:"allowedTools,omitempty"`
}

// APIToolsSettings points at the HTTP tool configuration file.
type APIToolsSettings struct {
	Path string `yaml:"path,omitempty"` // YAML file with API tool definitions

	// Watch enables automatic reload when the file changes (default: true
	// when a path is configured).
	Watch *bool `yaml:"watch,omitempty"`
}

// WatchEnabled reports whether the API tool file should be watched for changes.
func (a APIToolsSettings) WatchEnabled() bool {
	return a.Path != "" && (a.Watch == nil || *a.Watch)
}
