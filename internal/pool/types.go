package pool

import (
	"context"
	"sync"
	"time"

	"mcphub/internal/config"

	"github.com/mark3labs/mcp-go/mcp"
)

// MCPClient defines the interface for talking to one upstream MCP server.
// Production implementations live in client.go; tests substitute mocks.
type MCPClient interface {
	// Initialize establishes the connection and performs protocol handshake
	Initialize(ctx context.Context) error

	// Close cleanly shuts down the client connection
	Close() error

	// ListTools returns all available tools from the server
	ListTools(ctx context.Context) ([]mcp.Tool, error)

	// CallTool executes a specific tool and returns the result
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)

	// Ping checks if the server is responsive
	Ping(ctx context.Context) error
}

// ServerState represents the connection state of an upstream server.
type ServerState string

const (
	StateDisconnected ServerState = "disconnected"
	StateConnecting   ServerState = "connecting"
	StateConnected    ServerState = "connected"
	StateError        ServerState = "error"
	StateReconnecting ServerState = "reconnecting"
)

// MaxReconnectAttempts bounds automatic reconnection per server.
const MaxReconnectAttempts = 3

// reconnectBaseDelay and reconnectMaxDelay shape the exponential backoff
// between reconnect attempts: base x 2^(attempt-1), capped. Vars so tests can
// shrink the delays.
var (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 5 * time.Second
)

// StateChangeFunc is invoked after a server transitions between states.
type StateChangeFunc func(serverName string, oldState, newState ServerState)

// ServerConnection tracks one upstream server's client, state and cached tools.
type ServerConnection struct {
	Definition config.ServerDefinition

	mu                sync.RWMutex
	client            MCPClient
	state             ServerState
	lastError         error
	lastConnected     time.Time
	reconnectAttempts int
	healthChecks      int
	tools             []mcp.Tool
}

// State returns the current connection state.
func (c *ServerConnection) State() ServerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastError returns the most recent connection or transport error.
func (c *ServerConnection) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

// Tools returns a copy of the cached tool list. The list is empty unless the
// server is connected.
func (c *ServerConnection) Tools() []mcp.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateConnected {
		return nil
	}
	out := make([]mcp.Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// ServerStatus is a point-in-time snapshot used for health and diagnostics.
type ServerStatus struct {
	Name              string    `json:"name"`
	State             string    `json:"state"`
	Transport         string    `json:"transport"`
	ToolCount         int       `json:"toolCount"`
	LastConnected     time.Time `json:"lastConnected,omitempty"`
	LastError         string    `json:"lastError,omitempty"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	HealthChecks      int       `json:"healthChecks"`
}

// Status returns a snapshot of the connection for observability surfaces.
func (c *ServerConnection) Status() ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := ServerStatus{
		Name:              c.Definition.Name,
		State:             string(c.state),
		Transport:         string(c.Definition.Transport),
		ToolCount:         len(c.tools),
		LastConnected:     c.lastConnected,
		ReconnectAttempts: c.reconnectAttempts,
		HealthChecks:      c.healthChecks,
	}
	if c.lastError != nil {
		status.LastError = c.lastError.Error()
	}
	return status
}
