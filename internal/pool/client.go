package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mcphub/internal/config"
	"mcphub/pkg/logging"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	clientName      = "mcphub"
	clientVersion   = "1.0.0"
	protocolVersion = "2024-11-05"

	// Default handshake timeout when the caller's context carries no deadline.
	initializeTimeout = 10 * time.Second
)

// NewClient builds the transport-specific MCP client for a server definition.
func NewClient(def config.ServerDefinition) (MCPClient, error) {
	switch def.Transport {
	case config.TransportStdio:
		return newStdioClient(def.Command, def.Args, def.Env), nil
	case config.TransportSSE:
		return newSSEClient(def.URL, def.Headers), nil
	case config.TransportStreamableHTTP:
		return newStreamableHTTPClient(def.URL, def.Headers), nil
	default:
		return nil, fmt.Errorf("unknown transport %q for server %s", def.Transport, def.Name)
	}
}

func initRequest() mcp.InitializeRequest {
	return mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: protocolVersion,
			ClientInfo: mcp.Implementation{
				Name:    clientName,
				Version: clientVersion,
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}
}

// baseClient carries the shared connected-client plumbing for all transports.
type baseClient struct {
	mu        sync.RWMutex
	client    client.MCPClient
	connected bool
}

func (b *baseClient) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected || b.client == nil {
		return nil
	}

	err := b.client.Close()
	b.connected = false
	b.client = nil
	return err
}

func (b *baseClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.connected || b.client == nil {
		return nil, fmt.Errorf("client not connected")
	}

	result, err := b.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return result.Tools, nil
}

func (b *baseClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.connected || b.client == nil {
		return nil, fmt.Errorf("client not connected")
	}

	result, err := b.client.CallTool(ctx, mcp.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call tool: %w", err)
	}
	return result, nil
}

func (b *baseClient) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.connected || b.client == nil {
		return fmt.Errorf("client not connected")
	}
	return b.client.Ping(ctx)
}

// stdioClient runs the upstream server as a subprocess speaking MCP over stdio.
type stdioClient struct {
	baseClient
	command string
	args    []string
	env     map[string]string
}

func newStdioClient(command string, args []string, env map[string]string) *stdioClient {
	return &stdioClient{
		command: command,
		args:    args,
		env:     env,
	}
}

func (c *stdioClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	logging.Debug("StdioClient", "Creating stdio client for command: %s %v", c.command, c.args)

	var envStrings []string
	for k, v := range c.env {
		envStrings = append(envStrings, fmt.Sprintf("%s=%s", k, v))
	}

	mcpClient, err := client.NewStdioMCPClient(c.command, envStrings, c.args...)
	if err != nil {
		return fmt.Errorf("failed to create stdio client: %w", err)
	}

	initCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, initializeTimeout)
		defer cancel()
	}

	if _, err := mcpClient.Initialize(initCtx, initRequest()); err != nil {
		if closeErr := mcpClient.Close(); closeErr != nil {
			logging.Debug("StdioClient", "Error closing failed client for %s: %v", c.command, closeErr)
		}
		return fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	c.client = mcpClient
	c.connected = true

	logging.Debug("StdioClient", "MCP protocol initialized for %s", c.command)
	return nil
}

// sseClient connects to an upstream server over HTTP Server-Sent Events.
type sseClient struct {
	baseClient
	url     string
	headers map[string]string
}

func newSSEClient(url string, headers map[string]string) *sseClient {
	return &sseClient{
		url:     url,
		headers: headers,
	}
}

func (c *sseClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	var opts []transport.ClientOption
	if len(c.headers) > 0 {
		opts = append(opts, transport.WithHeaders(c.headers))
		logging.Debug("SSEClient", "Configured %d custom headers for %s", len(c.headers), c.url)
	}

	mcpClient, err := client.NewSSEMCPClient(c.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to create SSE client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start SSE transport: %w", err)
	}

	if _, err := mcpClient.Initialize(ctx, initRequest()); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	c.client = mcpClient
	c.connected = true
	return nil
}

// streamableHTTPClient connects to an upstream server over streamable HTTP.
type streamableHTTPClient struct {
	baseClient
	url     string
	headers map[string]string
}

func newStreamableHTTPClient(url string, headers map[string]string) *streamableHTTPClient {
	return &streamableHTTPClient{
		url:     url,
		headers: headers,
	}
}

func (c *streamableHTTPClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	logging.Debug("StreamableHTTPClient", "Creating streamable HTTP client for %s", c.url)

	var opts []transport.StreamableHTTPCOption
	if len(c.headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(c.headers))
		logging.Debug("StreamableHTTPClient", "Configured %d custom headers for %s", len(c.headers), c.url)
	}

	mcpClient, err := client.NewStreamableHttpClient(c.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to create streamable HTTP client: %w", err)
	}

	initResult, err := mcpClient.Initialize(ctx, initRequest())
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	logging.Debug("StreamableHTTPClient", "Connected to %s (server: %s %s)",
		c.url, initResult.ServerInfo.Name, initResult.ServerInfo.Version)

	c.client = mcpClient
	c.connected = true
	return nil
}
