package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"mcphub/internal/config"
	"mcphub/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
)

// ErrConnectionFailed marks a failed upstream handshake. Callers can detect it
// with errors.Is; the failing server stays in the pool in the error state.
var ErrConnectionFailed = errors.New("connection failed")

// ErrToolNotFound marks a call for a tool the server has not advertised.
var ErrToolNotFound = errors.New("tool not found")

// ErrServerNotConnected marks an operation on a server that is not connected.
var ErrServerNotConnected = errors.New("server not connected")

// ServerPool owns the connections to all upstream MCP servers. It tracks each
// server's state, performs tool discovery after connecting, and reconnects
// failed servers with bounded exponential backoff.
//
// Per-server failures are isolated: one server failing never affects the
// others, and pool initialization succeeds as long as at least one enabled
// server reaches the connected state.
type ServerPool struct {
	mu      sync.RWMutex
	servers map[string]*ServerConnection

	onStateChange StateChangeFunc

	// newClient builds a transport client for a definition. Tests replace it.
	newClient func(config.ServerDefinition) (MCPClient, error)

	shutdownMu sync.Mutex
	shutdown   bool
}

// NewServerPool creates an empty pool. The optional onStateChange callback is
// invoked after every server state transition.
func NewServerPool(onStateChange StateChangeFunc) *ServerPool {
	return &ServerPool{
		servers:       make(map[string]*ServerConnection),
		onStateChange: onStateChange,
		newClient:     NewClient,
	}
}

// SetClientFactory overrides the transport client constructor.
// Intended for tests that substitute mock clients.
func (p *ServerPool) SetClientFactory(factory func(config.ServerDefinition) (MCPClient, error)) {
	p.newClient = factory
}

// setState performs a state transition and fires the callback outside the lock.
func (p *ServerPool) setState(conn *ServerConnection, newState ServerState) {
	oldState := p.transition(conn, newState)
	p.notifyStateChange(conn, oldState, newState)
}

func (p *ServerPool) transition(conn *ServerConnection, newState ServerState) ServerState {
	conn.mu.Lock()
	oldState := conn.state
	conn.state = newState
	if newState != StateConnected {
		// Tool lists are only valid while connected.
		conn.tools = nil
	}
	conn.mu.Unlock()
	return oldState
}

func (p *ServerPool) notifyStateChange(conn *ServerConnection, oldState, newState ServerState) {
	if oldState == newState {
		return
	}

	logging.Debug("Pool", "Server %s: %s -> %s", conn.Definition.Name, oldState, newState)

	if p.onStateChange != nil {
		p.onStateChange(conn.Definition.Name, oldState, newState)
	}
}

// CreateConnection establishes a connection to one upstream server.
//
// The operation is idempotent: an existing entry for the same name is closed
// and replaced. Disabled servers are skipped without creating an entry. On
// handshake failure the entry remains in the pool in the error state and an
// ErrConnectionFailed-wrapped error is returned.
func (p *ServerPool) CreateConnection(ctx context.Context, def config.ServerDefinition) error {
	if !def.IsEnabled() {
		logging.Info("Pool", "Server %s is disabled, skipping", def.Name)
		return nil
	}

	p.mu.Lock()
	if existing, ok := p.servers[def.Name]; ok {
		p.mu.Unlock()
		logging.Debug("Pool", "Server %s already present, replacing connection", def.Name)
		p.closeConnection(existing)
		p.mu.Lock()
	}

	conn := &ServerConnection{
		Definition: def,
		state:      StateDisconnected,
	}
	p.servers[def.Name] = conn
	p.mu.Unlock()

	return p.connect(ctx, conn)
}

// connect drives disconnected/error -> connecting -> connected|error for one server.
func (p *ServerPool) connect(ctx context.Context, conn *ServerConnection) error {
	p.setState(conn, StateConnecting)

	client, err := p.newClient(conn.Definition)
	if err == nil {
		err = client.Initialize(ctx)
	}
	if err != nil {
		conn.mu.Lock()
		conn.lastError = err
		conn.client = nil
		conn.mu.Unlock()
		p.setState(conn, StateError)

		logging.Warn("Pool", "Failed to connect server %s: %v", conn.Definition.Name, err)
		return fmt.Errorf("%w: server %s: %v", ErrConnectionFailed, conn.Definition.Name, err)
	}

	conn.mu.Lock()
	conn.client = client
	conn.lastError = nil
	conn.lastConnected = time.Now()
	conn.reconnectAttempts = 0
	conn.mu.Unlock()

	// Discovery completes before the connected transition is announced, so
	// observers reacting to the callback never see a stale empty tool list.
	// Discovery failure leaves the server connected with no tools.
	oldState := p.transition(conn, StateConnected)
	p.discoverTools(ctx, conn)
	p.notifyStateChange(conn, oldState, StateConnected)

	logging.Info("Pool", "Connected server %s (%s)", conn.Definition.Name, conn.Definition.Transport)
	return nil
}

// discoverTools refreshes the cached tool list for a connected server.
func (p *ServerPool) discoverTools(ctx context.Context, conn *ServerConnection) {
	conn.mu.RLock()
	client := conn.client
	conn.mu.RUnlock()
	if client == nil {
		return
	}

	tools, err := client.ListTools(ctx)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.state != StateConnected {
		return
	}
	if err != nil {
		logging.Warn("Pool", "Tool discovery failed for %s: %v", conn.Definition.Name, err)
		conn.tools = nil
		return
	}
	conn.tools = tools
	logging.Info("Pool", "Discovered %d tools on server %s", len(tools), conn.Definition.Name)
}

// InitializeAll connects all enabled servers in parallel. Individual failures
// are collected; the call only fails when every enabled server fails.
func (p *ServerPool) InitializeAll(ctx context.Context, defs []config.ServerDefinition) error {
	enabled := 0
	for _, def := range defs {
		if def.IsEnabled() {
			enabled++
		}
	}
	if enabled == 0 {
		logging.Info("Pool", "No enabled servers configured")
		return nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, enabled)

	for _, def := range defs {
		if !def.IsEnabled() {
			continue
		}
		wg.Add(1)
		go func(def config.ServerDefinition) {
			defer wg.Done()
			if err := p.CreateConnection(ctx, def); err != nil {
				errCh <- err
			}
		}(def)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	if len(errs) == enabled {
		return fmt.Errorf("all %d servers failed to connect: %w", enabled, errors.Join(errs...))
	}

	logging.Info("Pool", "Initialized %d/%d servers", enabled-len(errs), enabled)
	return nil
}

// CloseConnection gracefully disconnects a server and removes it from the pool.
func (p *ServerPool) CloseConnection(name string) error {
	p.mu.Lock()
	conn, ok := p.servers[name]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("server %s not found", name)
	}
	delete(p.servers, name)
	p.mu.Unlock()

	p.closeConnection(conn)
	logging.Info("Pool", "Closed connection to server %s", name)
	return nil
}

func (p *ServerPool) closeConnection(conn *ServerConnection) {
	conn.mu.Lock()
	client := conn.client
	conn.client = nil
	conn.mu.Unlock()

	p.setState(conn, StateDisconnected)

	if client != nil {
		if err := client.Close(); err != nil {
			logging.Warn("Pool", "Error closing client for %s: %v", conn.Definition.Name, err)
		}
	}
}

// HealthCheck pings one server. It returns true only when the server is in
// the connected state and the underlying client responds. A failed ping
// transitions the server into the error state.
func (p *ServerPool) HealthCheck(ctx context.Context, name string) bool {
	conn, ok := p.GetConnection(name)
	if !ok {
		return false
	}

	conn.mu.Lock()
	conn.healthChecks++
	state := conn.state
	client := conn.client
	conn.mu.Unlock()

	if state != StateConnected || client == nil {
		return false
	}

	if err := client.Ping(ctx); err != nil {
		conn.mu.Lock()
		conn.lastError = fmt.Errorf("health check failed: %w", err)
		conn.mu.Unlock()
		p.setState(conn, StateError)
		logging.Warn("Pool", "Health check failed for server %s: %v", name, err)
		return false
	}

	return true
}

// ExecuteToolOnServer forwards a tool call to the named server.
func (p *ServerPool) ExecuteToolOnServer(ctx context.Context, name, toolName string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	conn, ok := p.GetConnection(name)
	if !ok {
		return nil, fmt.Errorf("%w: server %s not found", ErrServerNotConnected, name)
	}

	conn.mu.RLock()
	state := conn.state
	client := conn.client
	known := false
	for _, tool := range conn.tools {
		if tool.Name == toolName {
			known = true
			break
		}
	}
	conn.mu.RUnlock()

	if state != StateConnected || client == nil {
		return nil, fmt.Errorf("%w: server '%s' is not available (status: %s)", ErrServerNotConnected, name, state)
	}
	if !known {
		return nil, fmt.Errorf("%w: tool '%s' on server '%s'", ErrToolNotFound, toolName, name)
	}

	result, err := client.CallTool(ctx, toolName, args)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetServerTools returns the cached tool list for a server. The list is empty
// when the server is unknown or not connected.
func (p *ServerPool) GetServerTools(name string) []mcp.Tool {
	conn, ok := p.GetConnection(name)
	if !ok {
		return nil
	}
	return conn.Tools()
}

// ServerState returns the connection state for a server. Unknown servers
// report StateDisconnected.
func (p *ServerPool) ServerState(name string) ServerState {
	conn, ok := p.GetConnection(name)
	if !ok {
		return StateDisconnected
	}
	return conn.State()
}

// GetConnection returns the connection entry for a server.
func (p *ServerPool) GetConnection(name string) (*ServerConnection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conn, ok := p.servers[name]
	return conn, ok
}

// ServerNames returns the names of all pooled servers, sorted for determinism.
func (p *ServerPool) ServerNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.servers))
	for name := range p.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Statuses returns snapshots of every pooled server, sorted by name.
func (p *ServerPool) Statuses() []ServerStatus {
	names := p.ServerNames()
	statuses := make([]ServerStatus, 0, len(names))
	for _, name := range names {
		if conn, ok := p.GetConnection(name); ok {
			statuses = append(statuses, conn.Status())
		}
	}
	return statuses
}

// ConnectedCount returns how many servers are currently connected.
func (p *ServerPool) ConnectedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, conn := range p.servers {
		if conn.State() == StateConnected {
			count++
		}
	}
	return count
}

// Reconnect drives a server in the error state back towards connected,
// retrying with exponential backoff until MaxReconnectAttempts is exhausted
// or the context is cancelled.
func (p *ServerPool) Reconnect(ctx context.Context, name string) error {
	conn, ok := p.GetConnection(name)
	if !ok {
		return fmt.Errorf("server %s not found", name)
	}

	for {
		conn.mu.Lock()
		if conn.state == StateConnected {
			conn.mu.Unlock()
			return nil
		}
		if conn.state != StateError {
			state := conn.state
			conn.mu.Unlock()
			return fmt.Errorf("server %s is %s, not reconnectable", name, state)
		}
		if conn.reconnectAttempts >= MaxReconnectAttempts {
			conn.mu.Unlock()
			return fmt.Errorf("server %s exhausted %d reconnect attempts", name, MaxReconnectAttempts)
		}
		conn.reconnectAttempts++
		attempt := conn.reconnectAttempts
		oldClient := conn.client
		conn.client = nil
		conn.mu.Unlock()

		p.setState(conn, StateReconnecting)

		if oldClient != nil {
			oldClient.Close()
		}

		delay := backoffDelay(attempt)
		logging.Info("Pool", "Reconnecting server %s (attempt %d/%d) after %s",
			name, attempt, MaxReconnectAttempts, delay)

		select {
		case <-ctx.Done():
			p.setState(conn, StateError)
			return ctx.Err()
		case <-time.After(delay):
		}

		client, err := p.newClient(conn.Definition)
		if err == nil {
			err = client.Initialize(ctx)
		}
		if err != nil {
			conn.mu.Lock()
			conn.lastError = err
			conn.mu.Unlock()
			p.setState(conn, StateError)
			logging.Warn("Pool", "Reconnect attempt %d failed for server %s: %v", attempt, name, err)
			continue
		}

		conn.mu.Lock()
		conn.client = client
		conn.lastError = nil
		conn.lastConnected = time.Now()
		conn.reconnectAttempts = 0
		conn.mu.Unlock()

		oldState := p.transition(conn, StateConnected)
		p.discoverTools(ctx, conn)
		p.notifyStateChange(conn, oldState, StateConnected)

		logging.Info("Pool", "Reconnected server %s on attempt %d", name, attempt)
		return nil
	}
}

// backoffDelay computes base × 2^(attempt−1), capped at the maximum delay.
func backoffDelay(attempt int) time.Duration {
	delay := reconnectBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= reconnectMaxDelay {
			return reconnectMaxDelay
		}
	}
	if delay > reconnectMaxDelay {
		return reconnectMaxDelay
	}
	return delay
}

// Shutdown closes every connection. It is idempotent; concurrent calls
// coalesce on the shutdown flag.
func (p *ServerPool) Shutdown(ctx context.Context) error {
	p.shutdownMu.Lock()
	if p.shutdown {
		p.shutdownMu.Unlock()
		return nil
	}
	p.shutdown = true
	p.shutdownMu.Unlock()

	p.mu.Lock()
	conns := make([]*ServerConnection, 0, len(p.servers))
	for _, conn := range p.servers {
		conns = append(conns, conn)
	}
	p.servers = make(map[string]*ServerConnection)
	p.mu.Unlock()

	for _, conn := range conns {
		p.closeConnection(conn)
	}

	logging.Info("Pool", "Shut down %d server connections", len(conns))
	return nil
}
