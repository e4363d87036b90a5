package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"mcphub/internal/config"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	mu         sync.Mutex
	initErr    error
	listErr    error
	pingErr    error
	callErr    error
	tools      []mcp.Tool
	callResult *mcp.CallToolResult

	initCalls  int
	closeCalls int
	callCalls  int
}

func (m *mockClient) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initCalls++
	return m.initErr
}

func (m *mockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return nil
}

func (m *mockClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.tools, nil
}

func (m *mockClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCalls++
	if m.callErr != nil {
		return nil, m.callErr
	}
	return m.callResult, nil
}

func (m *mockClient) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func stdioDef(name string) config.ServerDefinition {
	return config.ServerDefinition{
		Name:      name,
		Transport: config.TransportStdio,
		Command:   "test-server",
	}
}

func poolWithClient(c MCPClient) *ServerPool {
	p := NewServerPool(nil)
	p.SetClientFactory(func(config.ServerDefinition) (MCPClient, error) {
		return c, nil
	})
	return p
}

func shortBackoff(t *testing.T) {
	t.Helper()
	oldBase, oldMax := reconnectBaseDelay, reconnectMaxDelay
	reconnectBaseDelay = time.Millisecond
	reconnectMaxDelay = 5 * time.Millisecond
	t.Cleanup(func() {
		reconnectBaseDelay = oldBase
		reconnectMaxDelay = oldMax
	})
}

func TestCreateConnectionDiscoversTools(t *testing.T) {
	client := &mockClient{tools: []mcp.Tool{{Name: "add"}, {Name: "mul"}}}
	p := poolWithClient(client)

	err := p.CreateConnection(context.Background(), stdioDef("math"))
	require.NoError(t, err)

	conn, ok := p.GetConnection("math")
	require.True(t, ok)
	assert.Equal(t, StateConnected, conn.State())
	assert.Len(t, p.GetServerTools("math"), 2)
	assert.Equal(t, 1, p.ConnectedCount())
}

func TestCreateConnectionSkipsDisabled(t *testing.T) {
	disabled := false
	def := stdioDef("math")
	def.Enabled = &disabled

	p := poolWithClient(&mockClient{})
	require.NoError(t, p.CreateConnection(context.Background(), def))

	_, ok := p.GetConnection("math")
	assert.False(t, ok)
}

func TestCreateConnectionFailureLeavesErrorState(t *testing.T) {
	client := &mockClient{initErr: errors.New("handshake refused")}
	p := poolWithClient(client)

	err := p.CreateConnection(context.Background(), stdioDef("math"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)

	conn, ok := p.GetConnection("math")
	require.True(t, ok)
	assert.Equal(t, StateError, conn.State())
	assert.ErrorContains(t, conn.LastError(), "handshake refused")
	assert.Empty(t, conn.Tools())
}

func TestCreateConnectionIdempotent(t *testing.T) {
	client := &mockClient{tools: []mcp.Tool{{Name: "add"}}}
	p := poolWithClient(client)

	require.NoError(t, p.CreateConnection(context.Background(), stdioDef("math")))
	require.NoError(t, p.CreateConnection(context.Background(), stdioDef("math")))

	// The first client was closed before being replaced.
	assert.Equal(t, 1, client.closeCalls)
	assert.Equal(t, 1, p.ConnectedCount())
}

func TestDiscoveryFailureKeepsConnected(t *testing.T) {
	client := &mockClient{listErr: errors.New("tools/list unsupported")}
	p := poolWithClient(client)

	require.NoError(t, p.CreateConnection(context.Background(), stdioDef("math")))

	conn, _ := p.GetConnection("math")
	assert.Equal(t, StateConnected, conn.State())
	assert.Empty(t, conn.Tools())
}

func TestInitializeAllPartialFailure(t *testing.T) {
	p := NewServerPool(nil)
	p.SetClientFactory(func(def config.ServerDefinition) (MCPClient, error) {
		if def.Name == "bad" {
			return &mockClient{initErr: errors.New("boom")}, nil
		}
		return &mockClient{tools: []mcp.Tool{{Name: "add"}}}, nil
	})

	err := p.InitializeAll(context.Background(), []config.ServerDefinition{
		stdioDef("good"), stdioDef("bad"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, p.ConnectedCount())
}

func TestInitializeAllAllFail(t *testing.T) {
	p := poolWithClient(&mockClient{initErr: errors.New("boom")})

	err := p.InitializeAll(context.Background(), []config.ServerDefinition{
		stdioDef("a"), stdioDef("b"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 servers failed")
}

func TestInitializeAllNoServers(t *testing.T) {
	p := poolWithClient(&mockClient{})
	assert.NoError(t, p.InitializeAll(context.Background(), nil))
}

func TestHealthCheck(t *testing.T) {
	client := &mockClient{}
	p := poolWithClient(client)
	require.NoError(t, p.CreateConnection(context.Background(), stdioDef("math")))

	assert.True(t, p.HealthCheck(context.Background(), "math"))

	client.mu.Lock()
	client.pingErr = errors.New("broken pipe")
	client.mu.Unlock()

	assert.False(t, p.HealthCheck(context.Background(), "math"))

	conn, _ := p.GetConnection("math")
	assert.Equal(t, StateError, conn.State())
	assert.Equal(t, 2, conn.Status().HealthChecks)

	assert.False(t, p.HealthCheck(context.Background(), "unknown"))
}

func TestExecuteToolOnServer(t *testing.T) {
	result := mcp.NewToolResultText("7")
	client := &mockClient{tools: []mcp.Tool{{Name: "add"}}, callResult: result}
	p := poolWithClient(client)
	require.NoError(t, p.CreateConnection(context.Background(), stdioDef("math")))

	got, err := p.ExecuteToolOnServer(context.Background(), "math", "add", map[string]interface{}{"a": 3, "b": 4})
	require.NoError(t, err)
	assert.Equal(t, result, got)

	_, err = p.ExecuteToolOnServer(context.Background(), "math", "sub", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)

	_, err = p.ExecuteToolOnServer(context.Background(), "nope", "add", nil)
	assert.ErrorIs(t, err, ErrServerNotConnected)
}

func TestExecuteToolOnDisconnectedServer(t *testing.T) {
	client := &mockClient{initErr: errors.New("boom")}
	p := poolWithClient(client)
	_ = p.CreateConnection(context.Background(), stdioDef("math"))

	_, err := p.ExecuteToolOnServer(context.Background(), "math", "add", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerNotConnected)
	assert.Contains(t, err.Error(), "not available (status: error)")
}

func TestReconnectSucceeds(t *testing.T) {
	shortBackoff(t)

	attempts := 0
	p := NewServerPool(nil)
	p.SetClientFactory(func(config.ServerDefinition) (MCPClient, error) {
		attempts++
		if attempts == 1 {
			return &mockClient{initErr: errors.New("boom")}, nil
		}
		return &mockClient{tools: []mcp.Tool{{Name: "add"}}}, nil
	})

	_ = p.CreateConnection(context.Background(), stdioDef("math"))
	conn, _ := p.GetConnection("math")
	require.Equal(t, StateError, conn.State())

	require.NoError(t, p.Reconnect(context.Background(), "math"))
	assert.Equal(t, StateConnected, conn.State())
	assert.Len(t, conn.Tools(), 1)
	// Counter resets on a fresh connection.
	assert.Equal(t, 0, conn.Status().ReconnectAttempts)
}

func TestReconnectExhaustsAttempts(t *testing.T) {
	shortBackoff(t)

	p := poolWithClient(&mockClient{initErr: errors.New("boom")})
	_ = p.CreateConnection(context.Background(), stdioDef("math"))

	err := p.Reconnect(context.Background(), "math")
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("exhausted %d reconnect attempts", MaxReconnectAttempts))

	conn, _ := p.GetConnection("math")
	assert.Equal(t, StateError, conn.State())
	assert.Equal(t, MaxReconnectAttempts, conn.Status().ReconnectAttempts)
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 1*time.Second, backoffDelay(1))
	assert.Equal(t, 2*time.Second, backoffDelay(2))
	assert.Equal(t, 4*time.Second, backoffDelay(3))
	assert.Equal(t, 5*time.Second, backoffDelay(4))
	assert.Equal(t, 5*time.Second, backoffDelay(10))
}

func TestStateChangeCallback(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	p := NewServerPool(func(name string, old, new ServerState) {
		mu.Lock()
		transitions = append(transitions, fmt.Sprintf("%s:%s->%s", name, old, new))
		mu.Unlock()
	})
	p.SetClientFactory(func(config.ServerDefinition) (MCPClient, error) {
		return &mockClient{}, nil
	})

	require.NoError(t, p.CreateConnection(context.Background(), stdioDef("math")))
	require.NoError(t, p.CloseConnection("math"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"math:disconnected->connecting",
		"math:connecting->connected",
		"math:connected->disconnected",
	}, transitions)
}

func TestToolsVisibleAtConnectedCallback(t *testing.T) {
	shortBackoff(t)

	var mu sync.Mutex
	var toolsSeen [][]mcp.Tool

	var p *ServerPool
	p = NewServerPool(func(name string, old, new ServerState) {
		if new != StateConnected {
			return
		}
		mu.Lock()
		toolsSeen = append(toolsSeen, p.GetServerTools(name))
		mu.Unlock()
	})
	p.SetClientFactory(func(config.ServerDefinition) (MCPClient, error) {
		return &mockClient{tools: []mcp.Tool{{Name: "add"}}}, nil
	})

	// Discovery finishes before the connected transition is observable, on
	// initial connect and on reconnect alike.
	require.NoError(t, p.CreateConnection(context.Background(), stdioDef("math")))

	conn, _ := p.GetConnection("math")
	p.setState(conn, StateError)
	require.NoError(t, p.Reconnect(context.Background(), "math"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, toolsSeen, 2)
	for _, tools := range toolsSeen {
		require.Len(t, tools, 1)
		assert.Equal(t, "add", tools[0].Name)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	client := &mockClient{}
	p := poolWithClient(client)
	require.NoError(t, p.CreateConnection(context.Background(), stdioDef("math")))

	require.NoError(t, p.Shutdown(context.Background()))
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Equal(t, 1, client.closeCalls)
	assert.Empty(t, p.ServerNames())
}
