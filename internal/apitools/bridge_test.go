package apitools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return tc.Text
}

// bridgeWith installs definitions directly, bypassing the file loader.
func bridgeWith(defs ...ToolDefinition) *Bridge {
	b := NewBridge("")
	tools := make(map[string]*ToolDefinition, len(defs))
	var order []string
	for i := range defs {
		_ = validateDefinition(i, &defs[i])
		tools[defs[i].ToolName()] = &defs[i]
		order = append(order, defs[i].ToolName())
	}
	b.mu.Lock()
	b.tools = tools
	b.order = order
	b.initialized = true
	b.mu.Unlock()
	return b
}

func TestExecuteJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/weather/Berlin", r.URL.Path)
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"temp": 21, "unit": "C"}`)
	}))
	defer srv.Close()

	b := bridgeWith(ToolDefinition{
		ID: "weather",
		Request: RequestSpec{
			URL:   srv.URL + "/weather/{{data.city}}",
			Query: map[string]string{"units": "metric"},
		},
	})

	result, err := b.Execute(context.Background(), "weather", map[string]interface{}{"city": "Berlin"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), `"temp": 21`)
}

func TestExecuteAppliesTransform(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"user": {"name": "ada"}}`)
	}))
	defer srv.Close()

	b := bridgeWith(ToolDefinition{
		ID:       "whoami",
		Request:  RequestSpec{URL: srv.URL},
		Response: &ResponseSpec{Transform: "{{ .user.name }}"},
	})

	result, err := b.Execute(context.Background(), "whoami", nil)
	require.NoError(t, err)
	assert.Equal(t, "ada", resultText(t, result))
}

func TestExecuteTransformErrorFallsBackToRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"a": 1}`)
	}))
	defer srv.Close()

	b := bridgeWith(ToolDefinition{
		ID:       "tool",
		Request:  RequestSpec{URL: srv.URL},
		Response: &ResponseSpec{Transform: "{{ .missing.field }}"},
	})

	result, err := b.Execute(context.Background(), "tool", nil)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), `"a": 1`)
}

func TestExecutePostWithBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, "created")
	}))
	defer srv.Close()

	t.Setenv("MCPHUB_TEST_API_KEY", "tok")

	b := bridgeWith(ToolDefinition{
		ID: "create",
		Request: RequestSpec{
			URL:     srv.URL,
			Method:  "POST",
			Headers: map[string]string{"Authorization": "Bearer {{env.MCPHUB_TEST_API_KEY}}"},
			Body:    `{"text": "{{data.text}}"}`,
		},
	})

	result, err := b.Execute(context.Background(), "create", map[string]interface{}{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "created", resultText(t, result))
}

func TestExecuteCaching(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"n": 1}`)
	}))
	defer srv.Close()

	b := bridgeWith(ToolDefinition{
		ID:      "cached",
		Request: RequestSpec{URL: srv.URL + "?q={{data.q}}"},
		Cache:   &CacheSpec{Enabled: true, TTL: time.Minute},
	})

	_, err := b.Execute(context.Background(), "cached", map[string]interface{}{"q": "a"})
	require.NoError(t, err)
	_, err = b.Execute(context.Background(), "cached", map[string]interface{}{"q": "a"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Different rendered request misses the cache.
	_, err = b.Execute(context.Background(), "cached", map[string]interface{}{"q": "b"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecuteClientErrorBecomesErrorResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such thing", http.StatusNotFound)
	}))
	defer srv.Close()

	b := bridgeWith(ToolDefinition{ID: "tool", Request: RequestSpec{URL: srv.URL}})

	result, err := b.Execute(context.Background(), "tool", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "status 404")
}

func TestExecuteServerErrorReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := bridgeWith(ToolDefinition{ID: "tool", Request: RequestSpec{URL: srv.URL}})

	_, err := b.Execute(context.Background(), "tool", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")
}

func TestExecuteUnknownTool(t *testing.T) {
	b := bridgeWith()
	_, err := b.Execute(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReloadSwapsToolSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apitools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tools:
  - id: first
    request: {url: https://example.com}
`), 0o644))

	b := NewBridge(path)
	reloads := 0
	b.SetOnReload(func() { reloads++ })

	require.NoError(t, b.Initialize(context.Background(), false))
	assert.True(t, b.HasTool("first"))
	assert.Equal(t, 1, reloads)

	require.NoError(t, os.WriteFile(path, []byte(`
tools:
  - id: second
    request: {url: https://example.com}
`), 0o644))
	require.NoError(t, b.Reload())

	assert.False(t, b.HasTool("first"))
	assert.True(t, b.HasTool("second"))
	assert.Equal(t, 2, reloads)

	health := b.Health()
	assert.True(t, health.Initialized)
	assert.Equal(t, 1, health.ToolCount)
	assert.False(t, health.LastReload.IsZero())

	require.NoError(t, b.Shutdown())
	require.NoError(t, b.Shutdown())
}

func TestBridgeWithoutPath(t *testing.T) {
	b := NewBridge("")
	require.NoError(t, b.Initialize(context.Background(), false))

	health := b.Health()
	assert.True(t, health.Initialized)
	assert.Zero(t, health.ToolCount)
	assert.Empty(t, b.GetTools())
}
