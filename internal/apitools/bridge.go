package apitools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"mcphub/pkg/logging"

	"github.com/fsnotify/fsnotify"
	"github.com/mark3labs/mcp-go/mcp"
)

const defaultRequestTimeout = 30 * time.Second

// Bridge exposes config-driven HTTP endpoints as MCP tools under the sentinel
// server id "api-tools". It renders request templates from call arguments and
// the process environment, executes the HTTP request, applies the optional
// response transform, and caches results per tool when configured.
type Bridge struct {
	mu    sync.RWMutex
	path  string
	tools map[string]*ToolDefinition // keyed by exposed tool name
	order []string

	httpClient *http.Client
	cache      *responseCache

	initialized bool
	lastReload  time.Time

	watcher  *fsnotify.Watcher
	onReload func()

	shutdownOnce sync.Once
	done         chan struct{}
}

// NewBridge creates a bridge for the given config file path. An empty path
// yields an initialized bridge with no tools.
func NewBridge(path string) *Bridge {
	return &Bridge{
		path:       path,
		tools:      make(map[string]*ToolDefinition),
		httpClient: &http.Client{},
		cache:      newResponseCache(),
		done:       make(chan struct{}),
	}
}

// SetOnReload registers a callback fired after every successful config reload.
// Used by the hub to invalidate the tool catalog.
func (b *Bridge) SetOnReload(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReload = fn
}

// Initialize loads the tool definitions and optionally starts the file watcher.
func (b *Bridge) Initialize(ctx context.Context, watch bool) error {
	if b.path == "" {
		b.mu.Lock()
		b.initialized = true
		b.mu.Unlock()
		logging.Info("APITools", "No API tools configured")
		return nil
	}

	if err := b.Reload(); err != nil {
		return err
	}

	if watch {
		if err := b.startWatcher(); err != nil {
			logging.Warn("APITools", "Could not watch %s for changes: %v", b.path, err)
		}
	}

	return nil
}

// Reload atomically replaces the tool set from the config file and purges the
// response cache. Callers observe either the old or the new tool set, never a
// mixture.
func (b *Bridge) Reload() error {
	if b.path == "" {
		return nil
	}

	defs, err := LoadDefinitions(b.path)
	if err != nil {
		return err
	}

	tools := make(map[string]*ToolDefinition, len(defs))
	order := make([]string, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		tools[def.ToolName()] = def
		order = append(order, def.ToolName())
	}

	b.mu.Lock()
	b.tools = tools
	b.order = order
	b.initialized = true
	b.lastReload = time.Now()
	onReload := b.onReload
	b.mu.Unlock()

	b.cache.Purge()

	logging.Info("APITools", "Loaded %d API tools from %s", len(defs), b.path)

	if onReload != nil {
		onReload()
	}
	return nil
}

// startWatcher reloads the config whenever the file changes on disk.
func (b *Bridge) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(b.path); err != nil {
		watcher.Close()
		return err
	}

	b.mu.Lock()
	b.watcher = watcher
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-b.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				logging.Info("APITools", "Config file changed, reloading")
				if err := b.Reload(); err != nil {
					logging.Error("APITools", err, "Reload after file change failed")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("APITools", "Watcher error: %v", err)
			}
		}
	}()

	logging.Info("APITools", "Watching %s for changes", b.path)
	return nil
}

// HasTool reports whether the bridge owns a tool with the given name.
func (b *Bridge) HasTool(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.tools[name]
	return ok
}

// GetTools returns the MCP descriptors of all bridged tools in config order.
func (b *Bridge) GetTools() []mcp.Tool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]mcp.Tool, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.tools[name].MCPTool())
	}
	return out
}

// Health reports the bridge's observable state.
func (b *Bridge) Health() Health {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Health{
		Initialized: b.initialized,
		Healthy:     b.initialized,
		ToolCount:   len(b.tools),
		LastReload:  b.lastReload,
	}
}

// Execute runs one bridged tool call end to end: render, cache check, HTTP,
// parse, transform, wrap, cache store.
func (b *Bridge) Execute(ctx context.Context, toolName string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	b.mu.RLock()
	def, ok := b.tools[toolName]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("API tool '%s' not found", toolName)
	}

	method := def.Request.Method
	renderedURL := substitute(def.Request.URL, args)
	headers := substituteMap(def.Request.Headers, args)
	body := substitute(def.Request.Body, args)

	if query := substituteMap(def.Request.Query, args); len(query) > 0 {
		values := url.Values{}
		for k, v := range query {
			values.Set(k, v)
		}
		separator := "?"
		if strings.Contains(renderedURL, "?") {
			separator = "&"
		}
		renderedURL += separator + values.Encode()
	}

	cacheEnabled := def.Cache != nil && def.Cache.Enabled
	var key string
	if cacheEnabled {
		key = cacheKey(def.ID, method, renderedURL, headers, body)
		if cached, hit := b.cache.Get(key); hit {
			logging.Debug("APITools", "Cache hit for tool %s", toolName)
			return cached, nil
		}
	}

	payload, errResult, err := b.doRequest(ctx, def, method, renderedURL, headers, body)
	if err != nil {
		return nil, err
	}
	if errResult != nil {
		return errResult, nil
	}

	if def.Response != nil && def.Response.Transform != "" {
		transformed, err := applyTransform(def.Response.Transform, payload)
		if err != nil {
			// Evaluation errors yield the raw body with a warning, not an error.
			logging.Warn("APITools", "Transform failed for tool %s, returning raw body: %v", toolName, err)
		} else {
			payload = transformed
		}
	}

	result := wrapPayload(payload)
	if cacheEnabled {
		b.cache.Put(key, result, def.Cache.TTL)
	}
	return result, nil
}

// doRequest performs the HTTP round trip and parses the response body.
// 4xx statuses become error results; transport failures and 5xx statuses
// return errors.
func (b *Bridge) doRequest(ctx context.Context, def *ToolDefinition, method, renderedURL string, headers map[string]string, body string) (interface{}, *mcp.CallToolResult, error) {
	timeout := def.Request.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, renderedURL, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid request for tool %s: %w", def.ID, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("HTTP request failed for tool %s: %w", def.ID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading response for tool %s: %w", def.ID, err)
	}

	if resp.StatusCode >= 500 {
		return nil, nil, fmt.Errorf("upstream service unavailable for tool %s (status %d)", def.ID, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		msg := fmt.Sprintf("API request failed with status %d: %s", resp.StatusCode, truncate(string(respBody), 512))
		return nil, mcp.NewToolResultError(msg), nil
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		var parsed interface{}
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			logging.Warn("APITools", "Tool %s returned invalid JSON, treating as text", def.ID)
			return string(respBody), nil, nil
		}
		return parsed, nil, nil
	}
	return string(respBody), nil, nil
}

// wrapPayload converts an arbitrary payload into a canonical tool result.
func wrapPayload(payload interface{}) *mcp.CallToolResult {
	switch v := payload.(type) {
	case string:
		return mcp.NewToolResultText(v)
	case nil:
		return mcp.NewToolResultText("null")
	default:
		pretty, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return mcp.NewToolResultText(fmt.Sprintf("%v", v))
		}
		return mcp.NewToolResultText(string(pretty))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// Shutdown stops the file watcher. Idempotent.
func (b *Bridge) Shutdown() error {
	b.shutdownOnce.Do(func() {
		close(b.done)
		b.mu.Lock()
		watcher := b.watcher
		b.watcher = nil
		b.mu.Unlock()
		if watcher != nil {
			watcher.Close()
		}
	})
	return nil
}
