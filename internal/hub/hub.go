package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"mcphub/internal/apitools"
	"mcphub/internal/catalog"
	"mcphub/internal/config"
	"mcphub/internal/dispatch"
	"mcphub/internal/events"
	"mcphub/internal/groups"
	"mcphub/internal/pool"
	"mcphub/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
)

// initTimeout bounds the whole Initialize sequence. Var so tests can shrink it.
var initTimeout = 30 * time.Second

// healthCheckInterval is the cadence of the background health sweep. Var so
// tests can shrink it.
var healthCheckInterval = 30 * time.Second

// Hub composes the server pool, API-tool bridge, group resolver, tool catalog,
// dispatcher and event bus behind a single facade. All client-facing
// transports talk to the Hub, never to the components directly.
type Hub struct {
	cfg *config.HubConfig

	bus        *events.Bus
	pool       *pool.ServerPool
	bridge     *apitools.Bridge
	resolver   *groups.Resolver
	catalog    *catalog.Catalog
	dispatcher *dispatch.Dispatcher

	clientFactory func(config.ServerDefinition) (pool.MCPClient, error)

	monitorCancel context.CancelFunc
	monitorWG     sync.WaitGroup

	mu           sync.Mutex
	initialized  bool
	startedAt    time.Time
	shutdownDone chan struct{}
	shutdownErr  error
}

// New creates an uninitialized hub for the given configuration.
func New(cfg *config.HubConfig) *Hub {
	return &Hub{cfg: cfg}
}

// SetClientFactory overrides the upstream transport constructor. Must be
// called before Initialize. Intended for tests.
func (h *Hub) SetClientFactory(factory func(config.ServerDefinition) (pool.MCPClient, error)) {
	h.clientFactory = factory
}

// Initialize brings up all components in dependency order: event bus, server
// pool, API-tool bridge, group resolver, catalog, dispatcher. Per-server
// connection failures are tolerated; initialization fails only when every
// configured server fails, a component refuses to start, or the deadline
// expires.
func (h *Hub) Initialize(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	h.bus = events.NewBus()
	h.pool = pool.NewServerPool(h.onServerStateChange)
	if h.clientFactory != nil {
		h.pool.SetClientFactory(h.clientFactory)
	}
	h.bridge = apitools.NewBridge(h.cfg.APITools.Path)
	h.resolver = groups.NewResolver(h.cfg.Groups, h.pool)
	h.catalog = catalog.New(h.resolver, h.pool, h.bridge)
	h.dispatcher = dispatch.New(h.resolver, h.pool, h.bridge, h.bus)
	h.bridge.SetOnReload(h.catalog.ClearCache)

	// The bus outlives the init deadline; Shutdown stops its ticker.
	if err := h.bus.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}

	if err := h.pool.InitializeAll(initCtx, h.cfg.Servers); err != nil {
		h.bus.Stop()
		return fmt.Errorf("failed to initialize server pool: %w", err)
	}

	if err := h.bridge.Initialize(initCtx, h.cfg.APITools.WatchEnabled()); err != nil {
		h.bus.Stop()
		if shutdownErr := h.pool.Shutdown(ctx); shutdownErr != nil {
			logging.Warn("Hub", "Pool shutdown after failed init: %v", shutdownErr)
		}
		return fmt.Errorf("failed to initialize API tools: %w", err)
	}

	h.mu.Lock()
	h.initialized = true
	h.startedAt = time.Now()
	h.mu.Unlock()

	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	h.monitorCancel = monitorCancel
	h.monitorWG.Add(1)
	go h.runHealthMonitor(monitorCtx)

	h.bus.Publish(events.EventActivity, map[string]interface{}{
		"message": "hub initialized",
		"servers": len(h.cfg.Servers),
	})

	logging.Info("Hub", "Initialized with %d servers, %d groups",
		len(h.cfg.Servers), len(h.cfg.Groups))
	return nil
}

// onServerStateChange invalidates cached tool lists and publishes a
// server_status event on every pool transition.
func (h *Hub) onServerStateChange(serverName string, oldState, newState pool.ServerState) {
	if h.catalog != nil {
		h.catalog.InvalidateServer(serverName)
	}
	if h.bus != nil {
		h.bus.Publish(events.EventServerStatus, events.ServerStatusData{
			ServerName: serverName,
			OldState:   string(oldState),
			NewState:   string(newState),
		})
	}
}

// runHealthMonitor sweeps the pool on a fixed cadence. The pool does not
// self-schedule health checks or reconnects; this loop drives both.
func (h *Hub) runHealthMonitor(ctx context.Context) {
	defer h.monitorWG.Done()

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweepServerHealth(ctx)
		}
	}
}

// sweepServerHealth pings every connected server, publishes a health_check
// summary, then tries to reconnect servers left in the error state. The
// report reflects what the sweep found, not the repair outcome.
func (h *Hub) sweepServerHealth(ctx context.Context) {
	var failed []string
	for _, name := range h.pool.ServerNames() {
		switch h.pool.ServerState(name) {
		case pool.StateConnected:
			if !h.pool.HealthCheck(ctx, name) {
				failed = append(failed, name)
			}
		case pool.StateError:
			failed = append(failed, name)
		}
	}

	status := h.GetServiceStatus()
	h.bus.Publish(events.EventHealthCheck, events.HealthCheckData{
		Status:           status.Status,
		ServersTotal:     status.ServersTotal,
		ServersConnected: status.ServersConnected,
	})

	for _, name := range failed {
		if h.pool.ServerState(name) != pool.StateError {
			continue
		}
		if err := h.pool.Reconnect(ctx, name); err != nil {
			logging.Warn("Hub", "Reconnect of server %s failed: %v", name, err)
		}
	}
}

// Shutdown tears components down in reverse init order. It is idempotent and
// coalescing: overlapping calls wait for the in-progress shutdown and receive
// its aggregate error.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.shutdownDone != nil {
		done := h.shutdownDone
		h.mu.Unlock()
		<-done
		return h.shutdownErr
	}
	done := make(chan struct{})
	h.shutdownDone = done
	h.initialized = false
	h.mu.Unlock()

	logging.Info("Hub", "Shutting down")

	if h.monitorCancel != nil {
		h.monitorCancel()
		h.monitorWG.Wait()
	}

	var errs []error
	if h.bus != nil {
		h.bus.Stop()
	}
	if h.bridge != nil {
		if err := h.bridge.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("API tools shutdown: %w", err))
		}
	}
	if h.pool != nil {
		if err := h.pool.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server pool shutdown: %w", err))
		}
	}

	h.shutdownErr = errors.Join(errs...)
	close(done)
	return h.shutdownErr
}

// IsInitialized reports whether Initialize completed and Shutdown has not
// begun.
func (h *Hub) IsInitialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.initialized
}

func (h *Hub) groupOrDefault(groupID string) string {
	if groupID == "" {
		return config.DefaultGroupName
	}
	return groupID
}

// ListTools returns the tools reachable in a group. An empty groupID selects
// the default group.
func (h *Hub) ListTools(groupID string) ([]catalog.Entry, error) {
	if !h.IsInitialized() {
		return nil, errors.New("hub is not initialized")
	}
	return h.catalog.GetToolsForGroup(h.groupOrDefault(groupID))
}

// CallTool dispatches a tool invocation. Errors surface as isError results,
// never as Go errors.
func (h *Hub) CallTool(ctx context.Context, toolName string, args map[string]interface{}, groupID string) *mcp.CallToolResult {
	if !h.IsInitialized() {
		return mcp.NewToolResultError("hub is not initialized")
	}
	return h.dispatcher.CallTool(ctx, toolName, args, h.groupOrDefault(groupID))
}

// GetAllGroups returns every group, configured ones first.
func (h *Hub) GetAllGroups() []*groups.Group {
	if !h.IsInitialized() {
		return nil
	}
	return h.resolver.GetAllGroups()
}

// GroupInfo pairs a group with the health of its member servers.
type GroupInfo struct {
	Group   *groups.Group       `json:"group"`
	Servers []pool.ServerStatus `json:"servers"`
}

// GetGroupInfo returns one group and per-server health for its members.
func (h *Hub) GetGroupInfo(groupID string) (*GroupInfo, error) {
	if !h.IsInitialized() {
		return nil, errors.New("hub is not initialized")
	}

	grp, ok := h.resolver.GetGroup(h.groupOrDefault(groupID))
	if !ok {
		return nil, fmt.Errorf("group '%s' not found", groupID)
	}

	info := &GroupInfo{Group: grp}
	for _, serverName := range grp.Servers {
		if conn, ok := h.pool.GetConnection(serverName); ok {
			info.Servers = append(info.Servers, conn.Status())
		}
	}
	return info, nil
}

// GetServerHealth returns a snapshot of every pooled server.
func (h *Hub) GetServerHealth() []pool.ServerStatus {
	if h.pool == nil {
		return nil
	}
	return h.pool.Statuses()
}

// ServiceStatus is the aggregate health summary.
type ServiceStatus struct {
	Status           string  `json:"status"`
	ServersTotal     int     `json:"serversTotal"`
	ServersConnected int     `json:"serversConnected"`
	UptimeSeconds    float64 `json:"uptimeSeconds"`
}

// GetServiceStatus reports healthy, degraded or initializing.
func (h *Hub) GetServiceStatus() ServiceStatus {
	h.mu.Lock()
	initialized := h.initialized
	startedAt := h.startedAt
	h.mu.Unlock()

	status := ServiceStatus{Status: "initializing"}
	if h.pool != nil {
		status.ServersTotal = len(h.pool.ServerNames())
		status.ServersConnected = h.pool.ConnectedCount()
	}
	if initialized {
		status.UptimeSeconds = time.Since(startedAt).Seconds()
		if status.ServersConnected == status.ServersTotal {
			status.Status = "healthy"
		} else {
			status.Status = "degraded"
		}
	}
	return status
}

// Diagnostics is the per-component state dump for the diagnostics endpoint.
type Diagnostics struct {
	Service        ServiceStatus       `json:"service"`
	Servers        []pool.ServerStatus `json:"servers"`
	Groups         int                 `json:"groups"`
	Catalog        catalog.Stats       `json:"catalog"`
	Subscribers    int                 `json:"subscribers"`
	BufferedEvents int                 `json:"bufferedEvents"`
	APITools       apitools.Health     `json:"apiTools"`
}

// GetServiceDiagnostics returns counters and state for every component.
func (h *Hub) GetServiceDiagnostics() Diagnostics {
	diag := Diagnostics{Service: h.GetServiceStatus()}
	if h.pool != nil {
		diag.Servers = h.pool.Statuses()
	}
	if h.resolver != nil {
		diag.Groups = len(h.resolver.GetAllGroups())
	}
	if h.catalog != nil {
		diag.Catalog = h.catalog.Stats()
	}
	if h.bus != nil {
		diag.Subscribers = h.bus.SubscriberCount()
		diag.BufferedEvents = h.bus.RecentEventCount()
	}
	if h.bridge != nil {
		diag.APITools = h.bridge.Health()
	}
	return diag
}

// IsToolAvailable reports whether a tool is currently listed in a group.
func (h *Hub) IsToolAvailable(toolName, groupID string) bool {
	entries, err := h.ListTools(groupID)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.Tool.Name == toolName {
			return true
		}
	}
	return false
}

// GetToolDetails returns the catalog entry for a tool in a group.
func (h *Hub) GetToolDetails(toolName, groupID string) (*catalog.Entry, error) {
	entries, err := h.ListTools(groupID)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.Tool.Name == toolName {
			found := entry
			return &found, nil
		}
	}
	return nil, fmt.Errorf("tool '%s' not found in group '%s'", toolName, h.groupOrDefault(groupID))
}

// GetAPIToolsHealth reports the HTTP-bridge state.
func (h *Hub) GetAPIToolsHealth() apitools.Health {
	if h.bridge == nil {
		return apitools.Health{}
	}
	return h.bridge.Health()
}

// ReloadAPIToolConfig re-reads the API-tool definitions and clears affected
// caches.
func (h *Hub) ReloadAPIToolConfig() error {
	if !h.IsInitialized() {
		return errors.New("hub is not initialized")
	}
	return h.bridge.Reload()
}

// Subscribe registers an event subscriber, replaying recent matching events.
func (h *Hub) Subscribe(types ...events.EventType) *events.Subscription {
	return h.bus.Subscribe(types...)
}

// Unsubscribe removes an event subscriber.
func (h *Hub) Unsubscribe(id string) {
	h.bus.Unsubscribe(id)
}

// ErrorResponse is the uniform error shape returned over the wire.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FormatErrorResponse classifies an error into the wire error shape.
func FormatErrorResponse(err error) ErrorResponse {
	if err == nil {
		return ErrorResponse{Code: "INTERNAL_ERROR", Message: "unknown error"}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "not found"):
		return ErrorResponse{Code: "NOT_FOUND", Message: msg}
	case strings.Contains(lower, "not accessible"):
		return ErrorResponse{Code: "ACCESS_DENIED", Message: msg}
	case strings.Contains(lower, "not initialized"):
		return ErrorResponse{Code: "NOT_READY", Message: msg}
	case strings.Contains(lower, "cancel"):
		return ErrorResponse{Code: "CANCELLED", Message: msg}
	default:
		return ErrorResponse{Code: "INTERNAL_ERROR", Message: msg}
	}
}
