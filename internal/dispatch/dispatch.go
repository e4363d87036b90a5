package dispatch

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"mcphub/internal/apitools"
	"mcphub/internal/events"
	"mcphub/internal/groups"
	"mcphub/internal/pool"
	"mcphub/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
)

// maxAttempts bounds the retry loop for MCP tool execution. API tools run
// once; their HTTP layer owns timeouts.
const maxAttempts = 2

// Backoff between retry attempts. Vars so tests can shrink them.
var (
	retryBaseDelay = 1 * time.Second
	retryMaxDelay  = 5 * time.Second
)

// retryablePattern decides whether a failed attempt is worth retrying.
// Validation, access and not-found errors never reach the retry loop.
var retryablePattern = regexp.MustCompile(`(?i)connection|timeout|network|temporary|unavailable`)

// GroupResolver is the subset of the group resolver dispatch needs.
type GroupResolver interface {
	GetGroup(id string) (*groups.Group, bool)
	ValidateToolAccess(groupID, toolName string) bool
	FindToolInGroup(groupID, toolName string) (string, bool)
}

// ServerExecutor is the subset of the server pool dispatch needs.
type ServerExecutor interface {
	ServerState(name string) pool.ServerState
	GetServerTools(name string) []mcp.Tool
	ExecuteToolOnServer(ctx context.Context, serverName, toolName string, args map[string]interface{}) (*mcp.CallToolResult, error)
}

// APIBridge is the subset of the API-tool bridge dispatch needs.
type APIBridge interface {
	HasTool(name string) bool
	GetTools() []mcp.Tool
	Execute(ctx context.Context, toolName string, args map[string]interface{}) (*mcp.CallToolResult, error)
}

// EventPublisher receives tool-execution telemetry.
type EventPublisher interface {
	Publish(eventType events.EventType, data interface{})
}

// Dispatcher orchestrates a tool call: access check, routing, argument
// validation, execution with retry, and result normalization. Every error
// path is converted into a canonical tool result; CallTool never returns a
// Go error to its caller.
type Dispatcher struct {
	groups GroupResolver
	pool   ServerExecutor
	bridge APIBridge
	bus    EventPublisher
}

// New creates a dispatcher. The bridge and bus may be nil when the API-tool
// layer or telemetry is disabled.
func New(resolver GroupResolver, executor ServerExecutor, bridge APIBridge, bus EventPublisher) *Dispatcher {
	return &Dispatcher{
		groups: resolver,
		pool:   executor,
		bridge: bridge,
		bus:    bus,
	}
}

// CallTool runs the dispatch pipeline for one tool invocation and returns the
// canonical result. Failures of any step surface as isError results.
func (d *Dispatcher) CallTool(ctx context.Context, toolName string, args map[string]interface{}, groupID string) *mcp.CallToolResult {
	start := time.Now()

	result, serverName, err := d.dispatch(ctx, toolName, args, groupID)
	if err != nil {
		logging.Debug("Dispatch", "Tool %s failed in group %s: %v", toolName, groupID, err)
		result = mcp.NewToolResultError(err.Error())
	} else {
		result = normalizeResult(result)
	}

	d.emitExecution(toolName, serverName, groupID, result, err, time.Since(start))
	return result
}

// dispatch runs steps access check through execution and returns the raw
// result plus the owning server.
func (d *Dispatcher) dispatch(ctx context.Context, toolName string, args map[string]interface{}, groupID string) (*mcp.CallToolResult, string, error) {
	grp, ok := d.groups.GetGroup(groupID)
	if !ok {
		return nil, "", fmt.Errorf("group '%s' not found", groupID)
	}
	if len(grp.Servers) == 0 && !d.hasAPITools() {
		return nil, "", fmt.Errorf("no servers available in group '%s'", groupID)
	}

	if !d.groups.ValidateToolAccess(groupID, toolName) {
		return nil, "", fmt.Errorf("Tool '%s' is not accessible in group '%s'", toolName, groupID)
	}

	// API tools take routing precedence over pooled servers.
	if d.bridge != nil && d.bridge.HasTool(toolName) {
		if err := d.validateArgs(d.bridge.GetTools(), toolName, args); err != nil {
			return nil, apitools.ServerID, err
		}
		result, err := d.bridge.Execute(ctx, toolName, args)
		if err != nil {
			return nil, apitools.ServerID, err
		}
		return result, apitools.ServerID, nil
	}

	serverName, found := d.groups.FindToolInGroup(groupID, toolName)
	if !found {
		return nil, "", fmt.Errorf("tool '%s' not found in group '%s'", toolName, groupID)
	}

	if state := d.pool.ServerState(serverName); state != pool.StateConnected {
		return nil, serverName, fmt.Errorf("Server '%s' is not available (status: %s)", serverName, state)
	}

	if err := d.validateArgs(d.pool.GetServerTools(serverName), toolName, args); err != nil {
		return nil, serverName, err
	}

	result, err := d.executeWithRetry(ctx, serverName, toolName, args)
	return result, serverName, err
}

// executeWithRetry runs the pooled-server execution loop. A failed attempt is
// repeated only when its error message matches a retryable pattern and the
// context is still live.
func (d *Dispatcher) executeWithRetry(ctx context.Context, serverName, toolName string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := retryDelay(attempt - 1)
			logging.Debug("Dispatch", "Retrying tool %s on %s in %s (attempt %d/%d)",
				toolName, serverName, delay, attempt, maxAttempts)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("tool execution cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		result, err := d.pool.ExecuteToolOnServer(ctx, serverName, toolName, args)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, fmt.Errorf("Tool execution failed: %s", err.Error())
		}
	}

	return nil, fmt.Errorf("Tool execution failed after %d attempts: %s", maxAttempts, lastErr.Error())
}

func (d *Dispatcher) hasAPITools() bool {
	return d.bridge != nil && len(d.bridge.GetTools()) > 0
}

// validateArgs looks up the tool's input schema in the given descriptor list
// and checks the supplied arguments against it. A tool without a schema
// accepts anything.
func (d *Dispatcher) validateArgs(tools []mcp.Tool, toolName string, args map[string]interface{}) error {
	for _, tool := range tools {
		if tool.Name == toolName {
			return validateArguments(schemaForTool(tool), args)
		}
	}
	return nil
}

func (d *Dispatcher) emitExecution(toolName, serverName, groupID string, result *mcp.CallToolResult, err error, elapsed time.Duration) {
	if d.bus == nil {
		return
	}

	data := events.ToolExecutionData{
		ToolName:   toolName,
		ServerName: serverName,
		GroupID:    groupID,
		Success:    err == nil && (result == nil || !result.IsError),
		DurationMs: elapsed.Milliseconds(),
	}
	if err != nil {
		data.Error = err.Error()
	}
	d.bus.Publish(events.EventToolExecution, data)
}

func isRetryable(err error) bool {
	return retryablePattern.MatchString(err.Error())
}

func retryDelay(attempt int) time.Duration {
	delay := retryBaseDelay * (1 << (attempt - 1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
