package server

import (
	"context"
	"net/http"
	"sort"

	"mcphub/internal/events"
	"mcphub/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// mountMCPEndpoint exposes the default group's tools over the MCP protocol at
// /mcp. Tool registrations track the catalog: a background routine re-syncs
// whenever a server changes state.
func (s *Server) mountMCPEndpoint(ctx context.Context, mux *http.ServeMux) {
	s.mcpServer = mcpserver.NewMCPServer(
		"mcphub",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
	)

	streamable := mcpserver.NewStreamableHTTPServer(s.mcpServer)
	mux.Handle("/mcp", streamable)

	registered := s.syncMCPTools(nil)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		sub := s.hub.Subscribe(events.EventServerStatus)
		defer s.hub.Unsubscribe(sub.ID)

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.Events:
				if !ok {
					return
				}
				registered = s.syncMCPTools(registered)
			}
		}
	}()
}

// syncMCPTools reconciles the MCP server's registered tools with the default
// group's catalog and returns the new registered name set.
func (s *Server) syncMCPTools(registered map[string]bool) map[string]bool {
	entries, err := s.hub.ListTools("")
	if err != nil {
		logging.Warn("Server", "MCP tool sync failed: %v", err)
		return registered
	}

	current := make(map[string]bool, len(entries))
	var toAdd []mcpserver.ServerTool
	for _, entry := range entries {
		current[entry.Tool.Name] = true
		if !registered[entry.Tool.Name] {
			toAdd = append(toAdd, mcpserver.ServerTool{
				Tool:    entry.Tool,
				Handler: s.mcpToolHandler(entry.Tool.Name),
			})
		}
	}

	var toRemove []string
	for name := range registered {
		if !current[name] {
			toRemove = append(toRemove, name)
		}
	}
	sort.Strings(toRemove)

	if len(toAdd) > 0 {
		s.mcpServer.AddTools(toAdd...)
	}
	if len(toRemove) > 0 {
		s.mcpServer.DeleteTools(toRemove...)
	}
	if len(toAdd) > 0 || len(toRemove) > 0 {
		logging.Debug("Server", "MCP endpoint synced: +%d -%d tools", len(toAdd), len(toRemove))
	}

	return current
}

func (s *Server) mcpToolHandler(toolName string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := make(map[string]interface{})
		if req.Params.Arguments != nil {
			if argsMap, ok := req.Params.Arguments.(map[string]interface{}); ok {
				args = argsMap
			}
		}
		return s.hub.CallTool(ctx, toolName, args, ""), nil
	}
}
