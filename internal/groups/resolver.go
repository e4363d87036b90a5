package groups

import (
	"sync"

	"mcphub/internal/config"
	"mcphub/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
)

// ServerView is the subset of the server pool the resolver needs.
type ServerView interface {
	// ServerNames returns the names of all pooled servers.
	ServerNames() []string

	// GetServerTools returns the cached tool list for a server
	// (empty unless the server is connected).
	GetServerTools(name string) []mcp.Tool
}

// Group is a named access scope pairing servers with an optional tool allow-list.
type Group struct {
	Name         string   `json:"name"`
	DisplayName  string   `json:"displayName"`
	Description  string   `json:"description,omitempty"`
	Servers      []string `json:"servers"`
	AllowedTools []string `json:"allowedTools,omitempty"`
}

// AllowsTool reports whether the group's allow-list permits a tool name.
// An empty allow-list permits every tool from the group's servers.
func (g *Group) AllowsTool(toolName string) bool {
	if len(g.AllowedTools) == 0 {
		return true
	}
	for _, name := range g.AllowedTools {
		if name == toolName {
			return true
		}
	}
	return false
}

// Resolver answers group membership and tool access questions over the
// configured group table.
//
// When no groups are configured, the resolver synthesizes a "default" group
// spanning every pooled server with no tool restrictions, so the hub stays
// usable without group configuration. The synthetic group is also available
// under the name "default" when that name is not explicitly configured.
type Resolver struct {
	mu      sync.RWMutex
	groups  map[string]*Group
	order   []string
	servers ServerView
}

// NewResolver builds a resolver over the configured groups.
func NewResolver(defs []config.GroupDefinition, servers ServerView) *Resolver {
	r := &Resolver{
		groups:  make(map[string]*Group, len(defs)),
		servers: servers,
	}

	for _, def := range defs {
		grp := &Group{
			Name:         def.Name,
			DisplayName:  def.DisplayName,
			Description:  def.Description,
			Servers:      append([]string(nil), def.Servers...),
			AllowedTools: append([]string(nil), def.AllowedTools...),
		}
		if grp.DisplayName == "" {
			grp.DisplayName = grp.Name
		}
		r.groups[def.Name] = grp
		r.order = append(r.order, def.Name)
	}

	if len(defs) == 0 {
		logging.Info("Groups", "No groups configured, the %q group will span all servers", config.DefaultGroupName)
	}

	return r
}

// defaultGroup synthesizes the fallback group over all pooled servers.
func (r *Resolver) defaultGroup() *Group {
	return &Group{
		Name:        config.DefaultGroupName,
		DisplayName: config.DefaultGroupName,
		Description: "All configured servers",
		Servers:     r.servers.ServerNames(),
	}
}

// GetGroup returns a copy of the named group.
func (r *Resolver) GetGroup(id string) (*Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if grp, ok := r.groups[id]; ok {
		return copyGroup(grp), true
	}
	if id == config.DefaultGroupName {
		return r.defaultGroup(), true
	}
	return nil, false
}

// GetAllGroups returns copies of all groups in configured order, including the
// synthetic default group when it is not explicitly configured.
func (r *Resolver) GetAllGroups() []*Group {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Group, 0, len(r.order)+1)
	for _, name := range r.order {
		out = append(out, copyGroup(r.groups[name]))
	}
	if _, ok := r.groups[config.DefaultGroupName]; !ok {
		out = append(out, r.defaultGroup())
	}
	return out
}

// GetGroupServers returns the group's server names, preserving configured order.
func (r *Resolver) GetGroupServers(id string) []string {
	grp, ok := r.GetGroup(id)
	if !ok {
		return nil
	}
	return grp.Servers
}

// ValidateToolAccess reports whether a tool name is permitted in a group.
// The group must exist; an empty allow-list permits any tool from the group's
// servers.
func (r *Resolver) ValidateToolAccess(groupID, toolName string) bool {
	grp, ok := r.GetGroup(groupID)
	if !ok {
		return false
	}
	return grp.AllowsTool(toolName)
}

// FindToolInGroup returns the first server in the group's configured order
// that currently owns the named tool. Duplicate tool names across servers
// resolve deterministically to the first owner.
func (r *Resolver) FindToolInGroup(groupID, toolName string) (string, bool) {
	grp, ok := r.GetGroup(groupID)
	if !ok {
		return "", false
	}

	for _, serverName := range grp.Servers {
		for _, tool := range r.servers.GetServerTools(serverName) {
			if tool.Name == toolName {
				return serverName, true
			}
		}
	}
	return "", false
}

func copyGroup(g *Group) *Group {
	out := *g
	out.Servers = append([]string(nil), g.Servers...)
	out.AllowedTools = append([]string(nil), g.AllowedTools...)
	return &out
}
