package catalog

import (
	"fmt"
	"sync"
	"time"

	"mcphub/internal/apitools"
	"mcphub/internal/groups"
	"mcphub/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL bounds how long a cached per-group tool list is served.
const DefaultTTL = 30 * time.Second

// GroupResolver is the subset of the group resolver the catalog needs.
type GroupResolver interface {
	GetGroup(id string) (*groups.Group, bool)
}

// ServerView provides the cached tool lists of pooled servers.
type ServerView interface {
	GetServerTools(name string) []mcp.Tool
}

// APIToolSource provides the HTTP-bridged tools.
type APIToolSource interface {
	GetTools() []mcp.Tool
}

// Entry pairs a tool descriptor with its owning server.
type Entry struct {
	Tool       mcp.Tool `json:"tool"`
	ServerName string   `json:"serverName"`
}

type cachedList struct {
	entries []Entry
	updated time.Time
}

// Stats describes the cache for observability surfaces.
type Stats struct {
	Groups int       `json:"groups"`
	Tools  int       `json:"tools"`
	Oldest time.Time `json:"oldest,omitempty"`
	Newest time.Time `json:"newest,omitempty"`
}

// Catalog maintains the per-group, TTL-bounded view of available tools across
// the server pool and the API-tool bridge. Expired or missing entries trigger
// a fresh aggregation; concurrent aggregations for the same group are
// deduplicated via singleflight.
type Catalog struct {
	mu      sync.RWMutex
	cache   map[string]cachedList
	ttl     time.Duration
	flight  singleflight.Group
	groups  GroupResolver
	servers ServerView
	api     APIToolSource
}

// New creates a catalog with the default TTL.
func New(resolver GroupResolver, servers ServerView, api APIToolSource) *Catalog {
	return &Catalog{
		cache:   make(map[string]cachedList),
		ttl:     DefaultTTL,
		groups:  resolver,
		servers: servers,
		api:     api,
	}
}

// SetTTL overrides the cache TTL. Intended for tests.
func (c *Catalog) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
}

// GetToolsForGroup returns the tools reachable in a group. A fresh cached
// entry is returned as a defensive copy; otherwise the list is aggregated
// from the server pool and the API bridge and cached.
func (c *Catalog) GetToolsForGroup(groupID string) ([]Entry, error) {
	c.mu.RLock()
	cached, ok := c.cache[groupID]
	ttl := c.ttl
	c.mu.RUnlock()

	if ok && time.Since(cached.updated) < ttl {
		return copyEntries(cached.entries), nil
	}

	result, err, _ := c.flight.Do(groupID, func() (interface{}, error) {
		// Another caller may have refreshed while we waited on the flight.
		c.mu.RLock()
		cached, ok := c.cache[groupID]
		c.mu.RUnlock()
		if ok && time.Since(cached.updated) < ttl {
			return cached.entries, nil
		}

		entries, err := c.aggregate(groupID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cache[groupID] = cachedList{entries: entries, updated: time.Now()}
		c.mu.Unlock()

		logging.Debug("Catalog", "Aggregated %d tools for group %s", len(entries), groupID)
		return entries, nil
	})
	if err != nil {
		return nil, err
	}

	return copyEntries(result.([]Entry)), nil
}

// aggregate builds the tool list for one group: MCP tools from the group's
// servers first, then API tools, both filtered by the group's allow-list.
func (c *Catalog) aggregate(groupID string) ([]Entry, error) {
	grp, ok := c.groups.GetGroup(groupID)
	if !ok {
		return nil, fmt.Errorf("group '%s' not found", groupID)
	}

	var entries []Entry
	for _, serverName := range grp.Servers {
		for _, tool := range c.servers.GetServerTools(serverName) {
			if !grp.AllowsTool(tool.Name) {
				continue
			}
			entries = append(entries, Entry{Tool: tool, ServerName: serverName})
		}
	}

	for _, tool := range c.api.GetTools() {
		if !grp.AllowsTool(tool.Name) {
			continue
		}
		entries = append(entries, Entry{Tool: tool, ServerName: apitools.ServerID})
	}

	return entries, nil
}

// ClearCache drops every cached group list.
func (c *Catalog) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]cachedList)
	logging.Debug("Catalog", "Cleared tool cache")
}

// ClearCacheForGroup drops one group's cached list.
func (c *Catalog) ClearCacheForGroup(groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, groupID)
}

// RefreshToolCache rebuilds one group's list immediately.
func (c *Catalog) RefreshToolCache(groupID string) ([]Entry, error) {
	c.ClearCacheForGroup(groupID)
	return c.GetToolsForGroup(groupID)
}

// InvalidateServer drops cached lists of every group containing the server.
// Called when a server transitions into or out of the connected state.
func (c *Catalog) InvalidateServer(serverName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for groupID := range c.cache {
		grp, ok := c.groups.GetGroup(groupID)
		if !ok {
			delete(c.cache, groupID)
			continue
		}
		for _, name := range grp.Servers {
			if name == serverName {
				delete(c.cache, groupID)
				break
			}
		}
	}
}

// Stats returns cache statistics for observability.
func (c *Catalog) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{Groups: len(c.cache)}
	for _, cached := range c.cache {
		stats.Tools += len(cached.entries)
		if stats.Oldest.IsZero() || cached.updated.Before(stats.Oldest) {
			stats.Oldest = cached.updated
		}
		if cached.updated.After(stats.Newest) {
			stats.Newest = cached.updated
		}
	}
	return stats
}

func copyEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
