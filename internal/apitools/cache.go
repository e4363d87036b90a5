package apitools

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// responseCache stores tool results keyed by the canonicalized rendered
// request, bounded only by per-entry TTL.
type responseCache struct {
	mu      sync.Mutex
	entries map[string]cachedResponse
}

type cachedResponse struct {
	result  *mcp.CallToolResult
	expires time.Time
}

func newResponseCache() *responseCache {
	return &responseCache{
		entries: make(map[string]cachedResponse),
	}
}

func (c *responseCache) Get(key string) (*mcp.CallToolResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.result, true
}

func (c *responseCache) Put(key string, result *mcp.CallToolResult, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedResponse{
		result:  result,
		expires: time.Now().Add(ttl),
	}
}

// Purge drops every entry. Called on config reload.
func (c *responseCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cachedResponse)
}

func (c *responseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// cacheKey canonicalizes a rendered request so equivalent requests share an entry.
func cacheKey(toolID, method, url string, headers map[string]string, body string) string {
	var sb strings.Builder
	sb.WriteString(toolID)
	sb.WriteByte('\n')
	sb.WriteString(method)
	sb.WriteByte('\n')
	sb.WriteString(url)
	sb.WriteByte('\n')

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%s\n", k, headers[k])
	}

	sb.WriteString(body)

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
