package apitools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeToolsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apitools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefinitions(t *testing.T) {
	path := writeToolsFile(t, `
tools:
  - id: weather
    description: Current weather for a city
    request:
      url: https://api.example.com/weather/{{data.city}}
      query:
        units: metric
    parameters:
      type: object
      properties:
        city:
          type: string
      required: [city]
    cache:
      enabled: true
  - id: post-note
    name: create_note
    request:
      url: https://api.example.com/notes
      method: post
      body: '{"text": "{{data.text}}"}'
`)

	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, "weather", defs[0].ToolName())
	assert.Equal(t, "GET", defs[0].Request.Method)
	assert.Equal(t, DefaultCacheTTL, defs[0].Cache.TTL)

	assert.Equal(t, "create_note", defs[1].ToolName())
	assert.Equal(t, "POST", defs[1].Request.Method)

	tool := defs[0].MCPTool()
	assert.Equal(t, "object", tool.InputSchema.Type)
	assert.Equal(t, []string{"city"}, tool.InputSchema.Required)
	assert.Contains(t, tool.InputSchema.Properties, "city")
}

func TestLoadDefinitionsDuplicateName(t *testing.T) {
	path := writeToolsFile(t, `
tools:
  - id: a
    request: {url: https://example.com}
  - id: a
    request: {url: https://example.com}
`)
	_, err := LoadDefinitions(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate tool name")
}

func TestLoadDefinitionsMissingURL(t *testing.T) {
	path := writeToolsFile(t, `
tools:
  - id: a
    request: {method: GET}
`)
	_, err := LoadDefinitions(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request.url is required")
}

func TestLoadDefinitionsInvalidSchema(t *testing.T) {
	path := writeToolsFile(t, `
tools:
  - id: a
    request: {url: https://example.com}
    parameters:
      type: object
      properties:
        city:
          type: 12345
`)
	_, err := LoadDefinitions(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid parameter schema")
}

func TestLoadDefinitionsMissingFile(t *testing.T) {
	_, err := LoadDefinitions(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
