package apitools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// toolsFile is the YAML shape of the API tools configuration file.
type toolsFile struct {
	Tools []ToolDefinition `yaml:"tools"`
}

// LoadDefinitions reads and validates the API tool configuration file.
// Parameter schemas are compile-checked so malformed schemas surface at load
// time rather than on the first call.
func LoadDefinitions(path string) ([]ToolDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading API tools config from %s: %w", path, err)
	}

	var file toolsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing API tools config from %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(file.Tools))
	for i := range file.Tools {
		def := &file.Tools[i]
		if err := validateDefinition(i, def); err != nil {
			return nil, err
		}
		if _, dup := seen[def.ToolName()]; dup {
			return nil, fmt.Errorf("tools[%d]: duplicate tool name %q", i, def.ToolName())
		}
		seen[def.ToolName()] = struct{}{}

		if def.Parameters != nil {
			if err := compileParameterSchema(def.ID, def.Parameters); err != nil {
				return nil, fmt.Errorf("tools[%d] (%s): %w", i, def.ID, err)
			}
		}
	}

	return file.Tools, nil
}

// compileParameterSchema verifies that a tool's parameter schema is a valid
// JSON schema.
func compileParameterSchema(id string, params map[string]interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("parameter schema is not serializable: %w", err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parameter schema is not valid JSON: %w", err)
	}

	resource := fmt.Sprintf("mcphub://apitools/%s/schema.json", id)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resource, doc); err != nil {
		return fmt.Errorf("invalid parameter schema: %w", err)
	}
	if _, err := compiler.Compile(resource); err != nil {
		return fmt.Errorf("invalid parameter schema: %w", err)
	}
	return nil
}
