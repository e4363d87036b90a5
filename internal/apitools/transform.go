package apitools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// applyTransform evaluates a transform expression against the parsed response
// body. The expression is a Go template (sprig functions available) whose dot
// is the parsed body. If the rendered output is valid JSON it is returned
// decoded; otherwise the raw string is returned.
func applyTransform(expr string, body interface{}) (interface{}, error) {
	tmpl, err := template.New("transform").Funcs(sprig.TxtFuncMap()).Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid transform expression: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, body); err != nil {
		return nil, fmt.Errorf("transform evaluation failed: %w", err)
	}

	out := strings.TrimSpace(buf.String())
	if out == "<no value>" {
		return nil, fmt.Errorf("transform resolved to no value")
	}

	var decoded interface{}
	if err := json.Unmarshal([]byte(out), &decoded); err == nil {
		return decoded, nil
	}
	return out, nil
}
