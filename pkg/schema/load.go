package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WorkflowJSON normalizes a workflow document to JSON. Input starting with
// '{' is taken as JSON; anything else is parsed as YAML.
func WorkflowJSON(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, NewError(ErrCodeValidation, "workflow document is empty")
	}
	if trimmed[0] == '{' {
		if !json.Valid(trimmed) {
			return nil, NewError(ErrCodeValidation, "workflow is not valid JSON")
		}
		return trimmed, nil
	}

	var doc any
	if err := yaml.Unmarshal(trimmed, &doc); err != nil {
		return nil, NewError(ErrCodeValidation, "workflow is not valid YAML").WithCause(err)
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, NewError(ErrCodeValidation, "workflow document must be an object")
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, NewError(ErrCodeValidation, "workflow YAML cannot be expressed as JSON").WithCause(err)
	}
	return out, nil
}

// ParseWorkflow decodes a JSON or YAML workflow document.
func ParseWorkflow(data []byte) (*WorkflowDefinition, error) {
	raw, err := WorkflowJSON(data)
	if err != nil {
		return nil, err
	}
	var def WorkflowDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, NewErrorf(ErrCodeValidation, "decode workflow: %s", err.Error()).WithCause(err)
	}
	return &def, nil
}

// LoadWorkflowFile reads and decodes a workflow file.
func LoadWorkflowFile(path string) (*WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}
	def, err := ParseWorkflow(data)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", path, err)
	}
	return def, nil
}
