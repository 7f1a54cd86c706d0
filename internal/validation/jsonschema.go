package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/browgent/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const workflowSchemaID = "https://browgent.dev/schemas/workflow.json"

// workflowSchemaJSON is the JSON Schema for WorkflowDefinition validation.
// Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://browgent.dev/schemas/workflow.json",
  "type": "object",
  "required": ["steps"],
  "properties": {
    "start": { "type": "string" },
    "startStepId": { "type": "string" },
    "slug": { "type": "string" },
    "title": { "type": "string" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "$defs": {
    "step": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "id": { "type": "string" },
        "type": {
          "type": "string",
          "enum": ["navigate", "wait", "wait_element", "scroll", "click", "fill",
                   "press", "log", "script", "extract_text", "if", "loop"]
        },
        "label": { "type": "string" },
        "config": { "type": "object" },
        "success": { "$ref": "#/$defs/success" },
        "next": { "type": "string" },
        "branches": {
          "type": "array",
          "items": { "$ref": "#/$defs/branch" }
        },
        "times": { "type": "integer", "minimum": 0 },
        "exit": { "type": "string" },
        "as": { "type": "string" },
        "condition": { "$ref": "#/$defs/condition" }
      },
      "additionalProperties": false
    },
    "branch": {
      "type": "object",
      "required": ["next"],
      "properties": {
        "condition": { "$ref": "#/$defs/condition" },
        "next": { "type": "string" }
      },
      "additionalProperties": false
    },
    "success": {
      "type": "object",
      "properties": {
        "timeout": { "type": "number" },
        "condition": { "$ref": "#/$defs/condition" }
      },
      "additionalProperties": false
    },
    "element": {
      "type": "object",
      "required": ["xpath"],
      "properties": { "xpath": { "type": "string", "minLength": 1 } },
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "properties": {
        "delay": { "type": "number", "minimum": 0 },
        "visible": { "$ref": "#/$defs/element" },
        "exists": { "$ref": "#/$defs/element" },
        "urlIncludes": { "type": "string" },
        "script": {
          "type": "object",
          "required": ["code"],
          "properties": { "code": { "type": "string", "minLength": 1 } },
          "additionalProperties": false
        },
        "expr": { "type": "string" },
        "cel": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks the structure of workflow documents against the
// embedded JSON Schema (Draft 2020-12). It is safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the workflow schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(workflowSchemaID, schemaDoc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}

	wfSchema, err := c.Compile(workflowSchemaID)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &JSONSchemaValidator{workflowSchema: wfSchema}, nil
}

// ValidateDefinition validates a decoded WorkflowDefinition.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	b, err := json.Marshal(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow definition").WithCause(err)
	}
	return v.ValidateRaw(b)
}

// ValidateRaw validates a workflow document as received, so unknown fields
// are reported instead of being dropped by decoding.
func (v *JSONSchemaValidator) ValidateRaw(data []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow is not valid JSON").WithCause(err)
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		return toBrowgentError(err)
	}
	return nil
}

// toBrowgentError converts a jsonschema.ValidationError into a BrowgentError
// listing every leaf violation with its instance location.
func toBrowgentError(err error) *schema.BrowgentError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
