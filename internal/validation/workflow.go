package validation

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/rendis/browgent/internal/expressions"
	"github.com/rendis/browgent/pkg/schema"
)

// WorkflowValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (configs, ids, navigation targets, expressions)
// 3. Graph (reachability)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	structs    *validator.Validate
	conds      *expressions.Conditions
	jq         *expressions.GoJQEngine
}

// NewWorkflowValidator creates a WorkflowValidator.
func NewWorkflowValidator() (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	conds, err := expressions.NewConditions()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{
		jsonSchema: jsv,
		structs:    newStructValidator(),
		conds:      conds,
		jq:         expressions.NewGoJQEngine(),
	}, nil
}

// Validate runs the full 3-stage pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and graph stages are skipped.
func (wv *WorkflowValidator) Validate(_ context.Context, def *schema.WorkflowDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow definition is nil")
		return r
	}

	// Stage 1: Structural (JSON Schema).
	result := validateStructural(wv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	// Stage 2: Semantic.
	result.Merge(validateSemantic(def, wv.structs, wv.conds, wv.jq))

	// Stage 3: Graph (skip if semantic errors; targets may be dangling).
	if result.Valid() {
		result.Merge(validateGraph(def))
	}

	return result
}

// ValidateDefinition returns the pipeline result as an error, nil if valid.
func (wv *WorkflowValidator) ValidateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error {
	return wv.Validate(ctx, def).ToError()
}

// validateStructural wraps JSONSchemaValidator.ValidateDefinition, converting
// its error output into ValidationResult.
func validateStructural(v *JSONSchemaValidator, def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDefinition(def)
	if err == nil {
		return result
	}

	be, ok := err.(*schema.BrowgentError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if be.Details != nil {
		if violations, ok := be.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, be.Message)
	return result
}
