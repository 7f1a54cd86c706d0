package validation

import (
	"encoding/json"
	"testing"

	"github.com/rendis/browgent/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T) *WorkflowValidator {
	t.Helper()
	wv, err := NewWorkflowValidator()
	require.NoError(t, err)
	return wv
}

func cfg(s string) json.RawMessage { return json.RawMessage(s) }

func errorAt(result *schema.ValidationResult, path string) *schema.ValidationIssue {
	for i := range result.Errors {
		if result.Errors[i].Path == path {
			return &result.Errors[i]
		}
	}
	return nil
}

func warningCodes(result *schema.ValidationResult) []string {
	out := make([]string, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		out = append(out, w.Code)
	}
	return out
}

func TestSemantic_BlankRequiredConfigField(t *testing.T) {
	wv := newTestValidator(t)
	def := &schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{
			{ID: "a", Type: schema.StepNavigate, Config: cfg(`{"url":"   "}`)},
		},
	}
	result := wv.Validate(t.Context(), def)
	require.False(t, result.Valid())

	issue := errorAt(result, "steps[0].config.url")
	require.NotNil(t, issue)
	assert.Equal(t, "url is required", issue.Message)
}

func TestSemantic_MissingConfigBlock(t *testing.T) {
	wv := newTestValidator(t)
	def := &schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{{ID: "a", Type: schema.StepClick}},
	}
	result := wv.Validate(t.Context(), def)
	assert.NotNil(t, errorAt(result, "steps[0].config.xpath"))
}

func TestSemantic_ConfigTypeMismatch(t *testing.T) {
	wv := newTestValidator(t)
	def := &schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{
			{ID: "a", Type: schema.StepNavigate, Config: cfg(`{"url":5}`)},
		},
	}
	result := wv.Validate(t.Context(), def)
	issue := errorAt(result, "steps[0].config")
	require.NotNil(t, issue)
	assert.Contains(t, issue.Message, "invalid navigate config")
}

func TestSemantic_OneOf(t *testing.T) {
	wv := newTestValidator(t)
	def := &schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{
			{ID: "a", Type: schema.StepWaitElement, Config: cfg(`{"type":"hidden","xpath":"//div"}`)},
		},
	}
	result := wv.Validate(t.Context(), def)
	issue := errorAt(result, "steps[0].config.type")
	require.NotNil(t, issue)
	assert.Contains(t, issue.Message, "type must be one of")
}

func TestSemantic_DuplicateIDs(t *testing.T) {
	wv := newTestValidator(t)
	def := &schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{
			{ID: "a", Type: schema.StepWait},
			{ID: " a ", Type: schema.StepWait},
		},
	}
	result := wv.Validate(t.Context(), def)
	issue := errorAt(result, "steps[1].id")
	require.NotNil(t, issue)
	assert.Contains(t, issue.Message, "duplicate step id")
}

func TestSemantic_UnknownNext(t *testing.T) {
	wv := newTestValidator(t)
	def := &schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{
			{ID: "a", Type: schema.StepWait, Next: "zz"},
		},
	}
	result := wv.Validate(t.Context(), def)
	issue := errorAt(result, "steps[0].next")
	require.NotNil(t, issue)
	assert.Equal(t, schema.ErrCodeUnknownStep, issue.Code)
	assert.Equal(t, "unknown next step id: zz", issue.Message)
}

func TestSemantic_UnknownBranchAndExitTargets(t *testing.T) {
	wv := newTestValidator(t)
	exit := "nowhere"
	times := 1
	def := &schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{
			{ID: "i", Type: schema.StepIf, Branches: []schema.Branch{{Next: "ghost"}}},
			{ID: "l", Type: schema.StepLoop, Times: &times, Exit: &exit},
		},
	}
	result := wv.Validate(t.Context(), def)
	assert.NotNil(t, errorAt(result, "steps[0].branches[0].next"))
	assert.NotNil(t, errorAt(result, "steps[1].exit"))
}

func TestSemantic_EmptyTargetsFallBack(t *testing.T) {
	wv := newTestValidator(t)
	exit := ""
	times := 1
	def := &schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{
			{ID: "i", Type: schema.StepIf, Branches: []schema.Branch{{Next: ""}}},
			{ID: "l", Type: schema.StepLoop, Times: &times, Exit: &exit},
		},
	}
	result := wv.Validate(t.Context(), def)
	assert.True(t, result.Valid(), result.Messages())
}

func TestSemantic_KindSpecificFields(t *testing.T) {
	wv := newTestValidator(t)
	times := 2
	exit := "a"
	def := &schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{
			{ID: "a", Type: schema.StepWait, Branches: []schema.Branch{{Next: "a"}}, Times: &times, Exit: &exit},
			{ID: "b", Type: schema.StepIf},
		},
	}
	result := wv.Validate(t.Context(), def)
	assert.NotNil(t, errorAt(result, "steps[0].branches"))
	assert.NotNil(t, errorAt(result, "steps[0].times"))
	assert.NotNil(t, errorAt(result, "steps[0].exit"))

	issue := errorAt(result, "steps[1].branches")
	require.NotNil(t, issue)
	assert.Contains(t, issue.Message, "at least one branch")
}

func TestSemantic_UnboundedLoopWarning(t *testing.T) {
	wv := newTestValidator(t)
	def := &schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{
			{ID: "l", Type: schema.StepLoop},
		},
	}
	result := wv.Validate(t.Context(), def)
	assert.True(t, result.Valid())
	assert.Contains(t, warningCodes(result), WarnUnboundedLoop)
}

func TestSemantic_MixedIDsWarning(t *testing.T) {
	wv := newTestValidator(t)
	def := &schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{
			{ID: "a", Type: schema.StepWait, Next: "missing"},
			{Type: schema.StepWait},
		},
	}
	result := wv.Validate(t.Context(), def)
	assert.True(t, result.Valid(), "next is not resolved in sequential mode")
	codes := warningCodes(result)
	assert.Contains(t, codes, WarnMixedIDs)
	assert.Contains(t, codes, WarnIgnoredNavHint)
}

func TestSemantic_UnknownStartWarning(t *testing.T) {
	wv := newTestValidator(t)
	def := &schema.WorkflowDefinition{
		Start: "missing",
		Steps: []schema.StepDefinition{{ID: "a", Type: schema.StepWait}},
	}
	result := wv.Validate(t.Context(), def)
	assert.True(t, result.Valid())
	assert.Contains(t, warningCodes(result), WarnUnknownStart)
}

func TestSemantic_ExpressionCompileErrors(t *testing.T) {
	wv := newTestValidator(t)
	def := &schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{
			{ID: "i", Type: schema.StepIf, Branches: []schema.Branch{
				{Condition: &schema.Condition{Expr: "vars.n >"}, Next: "s"},
				{Condition: &schema.Condition{CEL: "vars.n >"}, Next: "s"},
			}},
			{ID: "s", Type: schema.StepScript, Config: cfg(`{"code":"return 1","jq":".["}`)},
		},
	}
	result := wv.Validate(t.Context(), def)
	assert.NotNil(t, errorAt(result, "steps[0].branches[0].condition.expr"))
	assert.NotNil(t, errorAt(result, "steps[0].branches[1].condition.cel"))
	assert.NotNil(t, errorAt(result, "steps[1].config.jq"))
}

func TestSemantic_ValidExpressions(t *testing.T) {
	wv := newTestValidator(t)
	def := &schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{
			{ID: "i", Type: schema.StepIf, Branches: []schema.Branch{
				{Condition: &schema.Condition{Expr: "vars.n > 1"}, Next: "s"},
				{Condition: &schema.Condition{CEL: "url.contains('checkout')"}, Next: "s"},
			}},
			{ID: "s", Type: schema.StepScript, Config: cfg(`{"code":"return 1","as":"n","jq":".+1"}`)},
		},
	}
	result := wv.Validate(t.Context(), def)
	assert.True(t, result.Valid(), result.Messages())
}

func TestSemantic_SuccessConditionChecked(t *testing.T) {
	wv := newTestValidator(t)
	def := &schema.WorkflowDefinition{
		Steps: []schema.StepDefinition{
			{ID: "a", Type: schema.StepWait, Success: &schema.SuccessSpec{
				Condition: &schema.Condition{Script: &schema.ScriptRef{Code: " "}},
			}},
		},
	}
	result := wv.Validate(t.Context(), def)
	assert.NotNil(t, errorAt(result, "steps[0].success.condition.script.code"))
}
