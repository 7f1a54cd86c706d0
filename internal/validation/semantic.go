package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rendis/browgent/internal/expressions"
	"github.com/rendis/browgent/pkg/schema"
)

// Warning codes emitted by the semantic and graph stages.
const (
	WarnMixedIDs       = "MIXED_IDS"
	WarnUnknownStart   = "UNKNOWN_START"
	WarnUnboundedLoop  = "UNBOUNDED_LOOP"
	WarnUnreachable    = "UNREACHABLE_STEP"
	WarnIgnoredNavHint = "IGNORED_NAVIGATION"
)

// newStructValidator builds the validator/v10 instance used for step configs.
// Field names in reported errors are the JSON names.
func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// nonblank rejects empty and whitespace-only strings.
	_ = v.RegisterValidation("nonblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// newConfig returns a pointer to the config struct for kind, or nil for kinds
// without a config block.
func newConfig(kind schema.StepKind) any {
	switch kind {
	case schema.StepNavigate:
		return &schema.NavigateConfig{}
	case schema.StepWait:
		return &schema.WaitConfig{}
	case schema.StepWaitElement:
		return &schema.WaitElementConfig{}
	case schema.StepScroll:
		return &schema.ScrollConfig{}
	case schema.StepClick:
		return &schema.ClickConfig{}
	case schema.StepFill:
		return &schema.FillConfig{}
	case schema.StepPress:
		return &schema.PressConfig{}
	case schema.StepLog:
		return &schema.LogConfig{}
	case schema.StepScript:
		return &schema.ScriptConfig{}
	case schema.StepExtractText:
		return &schema.ExtractTextConfig{}
	default:
		return nil
	}
}

// semanticChecker holds the shared state for one semantic pass.
type semanticChecker struct {
	structs *validator.Validate
	conds   *expressions.Conditions
	jq      *expressions.GoJQEngine
	ids     map[string]bool
	result  *schema.ValidationResult
}

// validateSemantic checks what the JSON Schema cannot: config contents,
// id uniqueness, navigation targets, kind-specific fields and expressions.
func validateSemantic(def *schema.WorkflowDefinition, structs *validator.Validate, conds *expressions.Conditions, jq *expressions.GoJQEngine) *schema.ValidationResult {
	c := &semanticChecker{
		structs: structs,
		conds:   conds,
		jq:      jq,
		ids:     make(map[string]bool, len(def.Steps)),
		result:  &schema.ValidationResult{},
	}

	withID := 0
	for i := range def.Steps {
		id := def.Steps[i].TrimmedID()
		if id == "" {
			continue
		}
		withID++
		if c.ids[id] {
			c.result.AddError(fmt.Sprintf("steps[%d].id", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate step id %q", id))
		}
		c.ids[id] = true
	}

	graph := withID == len(def.Steps)
	if withID > 0 && !graph {
		c.result.AddWarning("steps", WarnMixedIDs,
			"some steps have no id; the workflow runs in array order and navigation fields are ignored")
	}

	if start := strings.TrimSpace(def.Start); start != "" && graph && !c.ids[start] {
		c.result.AddWarning("start", WarnUnknownStart,
			fmt.Sprintf("start step %q not found; the first step is used", start))
	}

	for i := range def.Steps {
		c.checkStep(&def.Steps[i], fmt.Sprintf("steps[%d]", i), graph)
	}
	return c.result
}

func (c *semanticChecker) checkStep(step *schema.StepDefinition, path string, graph bool) {
	if !step.Type.Valid() {
		c.result.AddError(path+".type", schema.ErrCodeUnsupportedStep,
			fmt.Sprintf("unsupported step type: %s", step.Type))
		return
	}

	c.checkConfig(step, path)

	if graph {
		c.checkTarget(step.Next, path+".next")
	} else if strings.TrimSpace(step.Next) != "" {
		c.result.AddWarning(path+".next", WarnIgnoredNavHint, "next is ignored in sequential mode")
	}

	switch step.Type {
	case schema.StepIf:
		if len(step.Branches) == 0 {
			c.result.AddError(path+".branches", schema.ErrCodeValidation, "if step requires at least one branch")
		}
		for j := range step.Branches {
			bpath := fmt.Sprintf("%s.branches[%d]", path, j)
			if graph {
				c.checkTarget(step.Branches[j].Next, bpath+".next")
			}
			c.checkCondition(step.Branches[j].Condition, bpath+".condition")
		}
	case schema.StepLoop:
		if step.Times == nil && step.Condition.IsEmpty() {
			c.result.AddWarning(path, WarnUnboundedLoop, "loop has neither times nor condition")
		}
		if step.Times != nil && *step.Times < 0 {
			c.result.AddError(path+".times", schema.ErrCodeValidation, "times must be >= 0")
		}
		if graph && step.Exit != nil {
			c.checkTarget(*step.Exit, path+".exit")
		}
		c.checkCondition(step.Condition, path+".condition")
	default:
		if len(step.Branches) > 0 {
			c.result.AddError(path+".branches", schema.ErrCodeValidation, "branches are only allowed on if steps")
		}
		if step.Times != nil {
			c.result.AddError(path+".times", schema.ErrCodeValidation, "times is only allowed on loop steps")
		}
		if step.Exit != nil {
			c.result.AddError(path+".exit", schema.ErrCodeValidation, "exit is only allowed on loop steps")
		}
	}

	if step.Success != nil {
		c.checkCondition(step.Success.Condition, path+".success.condition")
	}
}

// checkTarget reports a navigation target that names no step. Empty targets
// fall back to default navigation and are accepted.
func (c *semanticChecker) checkTarget(target, path string) {
	id := strings.TrimSpace(target)
	if id == "" || c.ids[id] {
		return
	}
	c.result.AddError(path, schema.ErrCodeUnknownStep, fmt.Sprintf("unknown next step id: %s", id))
}

func (c *semanticChecker) checkConfig(step *schema.StepDefinition, path string) {
	cfg := newConfig(step.Type)
	if cfg == nil {
		return
	}
	if err := step.DecodeConfig(cfg); err != nil {
		c.result.AddError(path+".config", schema.ErrCodeValidation,
			fmt.Sprintf("invalid %s config: %v", step.Type, err))
		return
	}

	if err := c.structs.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			c.result.AddError(path+".config", schema.ErrCodeValidation, err.Error())
			return
		}
		for _, fe := range verrs {
			c.result.AddError(path+".config."+fe.Field(), schema.ErrCodeValidation, fieldMessage(fe))
		}
	}

	if sc, ok := cfg.(*schema.ScriptConfig); ok && strings.TrimSpace(sc.JQ) != "" {
		if err := c.jq.Check(sc.JQ); err != nil {
			c.result.AddError(path+".config.jq", schema.ErrCodeValidation, errMessage(err))
		}
	}
}

func (c *semanticChecker) checkCondition(cond *schema.Condition, path string) {
	if cond == nil {
		return
	}
	if cond.Delay != nil && *cond.Delay < 0 {
		c.result.AddError(path+".delay", schema.ErrCodeValidation, "delay must be >= 0")
	}
	if cond.Visible != nil && strings.TrimSpace(cond.Visible.XPath) == "" {
		c.result.AddError(path+".visible.xpath", schema.ErrCodeValidation, "xpath is required")
	}
	if cond.Exists != nil && strings.TrimSpace(cond.Exists.XPath) == "" {
		c.result.AddError(path+".exists.xpath", schema.ErrCodeValidation, "xpath is required")
	}
	if cond.Script != nil && strings.TrimSpace(cond.Script.Code) == "" {
		c.result.AddError(path+".script.code", schema.ErrCodeValidation, "code is required")
	}
	if cond.Expr != "" {
		if err := c.conds.Expr.Check(cond.Expr); err != nil {
			c.result.AddError(path+".expr", schema.ErrCodeValidation, errMessage(err))
		}
	}
	if cond.CEL != "" {
		if err := c.conds.CEL.Check(cond.CEL); err != nil {
			c.result.AddError(path+".cel", schema.ErrCodeValidation, errMessage(err))
		}
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "nonblank", "required":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be > %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

// errMessage strips the code prefix from engine compile errors.
func errMessage(err error) string {
	var be *schema.BrowgentError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}
