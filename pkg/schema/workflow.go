package schema

import (
	"encoding/json"
	"strings"
)

// WorkflowDefinition is the JSON-serializable workflow format accepted by the
// runner. Steps are executed either as a graph (every step carries an id) or
// strictly in array order (at least one step has no id).
type WorkflowDefinition struct {
	Start string           `json:"start,omitempty"`
	Steps []StepDefinition `json:"steps"`

	// Informational fields carried by the portal; ignored by the engine.
	Slug  string `json:"slug,omitempty"`
	Title string `json:"title,omitempty"`
}

// UnmarshalJSON accepts the portal's startStepId alias for start.
func (w *WorkflowDefinition) UnmarshalJSON(data []byte) error {
	type plain WorkflowDefinition
	var aux struct {
		plain
		StartStepID string `json:"startStepId,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*w = WorkflowDefinition(aux.plain)
	if w.Start == "" && aux.StartStepID != "" {
		w.Start = aux.StartStepID
	}
	return nil
}

// StepDefinition describes a single step in a workflow.
// Type determines which navigation fields are meaningful: Branches only for
// if, Times/Exit only for loop.
type StepDefinition struct {
	ID        string          `json:"id,omitempty"`
	Type      StepKind        `json:"type"`
	Label     string          `json:"label,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
	Success   *SuccessSpec    `json:"success,omitempty"`
	Next      string          `json:"next,omitempty"`
	Branches  []Branch        `json:"branches,omitempty"`
	Times     *int            `json:"times,omitempty"`
	Exit      *string         `json:"exit,omitempty"`
	As        string          `json:"as,omitempty"`
	Condition *Condition      `json:"condition,omitempty"`
}

// TrimmedID returns the step id without surrounding whitespace.
func (s *StepDefinition) TrimmedID() string {
	return strings.TrimSpace(s.ID)
}

// DecodeConfig unmarshals the step's kind-specific config into dst.
// An absent config decodes as an empty object.
func (s *StepDefinition) DecodeConfig(dst any) error {
	if len(s.Config) == 0 {
		return nil
	}
	return json.Unmarshal(s.Config, dst)
}

// StepKind enumerates the kinds of steps the engine can execute.
type StepKind string

const (
	StepNavigate    StepKind = "navigate"
	StepWait        StepKind = "wait"
	StepWaitElement StepKind = "wait_element"
	StepScroll      StepKind = "scroll"
	StepClick       StepKind = "click"
	StepFill        StepKind = "fill"
	StepPress       StepKind = "press"
	StepLog         StepKind = "log"
	StepScript      StepKind = "script"
	StepExtractText StepKind = "extract_text"
	StepIf          StepKind = "if"
	StepLoop        StepKind = "loop"
)

// StepKinds lists every supported kind in declaration order.
var StepKinds = []StepKind{
	StepNavigate, StepWait, StepWaitElement, StepScroll, StepClick, StepFill,
	StepPress, StepLog, StepScript, StepExtractText, StepIf, StepLoop,
}

// Valid reports whether k is a supported step kind.
func (k StepKind) Valid() bool {
	for _, known := range StepKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Branch is one conditional alternative of an if step. A nil Condition is
// unconditionally true.
type Branch struct {
	Condition *Condition `json:"condition,omitempty"`
	Next      string     `json:"next"`
}

// DefaultSuccessTimeoutSec is applied when a success spec has no usable timeout.
const DefaultSuccessTimeoutSec = 5.0

// SuccessSpec is the post-condition a step must satisfy before the run advances.
type SuccessSpec struct {
	Timeout   float64    `json:"timeout,omitempty"` // seconds
	Condition *Condition `json:"condition,omitempty"`
}

// TimeoutSeconds returns the effective timeout, falling back to the default
// for zero, negative or missing values.
func (s *SuccessSpec) TimeoutSeconds() float64 {
	if s == nil || s.Timeout <= 0 {
		return DefaultSuccessTimeoutSec
	}
	return s.Timeout
}

// Condition is the predicate language shared by success checks, if branches
// and loop guards. Every clause that is set must hold.
type Condition struct {
	Delay       *float64    `json:"delay,omitempty"` // seconds since evaluation began
	Visible     *ElementRef `json:"visible,omitempty"`
	Exists      *ElementRef `json:"exists,omitempty"`
	URLIncludes *string     `json:"urlIncludes,omitempty"`
	Script      *ScriptRef  `json:"script,omitempty"`
	Expr        string      `json:"expr,omitempty"` // expr-lang over vars/url
	CEL         string      `json:"cel,omitempty"`  // CEL over vars/url
}

// IsEmpty reports whether no clause is set.
func (c *Condition) IsEmpty() bool {
	return c == nil || (c.Delay == nil && c.Visible == nil && c.Exists == nil &&
		c.URLIncludes == nil && c.Script == nil && c.Expr == "" && c.CEL == "")
}

// ElementRef locates an element by XPath.
type ElementRef struct {
	XPath string `json:"xpath"`
}

// ScriptRef is page-side JavaScript whose result is tested for truthiness.
type ScriptRef struct {
	Code string `json:"code"`
}
