package engine

import (
	"strings"

	"github.com/rendis/browgent/pkg/schema"
)

// StepIndex maps step ids to steps for graph-mode execution.
type StepIndex struct {
	steps []schema.StepDefinition
	byID  map[string]int
	start string
}

// BuildStepIndex indexes def's steps by trimmed id. It reports false when the
// list is empty or any step lacks an id; the caller then runs the steps in
// array order. A declared start that is not a known id falls back to the
// first step. When ids repeat, the last occurrence wins.
func BuildStepIndex(def *schema.WorkflowDefinition) (*StepIndex, bool) {
	if def == nil || len(def.Steps) == 0 {
		return nil, false
	}

	byID := make(map[string]int, len(def.Steps))
	for i := range def.Steps {
		id := def.Steps[i].TrimmedID()
		if id == "" {
			return nil, false
		}
		byID[id] = i
	}

	idx := &StepIndex{steps: def.Steps, byID: byID}
	idx.start = def.Steps[0].TrimmedID()
	if requested := strings.TrimSpace(def.Start); requested != "" {
		if _, ok := byID[requested]; ok {
			idx.start = requested
		}
	}
	return idx, true
}

// StartID returns the resolved start step id.
func (x *StepIndex) StartID() string { return x.start }

// Len returns the number of indexed steps.
func (x *StepIndex) Len() int { return len(x.steps) }

// Lookup returns the step with id and its position in the step list.
func (x *StepIndex) Lookup(id string) (*schema.StepDefinition, int, bool) {
	pos, ok := x.byID[id]
	if !ok {
		return nil, -1, false
	}
	return &x.steps[pos], pos, true
}

// Has reports whether id is indexed.
func (x *StepIndex) Has(id string) bool {
	_, ok := x.byID[id]
	return ok
}

// Successor returns the id of the step declared after pos, or "" at the end
// of the list.
func (x *StepIndex) Successor(pos int) string {
	if pos+1 >= len(x.steps) || pos < 0 {
		return ""
	}
	return x.steps[pos+1].TrimmedID()
}
