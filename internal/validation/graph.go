package validation

import (
	"fmt"
	"strings"

	"github.com/rendis/browgent/pkg/schema"
)

// validateGraph warns about steps that no path from the start step can reach.
// Cycles are legal (loops navigate backwards), so only reachability is checked.
// Sequential workflows run every step in order and are skipped.
func validateGraph(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if len(def.Steps) == 0 {
		return result
	}

	pos := make(map[string]int, len(def.Steps))
	for i := range def.Steps {
		id := def.Steps[i].TrimmedID()
		if id == "" {
			return result
		}
		pos[id] = i
	}

	start := 0
	if p, ok := pos[strings.TrimSpace(def.Start)]; ok {
		start = p
	}

	seen := make([]bool, len(def.Steps))
	queue := []int{start}
	seen[start] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, target := range successors(def, cur) {
			p, ok := pos[target]
			if !ok || seen[p] {
				continue
			}
			seen[p] = true
			queue = append(queue, p)
		}
	}

	for i, ok := range seen {
		if !ok {
			result.AddWarning(fmt.Sprintf("steps[%d]", i), WarnUnreachable,
				fmt.Sprintf("step %q is unreachable from the start step", def.Steps[i].TrimmedID()))
		}
	}
	return result
}

// successors lists the step ids a step at position i can navigate to.
func successors(def *schema.WorkflowDefinition, i int) []string {
	step := &def.Steps[i]
	fallback := strings.TrimSpace(step.Next)
	if fallback == "" && i+1 < len(def.Steps) {
		fallback = def.Steps[i+1].TrimmedID()
	}

	switch step.Type {
	case schema.StepIf:
		var out []string
		for _, b := range step.Branches {
			if next := strings.TrimSpace(b.Next); next != "" {
				out = append(out, next)
			} else if fallback != "" {
				out = append(out, fallback)
			}
		}
		return out
	case schema.StepLoop:
		out := []string{}
		if fallback != "" {
			out = append(out, fallback)
		}
		if step.Exit != nil {
			if exit := strings.TrimSpace(*step.Exit); exit != "" {
				out = append(out, exit)
			}
		}
		return out
	default:
		if fallback == "" {
			return nil
		}
		return []string{fallback}
	}
}
