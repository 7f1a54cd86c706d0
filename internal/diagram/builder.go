package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/browgent/internal/engine"
	"github.com/rendis/browgent/internal/store"
	"github.com/rendis/browgent/pkg/schema"
)

// Build constructs a DiagramModel from a workflow and optional replayed step
// summaries. Graph workflows draw every navigation a step can take;
// sequential workflows draw the array order.
func Build(def *schema.WorkflowDefinition, steps []*store.StepSummary) (*DiagramModel, error) {
	if def == nil || len(def.Steps) == 0 {
		return nil, fmt.Errorf("diagram: workflow has no steps")
	}

	model := &DiagramModel{Title: titleFromDef(def)}
	model.Nodes = append(model.Nodes, &Node{ID: StartID, Label: "Start", Kind: NodeKindStart})

	idx, graph := engine.BuildStepIndex(def)
	if graph {
		buildGraph(model, def, idx, steps)
	} else {
		buildSequential(model, def, steps)
	}

	model.Nodes = append(model.Nodes, &Node{ID: EndID, Label: "End", Kind: NodeKindEnd})
	return model, nil
}

func buildSequential(model *DiagramModel, def *schema.WorkflowDefinition, steps []*store.StepSummary) {
	byIndex := make(map[int][]*store.StepSummary)
	for _, s := range steps {
		byIndex[s.Index] = append(byIndex[s.Index], s)
	}

	prev := StartID
	for i := range def.Steps {
		id := fmt.Sprintf("step_%d", i)
		node := stepToNode(id, &def.Steps[i])
		node.Status = overlay(byIndex[i])
		model.Nodes = append(model.Nodes, node)
		model.Edges = append(model.Edges, Edge{From: prev, To: id})
		prev = id
	}
	model.Edges = append(model.Edges, Edge{From: prev, To: EndID})
}

func buildGraph(model *DiagramModel, def *schema.WorkflowDefinition, idx *engine.StepIndex, steps []*store.StepSummary) {
	byID := make(map[string][]*store.StepSummary)
	for _, s := range steps {
		byID[s.StepID] = append(byID[s.StepID], s)
	}

	model.Edges = append(model.Edges, Edge{From: StartID, To: idx.StartID()})

	for i := range def.Steps {
		step := &def.Steps[i]
		id := step.TrimmedID()
		node := stepToNode(id, step)
		node.Status = overlay(byID[id])
		model.Nodes = append(model.Nodes, node)

		fallback := strings.TrimSpace(step.Next)
		if fallback == "" {
			fallback = idx.Successor(i)
		}
		target := func(next string) string {
			switch {
			case next != "" && idx.Has(next):
				return next
			case next != "":
				return EndID
			case fallback != "":
				return fallback
			default:
				return EndID
			}
		}

		switch step.Type {
		case schema.StepIf:
			for bi := range step.Branches {
				b := &step.Branches[bi]
				model.Edges = append(model.Edges, Edge{
					From:  id,
					To:    target(strings.TrimSpace(b.Next)),
					Label: branchLabel(bi, b.Condition),
				})
			}
		case schema.StepLoop:
			model.Edges = append(model.Edges, Edge{From: id, To: target(""), Label: loopLabel(step)})
			exit := EndID
			if step.Exit != nil && strings.TrimSpace(*step.Exit) != "" {
				exit = target(strings.TrimSpace(*step.Exit))
			}
			model.Edges = append(model.Edges, Edge{From: id, To: exit, Label: "exit"})
		default:
			model.Edges = append(model.Edges, Edge{From: id, To: target("")})
		}
	}
}

// stepToNode maps a step to a diagram Node.
func stepToNode(id string, step *schema.StepDefinition) *Node {
	return &Node{ID: id, Label: nodeLabel(id, step), Kind: stepKindToNodeKind(step.Type)}
}

func stepKindToNodeKind(k schema.StepKind) NodeKind {
	switch k {
	case schema.StepIf:
		return NodeKindCondition
	case schema.StepLoop:
		return NodeKindLoop
	case schema.StepWait, schema.StepWaitElement:
		return NodeKindWait
	default:
		return NodeKindAction
	}
}

// nodeLabel prefers the step's label and always shows its kind.
func nodeLabel(id string, step *schema.StepDefinition) string {
	name := strings.TrimSpace(step.Label)
	if name == "" {
		name = id
	}
	return fmt.Sprintf("%s\n(%s)", name, step.Type)
}

func branchLabel(i int, cond *schema.Condition) string {
	if cond.IsEmpty() {
		return "else"
	}
	switch {
	case cond.Expr != "":
		return cond.Expr
	case cond.CEL != "":
		return cond.CEL
	case cond.URLIncludes != nil:
		return "url ~ " + *cond.URLIncludes
	case cond.Visible != nil:
		return "visible"
	case cond.Exists != nil:
		return "exists"
	}
	return fmt.Sprintf("branch %d", i+1)
}

func loopLabel(step *schema.StepDefinition) string {
	if step.Times != nil {
		return fmt.Sprintf("repeat x%d", *step.Times)
	}
	return "repeat"
}

// overlay summarises the executions of one node. The latest execution sets
// the status.
func overlay(runs []*store.StepSummary) *StatusOverlay {
	if len(runs) == 0 {
		return nil
	}
	last := runs[len(runs)-1]
	o := &StatusOverlay{Visits: len(runs), Error: last.Error}
	switch {
	case last.OK == nil:
		o.Status = StatusRunning
	case *last.OK:
		o.Status = StatusSucceeded
	default:
		o.Status = StatusFailed
	}
	if last.EndedAt > 0 {
		o.DurationMs = last.EndedAt - last.StartedAt
	}
	return o
}

// titleFromDef uses the workflow title, then its slug.
func titleFromDef(def *schema.WorkflowDefinition) string {
	if def.Title != "" {
		return def.Title
	}
	if def.Slug != "" {
		return def.Slug
	}
	return "Workflow"
}

func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}
