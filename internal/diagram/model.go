// Package diagram renders workflows, optionally overlaid with a run's step
// outcomes, as Mermaid flowcharts and graphviz images.
package diagram

// NodeKind classifies a diagram node by its step kind.
type NodeKind string

const (
	NodeKindAction    NodeKind = "action"
	NodeKindCondition NodeKind = "condition"
	NodeKindLoop      NodeKind = "loop"
	NodeKindWait      NodeKind = "wait"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// Virtual node IDs.
const (
	StartID = "__start__"
	EndID   = "__end__"
)

// Overlay statuses derived from replayed step summaries.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusRunning   = "running"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node represents a single step in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for a node. Visits counts executions;
// the other fields describe the latest one.
type StatusOverlay struct {
	Status     string
	DurationMs int64
	Visits     int
	Error      string
}

// Edge is a possible transition between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}
