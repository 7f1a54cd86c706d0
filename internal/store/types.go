package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/browgent/pkg/schema"
)

// Run is one admitted execution of a workflow.
type Run struct {
	ID          string           `json:"id"`
	Workflow    json.RawMessage  `json:"workflow"`
	Status      schema.RunStatus `json:"status"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// RunUpdate holds the mutable fields of a run. Nil fields are left unchanged.
type RunUpdate struct {
	Status      *schema.RunStatus
	Error       *string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status *schema.RunStatus
	Since  *time.Time
	Limit  int
	Offset int
}

// EventRecord is a persisted run event. Payload is the event exactly as it was
// emitted to the sink.
type EventRecord struct {
	RunID    string           `json:"run_id"`
	Sequence int64            `json:"sequence"`
	Type     schema.EventType `json:"type"`
	StepID   string           `json:"step_id,omitempty"`
	Payload  json.RawMessage  `json:"payload"`
	TS       int64            `json:"ts"`
}

// Decode unmarshals the payload back into an event.
func (r *EventRecord) Decode() (schema.Event, error) {
	var ev schema.Event
	err := json.Unmarshal(r.Payload, &ev)
	return ev, err
}

// StepSummary is the replayed outcome of one step execution.
type StepSummary struct {
	Index     int             `json:"index"`
	StepID    string          `json:"step_id,omitempty"`
	Type      schema.StepKind `json:"type,omitempty"`
	OK        *bool           `json:"ok,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartedAt int64           `json:"started_at"`
	EndedAt   int64           `json:"ended_at,omitempty"`
}
