package schema

import "time"

// EventType enumerates the events emitted for a run.
type EventType string

const (
	EventRunStatus EventType = "runStatus"
	EventStepStart EventType = "stepStart"
	EventStepEnd   EventType = "stepEnd"
	EventSample    EventType = "sample"
	EventDone      EventType = "done"
)

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// StepMeta identifies the step an event belongs to.
type StepMeta struct {
	StepID string   `json:"stepId,omitempty"`
	Type   StepKind `json:"type,omitempty"`
	Label  string   `json:"label,omitempty"`
}

// Event is the payload posted to the event sink. Events are produced once and
// never mutated; within a run they are ordered by emission.
type Event struct {
	Type   EventType `json:"type"`
	Status RunStatus `json:"status,omitempty"`
	Index  *int      `json:"index,omitempty"`
	Meta   *StepMeta `json:"meta,omitempty"`
	OK     *bool     `json:"ok,omitempty"`
	Error  string    `json:"error,omitempty"`
	Mime   string    `json:"mime,omitempty"`
	Data   string    `json:"data,omitempty"` // base64 sample payload
	TS     int64     `json:"ts"`             // unix millis
}

// NowMillis returns the current time as unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
