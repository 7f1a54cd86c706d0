package store

import (
	"context"
	"fmt"

	"github.com/rendis/browgent/pkg/schema"
)

// EventLog provides replay operations on top of a LibSQLStore's run events.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// GetEvents returns events for a run with sequence > since.
func (el *EventLog) GetEvents(ctx context.Context, runID string, since int64) ([]*EventRecord, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// ReplaySteps rebuilds per-execution step summaries, keyed by event ordinal,
// from a run's event log. Returns an error if sequence gaps are detected.
func (el *EventLog) ReplaySteps(ctx context.Context, runID string) ([]*StepSummary, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	var steps []*StepSummary
	byIndex := make(map[int]*StepSummary)

	for _, rec := range events {
		if rec.Type != schema.EventStepStart && rec.Type != schema.EventStepEnd {
			continue
		}
		ev, err := rec.Decode()
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"decode event %d of run %s", rec.Sequence, runID).WithCause(err)
		}
		if ev.Index == nil {
			continue
		}

		switch rec.Type {
		case schema.EventStepStart:
			s := &StepSummary{Index: *ev.Index, StartedAt: ev.TS}
			if ev.Meta != nil {
				s.StepID = ev.Meta.StepID
				s.Type = ev.Meta.Type
			}
			byIndex[s.Index] = s
			steps = append(steps, s)

		case schema.EventStepEnd:
			s, ok := byIndex[*ev.Index]
			if !ok {
				continue
			}
			s.OK = ev.OK
			s.Error = ev.Error
			s.EndedAt = ev.TS
		}
	}

	return steps, nil
}
