package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rendis/browgent/internal/store"
	"github.com/rendis/browgent/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(runID string, from, to schema.RunStatus) error

// RunRecorder persists run records. Satisfied by store.RunStore.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *store.Run) error
	UpdateRun(ctx context.Context, id string, update store.RunUpdate) error
}

type runHookKey struct {
	from, to schema.RunStatus
}

// RunFSM manages run lifecycle state transitions.
type RunFSM struct {
	mu       sync.Mutex
	recorder RunRecorder
	before   map[runHookKey][]TransitionHook
	after    map[runHookKey][]TransitionHook
}

// NewRunFSM creates a RunFSM that persists transitions via recorder.
// A nil recorder only validates.
func NewRunFSM(recorder RunRecorder) *RunFSM {
	return &RunFSM{
		recorder: recorder,
		before:   make(map[runHookKey][]TransitionHook),
		after:    make(map[runHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a run transition.
func (f *RunFSM) OnBefore(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a run transition.
func (f *RunFSM) OnAfter(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Admit records a new run in the queued state.
func (f *RunFSM) Admit(ctx context.Context, runID string, workflow []byte) error {
	if f.recorder == nil {
		return nil
	}
	return f.recorder.CreateRun(ctx, &store.Run{
		ID:        runID,
		Workflow:  workflow,
		Status:    schema.RunStatusQueued,
		CreatedAt: time.Now().UTC(),
	})
}

// Transition validates and records a run state transition. errMsg is stored
// for failed runs.
func (f *RunFSM) Transition(ctx context.Context, runID string, from, to schema.RunStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	key := runHookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(runID, from, to); err != nil {
			return err
		}
	}

	if f.recorder != nil {
		if err := f.recorder.UpdateRun(ctx, runID, runUpdate(to, errMsg)); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "record run transition: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(runID, from, to); err != nil {
			return err
		}
	}

	return nil
}

func runUpdate(to schema.RunStatus, errMsg string) store.RunUpdate {
	now := time.Now().UTC()
	update := store.RunUpdate{Status: &to}
	switch {
	case to == schema.RunStatusRunning:
		update.StartedAt = &now
	case to.Terminal():
		update.CompletedAt = &now
		if errMsg != "" {
			update.Error = &errMsg
		}
	}
	return update
}

func isValidRunTransition(from, to schema.RunStatus) bool {
	for _, a := range ValidRunTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// ValidRunTransitions defines the allowed run transitions. Terminal states
// have no way out.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusQueued:    {schema.RunStatusRunning, schema.RunStatusFailed},
	schema.RunStatusRunning:   {schema.RunStatusSucceeded, schema.RunStatusFailed},
	schema.RunStatusSucceeded: {},
	schema.RunStatusFailed:    {},
}
