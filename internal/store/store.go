package store

import (
	"context"

	"github.com/rendis/browgent/pkg/schema"
)

// RunStore defines the run-history persistence contract.
// All implementations must be safe for concurrent use.
type RunStore interface {
	// Runs
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// Event log (append-only)
	AppendEvent(ctx context.Context, runID string, event schema.Event) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*EventRecord, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
