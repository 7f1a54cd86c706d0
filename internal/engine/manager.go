package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rendis/browgent/internal/browser"
	"github.com/rendis/browgent/internal/events"
	"github.com/rendis/browgent/internal/expressions"
	"github.com/rendis/browgent/pkg/schema"
)

// Rejection reasons carried in the "reason" detail of VALIDATION_ERROR.
const (
	ReasonWorkflowRequired = "workflow_required"
	ReasonInvalidWorkflow  = "invalid_workflow"
	ReasonRunIDRequired    = "runId required"
)

// DefaultMaxConcurrency is the admission limit when none is configured.
const DefaultMaxConcurrency = 1

// errRunCancelled is the cancellation cause set by Manager.Cancel.
var errRunCancelled = errors.New("run cancelled")

// Validator checks a workflow before it is admitted.
type Validator interface {
	Validate(ctx context.Context, def *schema.WorkflowDefinition) *schema.ValidationResult
}

// ManagerConfig holds the Manager's collaborators.
type ManagerConfig struct {
	MaxConcurrency int
	Validator      Validator   // nil = no validation
	Recorder       RunRecorder // nil = no persistence
	Launcher       browser.Launcher
	Sink           events.Sink
	Conditions     *expressions.Conditions
	Transformer    *expressions.GoJQEngine
	Logger         *slog.Logger
	PollInterval   time.Duration
	SampleInterval time.Duration
}

// EnqueueRequest asks the Manager to start a run.
type EnqueueRequest struct {
	RunID    string                     `json:"runId"`
	Workflow *schema.WorkflowDefinition `json:"workflow"`
}

// Metrics is the Manager's externally visible load.
type Metrics struct {
	ActiveRuns     int   `json:"activeRuns"`
	MaxConcurrency int   `json:"maxConcurrency"`
	Completed      int64 `json:"completed"`
	Failed         int64 `json:"failed"`
}

// RunRecord is the Manager's view of an admitted run.
type RunRecord struct {
	RunID      string           `json:"runId"`
	Status     schema.RunStatus `json:"status"`
	ActiveSlot bool             `json:"activeSlot"`
	AdmittedAt time.Time        `json:"admittedAt"`
}

type activeRun struct {
	record RunRecord
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// Manager is the admission gate. It accepts a run only while fewer than
// MaxConcurrency runs are active, starts it in the background and frees the
// slot when the run settles. There is no queue: a full Manager rejects.
type Manager struct {
	cfg    ManagerConfig
	pool   *WorkerPool
	fsm    *RunFSM
	logger *slog.Logger

	mu       sync.Mutex
	runs     map[string]*activeRun
	reserved int // admitted runs not yet handed to the pool
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Transformer == nil {
		cfg.Transformer = expressions.NewGoJQEngine()
	}
	return &Manager{
		cfg:    cfg,
		pool:   NewWorkerPool(cfg.MaxConcurrency),
		fsm:    NewRunFSM(cfg.Recorder),
		logger: cfg.Logger,
		runs:   make(map[string]*activeRun),
	}
}

// FSM exposes the run lifecycle so callers can register hooks.
func (m *Manager) FSM() *RunFSM { return m.fsm }

// Enqueue validates and admits a run. It returns as soon as the run has
// started; the outcome is only observable through the event stream.
//
// Rejections are BrowgentErrors: VALIDATION_ERROR (reason detail), CONFLICT
// for a run id that is already active, and BUSY with busy/active/max
// details when every slot is taken.
func (m *Manager) Enqueue(ctx context.Context, req EnqueueRequest) error {
	if req.Workflow == nil {
		return rejectValidation(ReasonWorkflowRequired, nil)
	}
	if m.cfg.Validator != nil {
		if res := m.cfg.Validator.Validate(ctx, req.Workflow); res != nil && !res.Valid() {
			return rejectValidation(ReasonInvalidWorkflow, res.Messages())
		}
	}
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		return rejectValidation(ReasonRunIDRequired, nil)
	}

	raw, err := json.Marshal(req.Workflow)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "encode workflow: %s", err.Error()).WithCause(err)
	}

	run, err := m.reserve(ctx, runID)
	if err != nil {
		return err
	}

	// The recorder may hit the database; the slot is already reserved so
	// the lock is not held here.
	if err := m.fsm.Admit(ctx, runID, raw); err != nil {
		m.unreserve(run)
		return err
	}

	m.mu.Lock()
	m.reserved--
	err = m.pool.TrySubmit(run.ctx, func(ctx context.Context) error {
		return m.execute(ctx, run, req.Workflow)
	})
	if err != nil {
		delete(m.runs, runID)
	}
	m.mu.Unlock()

	if err != nil {
		run.cancel(err)
		m.transition(ctx, runID, schema.RunStatusQueued, schema.RunStatusFailed, err.Error())
		if errors.Is(err, ErrPoolBusy) {
			return m.busy(int(m.pool.Metrics().Active))
		}
		return schema.NewErrorf(schema.ErrCodeExecution, "start run: %s", err.Error()).WithCause(err)
	}
	return nil
}

// reserve claims a slot for runID and registers its record, so duplicate
// and busy checks see the run before it is recorded.
func (m *Manager) reserve(ctx context.Context, runID string) (*activeRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.runs[runID]; dup {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "run %s is already active", runID).
			WithDetails(map[string]any{"runId": runID})
	}
	if active := int(m.pool.Metrics().Active) + m.reserved; active >= m.cfg.MaxConcurrency {
		return nil, m.busy(active)
	}

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	run := &activeRun{
		record: RunRecord{
			RunID:      runID,
			Status:     schema.RunStatusQueued,
			ActiveSlot: true,
			AdmittedAt: time.Now().UTC(),
		},
		ctx:    runCtx,
		cancel: cancel,
	}
	m.runs[runID] = run
	m.reserved++
	return run, nil
}

// unreserve drops a run that was never started.
func (m *Manager) unreserve(run *activeRun) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserved--
	if m.runs[run.record.RunID] == run {
		delete(m.runs, run.record.RunID)
	}
	run.cancel(nil)
}

func (m *Manager) execute(ctx context.Context, run *activeRun, def *schema.WorkflowDefinition) error {
	runID := run.record.RunID
	defer m.release(runID)

	m.setStatus(runID, schema.RunStatusRunning)
	m.transition(ctx, runID, schema.RunStatusQueued, schema.RunStatusRunning, "")

	result := NewRunner(RunnerConfig{
		RunID:          runID,
		Workflow:       def,
		Launcher:       m.cfg.Launcher,
		Sink:           m.cfg.Sink,
		Conditions:     m.cfg.Conditions,
		Transformer:    m.cfg.Transformer,
		Logger:         m.logger,
		PollInterval:   m.cfg.PollInterval,
		SampleInterval: m.cfg.SampleInterval,
	}).Run(ctx)

	m.setStatus(runID, result.Status)
	m.transition(ctx, runID, schema.RunStatusRunning, result.Status, result.Error)
	if result.Err != nil {
		m.logger.ErrorContext(ctx, "workflow execution failed", "run_id", runID, "error", result.Err)
	}
	return result.Err
}

// release frees the run's slot bookkeeping. The pool slot itself is freed
// when execute returns.
func (m *Manager) release(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.runs[runID]; ok {
		run.cancel(nil)
		delete(m.runs, runID)
	}
}

func (m *Manager) setStatus(runID string, status schema.RunStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.runs[runID]; ok {
		run.record.Status = status
		if status.Terminal() {
			run.record.ActiveSlot = false
		}
	}
}

// transition records a lifecycle change. Recording failures never affect
// the run itself.
func (m *Manager) transition(ctx context.Context, runID string, from, to schema.RunStatus, errMsg string) {
	if err := m.fsm.Transition(context.WithoutCancel(ctx), runID, from, to, errMsg); err != nil {
		m.logger.WarnContext(ctx, "record run transition failed",
			"run_id", runID, "from", string(from), "to", string(to), "error", err)
	}
}

// Cancel aborts an active run. The run fails with CANCELLED and still
// emits its terminal events.
func (m *Manager) Cancel(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %s is not active", runID)
	}
	run.cancel(errRunCancelled)
	return nil
}

// Status returns the record of an active run.
func (m *Manager) Status(runID string) (RunRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return RunRecord{}, false
	}
	return run.record, true
}

// Active lists the records of every active run.
func (m *Manager) Active() []RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RunRecord, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, run.record)
	}
	return out
}

// Metrics returns the current load.
func (m *Manager) Metrics() Metrics {
	pm := m.pool.Metrics()
	return Metrics{
		ActiveRuns:     int(pm.Active),
		MaxConcurrency: m.cfg.MaxConcurrency,
		Completed:      pm.Completed,
		Failed:         pm.Failed,
	}
}

// Wait blocks until every admitted run has settled.
func (m *Manager) Wait() {
	m.pool.Wait()
}

// Shutdown stops admissions, cancels active runs and waits for them to emit
// their terminal events.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, run := range m.runs {
		run.cancel(errRunCancelled)
	}
	m.mu.Unlock()
	m.pool.Shutdown()
}

func (m *Manager) busy(active int) error {
	return schema.NewError(schema.ErrCodeBusy, "runner busy").
		WithDetails(map[string]any{"busy": true, "active": active, "max": m.cfg.MaxConcurrency})
}

func rejectValidation(reason string, messages []string) error {
	details := map[string]any{"reason": reason}
	if len(messages) > 0 {
		details["errors"] = messages
	}
	return schema.NewError(schema.ErrCodeValidation, reason).WithDetails(details)
}
