package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rendis/browgent/internal/browser"
	"github.com/rendis/browgent/internal/events"
	"github.com/rendis/browgent/internal/expressions"
	"github.com/rendis/browgent/internal/logging"
	"github.com/rendis/browgent/pkg/schema"
)

// DefaultSampleInterval is the default period of the sample stream.
const DefaultSampleInterval = time.Second

// RunnerConfig holds the collaborators of a single run.
type RunnerConfig struct {
	RunID    string
	Workflow *schema.WorkflowDefinition
	Launcher browser.Launcher
	Sink     events.Sink

	Conditions  *expressions.Conditions // nil = shared defaults
	Transformer *expressions.GoJQEngine // nil = new engine
	Logger      *slog.Logger

	PollInterval   time.Duration // success polling; 0 = DefaultPollInterval
	SampleInterval time.Duration // 0 = DefaultSampleInterval, <0 disables sampling
}

// RunResult is the outcome of a run.
type RunResult struct {
	RunID       string           `json:"run_id"`
	Status      schema.RunStatus `json:"status"`
	Err         error            `json:"-"`
	Error       string           `json:"error,omitempty"`
	Executed    int              `json:"executed"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
}

// Runner interprets one workflow against one browser session.
type Runner struct {
	cfg RunnerConfig
}

// NewRunner creates a runner. It is good for exactly one Run.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Transformer == nil {
		cfg.Transformer = expressions.NewGoJQEngine()
	}
	if cfg.SampleInterval == 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	return &Runner{cfg: cfg}
}

// Run executes the workflow to completion, failure or cancellation of ctx.
// It always emits runStatus(terminal) and done last, stops sampling and
// closes the session, whatever the outcome.
func (r *Runner) Run(ctx context.Context) *RunResult {
	ctx = logging.WithRunID(ctx, r.cfg.RunID)
	logger := r.cfg.Logger
	result := &RunResult{RunID: r.cfg.RunID, StartedAt: time.Now().UTC()}
	dispatcher := events.NewDispatcher(r.cfg.RunID, r.cfg.Sink, logger)

	finish := func(err error) *RunResult {
		result.CompletedAt = time.Now().UTC()
		if err != nil {
			result.Status = schema.RunStatusFailed
			result.Err = err
			result.Error = err.Error()
			dispatcher.RunStatus(ctx, schema.RunStatusFailed, err.Error())
		} else {
			result.Status = schema.RunStatusSucceeded
			dispatcher.RunStatus(ctx, schema.RunStatusSucceeded, "")
		}
		dispatcher.Done(ctx, err)
		logger.InfoContext(ctx, "run finished",
			"status", string(result.Status),
			"executed", result.Executed,
			"duration", result.CompletedAt.Sub(result.StartedAt),
		)
		return result
	}

	if r.cfg.Workflow == nil {
		return finish(schema.NewError(schema.ErrCodeValidation, "workflow_required"))
	}
	if r.cfg.Launcher == nil {
		return finish(schema.NewError(schema.ErrCodeExecution, "no browser launcher configured"))
	}

	session, err := r.cfg.Launcher.Open(ctx)
	if err != nil {
		return finish(schema.NewErrorf(schema.ErrCodeExecution, "open browser session: %s", err.Error()).WithCause(err))
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.WarnContext(ctx, "close browser session failed", "error", cerr)
		}
	}()

	exec := NewExecutionContext()
	f := &frame{
		session:   session,
		exec:      exec,
		evaluator: NewEvaluator(session, exec, r.cfg.Conditions, r.cfg.PollInterval),
		jq:        r.cfg.Transformer,
		logger:    logger,
		loops:     make(map[string]*loopState),
	}

	if r.cfg.SampleInterval > 0 {
		dispatcher.StartSampling(ctx, session, r.cfg.SampleInterval)
	}
	dispatcher.RunStatus(ctx, schema.RunStatusRunning, "")

	err = r.execute(ctx, f, dispatcher)
	dispatcher.StopSampling()
	result.Executed = exec.Executed()
	return finish(err)
}

// execute picks graph mode when every step has an id, sequential mode
// otherwise. Panics outside a step are turned into a failed run.
func (r *Runner) execute(ctx context.Context, f *frame, d *events.Dispatcher) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = schema.NewErrorf(schema.ErrCodeExecution, "internal error: %v", rec)
		}
	}()

	def := r.cfg.Workflow
	if idx, ok := BuildStepIndex(def); ok {
		return r.executeGraph(ctx, f, d, idx)
	}
	return r.executeSequential(ctx, f, d, def.Steps)
}

// executeSequential runs steps in array order once each. Navigation fields
// and directives are ignored.
func (r *Runner) executeSequential(ctx context.Context, f *frame, d *events.Dispatcher, steps []schema.StepDefinition) error {
	for i := range steps {
		if ctx.Err() != nil {
			return cancelledError(ctx)
		}
		if _, err := r.executeStep(ctx, f, d, &steps[i], i); err != nil {
			return err
		}
	}
	return nil
}

// executeGraph follows ids from the start step. The next step is the
// handler's explicit target, else the step's next field, else the step
// declared after it. No next step ends the run.
func (r *Runner) executeGraph(ctx context.Context, f *frame, d *events.Dispatcher, idx *StepIndex) error {
	current := idx.StartID()
	for current != "" {
		if ctx.Err() != nil {
			return cancelledError(ctx)
		}

		step, pos, ok := idx.Lookup(current)
		if !ok {
			return schema.NewErrorf(schema.ErrCodeUnknownStep, "unknown step id: %s", current)
		}

		directive, err := r.executeStep(ctx, f, d, step, pos)
		if err != nil {
			return err
		}
		if directive.Halts() {
			return nil
		}

		next, explicit := directive.Target()
		if !explicit {
			if n := strings.TrimSpace(step.Next); n != "" {
				next = n
			} else {
				next = idx.Successor(pos)
			}
		}
		if next == "" {
			return nil
		}
		if !idx.Has(next) {
			return schema.NewErrorf(schema.ErrCodeUnknownStep, "unknown next step id: %s", next).
				WithStep(step.TrimmedID())
		}
		current = next
	}
	return nil
}

// executeStep emits stepStart, runs the handler, waits for the success
// condition unless the handler handled the step, and emits stepEnd.
func (r *Runner) executeStep(ctx context.Context, f *frame, d *events.Dispatcher, step *schema.StepDefinition, pos int) (Directive, error) {
	index := f.exec.NextStepIndex()
	meta := schema.StepMeta{StepID: step.TrimmedID(), Type: step.Type, Label: step.Label}
	sctx := logging.WithStep(ctx, meta.StepID, string(step.Type))

	d.StepStart(sctx, index, meta)
	f.logger.DebugContext(sctx, "step started", "index", index)
	start := time.Now()

	directive, err := runHandler(sctx, f, step, pos)
	if err != nil {
		err = stepError(ctx, step, err)
		d.StepEnd(sctx, index, meta, err)
		f.logger.DebugContext(sctx, "step failed", "index", index, "error", err)
		return Directive{}, err
	}

	d.StepEnd(sctx, index, meta, nil)
	f.logger.DebugContext(sctx, "step completed", "index", index, "duration", time.Since(start))
	return directive, nil
}

// runHandler runs the step's handler and its success wait. A panic becomes
// an EXECUTION_ERROR so the step still gets its stepEnd.
func runHandler(ctx context.Context, f *frame, step *schema.StepDefinition, pos int) (directive Directive, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			directive = Directive{}
			err = schema.NewErrorf(schema.ErrCodeExecution, "internal error: %v", rec)
		}
	}()

	directive, err = f.handle(ctx, step, pos)
	if err == nil && !directive.Handled {
		err = f.evaluator.WaitFor(ctx, step.Success)
	}
	return directive, err
}

// stepError gives every step failure a code and the step id.
func stepError(ctx context.Context, step *schema.StepDefinition, err error) error {
	if ctx.Err() != nil && schema.ErrorCode(err) != schema.ErrCodeCancelled {
		err = cancelledError(ctx)
	}
	be, ok := err.(*schema.BrowgentError)
	if !ok {
		be = schema.NewError(schema.ErrCodeExecution, fmt.Sprint(err)).WithCause(err)
	}
	if be.StepID == "" {
		be.WithStep(step.TrimmedID())
	}
	return be
}
