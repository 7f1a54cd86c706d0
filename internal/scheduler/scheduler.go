// Package scheduler starts workflow runs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/browgent/internal/engine"
	"github.com/rendis/browgent/pkg/schema"
)

// DefaultTick is how often due jobs are checked.
const DefaultTick = 15 * time.Second

// Job statuses recorded after each attempt.
const (
	StatusStarted = "started"
	StatusBusy    = "busy"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// Job is a configured schedule: run the workflow file whenever Cron fires.
type Job struct {
	Name     string `yaml:"name" json:"name"`
	Cron     string `yaml:"cron" json:"cron"`
	Workflow string `yaml:"workflow" json:"workflow"`
}

// Runner is the subset of *engine.Manager the scheduler uses.
type Runner interface {
	Enqueue(ctx context.Context, req engine.EnqueueRequest) error
	Status(runID string) (engine.RunRecord, bool)
}

// JobState is the observable state of a scheduled job.
type JobState struct {
	Job
	NextRunAt  time.Time  `json:"next_run_at"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastRunID  string     `json:"last_run_id,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// Scheduler ticks over its jobs and enqueues the due ones. A job whose
// previous run is still active is skipped rather than stacked.
type Scheduler struct {
	runner Runner
	parser cron.Parser
	logger *slog.Logger
	tick   time.Duration
	now    func() time.Time
	load   func(path string) (*schema.WorkflowDefinition, error)
	newID  func() string

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	jobsMu    sync.Mutex
	jobs      []*JobState
	schedules []cron.Schedule
}

// NewScheduler validates every job's cron expression and computes its first
// run time.
func NewScheduler(runner Runner, jobs []Job, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		runner: runner,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger: logger,
		tick:   DefaultTick,
		now:    func() time.Time { return time.Now().UTC() },
		load:   schema.LoadWorkflowFile,
		newID:  uuid.NewString,
	}

	now := s.now()
	for _, job := range jobs {
		sched, err := s.parser.Parse(job.Cron)
		if err != nil {
			return nil, fmt.Errorf("job %q: parse cron expression %q: %w", job.Name, job.Cron, err)
		}
		if job.Workflow == "" {
			return nil, fmt.Errorf("job %q: workflow path is required", job.Name)
		}
		s.jobs = append(s.jobs, &JobState{Job: job, NextRunAt: sched.Next(now)})
		s.schedules = append(s.schedules, sched)
	}
	return s, nil
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue enqueues every job whose next run time has passed.
func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	for i, job := range s.jobs {
		if job.NextRunAt.After(now) {
			continue
		}
		s.runJob(ctx, job, now)
		job.NextRunAt = s.schedules[i].Next(now)
	}
}

// runJob loads the job's workflow and enqueues it under a fresh run id.
func (s *Scheduler) runJob(ctx context.Context, job *JobState, now time.Time) {
	at := now
	job.LastRunAt = &at
	job.LastError = ""

	if job.LastRunID != "" {
		if _, active := s.runner.Status(job.LastRunID); active {
			job.LastStatus = StatusSkipped
			s.logger.Info("scheduled job skipped, previous run still active",
				slog.String("job", job.Name),
				slog.String("run_id", job.LastRunID),
			)
			return
		}
	}

	def, err := s.load(job.Workflow)
	if err != nil {
		s.fail(job, err)
		return
	}

	runID := s.newID()
	err = s.runner.Enqueue(ctx, engine.EnqueueRequest{RunID: runID, Workflow: def})
	switch {
	case err == nil:
		job.LastRunID = runID
		job.LastStatus = StatusStarted
		s.logger.Info("scheduled job started",
			slog.String("job", job.Name),
			slog.String("run_id", runID),
		)
	case schema.ErrorCode(err) == schema.ErrCodeBusy:
		job.LastStatus = StatusBusy
		job.LastError = err.Error()
		s.logger.Warn("scheduled job rejected, runner busy",
			slog.String("job", job.Name),
			slog.String("error", err.Error()),
		)
	default:
		s.fail(job, err)
	}
}

func (s *Scheduler) fail(job *JobState, err error) {
	job.LastStatus = StatusError
	job.LastError = err.Error()
	s.logger.Error("scheduled job failed",
		slog.String("job", job.Name),
		slog.String("error", err.Error()),
	)
}

// Jobs returns a snapshot of every job's state.
func (s *Scheduler) Jobs() []JobState {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	out := make([]JobState, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
