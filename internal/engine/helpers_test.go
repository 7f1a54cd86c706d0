package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rendis/browgent/internal/browser"
	"github.com/rendis/browgent/internal/expressions"
	"github.com/rendis/browgent/pkg/schema"
)

// fakeSession is a scriptable browser.Session.
type fakeSession struct {
	mu sync.Mutex

	url     string
	visible map[string]bool
	exists  map[string]bool
	texts   map[string]string
	evalFn  func(code string, vars map[string]any) (any, error)
	failOn  map[string]error // method name -> error
	blockOn string           // method that blocks until ctx is done

	calls   []string
	navs    []string
	fills   []string
	clicks  []browser.ClickOptions
	evals   []map[string]any
	samples int
	closed  int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		url:     "about:blank",
		visible: map[string]bool{},
		exists:  map[string]bool{},
		texts:   map[string]string{},
		failOn:  map[string]error{},
	}
}

func (s *fakeSession) record(ctx context.Context, name string) error {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	err := s.failOn[name]
	block := s.blockOn == name
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (s *fakeSession) Navigate(ctx context.Context, url, waitUntil string) error {
	if err := s.record(ctx, "navigate"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navs = append(s.navs, url+"|"+waitUntil)
	s.url = url
	return nil
}

func (s *fakeSession) Click(ctx context.Context, xpath string, opts browser.ClickOptions) error {
	if err := s.record(ctx, "click"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicks = append(s.clicks, opts)
	return nil
}

func (s *fakeSession) Fill(ctx context.Context, xpath, value string, clear bool, _ time.Duration) error {
	if err := s.record(ctx, "fill"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fills = append(s.fills, value)
	return nil
}

func (s *fakeSession) Press(ctx context.Context, _, _ string, _ time.Duration) error {
	return s.record(ctx, "press")
}

func (s *fakeSession) WaitElement(ctx context.Context, _ browser.ElementState, _ string, _ time.Duration) error {
	return s.record(ctx, "wait_element")
}

func (s *fakeSession) Scroll(ctx context.Context, _, _ int) error {
	return s.record(ctx, "scroll")
}

func (s *fakeSession) Evaluate(ctx context.Context, code string, vars map[string]any) (any, error) {
	if err := s.record(ctx, "evaluate"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.evals = append(s.evals, vars)
	fn := s.evalFn
	s.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(code, vars)
}

func (s *fakeSession) Text(ctx context.Context, xpath string) (string, error) {
	if err := s.record(ctx, "text"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.texts[xpath], nil
}

func (s *fakeSession) URL(ctx context.Context) (string, error) {
	if err := s.record(ctx, "url"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, nil
}

func (s *fakeSession) Visible(ctx context.Context, xpath string) (bool, error) {
	if err := s.record(ctx, "visible"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible[xpath], nil
}

func (s *fakeSession) Exists(ctx context.Context, xpath string) (bool, error) {
	if err := s.record(ctx, "exists"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists[xpath], nil
}

func (s *fakeSession) Sample(ctx context.Context) (string, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples++
	return "image/jpeg", []byte{0xff, 0xd8}, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSession) setVisible(xpath string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible[xpath] = v
}

func (s *fakeSession) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) Evals() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.evals...)
}

// fakeLauncher hands out sessions from newSession, or fails with err.
type fakeLauncher struct {
	mu         sync.Mutex
	newSession func() *fakeSession
	err        error
	opened     []*fakeSession
}

func (l *fakeLauncher) Open(context.Context) (browser.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	s := newFakeSession()
	if l.newSession != nil {
		s = l.newSession()
	}
	l.opened = append(l.opened, s)
	return s, nil
}

func launcherFor(s *fakeSession) *fakeLauncher {
	return &fakeLauncher{newSession: func() *fakeSession { return s }}
}

// recordingSink collects events per run.
type recordingSink struct {
	mu     sync.Mutex
	events map[string][]schema.Event
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(map[string][]schema.Event)}
}

func (r *recordingSink) PostEvent(_ context.Context, runID string, ev schema.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[runID] = append(r.events[runID], ev)
	return nil
}

func (r *recordingSink) Events(runID string) []schema.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schema.Event(nil), r.events[runID]...)
}

// Types returns the event types of runID without samples.
func (r *recordingSink) Types(runID string) []schema.EventType {
	var out []schema.EventType
	for _, ev := range r.Events(runID) {
		if ev.Type != schema.EventSample {
			out = append(out, ev.Type)
		}
	}
	return out
}

// Visits returns the step ids of every stepStart event, in order.
func (r *recordingSink) Visits(runID string) []string {
	var out []string
	for _, ev := range r.Events(runID) {
		if ev.Type == schema.EventStepStart {
			out = append(out, ev.Meta.StepID)
		}
	}
	return out
}

func (r *recordingSink) Last(runID string) schema.Event {
	evs := r.Events(runID)
	if len(evs) == 0 {
		return schema.Event{}
	}
	return evs[len(evs)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustWorkflow(t *testing.T, raw string) *schema.WorkflowDefinition {
	t.Helper()
	var def schema.WorkflowDefinition
	require.NoError(t, json.Unmarshal([]byte(raw), &def))
	return &def
}

func runWorkflow(t *testing.T, session *fakeSession, raw string) (*RunResult, *recordingSink) {
	t.Helper()
	sink := newRecordingSink()
	result := NewRunner(RunnerConfig{
		RunID:          "run-1",
		Workflow:       mustWorkflow(t, raw),
		Launcher:       launcherFor(session),
		Sink:           sink,
		Logger:         discardLogger(),
		PollInterval:   10 * time.Millisecond,
		SampleInterval: -1,
	}).Run(context.Background())
	return result, sink
}

func newTestFrame(session *fakeSession) *frame {
	exec := NewExecutionContext()
	return &frame{
		session:   session,
		exec:      exec,
		evaluator: NewEvaluator(session, exec, nil, 10*time.Millisecond),
		jq:        expressions.NewGoJQEngine(),
		logger:    discardLogger(),
		loops:     make(map[string]*loopState),
	}
}

var errDriver = errors.New("element not found")
