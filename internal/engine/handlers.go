package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/rendis/browgent/internal/browser"
	"github.com/rendis/browgent/internal/expressions"
	"github.com/rendis/browgent/internal/logging"
	"github.com/rendis/browgent/pkg/schema"
)

type navKind int

const (
	navDefault navKind = iota // next field, then positional successor
	navGoto
	navHalt
)

// Directive is a handler's verdict on a step.
//
// A handler that has not handled the step defers to the success evaluator.
// A handled step either leaves navigation to the runner, names the next step
// explicitly, or halts the run cleanly.
type Directive struct {
	Handled bool
	nav     navKind
	target  string
}

// NotHandled asks the runner to evaluate the step's success condition.
func NotHandled() Directive { return Directive{} }

// Handled completes the step without a navigation instruction.
func Handled() Directive { return Directive{Handled: true} }

// Goto completes the step and names the next step. An empty id behaves like
// Handled.
func Goto(id string) Directive {
	if id == "" {
		return Handled()
	}
	return Directive{Handled: true, nav: navGoto, target: id}
}

// Halt completes the step and ends the run successfully.
func Halt() Directive { return Directive{Handled: true, nav: navHalt} }

// Target returns the explicit next step id, if any.
func (d Directive) Target() (string, bool) { return d.target, d.nav == navGoto }

// Halts reports whether the directive ends the run.
func (d Directive) Halts() bool { return d.nav == navHalt }

// loopState is the visit counter of one loop step.
type loopState struct {
	count int
}

// frame is the state owned by one run: its session, variables, evaluator and
// loop counters. Nothing in it is shared with other runs.
type frame struct {
	session   browser.Session
	exec      *ExecutionContext
	evaluator *Evaluator
	jq        *expressions.GoJQEngine
	logger    *slog.Logger
	loops     map[string]*loopState
}

// handle dispatches step to the handler for its kind.
func (f *frame) handle(ctx context.Context, step *schema.StepDefinition, pos int) (Directive, error) {
	switch step.Type {
	case schema.StepNavigate:
		return f.navigate(ctx, step)
	case schema.StepWait:
		return f.wait(ctx, step)
	case schema.StepWaitElement:
		return f.waitElement(ctx, step)
	case schema.StepScroll:
		return f.scroll(ctx, step)
	case schema.StepClick:
		return f.click(ctx, step)
	case schema.StepFill:
		return f.fill(ctx, step)
	case schema.StepPress:
		return f.press(ctx, step)
	case schema.StepLog:
		return f.log(ctx, step)
	case schema.StepScript:
		return f.script(ctx, step)
	case schema.StepExtractText:
		return f.extractText(ctx, step)
	case schema.StepIf:
		return f.ifBranch(ctx, step)
	case schema.StepLoop:
		return f.loop(ctx, step, pos)
	default:
		return Directive{}, schema.NewErrorf(schema.ErrCodeUnsupportedStep,
			"unsupported step type: %s", step.Type)
	}
}

func decodeConfig[T any](step *schema.StepDefinition) (T, error) {
	var cfg T
	if err := step.DecodeConfig(&cfg); err != nil {
		return cfg, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid %s config: %s", step.Type, err.Error()).WithCause(err)
	}
	return cfg, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (f *frame) render(tpl string) string {
	if !expressions.HasTemplate(tpl) {
		return tpl
	}
	return expressions.RenderTemplate(tpl, f.exec.VariablesSnapshot())
}

func (f *frame) navigate(ctx context.Context, step *schema.StepDefinition) (Directive, error) {
	cfg, err := decodeConfig[schema.NavigateConfig](step)
	if err != nil {
		return Directive{}, err
	}
	waitUntil := cfg.WaitUntil
	if waitUntil == "" {
		waitUntil = schema.WaitUntilPageLoaded
	}
	if err := f.session.Navigate(ctx, f.render(cfg.URL), waitUntil); err != nil {
		return Directive{}, err
	}
	return NotHandled(), nil
}

func (f *frame) wait(ctx context.Context, step *schema.StepDefinition) (Directive, error) {
	cfg, err := decodeConfig[schema.WaitConfig](step)
	if err != nil {
		return Directive{}, err
	}
	if d := seconds(cfg.Timeout); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Directive{}, cancelledError(ctx)
		case <-timer.C:
		}
	}
	return NotHandled(), nil
}

func (f *frame) waitElement(ctx context.Context, step *schema.StepDefinition) (Directive, error) {
	cfg, err := decodeConfig[schema.WaitElementConfig](step)
	if err != nil {
		return Directive{}, err
	}
	state := browser.StateVisible
	if cfg.Type == string(browser.StateExists) {
		state = browser.StateExists
	}
	if err := f.session.WaitElement(ctx, state, cfg.XPath, seconds(cfg.Timeout)); err != nil {
		return Directive{}, err
	}
	return NotHandled(), nil
}

func (f *frame) scroll(ctx context.Context, step *schema.StepDefinition) (Directive, error) {
	cfg, err := decodeConfig[schema.ScrollConfig](step)
	if err != nil {
		return Directive{}, err
	}
	if err := f.session.Scroll(ctx, cfg.DX, cfg.DY); err != nil {
		return Directive{}, err
	}
	return NotHandled(), nil
}

func (f *frame) click(ctx context.Context, step *schema.StepDefinition) (Directive, error) {
	cfg, err := decodeConfig[schema.ClickConfig](step)
	if err != nil {
		return Directive{}, err
	}
	opts := browser.ClickOptions{
		Button:     cfg.Button,
		ClickCount: cfg.ClickCount,
		Delay:      seconds(cfg.Delay),
		Timeout:    seconds(cfg.Timeout),
	}
	if err := f.session.Click(ctx, cfg.XPath, opts); err != nil {
		return Directive{}, err
	}
	return NotHandled(), nil
}

func (f *frame) fill(ctx context.Context, step *schema.StepDefinition) (Directive, error) {
	cfg, err := decodeConfig[schema.FillConfig](step)
	if err != nil {
		return Directive{}, err
	}
	var value string
	if cfg.Value != nil {
		value = f.render(*cfg.Value)
	}
	if err := f.session.Fill(ctx, cfg.XPath, value, cfg.Clear, seconds(cfg.Timeout)); err != nil {
		return Directive{}, err
	}
	return NotHandled(), nil
}

func (f *frame) press(ctx context.Context, step *schema.StepDefinition) (Directive, error) {
	cfg, err := decodeConfig[schema.PressConfig](step)
	if err != nil {
		return Directive{}, err
	}
	if err := f.session.Press(ctx, cfg.XPath, cfg.Key, seconds(cfg.Delay)); err != nil {
		return Directive{}, err
	}
	return NotHandled(), nil
}

func (f *frame) log(ctx context.Context, step *schema.StepDefinition) (Directive, error) {
	cfg, err := decodeConfig[schema.LogConfig](step)
	if err != nil {
		return Directive{}, err
	}
	level := slog.LevelInfo
	if cfg.Level != "" {
		level = logging.ParseLevel(cfg.Level)
	}
	attrs := []any{"source", "workflow"}
	if cfg.Target != "" {
		attrs = append(attrs, "target", cfg.Target)
	}
	f.logger.Log(ctx, level, f.render(cfg.Message), attrs...)
	return NotHandled(), nil
}

func (f *frame) script(ctx context.Context, step *schema.StepDefinition) (Directive, error) {
	cfg, err := decodeConfig[schema.ScriptConfig](step)
	if err != nil {
		return Directive{}, err
	}
	result, err := f.session.Evaluate(ctx, cfg.Code, f.exec.VariablesSnapshot())
	if err != nil {
		return Directive{}, err
	}
	if cfg.JQ != "" {
		result, err = f.jq.Transform(ctx, cfg.JQ, result)
		if err != nil {
			return Directive{}, err
		}
	}
	as := cfg.As
	if as == "" {
		as = step.As
	}
	if as != "" {
		f.exec.SetVar(as, result)
	}
	return NotHandled(), nil
}

func (f *frame) extractText(ctx context.Context, step *schema.StepDefinition) (Directive, error) {
	cfg, err := decodeConfig[schema.ExtractTextConfig](step)
	if err != nil {
		return Directive{}, err
	}
	text, err := f.session.Text(ctx, cfg.XPath)
	if err != nil {
		return Directive{}, err
	}
	as := cfg.As
	if as == "" {
		as = step.As
	}
	if as != "" {
		f.exec.SetVar(as, text)
	}
	return NotHandled(), nil
}

// ifBranch takes the first branch, in declaration order, whose condition
// holds. A branch without a condition always holds.
func (f *frame) ifBranch(ctx context.Context, step *schema.StepDefinition) (Directive, error) {
	for i := range step.Branches {
		branch := &step.Branches[i]
		matches := true
		if branch.Condition != nil {
			ok, err := f.evaluator.Evaluate(ctx, branch.Condition)
			if err != nil {
				return Directive{}, err
			}
			matches = ok
		}
		if matches {
			return Goto(branch.Next), nil
		}
	}
	return Directive{}, schema.NewErrorf(schema.ErrCodeNoMatchingBranch,
		"no matching branch for if step %s", stepLabel(step))
}

// loop continues while count < times (when times is set) and the condition
// holds (when set). On exit its state is dropped so a later visit starts over.
func (f *frame) loop(ctx context.Context, step *schema.StepDefinition, pos int) (Directive, error) {
	key := step.TrimmedID()
	if key == "" {
		key = "#" + strconv.Itoa(pos)
	}
	state, ok := f.loops[key]
	if !ok {
		state = &loopState{}
	}

	shouldContinue := true
	if step.Times != nil {
		shouldContinue = state.count < *step.Times
	}
	if shouldContinue && step.Condition != nil {
		holds, err := f.evaluator.Evaluate(ctx, step.Condition)
		if err != nil {
			return Directive{}, err
		}
		shouldContinue = holds
	}

	if shouldContinue {
		if step.As != "" {
			f.exec.SetVar(step.As, state.count)
		}
		state.count++
		f.loops[key] = state
		return Goto(step.Next), nil
	}

	delete(f.loops, key)
	if step.Exit != nil {
		return Goto(*step.Exit), nil
	}
	return Halt(), nil
}

func stepLabel(step *schema.StepDefinition) string {
	if id := step.TrimmedID(); id != "" {
		return id
	}
	return fmt.Sprintf("<%s>", step.Type)
}
