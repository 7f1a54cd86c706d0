package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rendis/browgent/internal/browser"
	"github.com/rendis/browgent/internal/expressions"
	"github.com/rendis/browgent/pkg/schema"
)

// DefaultPollInterval is how often WaitFor re-checks a success condition.
const DefaultPollInterval = 250 * time.Millisecond

var defaultConditions = sync.OnceValues(expressions.NewConditions)

// Evaluator checks conditions against the run's browser session and
// variables. Evaluate is a single instant check (used by if and loop);
// WaitFor polls until the condition holds or the timeout elapses.
type Evaluator struct {
	session      browser.Session
	exec         *ExecutionContext
	conds        *expressions.Conditions
	pollInterval time.Duration
}

// NewEvaluator creates an Evaluator. A nil conds uses a shared default set
// of expression engines; a non-positive interval uses DefaultPollInterval.
func NewEvaluator(session browser.Session, exec *ExecutionContext, conds *expressions.Conditions, pollInterval time.Duration) *Evaluator {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Evaluator{session: session, exec: exec, conds: conds, pollInterval: pollInterval}
}

// Evaluate checks cond once. A delay clause holds only when it is not
// positive, since no time passes in an instant check.
func (e *Evaluator) Evaluate(ctx context.Context, cond *schema.Condition) (bool, error) {
	if cond.IsEmpty() {
		return true, nil
	}
	return e.check(ctx, cond, 0)
}

// WaitFor polls spec's condition until it holds. It fails with
// TIMEOUT_ERROR once spec's timeout elapses. A nil spec or a spec without a
// condition succeeds immediately.
func (e *Evaluator) WaitFor(ctx context.Context, spec *schema.SuccessSpec) error {
	if spec == nil || spec.Condition.IsEmpty() {
		return nil
	}

	timeout := time.Duration(spec.TimeoutSeconds() * float64(time.Second))
	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for {
		ok, err := e.check(pctx, spec.Condition, time.Since(start))
		if ctx.Err() != nil {
			return cancelledError(ctx)
		}
		if err == nil && ok {
			return nil
		}
		// Probes fail routinely while a page is loading; keep polling.
		if err != nil && pctx.Err() == nil {
			lastErr = err
		}

		remaining := timeout - time.Since(start)
		if remaining <= 0 {
			return timeoutError(spec, lastErr)
		}
		wait := min(e.pollInterval, remaining)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return cancelledError(ctx)
		case <-timer.C:
		}
	}
}

// check evaluates every present clause in order and stops at the first that
// does not hold. elapsed is the time since evaluation began.
func (e *Evaluator) check(ctx context.Context, cond *schema.Condition, elapsed time.Duration) (bool, error) {
	if cond.Delay != nil {
		if elapsed < time.Duration(*cond.Delay*float64(time.Second)) {
			return false, nil
		}
	}

	var url string
	var urlLoaded bool
	currentURL := func() (string, error) {
		if urlLoaded {
			return url, nil
		}
		u, err := e.session.URL(ctx)
		if err != nil {
			return "", err
		}
		url, urlLoaded = u, true
		return url, nil
	}

	if cond.URLIncludes != nil {
		u, err := currentURL()
		if err != nil {
			return false, err
		}
		if !strings.Contains(u, *cond.URLIncludes) {
			return false, nil
		}
	}

	if cond.Visible != nil {
		ok, err := e.session.Visible(ctx, cond.Visible.XPath)
		if err != nil || !ok {
			return false, err
		}
	}

	if cond.Exists != nil {
		ok, err := e.session.Exists(ctx, cond.Exists.XPath)
		if err != nil || !ok {
			return false, err
		}
	}

	if cond.Script != nil {
		out, err := e.session.Evaluate(ctx, cond.Script.Code, e.exec.VariablesSnapshot())
		if err != nil {
			return false, err
		}
		if !expressions.Truthy(out) {
			return false, nil
		}
	}

	if cond.Expr != "" || cond.CEL != "" {
		conds, err := e.conditions()
		if err != nil {
			return false, err
		}
		u, err := currentURL()
		if err != nil {
			return false, err
		}
		scope := expressions.NewScope(e.exec.VariablesSnapshot(), u)

		if cond.Expr != "" {
			ok, err := conds.EvalExpr(ctx, cond.Expr, scope)
			if err != nil || !ok {
				return false, err
			}
		}
		if cond.CEL != "" {
			ok, err := conds.EvalCEL(ctx, cond.CEL, scope)
			if err != nil || !ok {
				return false, err
			}
		}
	}

	return true, nil
}

func (e *Evaluator) conditions() (*expressions.Conditions, error) {
	if e.conds != nil {
		return e.conds, nil
	}
	return defaultConditions()
}

func timeoutError(spec *schema.SuccessSpec, lastErr error) error {
	err := schema.NewError(schema.ErrCodeTimeout, "success condition timed out").
		WithDetails(map[string]any{"timeout_seconds": spec.TimeoutSeconds()})
	if lastErr != nil {
		err.WithCause(lastErr)
	}
	return err
}

func cancelledError(ctx context.Context) error {
	return schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(context.Cause(ctx))
}
