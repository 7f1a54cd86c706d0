package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/browgent/pkg/schema"
)

func ptr[T any](v T) *T { return &v }

func newTestEvaluator(session *fakeSession) (*Evaluator, *ExecutionContext) {
	exec := NewExecutionContext()
	return NewEvaluator(session, exec, nil, 10*time.Millisecond), exec
}

func TestEvaluate_EmptyConditionHolds(t *testing.T) {
	ev, _ := newTestEvaluator(newFakeSession())
	ok, err := ev.Evaluate(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.Evaluate(context.Background(), &schema.Condition{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_Clauses(t *testing.T) {
	session := newFakeSession()
	session.url = "https://shop.example.com/cart"
	session.visible["//cart"] = true
	session.exists["//hidden"] = true
	session.evalFn = func(code string, _ map[string]any) (any, error) {
		return code == "truthy", nil
	}
	ev, exec := newTestEvaluator(session)
	exec.SetVar("total", 42)

	cases := []struct {
		name string
		cond schema.Condition
		want bool
	}{
		{"delay zero", schema.Condition{Delay: ptr(0.0)}, true},
		{"delay positive", schema.Condition{Delay: ptr(0.5)}, false},
		{"url match", schema.Condition{URLIncludes: ptr("/cart")}, true},
		{"url miss", schema.Condition{URLIncludes: ptr("/checkout")}, false},
		{"visible", schema.Condition{Visible: &schema.ElementRef{XPath: "//cart"}}, true},
		{"not visible", schema.Condition{Visible: &schema.ElementRef{XPath: "//hidden"}}, false},
		{"exists", schema.Condition{Exists: &schema.ElementRef{XPath: "//hidden"}}, true},
		{"script truthy", schema.Condition{Script: &schema.ScriptRef{Code: "truthy"}}, true},
		{"script falsy", schema.Condition{Script: &schema.ScriptRef{Code: "nope"}}, false},
		{"expr vars", schema.Condition{Expr: "vars.total > 40"}, true},
		{"expr url", schema.Condition{Expr: `url contains "shop"`}, true},
		{"cel vars", schema.Condition{CEL: "vars.total == 42"}, true},
		{"cel url", schema.Condition{CEL: `url.endsWith("/home")`}, false},
		{"all hold", schema.Condition{
			URLIncludes: ptr("shop"),
			Visible:     &schema.ElementRef{XPath: "//cart"},
			Expr:        "vars.total == 42",
		}, true},
		{"one fails", schema.Condition{
			URLIncludes: ptr("shop"),
			Visible:     &schema.ElementRef{XPath: "//missing"},
		}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := ev.Evaluate(context.Background(), &tc.cond)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestEvaluate_ShortCircuits(t *testing.T) {
	session := newFakeSession()
	session.url = "https://example.com"
	ev, _ := newTestEvaluator(session)

	ok, err := ev.Evaluate(context.Background(), &schema.Condition{
		URLIncludes: ptr("nope"),
		Visible:     &schema.ElementRef{XPath: "//a"},
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotContains(t, session.calls, "visible")
}

func TestEvaluate_ExprError(t *testing.T) {
	ev, _ := newTestEvaluator(newFakeSession())
	_, err := ev.Evaluate(context.Background(), &schema.Condition{Expr: "vars.("})
	assert.Error(t, err)
}

func TestWaitFor_NoConditionIsImmediate(t *testing.T) {
	ev, _ := newTestEvaluator(newFakeSession())
	assert.NoError(t, ev.WaitFor(context.Background(), nil))
	assert.NoError(t, ev.WaitFor(context.Background(), &schema.SuccessSpec{Timeout: 1}))
}

func TestWaitFor_DelayElapses(t *testing.T) {
	ev, _ := newTestEvaluator(newFakeSession())
	start := time.Now()
	err := ev.WaitFor(context.Background(), &schema.SuccessSpec{
		Timeout:   2,
		Condition: &schema.Condition{Delay: ptr(0.1)},
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitFor_Timeout(t *testing.T) {
	session := newFakeSession()
	session.failOn["visible"] = errDriver
	ev, _ := newTestEvaluator(session)

	start := time.Now()
	err := ev.WaitFor(context.Background(), &schema.SuccessSpec{
		Timeout:   0.1,
		Condition: &schema.Condition{Visible: &schema.ElementRef{XPath: "//x"}},
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeTimeout, schema.ErrorCode(err))
	assert.ErrorIs(t, err, errDriver, "last probe error is kept as the cause")
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitFor_Cancelled(t *testing.T) {
	ev, _ := newTestEvaluator(newFakeSession())
	ctx, cancel := context.WithCancelCause(context.Background())
	time.AfterFunc(20*time.Millisecond, func() { cancel(errRunCancelled) })

	err := ev.WaitFor(ctx, &schema.SuccessSpec{
		Timeout:   5,
		Condition: &schema.Condition{Delay: ptr(10.0)},
	})
	assert.Equal(t, schema.ErrCodeCancelled, schema.ErrorCode(err))
	assert.ErrorIs(t, err, errRunCancelled)
}
