package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/browgent/internal/browser"
	"github.com/rendis/browgent/pkg/schema"
)

func step(t *testing.T, raw string) *schema.StepDefinition {
	t.Helper()
	var s schema.StepDefinition
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	return &s
}

func TestDirective_Shapes(t *testing.T) {
	assert.False(t, NotHandled().Handled)

	h := Handled()
	assert.True(t, h.Handled)
	_, explicit := h.Target()
	assert.False(t, explicit)
	assert.False(t, h.Halts())

	g := Goto("next")
	target, explicit := g.Target()
	assert.True(t, g.Handled)
	assert.True(t, explicit)
	assert.Equal(t, "next", target)

	assert.Equal(t, Handled(), Goto(""))
	assert.True(t, Halt().Halts())
}

func TestLoop_TimesBindsAndExits(t *testing.T) {
	f := newTestFrame(newFakeSession())
	ctx := context.Background()
	s := step(t, `{"id":"loop","type":"loop","times":3,"as":"i","next":"body","exit":"after"}`)

	for want := 0; want < 3; want++ {
		d, err := f.handle(ctx, s, 0)
		require.NoError(t, err)
		target, _ := d.Target()
		assert.Equal(t, "body", target)
		v, ok := f.exec.Var("i")
		require.True(t, ok)
		assert.Equal(t, want, v)
		assert.Equal(t, want+1, f.loops["loop"].count)
	}

	d, err := f.handle(ctx, s, 0)
	require.NoError(t, err)
	target, _ := d.Target()
	assert.Equal(t, "after", target)
	assert.NotContains(t, f.loops, "loop", "state is removed on exit")

	v, _ := f.exec.Var("i")
	assert.Equal(t, 2, v, "exit does not rebind")

	// A later visit starts a fresh count.
	d, err = f.handle(ctx, s, 0)
	require.NoError(t, err)
	target, _ = d.Target()
	assert.Equal(t, "body", target)
	assert.Equal(t, 1, f.loops["loop"].count)
}

func TestLoop_TimesAndConditionCombineWithAnd(t *testing.T) {
	f := newTestFrame(newFakeSession())
	ctx := context.Background()
	s := step(t, `{"id":"loop","type":"loop","times":5,"next":"body",
		"condition":{"expr":"vars.more == true"}}`)

	f.exec.SetVar("more", true)
	d, err := f.handle(ctx, s, 0)
	require.NoError(t, err)
	target, _ := d.Target()
	assert.Equal(t, "body", target)

	f.exec.SetVar("more", false)
	d, err = f.handle(ctx, s, 0)
	require.NoError(t, err)
	assert.True(t, d.Halts(), "no exit configured")
	assert.Empty(t, f.loops)
}

func TestLoop_ConditionOnly(t *testing.T) {
	session := newFakeSession()
	session.exists["//next"] = true
	f := newTestFrame(session)
	s := step(t, `{"id":"pages","type":"loop","next":"body","exit":"done",
		"condition":{"exists":{"xpath":"//next"}}}`)

	for i := 0; i < 10; i++ {
		d, err := f.handle(context.Background(), s, 0)
		require.NoError(t, err)
		target, _ := d.Target()
		require.Equal(t, "body", target)
	}
	session.exists["//next"] = false
	d, err := f.handle(context.Background(), s, 0)
	require.NoError(t, err)
	target, _ := d.Target()
	assert.Equal(t, "done", target)
}

func TestLoop_StateKeyedByPositionWithoutID(t *testing.T) {
	f := newTestFrame(newFakeSession())
	s := step(t, `{"type":"loop","times":2}`)

	_, err := f.handle(context.Background(), s, 4)
	require.NoError(t, err)
	assert.Contains(t, f.loops, "#4")
}

func TestLoop_EmptyExitUsesDefaultNavigation(t *testing.T) {
	f := newTestFrame(newFakeSession())
	s := step(t, `{"id":"l","type":"loop","times":0,"exit":""}`)

	d, err := f.handle(context.Background(), s, 0)
	require.NoError(t, err)
	assert.Equal(t, Handled(), d)
}

func TestIf_ConditionErrorFailsStep(t *testing.T) {
	session := newFakeSession()
	session.failOn["url"] = errDriver
	f := newTestFrame(session)
	s := step(t, `{"id":"c","type":"if","branches":[{"condition":{"urlIncludes":"a"},"next":"x"}]}`)

	_, err := f.handle(context.Background(), s, 0)
	assert.ErrorIs(t, err, errDriver)
}

func TestIf_DelayBranchIsInstant(t *testing.T) {
	f := newTestFrame(newFakeSession())
	s := step(t, `{"id":"c","type":"if","branches":[
		{"condition":{"delay":1},"next":"slow"},
		{"condition":{"delay":0},"next":"now"}
	]}`)

	start := time.Now()
	d, err := f.handle(context.Background(), s, 0)
	require.NoError(t, err)
	target, _ := d.Target()
	assert.Equal(t, "now", target)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestScript_BindsTransformedResult(t *testing.T) {
	session := newFakeSession()
	session.evalFn = func(code string, vars map[string]any) (any, error) {
		return map[string]any{"items": []any{"a", "b", "c"}}, nil
	}
	f := newTestFrame(session)
	f.exec.SetVar("seed", 1.0)
	s := step(t, `{"id":"s","type":"script","config":{"code":"return scrape()","as":"count","jq":".items | length"}}`)

	d, err := f.handle(context.Background(), s, 0)
	require.NoError(t, err)
	assert.False(t, d.Handled)

	v, ok := f.exec.Var("count")
	require.True(t, ok)
	assert.EqualValues(t, 3, v)

	evals := session.Evals()
	require.Len(t, evals, 1)
	assert.Equal(t, 1.0, evals[0]["seed"], "script receives the variables")
}

func TestScript_StepAsFallback(t *testing.T) {
	session := newFakeSession()
	session.evalFn = func(string, map[string]any) (any, error) { return "ok", nil }
	f := newTestFrame(session)
	s := step(t, `{"id":"s","type":"script","as":"out","config":{"code":"return 'ok'"}}`)

	_, err := f.handle(context.Background(), s, 0)
	require.NoError(t, err)
	v, _ := f.exec.Var("out")
	assert.Equal(t, "ok", v)
}

func TestClick_PassesOptions(t *testing.T) {
	session := newFakeSession()
	f := newTestFrame(session)
	s := step(t, `{"id":"c","type":"click","config":{"xpath":"//a","button":"right","clickCount":2,"delay":0.5,"timeout":3}}`)

	_, err := f.handle(context.Background(), s, 0)
	require.NoError(t, err)
	require.Len(t, session.clicks, 1)
	assert.Equal(t, browser.ClickOptions{
		Button:     "right",
		ClickCount: 2,
		Delay:      500 * time.Millisecond,
		Timeout:    3 * time.Second,
	}, session.clicks[0])
}

func TestActionHandlers_NotHandled(t *testing.T) {
	cases := []string{
		`{"id":"a","type":"navigate","config":{"url":"https://example.com"}}`,
		`{"id":"a","type":"wait","config":{"timeout":0.001}}`,
		`{"id":"a","type":"wait_element","config":{"type":"exists","xpath":"//a","timeout":1}}`,
		`{"id":"a","type":"scroll","config":{"dx":0,"dy":400}}`,
		`{"id":"a","type":"click","config":{"xpath":"//a"}}`,
		`{"id":"a","type":"fill","config":{"xpath":"//a","value":"x"}}`,
		`{"id":"a","type":"press","config":{"key":"Enter"}}`,
		`{"id":"a","type":"log","config":{"message":"hi","level":"warn","target":"console"}}`,
		`{"id":"a","type":"script","config":{"code":"1"}}`,
		`{"id":"a","type":"extract_text","config":{"xpath":"//a","as":"t"}}`,
	}
	for _, raw := range cases {
		s := step(t, raw)
		t.Run(string(s.Type), func(t *testing.T) {
			d, err := newTestFrame(newFakeSession()).handle(context.Background(), s, 0)
			require.NoError(t, err)
			assert.False(t, d.Handled)
		})
	}
}

func TestHandlers_EveryKindDispatched(t *testing.T) {
	for _, kind := range schema.StepKinds {
		s := &schema.StepDefinition{ID: "x", Type: kind, Config: json.RawMessage(`{}`)}
		_, err := newTestFrame(newFakeSession()).handle(context.Background(), s, 0)
		assert.NotEqual(t, schema.ErrCodeUnsupportedStep, schema.ErrorCode(err), "kind %s", kind)
	}
}

func TestHandlers_InvalidConfig(t *testing.T) {
	s := step(t, `{"id":"a","type":"click","config":{"xpath":42}}`)
	_, err := newTestFrame(newFakeSession()).handle(context.Background(), s, 0)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}
