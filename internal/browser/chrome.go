package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/rendis/browgent/pkg/schema"
)

const (
	defaultActionTimeout = 30 * time.Second
	networkIdleGrace     = 500 * time.Millisecond
	sampleQuality        = 60
	sampleMime           = "image/jpeg"
)

// ChromeConfig configures how sessions reach a browser.
type ChromeConfig struct {
	RemoteURL     string // connect to an existing browser (e.g. ws://localhost:9222)
	Headless      bool
	ExecPath      string
	ActionTimeout time.Duration
	Logger        *slog.Logger
}

// ChromeLauncher opens chromedp-backed sessions.
type ChromeLauncher struct {
	cfg ChromeConfig
}

// NewChromeLauncher creates a launcher. A zero ActionTimeout uses 30s.
func NewChromeLauncher(cfg ChromeConfig) *ChromeLauncher {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = defaultActionTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ChromeLauncher{cfg: cfg}
}

// Open allocates a browser (local or remote) and a fresh tab.
// The session outlives ctx cancellation; release it with Close.
func (l *ChromeLauncher) Open(ctx context.Context) (Session, error) {
	base := context.WithoutCancel(ctx)

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if l.cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(base, l.cfg.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(base, l.allocatorOptions()...)
	}

	logger := l.cfg.Logger
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...), "component", "chromedp")
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Warn(fmt.Sprintf(format, args...), "component", "chromedp")
		}),
	)

	s := &ChromeSession{
		ctx:           tabCtx,
		cancel:        tabCancel,
		allocCancel:   allocCancel,
		actionTimeout: l.cfg.ActionTimeout,
	}

	// The first Run starts the browser and must use the tab context itself:
	// a derived deadline would tear the browser down when it fires.
	if err := chromedp.Run(tabCtx); err != nil {
		_ = s.Close()
		return nil, schema.NewError(schema.ErrCodeExecution, "open browser session").WithCause(err)
	}
	return s, nil
}

func (l *ChromeLauncher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !l.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	return opts
}

// ChromeSession is a Session backed by one chromedp tab.
type ChromeSession struct {
	ctx           context.Context
	cancel        context.CancelFunc
	allocCancel   context.CancelFunc
	actionTimeout time.Duration
}

// run executes actions in the tab context, bounded by timeout and by the
// caller's ctx. Cancelling the derived context does not close the tab.
func (s *ChromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = s.actionTimeout
	}
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *ChromeSession) Navigate(ctx context.Context, url, waitUntil string) error {
	actions := append([]chromedp.Action{chromedp.Navigate(url)}, navigateWaitActions(waitUntil)...)
	return s.run(ctx, 0, actions...)
}

func (s *ChromeSession) Click(ctx context.Context, xpath string, opts ClickOptions) error {
	var nodes []*cdp.Node
	mouse := []chromedp.MouseOption{chromedp.ButtonType(mouseButton(opts.Button))}
	if opts.ClickCount > 0 {
		mouse = append(mouse, chromedp.ClickCount(opts.ClickCount))
	}
	return s.run(ctx, opts.Timeout,
		chromedp.Nodes(xpath, &nodes, chromedp.BySearch, chromedp.NodeVisible),
		chromedp.Sleep(opts.Delay),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if len(nodes) == 0 {
				return fmt.Errorf("no element matches %q", xpath)
			}
			return chromedp.MouseClickNode(nodes[0], mouse...).Do(ctx)
		}),
	)
}

func (s *ChromeSession) Fill(ctx context.Context, xpath, value string, clear bool, timeout time.Duration) error {
	actions := []chromedp.Action{chromedp.WaitVisible(xpath, chromedp.BySearch)}
	if clear {
		actions = append(actions, chromedp.Clear(xpath, chromedp.BySearch))
	}
	actions = append(actions, chromedp.SendKeys(xpath, value, chromedp.BySearch))
	return s.run(ctx, timeout, actions...)
}

func (s *ChromeSession) Press(ctx context.Context, xpath, key string, delay time.Duration) error {
	keys := keySequence(key)
	actions := []chromedp.Action{chromedp.Sleep(delay)}
	if xpath == "" {
		actions = append(actions, chromedp.KeyEvent(keys))
	} else {
		actions = append(actions, chromedp.SendKeys(xpath, keys, chromedp.BySearch))
	}
	return s.run(ctx, 0, actions...)
}

func (s *ChromeSession) WaitElement(ctx context.Context, state ElementState, xpath string, timeout time.Duration) error {
	var wait chromedp.Action
	switch state {
	case StateExists:
		wait = chromedp.WaitReady(xpath, chromedp.BySearch)
	default:
		wait = chromedp.WaitVisible(xpath, chromedp.BySearch)
	}
	return s.run(ctx, timeout, wait)
}

func (s *ChromeSession) Scroll(ctx context.Context, dx, dy int) error {
	return s.run(ctx, 0, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(%d, %d)", dx, dy), nil))
}

func (s *ChromeSession) Evaluate(ctx context.Context, code string, variables map[string]any) (any, error) {
	script, err := wrapScript(code, variables)
	if err != nil {
		return nil, err
	}
	var encoded string
	if err := s.run(ctx, 0, chromedp.Evaluate(script, &encoded, awaitPromise)); err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal([]byte(encoded), &out); err != nil {
		return nil, fmt.Errorf("decode script result: %w", err)
	}
	return out, nil
}

func (s *ChromeSession) Text(ctx context.Context, xpath string) (string, error) {
	var text string
	err := s.run(ctx, 0, chromedp.TextContent(xpath, &text, chromedp.BySearch, chromedp.AtLeast(1)))
	return text, err
}

func (s *ChromeSession) URL(ctx context.Context) (string, error) {
	var url string
	err := s.run(ctx, 0, chromedp.Location(&url))
	return url, err
}

func (s *ChromeSession) Visible(ctx context.Context, xpath string) (bool, error) {
	return s.probe(ctx, xpath, true)
}

func (s *ChromeSession) Exists(ctx context.Context, xpath string) (bool, error) {
	return s.probe(ctx, xpath, false)
}

func (s *ChromeSession) probe(ctx context.Context, xpath string, visible bool) (bool, error) {
	js, err := xpathProbeJS(xpath, visible)
	if err != nil {
		return false, err
	}
	var ok bool
	err = s.run(ctx, 0, chromedp.Evaluate(js, &ok))
	return ok, err
}

func (s *ChromeSession) Sample(ctx context.Context) (string, []byte, error) {
	var buf []byte
	err := s.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatJpeg).
			WithQuality(sampleQuality).
			Do(ctx)
		return err
	}))
	return sampleMime, buf, err
}

// Close shuts the tab and releases the allocator. Safe to call twice.
func (s *ChromeSession) Close() error {
	var err error
	if s.cancel != nil {
		err = chromedp.Cancel(s.ctx)
		s.cancel()
		s.cancel = nil
	}
	if s.allocCancel != nil {
		s.allocCancel()
		s.allocCancel = nil
	}
	return err
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// navigateWaitActions maps a waitUntil value to the actions that follow
// chromedp.Navigate, which already blocks for the load event.
func navigateWaitActions(waitUntil string) []chromedp.Action {
	switch waitUntil {
	case schema.WaitUntilDOMReady:
		return []chromedp.Action{chromedp.WaitReady("body", chromedp.ByQuery)}
	case schema.WaitUntilNetworkIdle:
		return []chromedp.Action{chromedp.Sleep(networkIdleGrace)}
	default:
		return nil
	}
}

func mouseButton(name string) input.MouseButton {
	switch name {
	case "right":
		return input.Right
	case "middle":
		return input.Middle
	default:
		return input.Left
	}
}

var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"home":       kb.Home,
	"end":        kb.End,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
	"space":      " ",
}

// keySequence resolves DOM key names (Enter, ArrowDown, ...) to the runes
// chromedp sends; anything else is typed literally.
func keySequence(key string) string {
	if seq, ok := namedKeys[strings.ToLower(key)]; ok {
		return seq
	}
	return key
}

// wrapScript turns a function body into an expression that resolves to the
// JSON encoding of its return value (undefined encodes as null).
func wrapScript(code string, variables map[string]any) (string, error) {
	if variables == nil {
		variables = map[string]any{}
	}
	vars, err := json.Marshal(variables)
	if err != nil {
		return "", fmt.Errorf("encode script variables: %w", err)
	}
	return fmt.Sprintf(
		"(async (variables) => {\n%s\n})(%s).then((r) => JSON.stringify(r === undefined ? null : r))",
		code, vars), nil
}

// xpathProbeJS builds an instant existence or visibility check for xpath.
func xpathProbeJS(xpath string, visible bool) (string, error) {
	quoted, err := json.Marshal(xpath)
	if err != nil {
		return "", err
	}
	lookup := fmt.Sprintf(
		"document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue",
		quoted)
	if !visible {
		return fmt.Sprintf("(() => %s !== null)()", lookup), nil
	}
	return fmt.Sprintf(`(() => {
	const el = %s;
	if (!el || !(el instanceof Element)) return false;
	const style = window.getComputedStyle(el);
	if (style.visibility === "hidden" || style.display === "none") return false;
	return el.getClientRects().length > 0;
})()`, lookup), nil
}

var _ Session = (*ChromeSession)(nil)
var _ Launcher = (*ChromeLauncher)(nil)
