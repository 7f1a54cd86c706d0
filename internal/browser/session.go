// Package browser drives the automation session a run executes against.
package browser

import (
	"context"
	"time"
)

// ElementState is the state wait_element blocks for.
type ElementState string

const (
	StateVisible ElementState = "visible"
	StateExists  ElementState = "exists"
)

// ClickOptions tune a click. Zero values mean left button, single click, no
// delay and the session's default timeout.
type ClickOptions struct {
	Button     string
	ClickCount int
	Delay      time.Duration
	Timeout    time.Duration
}

// Session is the capability set the engine needs from the automation driver.
// Every call honours ctx cancellation. A Session belongs to exactly one run.
type Session interface {
	Navigate(ctx context.Context, url, waitUntil string) error
	Click(ctx context.Context, xpath string, opts ClickOptions) error
	Fill(ctx context.Context, xpath, value string, clear bool, timeout time.Duration) error
	Press(ctx context.Context, xpath, key string, delay time.Duration) error
	WaitElement(ctx context.Context, state ElementState, xpath string, timeout time.Duration) error
	Scroll(ctx context.Context, dx, dy int) error

	// Evaluate runs code as the body of an async function receiving
	// variables and returns its JSON-decoded result.
	Evaluate(ctx context.Context, code string, variables map[string]any) (any, error)
	Text(ctx context.Context, xpath string) (string, error)
	URL(ctx context.Context) (string, error)

	// Visible and Exists are instant probes; they never wait.
	Visible(ctx context.Context, xpath string) (bool, error)
	Exists(ctx context.Context, xpath string) (bool, error)

	// Sample captures a frame for the live viewer.
	Sample(ctx context.Context) (mime string, data []byte, err error)

	Close() error
}

// Launcher opens a fresh Session for each run.
type Launcher interface {
	Open(ctx context.Context) (Session, error)
}
