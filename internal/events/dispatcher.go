package events

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/browgent/pkg/schema"
)

// Sampler captures a frame for the live viewer. browser.Session satisfies it.
type Sampler interface {
	Sample(ctx context.Context) (mime string, data []byte, err error)
}

// Dispatcher emits the events of a single run, in order, to a Sink.
//
// Posts are serialized, so the sink sees events in emission order. Once Done
// has been emitted the dispatcher is closed and drops everything else,
// including late samples. Sink errors are logged and swallowed.
type Dispatcher struct {
	runID  string
	sink   Sink
	logger *slog.Logger

	mu     sync.Mutex
	closed bool

	sampleMu     sync.Mutex
	sampleCancel context.CancelFunc
	sampleDone   chan struct{}
}

// NewDispatcher creates a dispatcher for runID. A nil sink discards events.
func NewDispatcher(runID string, sink Sink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		runID:  runID,
		sink:   sink,
		logger: logger.With("run_id", runID),
	}
}

// RunID returns the run the dispatcher belongs to.
func (d *Dispatcher) RunID() string { return d.runID }

// RunStatus emits a runStatus event. errMsg is only meaningful for failed.
func (d *Dispatcher) RunStatus(ctx context.Context, status schema.RunStatus, errMsg string) {
	d.emit(ctx, schema.Event{Type: schema.EventRunStatus, Status: status, Error: errMsg}, false)
}

// StepStart emits the start of the execution with ordinal index.
func (d *Dispatcher) StepStart(ctx context.Context, index int, meta schema.StepMeta) {
	d.emit(ctx, schema.Event{Type: schema.EventStepStart, Index: &index, Meta: &meta}, false)
}

// StepEnd emits the outcome of the execution with ordinal index.
func (d *Dispatcher) StepEnd(ctx context.Context, index int, meta schema.StepMeta, stepErr error) {
	ok := stepErr == nil
	ev := schema.Event{Type: schema.EventStepEnd, Index: &index, Meta: &meta, OK: &ok}
	if stepErr != nil {
		ev.Error = stepErr.Error()
	}
	d.emit(ctx, ev, false)
}

// Done emits the final event and closes the dispatcher.
func (d *Dispatcher) Done(ctx context.Context, runErr error) {
	ok := runErr == nil
	ev := schema.Event{Type: schema.EventDone, OK: &ok}
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	d.emit(ctx, ev, true)
}

// Closed reports whether Done has been emitted.
func (d *Dispatcher) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Dispatcher) emit(ctx context.Context, ev schema.Event, final bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	if final {
		d.closed = true
	}
	if ev.TS == 0 {
		ev.TS = schema.NowMillis()
	}
	if d.sink == nil {
		return
	}

	// Terminal events of a cancelled run must still be delivered.
	if err := d.sink.PostEvent(context.WithoutCancel(ctx), d.runID, ev); err != nil {
		d.logger.WarnContext(ctx, "post run event failed",
			"type", string(ev.Type),
			"error", err,
		)
	}
}

// StartSampling captures a sample every interval until StopSampling is
// called or ctx is cancelled. Failures are logged at debug and skipped.
// Calling it again while a stream is active is a no-op.
func (d *Dispatcher) StartSampling(ctx context.Context, sampler Sampler, interval time.Duration) {
	if sampler == nil || interval <= 0 {
		return
	}

	d.sampleMu.Lock()
	defer d.sampleMu.Unlock()
	if d.sampleCancel != nil {
		return
	}

	sctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.sampleCancel = cancel
	d.sampleDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-sctx.Done():
				return
			case <-ticker.C:
				d.sampleOnce(sctx, sampler)
			}
		}
	}()
}

func (d *Dispatcher) sampleOnce(ctx context.Context, sampler Sampler) {
	mime, data, err := sampler.Sample(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.DebugContext(ctx, "sample capture failed", "error", err)
		}
		return
	}
	if ctx.Err() != nil || len(data) == 0 {
		return
	}
	d.emit(ctx, schema.Event{
		Type: schema.EventSample,
		Mime: mime,
		Data: base64.StdEncoding.EncodeToString(data),
	}, false)
}

// StopSampling stops the stream and waits for an in-flight capture to
// finish. Safe to call multiple times or without StartSampling.
func (d *Dispatcher) StopSampling() {
	d.sampleMu.Lock()
	cancel, done := d.sampleCancel, d.sampleDone
	d.sampleCancel, d.sampleDone = nil, nil
	d.sampleMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
