package events

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rendis/browgent/pkg/schema"
)

// HTTPSinkConfig configures delivery to the event relay.
type HTTPSinkConfig struct {
	BaseURL     string // relay base URL, e.g. http://localhost:8090
	Secret      string // bearer token; empty sends no Authorization header
	Timeout     time.Duration
	MaxRetries  int
	RetryWaitMS int
}

// HTTPSink posts events to the relay's internal endpoint.
type HTTPSink struct {
	base   string
	client *resty.Client
}

// NewHTTPSink builds a resty-backed sink. Zero Timeout uses 5s.
func NewHTTPSink(cfg HTTPSinkConfig) *HTTPSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(time.Duration(cfg.RetryWaitMS)*time.Millisecond).
		SetHeader("Content-Type", "application/json")
	if cfg.Secret != "" {
		client.SetAuthToken(cfg.Secret)
	}
	return &HTTPSink{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		client: client,
	}
}

// EventsURL returns the relay endpoint for runID.
func (h *HTTPSink) EventsURL(runID string) string {
	return fmt.Sprintf("%s/internal/runs/%s/events", h.base, url.PathEscape(runID))
}

func (h *HTTPSink) PostEvent(ctx context.Context, runID string, event schema.Event) error {
	body, err := Envelope(runID, event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(h.EventsURL(runID))
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("post event: relay responded %s", resp.Status())
	}
	return nil
}

var _ Sink = (*HTTPSink)(nil)
