// Package alerts delivers operational alerts from the batch pipeline: high
// batch error rates, run failures, anything a human should look at. The
// default sink logs; a webhook sink can forward to an external channel and
// degrades to logging when the endpoint misbehaves.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Alert severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is one operational alert.
type Alert struct {
	Severity string                 `json:"severity"`
	Title    string                 `json:"title"`
	Message  string                 `json:"message"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
	At       time.Time              `json:"at"`
}

// Sink delivers alerts. Delivery is best-effort; a sink never propagates
// its own failures to the caller.
type Sink interface {
	Emit(ctx context.Context, a Alert)
}

// LogSink writes alerts to the structured log. It is the fallback every
// deployment has.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

// Emit logs the alert at a level matching its severity.
func (s *LogSink) Emit(_ context.Context, a Alert) {
	ev := s.log.Warn()
	if a.Severity == SeverityCritical {
		ev = s.log.Error()
	}
	ev.Str("severity", a.Severity).
		Str("title", a.Title).
		Fields(a.Fields).
		Msg(a.Message)
}

// WebhookSink POSTs alerts as JSON to a configured URL. Calls run behind a
// circuit breaker: after repeated failures the breaker opens and alerts go
// straight to the fallback sink until the endpoint recovers.
type WebhookSink struct {
	url      string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	fallback Sink
	log      zerolog.Logger
}

// NewWebhookSink creates a webhook sink with fallback as the degraded path.
// A nil fallback falls back to a LogSink on log.
func NewWebhookSink(url string, fallback Sink, log zerolog.Logger) *WebhookSink {
	if fallback == nil {
		fallback = NewLogSink(log)
	}

	st := gobreaker.Settings{Name: "alert-webhook"}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}

	return &WebhookSink{
		url:      url,
		client:   &http.Client{Timeout: 10 * time.Second},
		breaker:  gobreaker.NewCircuitBreaker(st),
		fallback: fallback,
		log:      log,
	}
}

// Emit delivers the alert, falling back to the degraded sink on any failure
// or while the breaker is open. The alert is never dropped.
func (s *WebhookSink) Emit(ctx context.Context, a Alert) {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.post(ctx, a)
	})
	if err != nil {
		s.log.Warn().Err(err).Str("title", a.Title).Msg("alert webhook delivery failed, falling back to log")
		s.fallback.Emit(ctx, a)
	}
}

func (s *WebhookSink) post(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("alert webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}
