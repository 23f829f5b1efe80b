// Package executor sends one signed webhook request and captures the outcome.
package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/streamhaven/hookrelay/internal/delivery"
	"github.com/streamhaven/hookrelay/internal/signing"
	"github.com/streamhaven/hookrelay/internal/tracing"
)

const (
	defaultSignatureHeader  = "X-Hookrelay-Signature"
	defaultTimestampHeader  = "X-Hookrelay-Timestamp"
	defaultEventTypeHeader  = "X-Hookrelay-Event"
	defaultDeliveryIDHeader = "X-Hookrelay-Delivery-Id"
	defaultUserAgent        = "hookrelay/1.0"

	// DefaultMaxResponseBytes caps how much of the receiver's response body is
	// kept for diagnostics.
	DefaultMaxResponseBytes = 4000
)

// Config names the wire-visible knobs: header names, user agent, and the
// response-body cap.
type Config struct {
	SignatureHeader  string
	TimestampHeader  string
	EventTypeHeader  string
	DeliveryIDHeader string
	UserAgent        string
	MaxResponseBytes int
}

// Outcome is the result of a single send: the numeric status (0 when the
// request never got a response), a truncated copy of the response body, and
// the transport error if one occurred.
type Outcome struct {
	StatusCode   int
	ResponseBody string
	Err          error
}

// Success reports whether the attempt counts as delivered: no transport error
// and a status in [200, 300).
func (o Outcome) Success() bool {
	return o.Err == nil && o.StatusCode >= 200 && o.StatusCode < 300
}

// Reason is the failure text stored as the delivery's last_error. Empty on
// success.
func (o Outcome) Reason() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	if !o.Success() {
		return fmt.Sprintf("non-success status code: %d", o.StatusCode)
	}
	return ""
}

// Executor builds and sends signed POST requests. The http.Client carries the
// delivery timeout; it is supplied by the caller.
type Executor struct {
	client *http.Client
	cfg    Config
	now    func() time.Time
}

func New(client *http.Client, cfg Config) *Executor {
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = defaultSignatureHeader
	}
	if cfg.TimestampHeader == "" {
		cfg.TimestampHeader = defaultTimestampHeader
	}
	if cfg.EventTypeHeader == "" {
		cfg.EventTypeHeader = defaultEventTypeHeader
	}
	if cfg.DeliveryIDHeader == "" {
		cfg.DeliveryIDHeader = defaultDeliveryIDHeader
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}
	return &Executor{client: client, cfg: cfg, now: time.Now}
}

// Send posts the delivery's payload to the subscription's URL. The signature
// covers "{timestamp}.{payload}" so the receiver can reject stale or tampered
// requests. Every attempt sends the same well-formed request; only the
// timestamp and signature are recomputed.
func (e *Executor) Send(ctx context.Context, d delivery.Delivery, sub delivery.Subscription) Outcome {
	ctx, span := tracing.StartSpan(ctx, "executor.send",
		attribute.String("delivery_id", d.ID),
		attribute.String("subscription_id", sub.ID),
		attribute.String("event_type", d.EventType),
		attribute.Int("attempt", d.AttemptCount),
	)
	defer span.End()

	ts := strconv.FormatInt(e.now().Unix(), 10)
	sig := signing.Sign(sub.Secret, ts, d.Payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, strings.NewReader(d.Payload))
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Outcome{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	req.Header.Set(e.cfg.EventTypeHeader, d.EventType)
	req.Header.Set(e.cfg.DeliveryIDHeader, d.ID)
	req.Header.Set(e.cfg.TimestampHeader, ts)
	req.Header.Set(e.cfg.SignatureHeader, sig)
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Outcome{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, int64(e.cfg.MaxResponseBytes)))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	return Outcome{StatusCode: resp.StatusCode, ResponseBody: string(body)}
}
