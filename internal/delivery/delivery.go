package delivery

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a delivery record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a delivery in this status will never be mutated again.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Sentinel errors for terminal preconditions the dispatcher checks before
// consuming an HTTP attempt.
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionInactive = errors.New("subscription not active")
	ErrDestinationMissing   = errors.New("subscription URL missing")
)

// Subscription is a tenant's registration of a destination URL for a set of
// event types, with a shared secret used to sign outbound requests. The engine
// only reads subscriptions; their lifecycle is owned elsewhere.
type Subscription struct {
	ID         string   `json:"id"`
	TenantID   string   `json:"tenant_id"`
	URL        string   `json:"url"`
	EventTypes []string `json:"event_types"`
	Secret     string   `json:"-"`
	Active     bool     `json:"active"`
}

// Delivery is one attempt-tracked instance of "event X must reach
// subscription Y". The payload is an opaque serialized body the engine never
// parses. The ID doubles as an idempotency token for receiver-side dedup.
type Delivery struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	SubscriptionID string     `json:"subscription_id"`
	EventType      string     `json:"event_type"`
	Payload        string     `json:"payload"`
	Status         Status     `json:"status"`
	AttemptCount   int        `json:"attempt_count"`
	NextAttemptAt  time.Time  `json:"next_attempt_at"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`

	// Diagnostics from the most recent attempt, overwritten each time.
	LastStatusCode   *int    `json:"last_status_code,omitempty"`
	LastResponseBody *string `json:"last_response_body,omitempty"`
	LastError        *string `json:"last_error,omitempty"`
}

// New builds a queued delivery due immediately.
func New(id, tenantID, subscriptionID, eventType, payload string, now time.Time) Delivery {
	return Delivery{
		ID:             id,
		TenantID:       tenantID,
		SubscriptionID: subscriptionID,
		EventType:      eventType,
		Payload:        payload,
		Status:         StatusPending,
		AttemptCount:   0,
		NextAttemptAt:  now,
	}
}

// MarkSucceeded records a successful attempt. DeliveredAt is set exactly once
// and last_error is cleared.
func (d *Delivery) MarkSucceeded(now time.Time, statusCode int, body string) {
	if d.Status.Terminal() {
		return
	}
	d.Status = StatusSucceeded
	if d.DeliveredAt == nil {
		t := now
		d.DeliveredAt = &t
	}
	d.LastStatusCode = &statusCode
	d.LastResponseBody = &body
	d.LastError = nil
}

// MarkRetrying records a failed attempt that still has retries left and
// schedules the next one.
func (d *Delivery) MarkRetrying(next time.Time, statusCode int, body, errMsg string) {
	if d.Status.Terminal() {
		return
	}
	d.Status = StatusRetrying
	d.NextAttemptAt = next
	d.setDiagnostics(statusCode, body, errMsg)
}

// MarkFailed moves the delivery to its terminal failed state, either because
// attempts are exhausted or because a precondition (inactive subscription,
// missing URL) makes retrying pointless.
func (d *Delivery) MarkFailed(statusCode int, body, errMsg string) {
	if d.Status.Terminal() {
		return
	}
	d.Status = StatusFailed
	d.setDiagnostics(statusCode, body, errMsg)
}

func (d *Delivery) setDiagnostics(statusCode int, body, errMsg string) {
	if statusCode > 0 {
		d.LastStatusCode = &statusCode
	} else {
		d.LastStatusCode = nil
	}
	if body != "" {
		d.LastResponseBody = &body
	} else {
		d.LastResponseBody = nil
	}
	if errMsg != "" {
		d.LastError = &errMsg
	} else {
		d.LastError = nil
	}
}
