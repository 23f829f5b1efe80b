package delivery

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusRetrying, false},
		{StatusSucceeded, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.terminal {
				t.Errorf("Status(%q).Terminal() = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestNew(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	d := New("del-1", "tenant-1", "sub-1", "invoice.paid", `{"amount":100}`, now)

	if d.Status != StatusPending {
		t.Errorf("New() Status = %q, want %q", d.Status, StatusPending)
	}
	if d.AttemptCount != 0 {
		t.Errorf("New() AttemptCount = %d, want 0", d.AttemptCount)
	}
	if !d.NextAttemptAt.Equal(now) {
		t.Errorf("New() NextAttemptAt = %v, want %v", d.NextAttemptAt, now)
	}
	if d.DeliveredAt != nil || d.LastError != nil || d.LastStatusCode != nil {
		t.Error("New() should leave diagnostics and DeliveredAt unset")
	}
}

func TestMarkSucceeded(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	errMsg := "previous failure"
	d := Delivery{ID: "del-1", Status: StatusRetrying, AttemptCount: 3, LastError: &errMsg}

	d.MarkSucceeded(now, 200, "ok")

	if d.Status != StatusSucceeded {
		t.Errorf("MarkSucceeded() Status = %q, want %q", d.Status, StatusSucceeded)
	}
	if d.DeliveredAt == nil || !d.DeliveredAt.Equal(now) {
		t.Errorf("MarkSucceeded() DeliveredAt = %v, want %v", d.DeliveredAt, now)
	}
	if d.LastError != nil {
		t.Errorf("MarkSucceeded() LastError = %v, want nil", *d.LastError)
	}
	if d.LastStatusCode == nil || *d.LastStatusCode != 200 {
		t.Errorf("MarkSucceeded() LastStatusCode = %v, want 200", d.LastStatusCode)
	}
}

func TestMarkRetrying(t *testing.T) {
	next := time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC)
	d := Delivery{ID: "del-1", Status: StatusPending, AttemptCount: 1}

	d.MarkRetrying(next, 503, "service unavailable", "non-success status code: 503")

	if d.Status != StatusRetrying {
		t.Errorf("MarkRetrying() Status = %q, want %q", d.Status, StatusRetrying)
	}
	if !d.NextAttemptAt.Equal(next) {
		t.Errorf("MarkRetrying() NextAttemptAt = %v, want %v", d.NextAttemptAt, next)
	}
	if d.LastError == nil || *d.LastError != "non-success status code: 503" {
		t.Errorf("MarkRetrying() LastError = %v, want error message", d.LastError)
	}
	if d.LastResponseBody == nil || *d.LastResponseBody != "service unavailable" {
		t.Errorf("MarkRetrying() LastResponseBody = %v, want body", d.LastResponseBody)
	}
}

func TestMarkFailedWithoutHTTPAttempt(t *testing.T) {
	d := Delivery{ID: "del-1", Status: StatusPending, AttemptCount: 0}

	d.MarkFailed(0, "", "Subscription not active")

	if d.Status != StatusFailed {
		t.Errorf("MarkFailed() Status = %q, want %q", d.Status, StatusFailed)
	}
	if d.AttemptCount != 0 {
		t.Errorf("MarkFailed() AttemptCount = %d, want 0 (no HTTP attempt consumed)", d.AttemptCount)
	}
	if d.LastStatusCode != nil {
		t.Errorf("MarkFailed() LastStatusCode = %v, want nil for zero status", d.LastStatusCode)
	}
	if d.LastError == nil || *d.LastError != "Subscription not active" {
		t.Errorf("MarkFailed() LastError = %v, want %q", d.LastError, "Subscription not active")
	}
}

func TestTerminalStatesNeverMutate(t *testing.T) {
	delivered := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	later := delivered.Add(time.Hour)

	t.Run("succeeded stays succeeded", func(t *testing.T) {
		d := Delivery{Status: StatusSucceeded, DeliveredAt: &delivered}
		d.MarkFailed(500, "boom", "late failure")
		d.MarkRetrying(later, 500, "boom", "late failure")
		if d.Status != StatusSucceeded {
			t.Errorf("terminal delivery mutated to %q", d.Status)
		}
		if !d.DeliveredAt.Equal(delivered) {
			t.Errorf("DeliveredAt changed on terminal delivery")
		}
	})

	t.Run("failed stays failed", func(t *testing.T) {
		d := Delivery{Status: StatusFailed}
		d.MarkSucceeded(later, 200, "ok")
		if d.Status != StatusFailed {
			t.Errorf("terminal delivery mutated to %q", d.Status)
		}
		if d.DeliveredAt != nil {
			t.Errorf("DeliveredAt set on failed delivery")
		}
	})
}

func TestDeliveredAtSetExactlyOnce(t *testing.T) {
	first := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	d := Delivery{Status: StatusPending}
	d.MarkSucceeded(first, 200, "ok")
	d.MarkSucceeded(first.Add(time.Minute), 200, "ok")
	if !d.DeliveredAt.Equal(first) {
		t.Errorf("DeliveredAt = %v, want first success time %v", d.DeliveredAt, first)
	}
}

func TestNewDeadLetter(t *testing.T) {
	status := 502
	lastErr := "non-success status code: 502"
	d := Delivery{
		ID:               "del-123",
		TenantID:         "tenant-789",
		SubscriptionID:   "sub-abc",
		EventType:        "video.published",
		Payload:          `{"video_id":42}`,
		Status:           StatusFailed,
		AttemptCount:     10,
		LastStatusCode:   &status,
		LastError:        &lastErr,
	}

	before := time.Now()
	dl := NewDeadLetter(d, "max attempts reached (10)")
	after := time.Now()

	if dl.Type != DeadLetterType {
		t.Errorf("NewDeadLetter() Type = %q, want %q", dl.Type, DeadLetterType)
	}
	if dl.Version != "v1" {
		t.Errorf("NewDeadLetter() Version = %q, want %q", dl.Version, "v1")
	}
	if dl.DeliveryID != d.ID || dl.TenantID != d.TenantID || dl.SubscriptionID != d.SubscriptionID {
		t.Errorf("NewDeadLetter() identity fields mismatch: %+v", dl)
	}
	if dl.Attempt != 10 {
		t.Errorf("NewDeadLetter() Attempt = %d, want 10", dl.Attempt)
	}
	if dl.HTTPStatus != 502 {
		t.Errorf("NewDeadLetter() HTTPStatus = %d, want 502", dl.HTTPStatus)
	}
	if dl.LastError != lastErr {
		t.Errorf("NewDeadLetter() LastError = %q, want %q", dl.LastError, lastErr)
	}

	parsed, err := time.Parse(time.RFC3339Nano, dl.At)
	if err != nil {
		t.Fatalf("NewDeadLetter() At parse error: %v", err)
	}
	if parsed.Before(before.UTC().Add(-time.Second)) || parsed.After(after.UTC().Add(time.Second)) {
		t.Errorf("NewDeadLetter() At = %v, not close to now", parsed)
	}
}

func TestDeadLetterJSONSerialization(t *testing.T) {
	dl := DeadLetter{
		Type:           DeadLetterType,
		Version:        "v1",
		At:             "2025-03-01T12:00:00.123456789Z",
		Reason:         "max attempts reached (10)",
		DeliveryID:     "del-123",
		TenantID:       "tenant-789",
		SubscriptionID: "sub-abc",
		EventType:      "video.published",
		Payload:        `{"video_id":42}`,
		Attempt:        10,
		HTTPStatus:     502,
		LastError:      "non-success status code: 502",
	}

	b, err := json.Marshal(dl)
	if err != nil {
		t.Fatalf("DeadLetter JSON marshal error: %v", err)
	}

	var got DeadLetter
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("DeadLetter JSON unmarshal error: %v", err)
	}
	if got != dl {
		t.Errorf("JSON round-trip mismatch: got %+v, want %+v", got, dl)
	}
}

func TestDeadLetterOmitsEmptyOptionalFields(t *testing.T) {
	d := Delivery{ID: "del-1", Status: StatusFailed}
	dl := NewDeadLetter(d, "test")

	b, err := json.Marshal(dl)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if _, ok := m["http_status"]; ok {
		t.Error("http_status should be omitted when zero")
	}
	if _, ok := m["last_error"]; ok {
		t.Error("last_error should be omitted when empty")
	}
}
