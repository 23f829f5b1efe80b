package delivery

import "time"

const DeadLetterType = "delivery.dead_letter"

// DeadLetter is the envelope published when a delivery exhausts its attempts.
// It snapshots everything an operator needs to triage without joining back to
// the deliveries table.
type DeadLetter struct {
	Type           string `json:"type"`    // "delivery.dead_letter"
	Version        string `json:"version"` // schema version
	At             string `json:"at"`      // RFC3339 time the envelope was emitted
	Reason         string `json:"reason"`  // human/debug text
	DeliveryID     string `json:"delivery_id"`
	TenantID       string `json:"tenant_id"`
	SubscriptionID string `json:"subscription_id"`
	EventType      string `json:"event_type"`
	Payload        string `json:"payload"`
	Attempt        int    `json:"attempt"`
	HTTPStatus     int    `json:"http_status,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

func NewDeadLetter(d Delivery, reason string) DeadLetter {
	dl := DeadLetter{
		Type:           DeadLetterType,
		Version:        "v1",
		At:             time.Now().UTC().Format(time.RFC3339Nano),
		Reason:         reason,
		DeliveryID:     d.ID,
		TenantID:       d.TenantID,
		SubscriptionID: d.SubscriptionID,
		EventType:      d.EventType,
		Payload:        d.Payload,
		Attempt:        d.AttemptCount,
	}
	if d.LastStatusCode != nil {
		dl.HTTPStatus = *d.LastStatusCode
	}
	if d.LastError != nil {
		dl.LastError = *d.LastError
	}
	return dl
}
