package deadletter

// Publishing against a live nsqd is covered by the compose-based smoke test,
// not unit tests. Here we only pin the envelope serialization contract that
// consumers of the dead letter topic depend on.

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/streamhaven/hookrelay/internal/delivery"
)

func TestDeadLetterWireFormat(t *testing.T) {
	d := delivery.New("del-1", "tenant-1", "sub-1", "video.published", `{"id":1}`, time.Now())
	d.AttemptCount = 10
	code := 503
	d.LastStatusCode = &code

	dl := delivery.NewDeadLetter(d, "max attempts reached (10)")
	b, err := json.Marshal(dl)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"type", "version", "at", "reason", "delivery_id", "tenant_id", "subscription_id", "event_type", "payload", "attempt", "http_status"} {
		if _, ok := m[key]; !ok {
			t.Errorf("envelope missing %q", key)
		}
	}
	if m["type"] != delivery.DeadLetterType {
		t.Errorf("type = %v, want %q", m["type"], delivery.DeadLetterType)
	}
	if m["attempt"] != float64(10) {
		t.Errorf("attempt = %v, want 10", m["attempt"])
	}
}
