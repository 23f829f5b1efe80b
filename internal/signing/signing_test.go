package signing

import (
	"strings"
	"testing"
)

func TestSignDeterminism(t *testing.T) {
	tests := []struct {
		name      string
		secret    string
		timestamp string
		payload   string
	}{
		{
			name:      "typical payload",
			secret:    "whsec_abc123",
			timestamp: "1740000000",
			payload:   `{"event":"invoice.paid","amount":100}`,
		},
		{
			name:      "empty payload",
			secret:    "whsec_abc123",
			timestamp: "1740000000",
			payload:   "",
		},
		{
			name:      "unicode payload",
			secret:    "s3cret",
			timestamp: "1740000001",
			payload:   `{"title":"café ☕"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := Sign(tt.secret, tt.timestamp, tt.payload)
			second := Sign(tt.secret, tt.timestamp, tt.payload)
			if first != second {
				t.Errorf("Sign() not deterministic: %q != %q", first, second)
			}
			if len(first) != 64 {
				t.Errorf("Sign() digest length = %d, want 64 hex chars", len(first))
			}
			if first != strings.ToLower(first) {
				t.Errorf("Sign() digest %q is not lowercase", first)
			}
		})
	}
}

func TestSignInputSensitivity(t *testing.T) {
	base := Sign("secret", "1740000000", `{"a":1}`)

	tests := []struct {
		name      string
		secret    string
		timestamp string
		payload   string
	}{
		{"changed secret", "secret2", "1740000000", `{"a":1}`},
		{"changed timestamp", "secret", "1740000001", `{"a":1}`},
		{"changed payload", "secret", "1740000000", `{"a":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sign(tt.secret, tt.timestamp, tt.payload); got == base {
				t.Errorf("Sign() digest unchanged when %s", tt.name)
			}
		})
	}
}

func TestSignTimestampIsPartOfSignedMaterial(t *testing.T) {
	// Moving a character between timestamp and payload must change the digest;
	// the "." separator prevents ambiguous concatenation.
	a := Sign("secret", "17400", "00000.payload")
	b := Sign("secret", "1740000000", "0.payload")
	if a == b {
		t.Error("Sign() digests collide across timestamp/payload boundary shifts")
	}
}

func TestVerify(t *testing.T) {
	sig := Sign("secret", "1740000000", `{"a":1}`)

	if !Verify("secret", "1740000000", `{"a":1}`, sig) {
		t.Error("Verify() rejected a valid signature")
	}
	if Verify("wrong", "1740000000", `{"a":1}`, sig) {
		t.Error("Verify() accepted a signature with the wrong secret")
	}
	if Verify("secret", "1740000009", `{"a":1}`, sig) {
		t.Error("Verify() accepted a signature with a shifted timestamp")
	}
	if Verify("secret", "1740000000", `{"a":1}`, sig[:63]+"0") {
		t.Error("Verify() accepted a tampered signature")
	}
}
