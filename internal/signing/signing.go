// Package signing computes the HMAC that authenticates outbound webhook
// requests. Receivers recompute the same digest with their copy of the shared
// secret; including the timestamp in the signed material is what gives the
// scheme its anti-replay value.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes HMAC-SHA256 keyed by secret over the UTF-8 bytes of
// "{timestamp}.{payload}" and returns the digest as lowercase hex. Pure
// function of its inputs.
func Sign(secret, timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches Sign(secret, timestamp, payload),
// in constant time with respect to the signature bytes.
func Verify(secret, timestamp, payload, signature string) bool {
	want := Sign(secret, timestamp, payload)
	return hmac.Equal([]byte(want), []byte(signature))
}
