package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/streamhaven/hookrelay/internal/config"
	"github.com/streamhaven/hookrelay/internal/signing"
)

var (
	cfg      config.Config
	reqCount atomic.Int64
)

func main() {
	cfg = config.FromEnv()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", handleHook)

	srv := &http.Server{
		Addr:         cfg.FakeReceiver.Port,
		Handler:      mux,
		ReadTimeout:  cfg.FakeReceiver.ReadTimeout,
		WriteTimeout: cfg.FakeReceiver.WriteTimeout,
		IdleTimeout:  cfg.FakeReceiver.IdleTimeout,
	}
	log.Printf("fake-receiver listening on %s", srv.Addr)
	log.Fatal(srv.ListenAndServe())
}

func handleHook(w http.ResponseWriter, r *http.Request) {
	n := reqCount.Add(1)
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if cfg.FakeReceiver.Secret != "" {
		ts := r.Header.Get(cfg.Webhook.TimestampHeader)
		sig := r.Header.Get(cfg.Webhook.SignatureHeader)
		if ok, msg := verifyRequest(cfg.FakeReceiver.Secret, b, ts, sig, cfg.FakeReceiver.SigningLeewaySeconds); !ok {
			log.Printf("fake-receiver rejected signature: %s", msg)
			http.Error(w, "invalid signature: "+msg, http.StatusUnauthorized)
			return
		}
	}

	if d := cfg.FakeReceiver.ResponseDelayMS; d > 0 {
		time.Sleep(time.Duration(d) * time.Millisecond)
	}

	// Simulate flakiness: first N requests -> 500
	if n <= int64(cfg.FakeReceiver.FailFirstN) {
		log.Printf("FAILING (%d/%d) %s body=%s", n, cfg.FakeReceiver.FailFirstN, r.URL.Path, truncate(string(b), 160))
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	log.Printf("fake-receiver OK %s event=%q delivery=%q body=%q",
		r.URL.Path,
		r.Header.Get(cfg.Webhook.EventTypeHeader),
		r.Header.Get(cfg.Webhook.DeliveryIDHeader),
		truncate(string(b), 160))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

// verifyRequest checks the timestamp skew and the HMAC over "{ts}.{body}".
func verifyRequest(secret string, body []byte, ts, sig string, leewaySeconds int) (bool, string) {
	if ts == "" || sig == "" {
		return false, "missing headers"
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false, "invalid timestamp"
	}
	now := time.Now().Unix()
	if abs64(now-unix) > int64(leewaySeconds) {
		return false, "timestamp too far from now (outside leeway)"
	}
	if !signing.Verify(secret, ts, string(body), sig) {
		return false, "sig mismatch"
	}
	return true, ""
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

// truncate shortens a string for log lines.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
