// Package health reports whether this dispatcher instance can do useful
// work: the database must answer and the dispatch loop must still be
// completing cycles.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Tracker records dispatch cycle outcomes so readiness reflects the loop
// actually making progress, not just the process being up.
type Tracker struct {
	mu          sync.Mutex
	lastCycleAt time.Time
	lastErr     string
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// ObserveCycle records the completion time and outcome of one dispatch cycle.
func (t *Tracker) ObserveCycle(at time.Time, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastCycleAt = at
	if err != nil {
		t.lastErr = err.Error()
	} else {
		t.lastErr = ""
	}
}

func (t *Tracker) lastCycle() (time.Time, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastCycleAt, t.lastErr
}

// Status is the healthz response body.
type Status struct {
	OK             bool   `json:"ok"`
	Message        string `json:"message,omitempty"`
	Database       bool   `json:"database"`
	LastCycleAt    string `json:"last_cycle_at,omitempty"`
	LastCycleError string `json:"last_cycle_error,omitempty"`
}

// HTTPHandler serves readiness for the dispatcher. The pool is pinged with a
// short timeout; if a tracker is supplied, a loop that has not completed a
// cycle within staleAfter makes the instance unready. A tracker that has
// never observed a cycle does not fail readiness, so a freshly started
// instance is not killed before its first tick.
func HTTPHandler(pool *pgxpool.Pool, tracker *Tracker, staleAfter time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok", Database: true}

		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				st.OK = false
				st.Message = "db ping failed"
				st.Database = false
			}
		}

		if tracker != nil {
			lastAt, lastErr := tracker.lastCycle()
			if !lastAt.IsZero() {
				st.LastCycleAt = lastAt.UTC().Format(time.RFC3339)
				st.LastCycleError = lastErr
				if staleAfter > 0 && time.Since(lastAt) > staleAfter {
					st.OK = false
					st.Message = "dispatch loop stalled"
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}
