// Package backoff decides when a failed delivery gets its next attempt and
// when it has run out of attempts.
package backoff

import (
	"math/rand"
	"time"
)

// Policy holds the retry tuning knobs. It is supplied by the caller so tests
// can exercise edge behavior (e.g. MaxAttempts=1) without wall-clock waits.
type Policy struct {
	Base        time.Duration // delay before the second attempt
	Cap         time.Duration // upper bound on the exponential delay
	JitterMax   time.Duration // uniform jitter added in [0, JitterMax)
	MaxAttempts int           // attempts after which a delivery is terminal
}

// DefaultPolicy is 30s doubling per attempt, capped at one hour, with up to
// 15s of jitter to decorrelate retries of deliveries that failed together,
// and 10 attempts total.
func DefaultPolicy() Policy {
	return Policy{
		Base:        30 * time.Second,
		Cap:         time.Hour,
		JitterMax:   15 * time.Second,
		MaxAttempts: 10,
	}
}

// Scheduler computes next-attempt times under a Policy.
type Scheduler struct {
	policy Policy
	rng    *rand.Rand
}

// NewScheduler returns a scheduler for the given policy. A nil rng gets a
// time-seeded source; tests pass a seeded one for determinism.
func NewScheduler(p Policy, rng *rand.Rand) *Scheduler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scheduler{policy: p, rng: rng}
}

// NextAttempt maps an attempt count that just failed to the time the next
// attempt is due. terminal is true once attemptCount has reached
// MaxAttempts; the due time is meaningless in that case.
func (s *Scheduler) NextAttempt(attemptCount int, now time.Time) (due time.Time, terminal bool) {
	if attemptCount >= s.policy.MaxAttempts {
		return time.Time{}, true
	}
	delay := s.BaseDelay(attemptCount)
	if s.policy.JitterMax > 0 {
		delay += time.Duration(s.rng.Int63n(int64(s.policy.JitterMax)))
	}
	return now.Add(delay), false
}

// BaseDelay is the exponential delay for an attempt count, excluding jitter:
// Base * 2^(attemptCount-1), capped at Cap.
func (s *Scheduler) BaseDelay(attemptCount int) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}
	delay := s.policy.Base
	for i := 1; i < attemptCount; i++ {
		delay *= 2
		if delay >= s.policy.Cap || delay < 0 { // overflow guard
			return s.policy.Cap
		}
	}
	if delay > s.policy.Cap {
		return s.policy.Cap
	}
	return delay
}
