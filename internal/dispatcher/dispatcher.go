// Package dispatcher drains the delivery queue: each cycle claims due
// deliveries, sends them, and persists the resulting state transitions.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/streamhaven/hookrelay/internal/backoff"
	"github.com/streamhaven/hookrelay/internal/delivery"
	"github.com/streamhaven/hookrelay/internal/executor"
	"github.com/streamhaven/hookrelay/internal/logging"
	"github.com/streamhaven/hookrelay/internal/metrics"
	"github.com/streamhaven/hookrelay/internal/tracing"
)

// Store is the durable record of deliveries and subscriptions, the single
// source of truth for scheduling. ClaimDue must hand each due delivery to at
// most one caller, so dispatcher replicas never double-send.
type Store interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]delivery.Delivery, error)
	Subscription(ctx context.Context, id string) (*delivery.Subscription, error)
	SaveBatch(ctx context.Context, deliveries []delivery.Delivery) error
}

// Sender sends one webhook attempt. Satisfied by *executor.Executor.
type Sender interface {
	Send(ctx context.Context, d delivery.Delivery, sub delivery.Subscription) executor.Outcome
}

// DeadLetterPublisher receives the envelope for a delivery that exhausted its
// attempts. Optional; a nil publisher disables dead-lettering.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, dl delivery.DeadLetter) error
}

// Options tune a Dispatcher. Zero values get sensible defaults.
type Options struct {
	MaxBatch    int
	DeadLetters DeadLetterPublisher
	Logger      *logging.Logger
}

const defaultMaxBatch = 50

type Dispatcher struct {
	store  Store
	sender Sender
	sched  *backoff.Scheduler
	opts   Options
}

func New(store Store, sender Sender, sched *backoff.Scheduler, opts Options) *Dispatcher {
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = defaultMaxBatch
	}
	if opts.Logger == nil {
		opts.Logger = logging.New("hookrelay-dispatcher")
	}
	return &Dispatcher{store: store, sender: sender, sched: sched, opts: opts}
}

// RunOnce executes one polling cycle and returns the number of deliveries
// processed. Per-delivery failures are recorded on the delivery and never
// abort the batch; only a store failure aborts the cycle. If ctx is cancelled
// mid-batch, deliveries that already consumed a real attempt are still
// flushed.
func (dp *Dispatcher) RunOnce(ctx context.Context, now time.Time) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "dispatcher.run_once")
	defer span.End()

	batch, err := dp.store.ClaimDue(ctx, now, dp.opts.MaxBatch)
	if err != nil {
		metrics.RecordCycle("error")
		tracing.SetSpanError(ctx, err)
		return 0, fmt.Errorf("claim due deliveries: %w", err)
	}
	span.SetAttributes(attribute.Int("batch_size", len(batch)))
	if len(batch) == 0 {
		metrics.RecordCycle("ok")
		return 0, nil
	}

	processed := make([]delivery.Delivery, 0, len(batch))
	var cycleErr error
	for i := range batch {
		if ctx.Err() != nil {
			// Cancelled mid-batch: unprocessed deliveries stay due and will be
			// claimed again next cycle.
			cycleErr = ctx.Err()
			break
		}
		d := batch[i]
		if err := dp.processOne(ctx, &d, now); err != nil {
			// Store failure while resolving the subscription; the cycle is
			// broken but already-processed deliveries still get flushed.
			cycleErr = err
			break
		}
		processed = append(processed, d)
	}

	if len(processed) > 0 {
		// Flush is best-effort even under cancellation: these deliveries
		// already consumed real attempts against the receiver.
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := dp.store.SaveBatch(flushCtx, processed); err != nil {
			metrics.RecordCycle("error")
			tracing.SetSpanError(ctx, err)
			return len(processed), fmt.Errorf("persist delivery batch: %w", err)
		}
	}

	if cycleErr != nil {
		metrics.RecordCycle("error")
		tracing.SetSpanError(ctx, cycleErr)
		return len(processed), cycleErr
	}
	metrics.RecordCycle("ok")
	return len(processed), nil
}

// processOne runs a single delivery through the state machine. A returned
// error means the store itself failed; everything else lands on the delivery.
func (dp *Dispatcher) processOne(ctx context.Context, d *delivery.Delivery, now time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "dispatcher.delivery",
		attribute.String("delivery_id", d.ID),
		attribute.String("subscription_id", d.SubscriptionID),
		attribute.String("event_type", d.EventType),
	)
	defer span.End()

	log := dp.opts.Logger.WithContext(ctx).WithDelivery(d.ID).WithSubscription(d.SubscriptionID).WithTenant(d.TenantID)

	sub, err := dp.store.Subscription(ctx, d.SubscriptionID)
	if err != nil && !errors.Is(err, delivery.ErrSubscriptionNotFound) {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("resolve subscription %s: %w", d.SubscriptionID, err)
	}

	// Terminal preconditions: no HTTP attempt is consumed.
	switch {
	case sub == nil:
		d.MarkFailed(0, "", "Subscription not found")
	case !sub.Active:
		d.MarkFailed(0, "", "Subscription not active")
	case sub.URL == "":
		d.MarkFailed(0, "", "Subscription URL missing")
	}
	if d.Status == delivery.StatusFailed {
		tracing.AddSpanEvent(ctx, "delivery.failed_precondition")
		log.WithField("reason", *d.LastError).Warn("delivery failed without attempt")
		metrics.RecordDelivery(string(delivery.StatusFailed), d.TenantID, 0)
		return nil
	}

	d.AttemptCount++
	start := time.Now()
	out := dp.send(ctx, *d, *sub)
	latency := time.Since(start)
	span.SetAttributes(
		attribute.Int("attempt", d.AttemptCount),
		attribute.Int("http.status_code", out.StatusCode),
		attribute.Int64("http.latency_ms", latency.Milliseconds()),
	)

	if out.Success() {
		d.MarkSucceeded(now, out.StatusCode, out.ResponseBody)
		tracing.AddSpanEvent(ctx, "delivery.succeeded")
		log.WithField("attempt", d.AttemptCount).WithField("status", out.StatusCode).Info("delivery succeeded")
		metrics.RecordDelivery(string(delivery.StatusSucceeded), d.TenantID, latency)
		return nil
	}

	reason := metrics.ClassifyFailure(out.Err, out.StatusCode)
	span.SetAttributes(attribute.String("failure_reason", reason))

	next, terminal := dp.sched.NextAttempt(d.AttemptCount, now)
	if terminal {
		d.MarkFailed(out.StatusCode, out.ResponseBody, out.Reason())
		tracing.AddSpanEvent(ctx, "delivery.exhausted", attribute.Int("attempt", d.AttemptCount))
		log.WithField("attempt", d.AttemptCount).WithField("reason", out.Reason()).Error("delivery exhausted attempts")
		metrics.RecordDelivery(string(delivery.StatusFailed), d.TenantID, latency)
		metrics.RecordDeadLetter()
		dp.publishDeadLetter(ctx, *d)
		return nil
	}

	d.MarkRetrying(next, out.StatusCode, out.ResponseBody, out.Reason())
	tracing.AddSpanEvent(ctx, "delivery.requeue",
		attribute.Int("attempt", d.AttemptCount),
		attribute.String("next_attempt_at", next.Format(time.RFC3339)),
	)
	log.WithFields(map[string]any{
		"attempt":         d.AttemptCount,
		"next_attempt_at": next.Format(time.RFC3339),
		"reason":          out.Reason(),
	}).Info("delivery scheduled for retry")
	metrics.RecordDelivery(string(delivery.StatusRetrying), d.TenantID, latency)
	metrics.RecordRetry(reason)
	return nil
}

// send wraps the Sender call so a panic in one delivery is recorded as that
// delivery's failure instead of taking down the batch.
func (dp *Dispatcher) send(ctx context.Context, d delivery.Delivery, sub delivery.Subscription) (out executor.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = executor.Outcome{Err: fmt.Errorf("panic during delivery send: %v", r)}
		}
	}()
	return dp.sender.Send(ctx, d, sub)
}

func (dp *Dispatcher) publishDeadLetter(ctx context.Context, d delivery.Delivery) {
	if dp.opts.DeadLetters == nil {
		return
	}
	dl := delivery.NewDeadLetter(d, fmt.Sprintf("max attempts reached (%d)", d.AttemptCount))
	if err := dp.opts.DeadLetters.Publish(ctx, dl); err != nil {
		tracing.SetSpanError(ctx, err)
		dp.opts.Logger.WithContext(ctx).WithDelivery(d.ID).WithError(err).Error("dead letter publish failed")
		return
	}
	tracing.AddSpanEvent(ctx, "deadletter.published")
}
