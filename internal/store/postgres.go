// Package store persists deliveries and subscriptions in Postgres and owns
// the claim semantics that keep concurrent dispatchers from double-sending.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/streamhaven/hookrelay/internal/delivery"
	"github.com/streamhaven/hookrelay/internal/tracing"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const deliveryColumns = `id, tenant_id, subscription_id, event_type, payload,
	status, attempt_count, next_attempt_at, delivered_at,
	last_status_code, last_response_body, last_error`

// claimLease is how long a claim stamp keeps a row invisible to other
// dispatchers. A cycle that dies after claiming leaves its stamp behind; once
// the lease lapses those rows become claimable again.
const claimLease = 2 * time.Minute

// claimQuery excludes rows already claimed within the lease window, so a
// replica that claims and commits still owns its rows until it either
// persists them (SaveBatch clears the stamp) or the lease expires.
const claimQuery = `
	SELECT ` + deliveryColumns + `
	FROM hookrelay.deliveries
	WHERE status IN ('pending', 'retrying')
	  AND next_attempt_at <= $1
	  AND (claimed_at IS NULL OR claimed_at <= $2)
	ORDER BY next_attempt_at ASC, id ASC
	LIMIT $3
	FOR UPDATE SKIP LOCKED`

// claimCutoff is the newest claim stamp considered expired at now.
func claimCutoff(now time.Time) time.Time {
	return now.Add(-claimLease)
}

// ClaimDue selects up to limit due deliveries, oldest due first, and stamps
// them as claimed inside one transaction. FOR UPDATE SKIP LOCKED keeps two
// replicas claiming at the same instant off each other's rows; the stamp in
// claimQuery keeps them off rows a replica committed but is still processing.
func (s *Postgres) ClaimDue(ctx context.Context, now time.Time, limit int) ([]delivery.Delivery, error) {
	ctx, span := tracing.StartSpan(ctx, "store.claim_due", attribute.Int("limit", limit))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, claimQuery, now, claimCutoff(now), limit)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("select due deliveries: %w", err)
	}
	claimed, err := scanDeliveries(rows)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}
	if len(claimed) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]string, len(claimed))
	for i, d := range claimed {
		ids[i] = d.ID
	}
	if _, err := tx.Exec(ctx, `
		UPDATE hookrelay.deliveries
		SET claimed_at = $1
		WHERE id = ANY($2)`,
		now, ids,
	); err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("stamp claimed deliveries: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}

	span.SetAttributes(attribute.Int("claimed", len(claimed)))
	return claimed, nil
}

// Subscription fetches one subscription by id. Returns
// delivery.ErrSubscriptionNotFound when no row exists.
func (s *Postgres) Subscription(ctx context.Context, id string) (*delivery.Subscription, error) {
	var sub delivery.Subscription
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, url, event_types, secret, active
		FROM hookrelay.subscriptions
		WHERE id = $1`,
		id,
	).Scan(&sub.ID, &sub.TenantID, &sub.URL, &sub.EventTypes, &sub.Secret, &sub.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, delivery.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select subscription %s: %w", id, err)
	}
	return &sub, nil
}

// SaveBatch writes the post-cycle state of every delivery in one batch
// round-trip. The claim stamp is cleared so a delivery left retrying is
// visible to the next claimer.
func (s *Postgres) SaveBatch(ctx context.Context, deliveries []delivery.Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "store.save_batch", attribute.Int("batch_size", len(deliveries)))
	defer span.End()

	batch := &pgx.Batch{}
	for _, d := range deliveries {
		batch.Queue(`
			UPDATE hookrelay.deliveries
			SET status = $2,
			    attempt_count = $3,
			    next_attempt_at = $4,
			    delivered_at = $5,
			    last_status_code = $6,
			    last_response_body = $7,
			    last_error = $8,
			    claimed_at = NULL,
			    updated_at = now()
			WHERE id = $1`,
			d.ID, string(d.Status), d.AttemptCount, d.NextAttemptAt,
			d.DeliveredAt, d.LastStatusCode, d.LastResponseBody, d.LastError,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, d := range deliveries {
		if _, err := br.Exec(); err != nil {
			tracing.SetSpanError(ctx, err)
			return fmt.Errorf("update delivery %s: %w", d.ID, err)
		}
	}
	return nil
}

// Enqueue inserts a new pending delivery.
func (s *Postgres) Enqueue(ctx context.Context, d delivery.Delivery) error {
	ctx, span := tracing.StartSpan(ctx, "store.enqueue",
		attribute.String("delivery_id", d.ID),
		attribute.String("event_type", d.EventType),
	)
	defer span.End()

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO hookrelay.deliveries(
			id, tenant_id, subscription_id, event_type, payload,
			status, attempt_count, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.TenantID, d.SubscriptionID, d.EventType, d.Payload,
		string(d.Status), d.AttemptCount, d.NextAttemptAt,
	); err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// GetDelivery fetches one delivery by id, or pgx.ErrNoRows wrapped if absent.
func (s *Postgres) GetDelivery(ctx context.Context, id string) (*delivery.Delivery, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+deliveryColumns+`
		FROM hookrelay.deliveries
		WHERE id = $1`,
		id,
	)
	d, err := scanDelivery(row)
	if err != nil {
		return nil, fmt.Errorf("select delivery %s: %w", id, err)
	}
	return d, nil
}

// ListByStatus returns up to limit deliveries in the given status, most
// recently updated first. Used by the CLI to inspect failed deliveries.
func (s *Postgres) ListByStatus(ctx context.Context, status delivery.Status, limit int) ([]delivery.Delivery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM hookrelay.deliveries
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select deliveries by status: %w", err)
	}
	return scanDeliveries(rows)
}

// CountDue reports how many deliveries are currently eligible for a claim.
// Feeds the backlog gauge.
func (s *Postgres) CountDue(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM hookrelay.deliveries
		WHERE status IN ('pending', 'retrying')
		  AND next_attempt_at <= $1`,
		now,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count due deliveries: %w", err)
	}
	return n, nil
}

func scanDeliveries(rows pgx.Rows) ([]delivery.Delivery, error) {
	defer rows.Close()
	var out []delivery.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return out, nil
}

func scanDelivery(row pgx.Row) (*delivery.Delivery, error) {
	var (
		d          delivery.Delivery
		status     string
		delivered  sql.NullTime
		statusCode sql.NullInt32
		respBody   sql.NullString
		lastErr    sql.NullString
	)
	if err := row.Scan(
		&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.Payload,
		&status, &d.AttemptCount, &d.NextAttemptAt, &delivered,
		&statusCode, &respBody, &lastErr,
	); err != nil {
		return nil, err
	}
	d.Status = delivery.Status(status)
	if delivered.Valid {
		t := delivered.Time
		d.DeliveredAt = &t
	}
	if statusCode.Valid {
		c := int(statusCode.Int32)
		d.LastStatusCode = &c
	}
	if respBody.Valid {
		b := respBody.String
		d.LastResponseBody = &b
	}
	if lastErr.Valid {
		e := lastErr.String
		d.LastError = &e
	}
	return &d, nil
}
