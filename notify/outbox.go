package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Envelope is one claimed outbox row.
type Envelope struct {
	ID       int64
	Topic    string
	Payload  []byte
	Attempts int
}

// Enqueue writes messages to the outbox inside the caller's transaction so they
// commit or roll back together with the state change that produced them.
func Enqueue(ctx context.Context, tx pgx.Tx, msgs ...Message) error {
	const insertSQL = `
INSERT INTO outbox (topic, payload)
VALUES ($1, $2::jsonb);
`
	for _, m := range msgs {
		payload, err := Encode(m)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertSQL, m.Topic(), string(payload)); err != nil {
			return fmt.Errorf("notify: insert outbox message: %w", err)
		}
	}
	return nil
}

// PGOutbox claims and settles outbox rows in PostgreSQL.
type PGOutbox struct {
	pool        *pgxpool.Pool
	maxAttempts int
	retryDelay  time.Duration
	claimTTL    time.Duration
}

func NewPGOutbox(pool *pgxpool.Pool, maxAttempts int, retryDelay time.Duration) *PGOutbox {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if retryDelay <= 0 {
		retryDelay = 30 * time.Second
	}
	return &PGOutbox{pool: pool, maxAttempts: maxAttempts, retryDelay: retryDelay, claimTTL: 5 * time.Minute}
}

// Claim locks up to limit due rows and marks them as in flight. Rows claimed by a
// relay that died are reclaimed once claimTTL has passed.
func (o *PGOutbox) Claim(ctx context.Context, limit int) ([]Envelope, error) {
	const claimSQL = `
UPDATE outbox
SET status = 'processing',
    attempts = attempts + 1,
    claimed_at = now()
WHERE id IN (
    SELECT id FROM outbox
    WHERE (status = 'pending' AND available_at <= now())
       OR (status = 'processing' AND claimed_at < now() - make_interval(secs => $2))
    ORDER BY id
    FOR UPDATE SKIP LOCKED
    LIMIT $1
)
RETURNING id, topic, payload::text, attempts;
`
	rows, err := o.pool.Query(ctx, claimSQL, limit, o.claimTTL.Seconds())
	if err != nil {
		return nil, fmt.Errorf("notify: claim outbox: %w", err)
	}
	defer rows.Close()

	var out []Envelope
	for rows.Next() {
		var (
			e       Envelope
			payload string
		)
		if err := rows.Scan(&e.ID, &e.Topic, &payload, &e.Attempts); err != nil {
			return nil, fmt.Errorf("notify: scan outbox row: %w", err)
		}
		e.Payload = []byte(payload)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate outbox: %w", err)
	}
	return out, nil
}

func (o *PGOutbox) MarkDelivered(ctx context.Context, id int64) error {
	if _, err := o.pool.Exec(ctx, `UPDATE outbox SET status = 'delivered', processed_at = now(), last_error = NULL WHERE id = $1`, id); err != nil {
		return fmt.Errorf("notify: mark delivered: %w", err)
	}
	return nil
}

// MarkFailed schedules a retry with linear backoff, or parks the row as dead
// once it has used up its attempts.
func (o *PGOutbox) MarkFailed(ctx context.Context, e Envelope, cause error) error {
	const failSQL = `
UPDATE outbox
SET status = CASE WHEN attempts >= $2 THEN 'dead' ELSE 'pending' END,
    available_at = now() + make_interval(secs => $3),
    last_error = $4
WHERE id = $1;
`
	delay := o.retryDelay * time.Duration(e.Attempts)
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := o.pool.Exec(ctx, failSQL, e.ID, o.maxAttempts, delay.Seconds(), msg); err != nil {
		return fmt.Errorf("notify: mark failed: %w", err)
	}
	return nil
}
