package syncevent

import (
	"context"
	"database/sql"
	"time"
)

// NOTE: This store assumes a sync_events table with payload JSONB and an
// index on (status, next_retry_at) for the recovery job scan.

// PostgresStore implements Store on Postgres via database/sql (pgx stdlib).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, e Event) error {
	if e.ID == "" || e.EventType == "" {
		return ErrInvalidEvent
	}
	const q = `
INSERT INTO sync_events (
  id, channel, event_type, status, payload, error_message, retry_count, next_retry_at, created_at, updated_at
) VALUES (
  $1, $2, $3, $4, COALESCE(NULLIF($5,'')::jsonb, '{}'::jsonb), NULLIF($6,''), $7, $8, $9, $10
)
`
	_, err := s.db.ExecContext(ctx, q,
		e.ID,
		e.Channel,
		e.EventType,
		e.Status,
		e.Payload,
		e.ErrorMessage,
		e.RetryCount,
		e.NextRetryAt,
		e.CreatedAt,
		e.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) ListDue(ctx context.Context, now time.Time, limit int) ([]Event, error) {
	const q = `
SELECT id, channel, event_type, status, COALESCE(payload::text,''),
       COALESCE(error_message,''), retry_count, next_retry_at, created_at, updated_at
FROM sync_events
WHERE status = 'pending' AND next_retry_at <= $1
ORDER BY created_at
LIMIT $2
`
	rows, err := s.db.QueryContext(ctx, q, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID,
			&e.Channel,
			&e.EventType,
			&e.Status,
			&e.Payload,
			&e.ErrorMessage,
			&e.RetryCount,
			&e.NextRetryAt,
			&e.CreatedAt,
			&e.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE sync_events SET status = 'processing', updated_at = $2 WHERE id = $1`
	return s.exec(ctx, q, id, at)
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE sync_events SET status = 'completed', updated_at = $2 WHERE id = $1`
	return s.exec(ctx, q, id, at)
}

func (s *PostgresStore) Reschedule(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, errMsg string, at time.Time) error {
	const q = `
UPDATE sync_events
SET status = 'pending',
    retry_count = $2,
    next_retry_at = $3,
    error_message = NULLIF($4,''),
    updated_at = $5
WHERE id = $1
`
	return s.exec(ctx, q, id, retryCount, nextRetryAt, errMsg, at)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, retryCount int, errMsg string, at time.Time) error {
	const q = `
UPDATE sync_events
SET status = 'failed',
    retry_count = $2,
    next_retry_at = NULL,
    error_message = NULLIF($3,''),
    updated_at = $4
WHERE id = $1
`
	return s.exec(ctx, q, id, retryCount, errMsg, at)
}

func (s *PostgresStore) exec(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
