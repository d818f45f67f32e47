package autoreply

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"inbox-platform/internal/inbox"
)

// NOTE: This store assumes an auto_replies table with trigger_keywords
// stored as JSONB.

// PostgresStore implements Store on Postgres via database/sql (pgx stdlib).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const ruleColumns = `
id, name, COALESCE(trigger_keywords::text,'[]'), response_text, is_active,
COALESCE(channel,''), COALESCE(created_by,''), created_at, updated_at
`

func scanRule(scan func(dest ...any) error) (Rule, error) {
	var r Rule
	var keywordsJSON string
	err := scan(
		&r.ID,
		&r.Name,
		&keywordsJSON,
		&r.ResponseText,
		&r.IsActive,
		&r.Channel,
		&r.CreatedBy,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Rule{}, ErrNotFound
		}
		return Rule{}, err
	}
	if err := json.Unmarshal([]byte(keywordsJSON), &r.TriggerKeywords); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func (s *PostgresStore) queryRules(ctx context.Context, q string, args ...any) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListActive(ctx context.Context, ch inbox.Channel) ([]Rule, error) {
	const q = `
SELECT ` + ruleColumns + `
FROM auto_replies
WHERE is_active = TRUE AND (channel IS NULL OR channel = $1)
ORDER BY created_at, id
`
	return s.queryRules(ctx, q, ch)
}

func (s *PostgresStore) List(ctx context.Context) ([]Rule, error) {
	const q = `
SELECT ` + ruleColumns + `
FROM auto_replies
ORDER BY created_at, id
`
	return s.queryRules(ctx, q)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Rule, error) {
	const q = `
SELECT ` + ruleColumns + `
FROM auto_replies
WHERE id = $1
`
	return scanRule(s.db.QueryRowContext(ctx, q, id).Scan)
}

func (s *PostgresStore) Create(ctx context.Context, r Rule) error {
	keywords, err := json.Marshal(r.TriggerKeywords)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO auto_replies (
  id, name, trigger_keywords, response_text, is_active, channel, created_by, created_at, updated_at
) VALUES (
  $1, $2, $3::jsonb, $4, $5, NULLIF($6,''), NULLIF($7,''), $8, $9
)
`
	_, err = s.db.ExecContext(ctx, q,
		r.ID,
		r.Name,
		string(keywords),
		r.ResponseText,
		r.IsActive,
		r.Channel,
		r.CreatedBy,
		r.CreatedAt,
		r.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) Update(ctx context.Context, r Rule) error {
	keywords, err := json.Marshal(r.TriggerKeywords)
	if err != nil {
		return err
	}
	const q = `
UPDATE auto_replies
SET name = $2,
    trigger_keywords = $3::jsonb,
    response_text = $4,
    is_active = $5,
    channel = NULLIF($6,''),
    updated_at = $7
WHERE id = $1
`
	res, err := s.db.ExecContext(ctx, q,
		r.ID,
		r.Name,
		string(keywords),
		r.ResponseText,
		r.IsActive,
		r.Channel,
		r.UpdatedAt,
	)
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
