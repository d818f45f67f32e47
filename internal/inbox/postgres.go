package inbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"inbox-platform/pkg/utils"
)

// NOTE: This store assumes the following tables exist:
// - contacts (unique (channel, external_id) where external_id <> '')
// - conversations (metadata JSONB; partial index on (contact_id) where status = 'open')
// - messages (unique external_id where external_id <> '')
//
// media_urls and metadata are stored as JSONB.

// PostgresStore implements Store on Postgres via database/sql (pgx stdlib).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const contactColumns = `
id, COALESCE(external_id,''), channel, COALESCE(name,''), COALESCE(phone,''),
COALESCE(email,''), COALESCE(profile_pic_url,''), COALESCE(metadata::text,''),
created_at, updated_at
`

func scanContact(row *sql.Row) (Contact, error) {
	var c Contact
	err := row.Scan(
		&c.ID,
		&c.ExternalID,
		&c.Channel,
		&c.Name,
		&c.Phone,
		&c.Email,
		&c.ProfilePicURL,
		&c.Metadata,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, err
	}
	return c, nil
}

func (s *PostgresStore) GetContactByExternalID(ctx context.Context, ch Channel, externalID string) (Contact, error) {
	if externalID == "" {
		return Contact{}, ErrInvalidArgument
	}
	const q = `
SELECT ` + contactColumns + `
FROM contacts
WHERE channel = $1 AND external_id = $2
LIMIT 1
`
	return scanContact(s.db.QueryRowContext(ctx, q, ch, externalID))
}

func (s *PostgresStore) GetContactByEmail(ctx context.Context, ch Channel, email string) (Contact, error) {
	if email == "" {
		return Contact{}, ErrInvalidArgument
	}
	const q = `
SELECT ` + contactColumns + `
FROM contacts
WHERE channel = $1 AND email = $2
LIMIT 1
`
	return scanContact(s.db.QueryRowContext(ctx, q, ch, email))
}

func (s *PostgresStore) GetContact(ctx context.Context, id string) (Contact, error) {
	const q = `
SELECT ` + contactColumns + `
FROM contacts
WHERE id = $1
`
	return scanContact(s.db.QueryRowContext(ctx, q, id))
}

func (s *PostgresStore) CreateContact(ctx context.Context, c Contact) error {
	const q = `
INSERT INTO contacts (
  id, external_id, channel, name, phone, email, profile_pic_url, metadata, created_at, updated_at
) VALUES (
  $1, NULLIF($2,''), $3, $4, $5, $6, $7, COALESCE(NULLIF($8,'')::jsonb, '{}'::jsonb), $9, $10
)
`
	_, err := s.db.ExecContext(ctx, q,
		c.ID,
		c.ExternalID,
		c.Channel,
		c.Name,
		c.Phone,
		c.Email,
		c.ProfilePicURL,
		c.Metadata,
		c.CreatedAt,
		c.UpdatedAt,
	)
	return err
}

const conversationColumns = `
id, contact_id, COALESCE(assigned_agent_id,''), status, priority, channel,
last_message_at, unread_count, COALESCE(metadata->>'subject',''),
COALESCE(metadata::text,''), created_at, updated_at
`

func scanConversation(row *sql.Row) (Conversation, error) {
	var c Conversation
	err := row.Scan(
		&c.ID,
		&c.ContactID,
		&c.AssignedAgentID,
		&c.Status,
		&c.Priority,
		&c.Channel,
		&c.LastMessageAt,
		&c.UnreadCount,
		&c.GroupingKey,
		&c.Metadata,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	return c, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	const q = `
SELECT ` + conversationColumns + `
FROM conversations
WHERE id = $1
`
	return scanConversation(s.db.QueryRowContext(ctx, q, id))
}

func (s *PostgresStore) GetOpenConversation(ctx context.Context, contactID, groupingKey string) (Conversation, error) {
	if contactID == "" {
		return Conversation{}, ErrInvalidArgument
	}
	const q = `
SELECT ` + conversationColumns + `
FROM conversations
WHERE contact_id = $1
  AND status = 'open'
  AND COALESCE(metadata->>'subject','') = $2
ORDER BY created_at
LIMIT 1
`
	return scanConversation(s.db.QueryRowContext(ctx, q, contactID, groupingKey))
}

func (s *PostgresStore) CreateConversation(ctx context.Context, c Conversation) error {
	const q = `
INSERT INTO conversations (
  id, contact_id, assigned_agent_id, status, priority, channel,
  last_message_at, unread_count, metadata, created_at, updated_at
) VALUES (
  $1, $2, NULLIF($3,''), $4, $5, $6, $7, $8, COALESCE(NULLIF($9,'')::jsonb, '{}'::jsonb), $10, $11
)
`
	_, err := s.db.ExecContext(ctx, q,
		c.ID,
		c.ContactID,
		c.AssignedAgentID,
		c.Status,
		c.Priority,
		c.Channel,
		c.LastMessageAt,
		c.UnreadCount,
		c.Metadata,
		c.CreatedAt,
		c.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	// Single atomic statement: concurrent webhook deliveries must not lose
	// increments.
	const q = `
UPDATE conversations
SET last_message_at = $2,
    unread_count = unread_count + 1,
    updated_at = $2
WHERE id = $1
`
	res, err := s.db.ExecContext(ctx, q, id, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) SetLastMessageAt(ctx context.Context, id string, at time.Time) error {
	const q = `
UPDATE conversations
SET last_message_at = $2,
    updated_at = $2
WHERE id = $1
`
	res, err := s.db.ExecContext(ctx, q, id, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

const messageColumns = `
id, conversation_id, sender_type, COALESCE(sender_id,''), COALESCE(content,''),
COALESCE(media_urls::text,''), message_type, status, COALESCE(external_id,''),
COALESCE(metadata::text,''), created_at, sent_at, delivered_at, read_at
`

func scanMessageRow(scan func(dest ...any) error) (Message, error) {
	var m Message
	var mediaJSON string
	err := scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderType,
		&m.SenderID,
		&m.Content,
		&mediaJSON,
		&m.MessageType,
		&m.Status,
		&m.ExternalID,
		&m.Metadata,
		&m.CreatedAt,
		&m.SentAt,
		&m.DeliveredAt,
		&m.ReadAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, err
	}
	if mediaJSON != "" {
		if err := json.Unmarshal([]byte(mediaJSON), &m.MediaURLs); err != nil {
			return Message{}, err
		}
	}
	return m, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (Message, error) {
	const q = `
SELECT ` + messageColumns + `
FROM messages
WHERE id = $1
`
	return scanMessageRow(s.db.QueryRowContext(ctx, q, id).Scan)
}

func (s *PostgresStore) GetMessageByExternalID(ctx context.Context, externalID string) (Message, error) {
	if externalID == "" {
		return Message{}, ErrInvalidArgument
	}
	const q = `
SELECT ` + messageColumns + `
FROM messages
WHERE external_id = $1
LIMIT 1
`
	return scanMessageRow(s.db.QueryRowContext(ctx, q, externalID).Scan)
}

func (s *PostgresStore) CreateMessage(ctx context.Context, m Message) error {
	var mediaJSON string
	if len(m.MediaURLs) > 0 {
		b, err := json.Marshal(m.MediaURLs)
		if err != nil {
			return err
		}
		mediaJSON = string(b)
	}
	const q = `
INSERT INTO messages (
  id, conversation_id, sender_type, sender_id, content, media_urls,
  message_type, status, external_id, metadata, created_at, sent_at, delivered_at, read_at
) VALUES (
  $1, $2, $3, NULLIF($4,''), NULLIF($5,''), NULLIF($6,'')::jsonb,
  $7, $8, NULLIF($9,''), COALESCE(NULLIF($10,'')::jsonb, '{}'::jsonb), $11, $12, $13, $14
)
`
	_, err := s.db.ExecContext(ctx, q,
		m.ID,
		m.ConversationID,
		m.SenderType,
		m.SenderID,
		m.Content,
		mediaJSON,
		m.MessageType,
		m.Status,
		m.ExternalID,
		m.Metadata,
		m.CreatedAt,
		m.SentAt,
		m.DeliveredAt,
		m.ReadAt,
	)
	return err
}

func (s *PostgresStore) SetMessageExternalID(ctx context.Context, id, externalID string) error {
	if id == "" || externalID == "" {
		return ErrInvalidArgument
	}
	// external_id is immutable once set.
	const q = `
UPDATE messages
SET external_id = $2
WHERE id = $1 AND external_id IS NULL
`
	res, err := s.db.ExecContext(ctx, q, id, externalID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) UpdateMessageDelivery(ctx context.Context, externalID string, status MessageStatus, at time.Time) error {
	if externalID == "" {
		return ErrInvalidArgument
	}
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const sel = `
SELECT id, status
FROM messages
WHERE external_id = $1
FOR UPDATE
`
		var id string
		var current MessageStatus
		if err := tx.QueryRowContext(ctx, sel, externalID).Scan(&id, &current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if !CanAdvance(current, status) {
			return ErrStaleTransition
		}

		col := ""
		switch status {
		case MessageStatusSent:
			col = "sent_at"
		case MessageStatusDelivered:
			col = "delivered_at"
		case MessageStatusRead:
			col = "read_at"
		}
		if col == "" {
			const upd = `UPDATE messages SET status = $2 WHERE id = $1`
			_, err := tx.ExecContext(ctx, upd, id, status)
			return err
		}
		q := `UPDATE messages SET status = $2, ` + col + ` = $3 WHERE id = $1`
		_, err := tx.ExecContext(ctx, q, id, status, at)
		return err
	})
}

func (s *PostgresStore) MarkMessageFailed(ctx context.Context, id, errMsg string) error {
	if id == "" {
		return ErrInvalidArgument
	}
	const q = `
UPDATE messages
SET status = 'failed',
    metadata = COALESCE(metadata, '{}'::jsonb) || jsonb_build_object('error', $2::text)
WHERE id = $1
`
	res, err := s.db.ExecContext(ctx, q, id, errMsg)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) MarkMessageSent(ctx context.Context, id, externalID string, at time.Time) error {
	if id == "" {
		return ErrInvalidArgument
	}
	const q = `
UPDATE messages
SET status = 'sent',
    sent_at = $2,
    external_id = COALESCE(external_id, NULLIF($3, ''))
WHERE id = $1
`
	res, err := s.db.ExecContext(ctx, q, id, at, externalID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
