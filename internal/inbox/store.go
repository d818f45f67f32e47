package inbox

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("inbox: not found")
	ErrInvalidArgument = errors.New("inbox: invalid argument")
	// ErrStaleTransition is returned when a delivery-status update would
	// move a message backwards (e.g. "delivered" arriving after "read").
	ErrStaleTransition = errors.New("inbox: stale status transition")
)

// Store is the persistence contract for contacts, conversations and
// messages. Implementations: Postgres (production) and in-memory (tests).
type Store interface {
	// Contacts.
	GetContactByExternalID(ctx context.Context, ch Channel, externalID string) (Contact, error)
	GetContactByEmail(ctx context.Context, ch Channel, email string) (Contact, error)
	GetContact(ctx context.Context, id string) (Contact, error)
	CreateContact(ctx context.Context, c Contact) error

	// Conversations.
	GetConversation(ctx context.Context, id string) (Conversation, error)
	// GetOpenConversation resolves the open conversation for a contact.
	// groupingKey is empty for chat channels; for email it is the subject.
	GetOpenConversation(ctx context.Context, contactID, groupingKey string) (Conversation, error)
	CreateConversation(ctx context.Context, c Conversation) error
	// TouchConversation advances last_message_at and increments
	// unread_count by one in a single conditional statement. No
	// read-modify-write round trips.
	TouchConversation(ctx context.Context, id string, at time.Time) error
	// SetLastMessageAt advances last_message_at without touching the
	// unread counter (outbound messages).
	SetLastMessageAt(ctx context.Context, id string, at time.Time) error

	// Messages.
	CreateMessage(ctx context.Context, m Message) error
	GetMessage(ctx context.Context, id string) (Message, error)
	GetMessageByExternalID(ctx context.Context, externalID string) (Message, error)
	// SetMessageExternalID records the provider message id after an
	// outbound send. The id is immutable once set.
	SetMessageExternalID(ctx context.Context, id, externalID string) error
	// UpdateMessageDelivery correlates a provider status callback by
	// external_id and advances status plus the matching timestamp column.
	// Returns ErrNotFound for unknown ids and ErrStaleTransition for
	// non-monotonic updates.
	UpdateMessageDelivery(ctx context.Context, externalID string, status MessageStatus, at time.Time) error
	// MarkMessageFailed flips a message to failed, capturing the error
	// inside its metadata document.
	MarkMessageFailed(ctx context.Context, id, errMsg string) error
	// MarkMessageSent flips a previously failed message back to sent
	// after a successful replay, recording the provider id when the
	// message does not have one yet.
	MarkMessageSent(ctx context.Context, id, externalID string, at time.Time) error
}
