package inbox

import "time"

// Channel is a messaging transport with its own identity and delivery
// semantics.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelEmail:
		return true
	default:
		return false
	}
}

// Contact is a unique external identity on a channel.
//
// Resolution invariant:
// - (external_id, channel) identifies a contact when external_id is present.
// - for email, (email, channel) is the resolution key.
// Contacts are created on first inbound message and never deleted by the
// pipeline.
type Contact struct {
	ID            string  `json:"id" db:"id"`
	ExternalID    string  `json:"external_id,omitempty" db:"external_id"`
	Channel       Channel `json:"channel" db:"channel"`
	Name          string  `json:"name,omitempty" db:"name"`
	Phone         string  `json:"phone,omitempty" db:"phone"`
	Email         string  `json:"email,omitempty" db:"email"`
	ProfilePicURL string  `json:"profile_pic_url,omitempty" db:"profile_pic_url"`

	// Metadata is opaque JSON (stored as JSONB).
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type ConversationStatus string

const (
	ConversationStatusOpen    ConversationStatus = "open"
	ConversationStatusPending ConversationStatus = "pending"
	ConversationStatusClosed  ConversationStatus = "closed"
)

// Conversation is an ordered thread of messages with one contact.
//
// Invariant: at most one open conversation per contact for chat channels.
// Email conversations additionally group on a subject stored in metadata.
// unread_count is only ever mutated atomically (see Store.TouchConversation).
type Conversation struct {
	ID              string             `json:"id" db:"id"`
	ContactID       string             `json:"contact_id" db:"contact_id"`
	AssignedAgentID string             `json:"assigned_agent_id,omitempty" db:"assigned_agent_id"`
	Status          ConversationStatus `json:"status" db:"status"`
	Priority        int                `json:"priority" db:"priority"`
	Channel         Channel            `json:"channel" db:"channel"`
	LastMessageAt   time.Time          `json:"last_message_at" db:"last_message_at"`
	UnreadCount     int                `json:"unread_count" db:"unread_count"`

	// GroupingKey is the email subject for email conversations, empty for
	// chat channels. Persisted inside the metadata document.
	GroupingKey string `json:"grouping_key,omitempty" db:"grouping_key"`

	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type SenderType string

const (
	SenderTypeContact SenderType = "contact"
	SenderTypeAgent   SenderType = "agent"
	SenderTypeSystem  SenderType = "system"
)

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeVideo    MessageType = "video"
	MessageTypeDocument MessageType = "document"
	MessageTypeLocation MessageType = "location"
	MessageTypeAudio    MessageType = "audio"
)

type MessageStatus string

const (
	MessageStatusReceived  MessageStatus = "received"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// statusRank orders delivery states for monotonic transitions.
// failed is reachable from any non-terminal state and is handled separately.
func statusRank(s MessageStatus) int {
	switch s {
	case MessageStatusReceived:
		return 0
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	default:
		return -1
	}
}

// CanAdvance reports whether a message may transition from its current
// status to next. Transitions are monotonic received→sent→delivered→read;
// failed is allowed from any state except read.
func CanAdvance(current, next MessageStatus) bool {
	if next == MessageStatusFailed {
		return current != MessageStatusRead
	}
	cr, nr := statusRank(current), statusRank(next)
	if cr < 0 || nr < 0 {
		return false
	}
	return nr > cr
}

// Message is an atomic unit of communication.
//
// external_id, once set, is immutable: it is the correlation key for
// asynchronous delivery-status webhooks.
type Message struct {
	ID             string        `json:"id" db:"id"`
	ConversationID string        `json:"conversation_id" db:"conversation_id"`
	SenderType     SenderType    `json:"sender_type" db:"sender_type"`
	SenderID       string        `json:"sender_id,omitempty" db:"sender_id"`
	Content        string        `json:"content,omitempty" db:"content"`
	MediaURLs      []string      `json:"media_urls,omitempty" db:"media_urls"`
	MessageType    MessageType   `json:"message_type" db:"message_type"`
	Status         MessageStatus `json:"status" db:"status"`
	ExternalID     string        `json:"external_id,omitempty" db:"external_id"`

	// Metadata holds the raw provider payload (JSONB).
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	ReadAt      *time.Time `json:"read_at,omitempty" db:"read_at"`
}
