package ingest

import (
	"encoding/json"

	"inbox-platform/internal/inbox"
)

// webhookObject is the only envelope object the Cloud API delivers for a
// business account subscription.
const webhookObject = "whatsapp_business_account"

// Envelope is the outer WhatsApp Cloud API webhook body.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue carries inbound messages, delivery statuses, or both.
type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product,omitempty"`
	Contacts         []WebhookContact `json:"contacts,omitempty"`
	Messages         []WebhookMessage `json:"messages,omitempty"`
	Statuses         []WebhookStatus  `json:"statuses,omitempty"`
}

type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// WebhookMessage is one inbound message. Exactly one of the typed bodies is
// set; Type names which.
type WebhookMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`

	Text     *TextBody     `json:"text,omitempty"`
	Image    *MediaBody    `json:"image,omitempty"`
	Video    *MediaBody    `json:"video,omitempty"`
	Document *MediaBody    `json:"document,omitempty"`
	Location *LocationBody `json:"location,omitempty"`
	Audio    *MediaBody    `json:"audio,omitempty"`
}

type TextBody struct {
	Body string `json:"body"`
}

type MediaBody struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type LocationBody struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type WebhookStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id,omitempty"`
}

// Classify derives the stored message shape from the provider body. Content
// is the text body (or the JSON-encoded location); media ids are recorded as
// media URLs without fetching. Unrecognized bodies fall back to an empty
// text message so the raw payload in metadata is still queryable.
func Classify(m WebhookMessage) (inbox.MessageType, string, []string) {
	switch {
	case m.Text != nil:
		return inbox.MessageTypeText, m.Text.Body, nil
	case m.Image != nil:
		return inbox.MessageTypeImage, "", []string{m.Image.ID}
	case m.Video != nil:
		return inbox.MessageTypeVideo, "", []string{m.Video.ID}
	case m.Document != nil:
		return inbox.MessageTypeDocument, "", []string{m.Document.ID}
	case m.Location != nil:
		loc, _ := json.Marshal(m.Location)
		return inbox.MessageTypeLocation, string(loc), nil
	case m.Audio != nil:
		return inbox.MessageTypeAudio, "", []string{m.Audio.ID}
	default:
		return inbox.MessageTypeText, "", nil
	}
}

// deliveryStatus maps a provider callback status to the stored status.
// Unknown values return false.
func deliveryStatus(s string) (inbox.MessageStatus, bool) {
	switch s {
	case "sent":
		return inbox.MessageStatusSent, true
	case "delivered":
		return inbox.MessageStatusDelivered, true
	case "read":
		return inbox.MessageStatusRead, true
	case "failed":
		return inbox.MessageStatusFailed, true
	default:
		return "", false
	}
}
