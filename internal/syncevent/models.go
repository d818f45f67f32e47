package syncevent

import (
	"time"

	"inbox-platform/internal/inbox"
)

// EventType categorizes what failed (or what is being audited).
type EventType string

const (
	EventTypeMessageReceive      EventType = "message_receive"
	EventTypeMessageSend         EventType = "message_send"
	EventTypeWebhookVerification EventType = "webhook_verification"
	EventTypeWebhookReceived     EventType = "webhook_received"
	EventTypeWebhookError        EventType = "webhook_error"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	// StatusReceived marks audit-only records (webhook bodies,
	// verification attempts) that are never retried.
	StatusReceived Status = "received"
)

// Event is a durable record of a pipeline failure eligible for retry, or an
// audit-only record of webhook traffic.
//
// Lifecycle for retryable events:
// created failed/pending with retry_count=0 and next_retry_at=now+60s,
// mutated by the recovery job each cycle, terminal when completed or when
// retry_count reaches the maximum.
type Event struct {
	ID        string        `json:"id" db:"id"`
	Channel   inbox.Channel `json:"channel" db:"channel"`
	EventType EventType     `json:"event_type" db:"event_type"`
	Status    Status        `json:"status" db:"status"`

	// Payload is the captured input (JSON) needed to replay the operation.
	Payload string `json:"payload,omitempty" db:"payload"`

	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
	RetryCount   int        `json:"retry_count" db:"retry_count"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty" db:"next_retry_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
