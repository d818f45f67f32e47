package channel

import (
	"context"
	"errors"
	"fmt"

	"inbox-platform/internal/inbox"
)

// Adapter is the provider-agnostic outbound interface used by business
// logic.
//
// Rules:
//   - No provider HTTP calls outside channel adapters.
//   - Keep request/response types provider-agnostic; raw provider responses
//     belong in message metadata if needed.
type Adapter interface {
	Name() string
	Channel() inbox.Channel

	SendText(ctx context.Context, to, body string) (SendResult, error)
	SendImage(ctx context.Context, to, link, caption string) (SendResult, error)
}

// SendResult reports a successful provider dispatch.
type SendResult struct {
	// ExternalID is the provider's id for the created message; it becomes
	// the correlation key for delivery-status callbacks.
	ExternalID string `json:"external_id"`

	// Raw is the provider response body for audit/debug.
	Raw string `json:"raw,omitempty"`
}

var ErrNotImplemented = errors.New("channel: not implemented")

// ProviderError is a normalized provider-side failure.
type ProviderError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error: status=%d code=%d message=%s", e.StatusCode, e.Code, e.Message)
}

// Registry maps channels to their adapters.
type Registry map[inbox.Channel]Adapter

func (r Registry) For(ch inbox.Channel) (Adapter, bool) {
	a, ok := r[ch]
	return a, ok
}
