package channel

import (
	"context"

	"inbox-platform/internal/inbox"
)

// EmailAdapter is a stub: outbound email delivery is not implemented yet.
// It exists so the registry covers every channel and the send path can
// report the gap explicitly instead of panicking on a nil adapter.
type EmailAdapter struct{}

func NewEmailAdapter() *EmailAdapter { return &EmailAdapter{} }

func (a *EmailAdapter) Name() string           { return "email_stub" }
func (a *EmailAdapter) Channel() inbox.Channel { return inbox.ChannelEmail }

func (a *EmailAdapter) SendText(ctx context.Context, to, body string) (SendResult, error) {
	return SendResult{}, ErrNotImplemented
}

func (a *EmailAdapter) SendImage(ctx context.Context, to, link, caption string) (SendResult, error) {
	return SendResult{}, ErrNotImplemented
}
