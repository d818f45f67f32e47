package send

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"inbox-platform/internal/channel"
	"inbox-platform/internal/inbox"
	"inbox-platform/internal/syncevent"

	"github.com/google/uuid"
)

// ErrNoRecipient is returned when the conversation's contact has no usable
// address for the channel.
var ErrNoRecipient = errors.New("send: contact has no recipient address")

// DispatchError reports a provider-side send failure. The message has
// already been persisted and marked failed; a message_send sync event has
// been enqueued for the recovery job.
type DispatchError struct {
	MessageID string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch message %s: %v", e.MessageID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Service persists outbound agent messages and dispatches them through the
// channel adapter for the conversation's channel.
type Service struct {
	store    inbox.Store
	adapters channel.Registry
	recorder *syncevent.Recorder
	clock    func() time.Time
	newID    func() string
	log      *slog.Logger
}

func NewService(store inbox.Store, adapters channel.Registry, recorder *syncevent.Recorder, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		adapters: adapters,
		recorder: recorder,
		clock:    time.Now,
		newID:    uuid.NewString,
		log:      log,
	}
}

type Request struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	SenderID       string `json:"sender_id,omitempty"`
}

type Result struct {
	Message inbox.Message `json:"message"`
	// ProviderRaw is the raw provider response for a dispatched send.
	ProviderRaw string `json:"provider_raw,omitempty"`
	// Note is set when the channel accepted the message without
	// dispatching it (email is stored only).
	Note string `json:"note,omitempty"`
}

// sendRetryPayload is the captured input for a message_send sync event.
type sendRetryPayload struct {
	MessageID string        `json:"message_id"`
	Channel   inbox.Channel `json:"channel"`
	To        string        `json:"to"`
	Content   string        `json:"content"`
}

// Send persists the agent message, then dispatches it. The message is saved
// with status sent before the provider call; a provider failure flips it to
// failed and schedules a retry.
func (s *Service) Send(ctx context.Context, req Request) (Result, error) {
	if req.ConversationID == "" || req.Content == "" {
		return Result{}, inbox.ErrInvalidArgument
	}

	conv, err := s.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return Result{}, err
	}

	now := s.clock().UTC()
	sentAt := now
	m := inbox.Message{
		ID:             s.newID(),
		ConversationID: conv.ID,
		SenderType:     inbox.SenderTypeAgent,
		SenderID:       req.SenderID,
		Content:        req.Content,
		MessageType:    inbox.MessageTypeText,
		Status:         inbox.MessageStatusSent,
		CreatedAt:      now,
		SentAt:         &sentAt,
	}
	if err := s.store.CreateMessage(ctx, m); err != nil {
		return Result{}, fmt.Errorf("save message: %w", err)
	}
	if err := s.store.SetLastMessageAt(ctx, conv.ID, now); err != nil {
		s.log.Warn("last_message_at update failed", "conversation_id", conv.ID, "err", err)
	}

	switch conv.Channel {
	case inbox.ChannelWhatsApp:
		contact, err := s.store.GetContact(ctx, conv.ContactID)
		if err != nil {
			return Result{}, err
		}
		if contact.Phone == "" {
			return Result{}, ErrNoRecipient
		}
		return s.dispatch(ctx, m, conv.Channel, contact.Phone)

	case inbox.ChannelEmail:
		// Outbound email is stored only; the adapter is a stub.
		return Result{Message: m, Note: "Email sending not implemented yet"}, nil

	default:
		return Result{}, inbox.ErrInvalidArgument
	}
}

func (s *Service) dispatch(ctx context.Context, m inbox.Message, ch inbox.Channel, to string) (Result, error) {
	adapter, ok := s.adapters.For(ch)
	if !ok {
		return s.dispatchFailed(ctx, m, ch, to, fmt.Errorf("no adapter for channel %q", ch))
	}

	res, err := adapter.SendText(ctx, to, m.Content)
	if err != nil {
		return s.dispatchFailed(ctx, m, ch, to, err)
	}

	if res.ExternalID != "" {
		if err := s.store.SetMessageExternalID(ctx, m.ID, res.ExternalID); err != nil {
			s.log.Warn("external id update failed", "message_id", m.ID, "err", err)
		} else {
			m.ExternalID = res.ExternalID
		}
	}
	return Result{Message: m, ProviderRaw: res.Raw}, nil
}

func (s *Service) dispatchFailed(ctx context.Context, m inbox.Message, ch inbox.Channel, to string, cause error) (Result, error) {
	s.log.Error("outbound send failed", "message_id", m.ID, "channel", ch, "err", cause)

	if err := s.store.MarkMessageFailed(ctx, m.ID, cause.Error()); err != nil {
		s.log.Error("failed-status update failed", "message_id", m.ID, "err", err)
	}

	payload := sendRetryPayload{MessageID: m.ID, Channel: ch, To: to, Content: m.Content}
	if _, err := s.recorder.RecordFailure(ctx, ch, syncevent.EventTypeMessageSend, payload, cause.Error()); err != nil {
		s.log.Error("sync event record failed", "message_id", m.ID, "err", err)
	}

	return Result{}, &DispatchError{MessageID: m.ID, Err: cause}
}

// ReplayMessageSend is the recovery handler for failed outbound sends. A
// successful replay flips the stored message back to sent and records the
// provider id.
func (s *Service) ReplayMessageSend(ctx context.Context, e syncevent.Event) error {
	var payload sendRetryPayload
	if err := json.Unmarshal([]byte(e.Payload), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	adapter, ok := s.adapters.For(payload.Channel)
	if !ok {
		return fmt.Errorf("no adapter for channel %q", payload.Channel)
	}

	res, err := adapter.SendText(ctx, payload.To, payload.Content)
	if err != nil {
		return err
	}

	if err := s.store.MarkMessageSent(ctx, payload.MessageID, res.ExternalID, s.clock().UTC()); err != nil {
		return fmt.Errorf("restore message status: %w", err)
	}
	return nil
}
