package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"inbox-platform/internal/autoreply"
	"inbox-platform/internal/inbox"
	"inbox-platform/internal/syncevent"

	"github.com/google/uuid"
)

// ErrUnsupportedEvent is returned for webhook bodies whose object is not a
// business account subscription.
var ErrUnsupportedEvent = errors.New("ingest: unsupported event type")

// Pipeline turns provider webhook payloads into persisted contacts,
// conversations and messages.
//
// Per-entry isolation: one message failing to process never aborts the rest
// of the envelope. Failures are captured as sync events for the recovery job
// and the webhook is still acknowledged.
type Pipeline struct {
	resolver *inbox.Resolver
	store    inbox.Store
	engine   *autoreply.Engine
	recorder *syncevent.Recorder
	dedupe   Deduper
	clock    func() time.Time
	newID    func() string
	log      *slog.Logger
}

func NewPipeline(resolver *inbox.Resolver, store inbox.Store, engine *autoreply.Engine, recorder *syncevent.Recorder, dedupe Deduper, log *slog.Logger) *Pipeline {
	if dedupe == nil {
		dedupe = NopDeduper{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		resolver: resolver,
		store:    store,
		engine:   engine,
		recorder: recorder,
		dedupe:   dedupe,
		clock:    time.Now,
		newID:    uuid.NewString,
		log:      log,
	}
}

// whatsappRetryPayload is the captured input for a message_receive sync
// event; the recovery job unmarshals it back and replays ProcessMessage.
type whatsappRetryPayload struct {
	Message WebhookMessage `json:"message"`
	Contact WebhookContact `json:"contact"`
}

// ProcessEnvelope walks a WhatsApp webhook body: inbound messages are
// deduped and persisted, delivery statuses are correlated to stored
// messages. Only an unsupported object is an error; everything else is
// absorbed per entry.
func (p *Pipeline) ProcessEnvelope(ctx context.Context, env Envelope) error {
	if env.Object != webhookObject {
		return ErrUnsupportedEvent
	}

	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			value := change.Value

			for _, msg := range value.Messages {
				contact := contactFor(msg, value.Contacts)
				p.ingestMessage(ctx, msg, contact)
			}
			for _, st := range value.Statuses {
				p.ProcessStatus(ctx, st)
			}
		}
	}
	return nil
}

// ingestMessage runs the dedupe guard around ProcessMessage and captures
// failures as retryable sync events.
func (p *Pipeline) ingestMessage(ctx context.Context, msg WebhookMessage, contact WebhookContact) {
	fresh, err := p.dedupe.Claim(ctx, msg.ID)
	if err != nil {
		// Availability over dedupe: a Redis outage must not drop messages.
		p.log.Warn("dedupe unavailable, processing anyway", "message_id", msg.ID, "err", err)
		fresh = true
	}
	if !fresh {
		p.log.Info("duplicate webhook delivery skipped", "message_id", msg.ID)
		return
	}

	if err := p.ProcessMessage(ctx, msg, contact); err != nil {
		p.log.Error("message ingestion failed", "message_id", msg.ID, "err", err)

		// Re-open the dedupe claim so a provider-side redelivery is not
		// mistaken for a duplicate of the failed attempt.
		if relErr := p.dedupe.Release(ctx, msg.ID); relErr != nil {
			p.log.Warn("dedupe release failed", "message_id", msg.ID, "err", relErr)
		}

		payload := whatsappRetryPayload{Message: msg, Contact: contact}
		if _, recErr := p.recorder.RecordFailure(ctx, inbox.ChannelWhatsApp, syncevent.EventTypeMessageReceive, payload, err.Error()); recErr != nil {
			p.log.Error("sync event record failed", "message_id", msg.ID, "err", recErr)
		}
	}
}

// ProcessMessage resolves the contact and open conversation, persists the
// inbound message, bumps the conversation counters and evaluates
// auto-replies.
func (p *Pipeline) ProcessMessage(ctx context.Context, msg WebhookMessage, contact WebhookContact) error {
	identity := inbox.Identity{
		ExternalID: contact.WaID,
		Name:       contact.Profile.Name,
		Phone:      contact.WaID,
		Metadata:   marshalJSON(map[string]any{"profile": contact.Profile}),
	}

	c, err := p.resolver.ResolveContact(ctx, inbox.ChannelWhatsApp, identity)
	if err != nil {
		return fmt.Errorf("resolve contact: %w", err)
	}
	conv, err := p.resolver.ResolveOpenConversation(ctx, c.ID, inbox.ChannelWhatsApp, "")
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}

	msgType, content, mediaURLs := Classify(msg)

	now := p.clock().UTC()
	m := inbox.Message{
		ID:             p.newID(),
		ConversationID: conv.ID,
		SenderType:     inbox.SenderTypeContact,
		Content:        content,
		MediaURLs:      mediaURLs,
		MessageType:    msgType,
		Status:         inbox.MessageStatusReceived,
		ExternalID:     msg.ID,
		Metadata:       marshalJSON(msg),
		CreatedAt:      now,
	}
	if err := p.store.CreateMessage(ctx, m); err != nil {
		return fmt.Errorf("save message: %w", err)
	}

	if err := p.store.TouchConversation(ctx, conv.ID, now); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	if _, err := p.engine.Evaluate(ctx, conv.ID, inbox.ChannelWhatsApp, content); err != nil {
		return fmt.Errorf("auto-reply: %w", err)
	}
	return nil
}

// ProcessStatus correlates a provider delivery callback to a stored message.
// Misses and stale transitions are warn-only no-ops; a lost status update
// is not worth a retry cycle.
func (p *Pipeline) ProcessStatus(ctx context.Context, st WebhookStatus) {
	status, ok := deliveryStatus(st.Status)
	if !ok {
		p.log.Warn("unknown delivery status", "external_id", st.ID, "status", st.Status)
		return
	}

	err := p.store.UpdateMessageDelivery(ctx, st.ID, status, p.clock().UTC())
	switch {
	case err == nil:
	case errors.Is(err, inbox.ErrNotFound):
		p.log.Warn("delivery status for unknown message", "external_id", st.ID, "status", st.Status)
	case errors.Is(err, inbox.ErrStaleTransition):
		p.log.Warn("stale delivery status dropped", "external_id", st.ID, "status", st.Status)
	default:
		p.log.Error("delivery status update failed", "external_id", st.ID, "err", err)
	}
}

// ProcessEmail persists an inbound email: contact keyed by address,
// conversation grouped by subject, auto-replies matched against subject and
// body together.
func (p *Pipeline) ProcessEmail(ctx context.Context, email InboundEmail) error {
	if email.From.Email == "" {
		return inbox.ErrInvalidArgument
	}

	name := email.From.Name
	if name == "" {
		name, _, _ = strings.Cut(email.From.Email, "@")
	}
	identity := inbox.Identity{
		Email:    email.From.Email,
		Name:     name,
		Metadata: marshalJSON(map[string]any{"from": email.From}),
	}

	c, err := p.resolver.ResolveContact(ctx, inbox.ChannelEmail, identity)
	if err != nil {
		return fmt.Errorf("resolve contact: %w", err)
	}
	conv, err := p.resolver.ResolveOpenConversation(ctx, c.ID, inbox.ChannelEmail, email.Subject)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}

	content := email.body()
	externalID := email.MessageID
	if externalID == "" {
		externalID = p.newID()
	}

	now := p.clock().UTC()
	m := inbox.Message{
		ID:             p.newID(),
		ConversationID: conv.ID,
		SenderType:     inbox.SenderTypeContact,
		Content:        content,
		MediaURLs:      email.attachmentURLs(),
		MessageType:    inbox.MessageTypeText,
		Status:         inbox.MessageStatusReceived,
		ExternalID:     externalID,
		Metadata: marshalJSON(map[string]any{
			"subject":        email.Subject,
			"hasAttachments": len(email.Attachments) > 0,
			"isHtml":         email.HTML != "",
		}),
		CreatedAt: now,
	}
	if err := p.store.CreateMessage(ctx, m); err != nil {
		return fmt.Errorf("save message: %w", err)
	}

	if err := p.store.TouchConversation(ctx, conv.ID, now); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	if _, err := p.engine.Evaluate(ctx, conv.ID, inbox.ChannelEmail, email.Subject+" "+content); err != nil {
		return fmt.Errorf("auto-reply: %w", err)
	}
	return nil
}

// ReplayMessageReceive is the recovery handler for failed ingestions. The
// sync event payload carries the original provider input.
func (p *Pipeline) ReplayMessageReceive(ctx context.Context, e syncevent.Event) error {
	switch e.Channel {
	case inbox.ChannelWhatsApp:
		var payload whatsappRetryPayload
		if err := json.Unmarshal([]byte(e.Payload), &payload); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return p.ProcessMessage(ctx, payload.Message, payload.Contact)
	case inbox.ChannelEmail:
		var email InboundEmail
		if err := json.Unmarshal([]byte(e.Payload), &email); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return p.ProcessEmail(ctx, email)
	default:
		return fmt.Errorf("no replay for channel %q", e.Channel)
	}
}

// contactFor pairs a message with its profile block. The Cloud API ships the
// sender profile alongside the messages array; fall back to the bare wa_id
// when it is absent.
func contactFor(msg WebhookMessage, contacts []WebhookContact) WebhookContact {
	for _, c := range contacts {
		if c.WaID == msg.From {
			return c
		}
	}
	if len(contacts) > 0 {
		return contacts[0]
	}
	return WebhookContact{WaID: msg.From}
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
