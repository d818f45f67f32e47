package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"inbox-platform/internal/autoreply"
	"inbox-platform/internal/inbox"
	"inbox-platform/internal/syncevent"
)

type memDeduper struct {
	mu       sync.Mutex
	seen     map[string]bool
	claimErr error
}

func newMemDeduper() *memDeduper {
	return &memDeduper{seen: map[string]bool{}}
}

func (d *memDeduper) Claim(ctx context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.claimErr != nil {
		return false, d.claimErr
	}
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *memDeduper) Release(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	return nil
}

// flakyStore fails CreateMessage a fixed number of times.
type flakyStore struct {
	*inbox.MemoryStore
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) CreateMessage(ctx context.Context, m inbox.Message) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("db down")
	}
	s.mu.Unlock()
	return s.MemoryStore.CreateMessage(ctx, m)
}

type testEnv struct {
	pipeline *Pipeline
	store    *flakyStore
	rules    *autoreply.MemoryStore
	events   *syncevent.MemoryStore
	dedupe   *memDeduper
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := &flakyStore{MemoryStore: inbox.NewMemoryStore()}
	rules := autoreply.NewMemoryStore()
	events := syncevent.NewMemoryStore()
	dedupe := newMemDeduper()

	resolver := inbox.NewResolver(store)
	engine := autoreply.NewEngine(rules, store, nil)
	recorder := syncevent.NewRecorder(events)

	return &testEnv{
		pipeline: NewPipeline(resolver, store, engine, recorder, dedupe, nil),
		store:    store,
		rules:    rules,
		events:   events,
		dedupe:   dedupe,
	}
}

func textMessage(id, from, body string) WebhookMessage {
	return WebhookMessage{ID: id, From: from, Type: "text", Text: &TextBody{Body: body}}
}

func envelopeWith(value ChangeValue) Envelope {
	return Envelope{
		Object: webhookObject,
		Entry:  []Entry{{ID: "entry-1", Changes: []Change{{Field: "messages", Value: value}}}},
	}
}

func waContact(waID, name string) WebhookContact {
	c := WebhookContact{WaID: waID}
	c.Profile.Name = name
	return c
}

func TestProcessEnvelope_TextMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	body := envelopeWith(ChangeValue{
		Contacts: []WebhookContact{waContact("5215512345678", "Ana")},
		Messages: []WebhookMessage{textMessage("wamid.1", "5215512345678", "Hola, necesito ayuda")},
	})
	if err := env.pipeline.ProcessEnvelope(ctx, body); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	contacts := env.store.Contacts()
	if len(contacts) != 1 {
		t.Fatalf("expected one contact, got %d", len(contacts))
	}
	if contacts[0].ExternalID != "5215512345678" || contacts[0].Name != "Ana" || contacts[0].Channel != inbox.ChannelWhatsApp {
		t.Fatalf("unexpected contact %+v", contacts[0])
	}

	convs := env.store.Conversations()
	if len(convs) != 1 {
		t.Fatalf("expected one conversation, got %d", len(convs))
	}
	if convs[0].Status != inbox.ConversationStatusOpen || convs[0].UnreadCount != 1 {
		t.Fatalf("unexpected conversation %+v", convs[0])
	}

	msgs := env.store.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.SenderType != inbox.SenderTypeContact || m.Status != inbox.MessageStatusReceived {
		t.Fatalf("unexpected message %+v", m)
	}
	if m.ExternalID != "wamid.1" || m.Content != "Hola, necesito ayuda" || m.MessageType != inbox.MessageTypeText {
		t.Fatalf("unexpected message %+v", m)
	}
	if !strings.Contains(m.Metadata, "wamid.1") {
		t.Fatalf("expected raw payload in metadata, got %q", m.Metadata)
	}
}

func TestProcessEnvelope_SecondMessageReusesConversation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i, text := range []string{"primer mensaje", "segundo mensaje"} {
		body := envelopeWith(ChangeValue{
			Contacts: []WebhookContact{waContact("5215512345678", "Ana")},
			Messages: []WebhookMessage{textMessage(fmt.Sprintf("wamid.%d", i+1), "5215512345678", text)},
		})
		if err := env.pipeline.ProcessEnvelope(ctx, body); err != nil {
			t.Fatalf("message %d: %v", i+1, err)
		}
	}

	if got := env.store.Contacts(); len(got) != 1 {
		t.Fatalf("expected one contact, got %d", len(got))
	}
	convs := env.store.Conversations()
	if len(convs) != 1 {
		t.Fatalf("expected one conversation, got %d", len(convs))
	}
	if convs[0].UnreadCount != 2 {
		t.Fatalf("expected unread_count 2, got %d", convs[0].UnreadCount)
	}
	msgs := env.store.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected two messages, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.ConversationID != convs[0].ID {
			t.Fatalf("message %s not threaded on conversation %s", m.ID, convs[0].ID)
		}
	}
}

func TestProcessEnvelope_UnsupportedObject(t *testing.T) {
	env := newTestEnv(t)
	err := env.pipeline.ProcessEnvelope(context.Background(), Envelope{Object: "page"})
	if !errors.Is(err, ErrUnsupportedEvent) {
		t.Fatalf("expected ErrUnsupportedEvent, got %v", err)
	}
}

func TestProcessEnvelope_DuplicateDeliverySkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	body := envelopeWith(ChangeValue{
		Contacts: []WebhookContact{waContact("521", "Ana")},
		Messages: []WebhookMessage{textMessage("wamid.dup", "521", "hola")},
	})
	for i := 0; i < 2; i++ {
		if err := env.pipeline.ProcessEnvelope(ctx, body); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}

	if got := env.store.Messages(); len(got) != 1 {
		t.Fatalf("duplicate delivery must ingest once, got %d messages", len(got))
	}
	if got := env.store.Conversations(); got[0].UnreadCount != 1 {
		t.Fatalf("expected unread_count 1, got %d", got[0].UnreadCount)
	}
}

func TestProcessEnvelope_DedupeOutageDegradesToProcessing(t *testing.T) {
	env := newTestEnv(t)
	env.dedupe.claimErr = errors.New("redis down")

	body := envelopeWith(ChangeValue{
		Contacts: []WebhookContact{waContact("521", "Ana")},
		Messages: []WebhookMessage{textMessage("wamid.2", "521", "hola")},
	})
	if err := env.pipeline.ProcessEnvelope(context.Background(), body); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := env.store.Messages(); len(got) != 1 {
		t.Fatalf("expected message ingested despite dedupe outage, got %d", len(got))
	}
}

func TestProcessEnvelope_FailureRecordsSyncEventAndReleasesClaim(t *testing.T) {
	env := newTestEnv(t)
	env.store.failures = 1
	ctx := context.Background()

	body := envelopeWith(ChangeValue{
		Contacts: []WebhookContact{waContact("521", "Ana")},
		Messages: []WebhookMessage{textMessage("wamid.3", "521", "hola")},
	})
	if err := env.pipeline.ProcessEnvelope(ctx, body); err != nil {
		t.Fatalf("per-entry isolation: envelope must not error, got %v", err)
	}
	if got := env.store.Messages(); len(got) != 0 {
		t.Fatalf("expected no persisted message, got %d", len(got))
	}

	events := env.events.All()
	if len(events) != 1 {
		t.Fatalf("expected one sync event, got %d", len(events))
	}
	e := events[0]
	if e.Channel != inbox.ChannelWhatsApp || e.EventType != syncevent.EventTypeMessageReceive {
		t.Fatalf("unexpected event %+v", e)
	}
	if e.Status != syncevent.StatusPending || e.RetryCount != 0 || e.NextRetryAt == nil {
		t.Fatalf("expected pending event with first retry scheduled, got %+v", e)
	}
	if !strings.Contains(e.Payload, "wamid.3") || !strings.Contains(e.Payload, "521") {
		t.Fatalf("payload must carry message and contact, got %q", e.Payload)
	}

	// Claim released: a provider redelivery is processed, not skipped.
	if err := env.pipeline.ProcessEnvelope(ctx, body); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := env.store.Messages(); len(got) != 1 {
		t.Fatalf("expected redelivery to ingest after failure, got %d messages", len(got))
	}
}

func TestReplayMessageReceive_WhatsApp(t *testing.T) {
	env := newTestEnv(t)
	env.store.failures = 1
	ctx := context.Background()

	body := envelopeWith(ChangeValue{
		Contacts: []WebhookContact{waContact("521", "Ana")},
		Messages: []WebhookMessage{textMessage("wamid.4", "521", "hola")},
	})
	if err := env.pipeline.ProcessEnvelope(ctx, body); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	events := env.events.All()
	if len(events) != 1 {
		t.Fatalf("expected one sync event, got %d", len(events))
	}
	if err := env.pipeline.ReplayMessageReceive(ctx, events[0]); err != nil {
		t.Fatalf("expected replay to succeed, got %v", err)
	}

	msgs := env.store.Messages()
	if len(msgs) != 1 || msgs[0].ExternalID != "wamid.4" {
		t.Fatalf("expected replayed message persisted, got %+v", msgs)
	}
}

func TestProcessEnvelope_AutoReplyFires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.rules.Create(ctx, autoreply.Rule{
		ID:              "r1",
		Name:            "greeting",
		TriggerKeywords: []string{"hola"},
		ResponseText:    "¡Hola! Un agente te atenderá en breve.",
		IsActive:        true,
		CreatedAt:       time.Unix(1700000000, 0).UTC(),
	}); err != nil {
		t.Fatalf("seed rule: %v", err)
	}

	body := envelopeWith(ChangeValue{
		Contacts: []WebhookContact{waContact("521", "Ana")},
		Messages: []WebhookMessage{textMessage("wamid.5", "521", "Hola buenas")},
	})
	if err := env.pipeline.ProcessEnvelope(ctx, body); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	msgs := env.store.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected inbound plus auto-reply, got %d messages", len(msgs))
	}
	var system *inbox.Message
	for i := range msgs {
		if msgs[i].SenderType == inbox.SenderTypeSystem {
			system = &msgs[i]
		}
	}
	if system == nil || system.Content != "¡Hola! Un agente te atenderá en breve." {
		t.Fatalf("expected system auto-reply, got %+v", msgs)
	}
}

func TestProcessStatus_Monotonic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	body := envelopeWith(ChangeValue{
		Contacts: []WebhookContact{waContact("521", "Ana")},
		Messages: []WebhookMessage{textMessage("wamid.6", "521", "hola")},
	})
	if err := env.pipeline.ProcessEnvelope(ctx, body); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	env.pipeline.ProcessStatus(ctx, WebhookStatus{ID: "wamid.6", Status: "read"})
	m, err := env.store.GetMessageByExternalID(ctx, "wamid.6")
	if err != nil {
		t.Fatalf("expected message, got %v", err)
	}
	if m.Status != inbox.MessageStatusRead || m.ReadAt == nil {
		t.Fatalf("expected read status with timestamp, got %+v", m)
	}

	// A late delivered callback must not regress the status.
	env.pipeline.ProcessStatus(ctx, WebhookStatus{ID: "wamid.6", Status: "delivered"})
	m, _ = env.store.GetMessageByExternalID(ctx, "wamid.6")
	if m.Status != inbox.MessageStatusRead {
		t.Fatalf("stale callback regressed status to %s", m.Status)
	}

	// Unknown ids and unknown status strings are warn-only no-ops.
	env.pipeline.ProcessStatus(ctx, WebhookStatus{ID: "wamid.unknown", Status: "delivered"})
	env.pipeline.ProcessStatus(ctx, WebhookStatus{ID: "wamid.6", Status: "weird"})
}

func TestClassify(t *testing.T) {
	img := WebhookMessage{Type: "image", Image: &MediaBody{ID: "media-1"}}
	typ, content, media := Classify(img)
	if typ != inbox.MessageTypeImage || content != "" || len(media) != 1 || media[0] != "media-1" {
		t.Fatalf("unexpected image classification: %s %q %v", typ, content, media)
	}

	loc := WebhookMessage{Type: "location", Location: &LocationBody{Latitude: 19.43, Longitude: -99.13, Name: "CDMX"}}
	typ, content, media = Classify(loc)
	if typ != inbox.MessageTypeLocation || media != nil {
		t.Fatalf("unexpected location classification: %s %v", typ, media)
	}
	if !strings.Contains(content, "19.43") || !strings.Contains(content, "CDMX") {
		t.Fatalf("expected JSON-encoded location, got %q", content)
	}

	unknown := WebhookMessage{Type: "sticker"}
	typ, content, media = Classify(unknown)
	if typ != inbox.MessageTypeText || content != "" || media != nil {
		t.Fatalf("unexpected fallback classification: %s %q %v", typ, content, media)
	}
}

func TestProcessEmail_SubjectGrouping(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := InboundEmail{
		From:    EmailAddress{Email: "ana@example.com", Name: "Ana"},
		Subject: "Pedido #42",
		Text:    "¿Dónde está mi pedido?",
	}
	if err := env.pipeline.ProcessEmail(ctx, first); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Same subject lands in the same conversation.
	second := first
	second.Text = "Sigo esperando"
	if err := env.pipeline.ProcessEmail(ctx, second); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := env.store.Conversations(); len(got) != 1 {
		t.Fatalf("expected one conversation for one subject, got %d", len(got))
	}

	// A different subject opens a new thread for the same contact.
	third := first
	third.Subject = "Factura"
	if err := env.pipeline.ProcessEmail(ctx, third); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := env.store.Conversations(); len(got) != 2 {
		t.Fatalf("expected a second conversation, got %d", len(got))
	}
	if got := env.store.Contacts(); len(got) != 1 {
		t.Fatalf("expected one contact, got %d", len(got))
	}
}

func TestProcessEmail_ContentAndExternalID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	email := InboundEmail{
		From:        EmailAddress{Email: "ana@example.com"},
		Subject:     "Hola",
		HTML:        "<p>solo html</p>",
		Attachments: []EmailAttachment{{URL: "https://files/a.pdf"}, {Filename: "b.png"}},
	}
	if err := env.pipeline.ProcessEmail(ctx, email); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	msgs := env.store.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.Content != "<p>solo html</p>" {
		t.Fatalf("expected html fallback content, got %q", m.Content)
	}
	if m.ExternalID == "" {
		t.Fatalf("expected generated external id when provider omits messageId")
	}
	if len(m.MediaURLs) != 2 || m.MediaURLs[0] != "https://files/a.pdf" || m.MediaURLs[1] != "b.png" {
		t.Fatalf("unexpected media urls %v", m.MediaURLs)
	}

	contacts := env.store.Contacts()
	if contacts[0].Name != "ana" {
		t.Fatalf("expected local-part name fallback, got %q", contacts[0].Name)
	}

	if err := env.pipeline.ProcessEmail(ctx, InboundEmail{}); !errors.Is(err, inbox.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for missing from, got %v", err)
	}
}

func TestProcessEmail_AutoReplyMatchesSubject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.rules.Create(ctx, autoreply.Rule{
		ID:              "r1",
		Name:            "billing",
		TriggerKeywords: []string{"factura"},
		ResponseText:    "Recibimos tu solicitud de facturación.",
		IsActive:        true,
		CreatedAt:       time.Unix(1700000000, 0).UTC(),
	}); err != nil {
		t.Fatalf("seed rule: %v", err)
	}

	email := InboundEmail{
		From:    EmailAddress{Email: "ana@example.com"},
		Subject: "Factura pendiente",
		Text:    "adjunto los datos",
	}
	if err := env.pipeline.ProcessEmail(ctx, email); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	msgs := env.store.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected inbound plus auto-reply, got %d", len(msgs))
	}
}
