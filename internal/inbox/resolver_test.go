package inbox

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func testResolver(store Store) *Resolver {
	r := NewResolver(store)
	r.clock = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	n := 0
	r.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return r
}

func TestResolveContact_CreatesOnFirstSight(t *testing.T) {
	store := NewMemoryStore()
	r := testResolver(store)

	c, err := r.ResolveContact(context.Background(), ChannelWhatsApp, Identity{
		ExternalID: "5215550001",
		Name:       "Ana",
		Phone:      "5215550001",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.ID == "" || c.ExternalID != "5215550001" || c.Channel != ChannelWhatsApp {
		t.Fatalf("unexpected contact: %+v", c)
	}
	if len(store.Contacts()) != 1 {
		t.Fatalf("expected exactly one contact")
	}
}

func TestResolveContact_Idempotent(t *testing.T) {
	store := NewMemoryStore()
	r := testResolver(store)

	first, err := r.ResolveContact(context.Background(), ChannelWhatsApp, Identity{ExternalID: "wa-1", Name: "Ana"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	second, err := r.ResolveContact(context.Background(), ChannelWhatsApp, Identity{ExternalID: "wa-1", Name: "Ana B"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same contact id, got %q and %q", first.ID, second.ID)
	}
	if len(store.Contacts()) != 1 {
		t.Fatalf("expected one contact, got %d", len(store.Contacts()))
	}
}

func TestResolveContact_EmailKey(t *testing.T) {
	store := NewMemoryStore()
	r := testResolver(store)

	_, err := r.ResolveContact(context.Background(), ChannelEmail, Identity{Email: ""})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument for missing email, got %v", err)
	}

	first, err := r.ResolveContact(context.Background(), ChannelEmail, Identity{Email: "ana@example.com", Name: "Ana"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	second, err := r.ResolveContact(context.Background(), ChannelEmail, Identity{Email: "ana@example.com"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected email resolution to be idempotent")
	}
}

func TestResolveOpenConversation_CreatesAndReuses(t *testing.T) {
	store := NewMemoryStore()
	r := testResolver(store)

	first, err := r.ResolveOpenConversation(context.Background(), "contact-1", ChannelWhatsApp, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if first.Status != ConversationStatusOpen || first.Priority != 0 {
		t.Fatalf("unexpected new conversation: %+v", first)
	}
	if first.LastMessageAt.IsZero() {
		t.Fatalf("expected last_message_at to be set")
	}

	second, err := r.ResolveOpenConversation(context.Background(), "contact-1", ChannelWhatsApp, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected idempotent resolution, got %q and %q", first.ID, second.ID)
	}
}

func TestResolveOpenConversation_EmailGroupsBySubject(t *testing.T) {
	store := NewMemoryStore()
	r := testResolver(store)

	a, err := r.ResolveOpenConversation(context.Background(), "contact-1", ChannelEmail, "Order #42")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if a.GroupingKey != "Order #42" {
		t.Fatalf("expected subject grouping key, got %q", a.GroupingKey)
	}
	if a.Metadata == "" {
		t.Fatalf("expected subject recorded in metadata")
	}

	same, err := r.ResolveOpenConversation(context.Background(), "contact-1", ChannelEmail, "Order #42")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if same.ID != a.ID {
		t.Fatalf("expected same conversation for same subject")
	}

	other, err := r.ResolveOpenConversation(context.Background(), "contact-1", ChannelEmail, "Invoice")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if other.ID == a.ID {
		t.Fatalf("expected different conversation for different subject")
	}
}

func TestTouchConversation_IncrementsUnread(t *testing.T) {
	store := NewMemoryStore()
	r := testResolver(store)

	conv, err := r.ResolveOpenConversation(context.Background(), "contact-1", ChannelWhatsApp, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	at := time.Unix(1700000100, 0).UTC()
	if err := store.TouchConversation(context.Background(), conv.ID, at); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := store.TouchConversation(context.Background(), conv.ID, at.Add(time.Minute)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	got, err := store.GetConversation(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.UnreadCount != 2 {
		t.Fatalf("expected unread_count 2, got %d", got.UnreadCount)
	}
	if !got.LastMessageAt.Equal(at.Add(time.Minute)) {
		t.Fatalf("expected last_message_at advanced")
	}
}

func TestUpdateMessageDelivery_Monotonic(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()

	msg := Message{ID: "m1", ConversationID: "c1", SenderType: SenderTypeAgent, MessageType: MessageTypeText, Status: MessageStatusSent, ExternalID: "wamid.1", CreatedAt: now}
	if err := store.CreateMessage(context.Background(), msg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := store.UpdateMessageDelivery(context.Background(), "wamid.1", MessageStatusRead, now); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	err := store.UpdateMessageDelivery(context.Background(), "wamid.1", MessageStatusDelivered, now)
	if err != ErrStaleTransition {
		t.Fatalf("expected ErrStaleTransition, got %v", err)
	}

	got, _ := store.GetMessage(context.Background(), "m1")
	if got.Status != MessageStatusRead {
		t.Fatalf("expected status to remain read, got %s", got.Status)
	}
	if got.ReadAt == nil {
		t.Fatalf("expected read_at set")
	}

	if err := store.UpdateMessageDelivery(context.Background(), "wamid.unknown", MessageStatusDelivered, now); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown external id, got %v", err)
	}
}

func TestCanAdvance(t *testing.T) {
	if !CanAdvance(MessageStatusReceived, MessageStatusSent) {
		t.Fatalf("received→sent should advance")
	}
	if CanAdvance(MessageStatusDelivered, MessageStatusSent) {
		t.Fatalf("delivered→sent should not advance")
	}
	if !CanAdvance(MessageStatusSent, MessageStatusFailed) {
		t.Fatalf("failed should be reachable from sent")
	}
	if CanAdvance(MessageStatusRead, MessageStatusFailed) {
		t.Fatalf("read is terminal")
	}
}
