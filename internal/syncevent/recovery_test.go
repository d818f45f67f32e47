package syncevent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"inbox-platform/internal/inbox"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func seedEvent(t *testing.T, store *MemoryStore, id string, retryCount int, createdAt time.Time) Event {
	t.Helper()
	next := createdAt.Add(-time.Second)
	e := Event{
		ID:          id,
		Channel:     inbox.ChannelWhatsApp,
		EventType:   EventTypeMessageReceive,
		Status:      StatusPending,
		Payload:     `{"message":{}}`,
		RetryCount:  retryCount,
		NextRetryAt: &next,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	if err := store.Create(context.Background(), e); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return e
}

func TestRecorder_RecordFailure(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store)
	now := time.Unix(1700000000, 0).UTC()
	rec.clock = fixedClock(now)
	rec.newID = func() string { return "ev-1" }

	e, err := rec.RecordFailure(context.Background(), inbox.ChannelWhatsApp, EventTypeMessageReceive, map[string]string{"k": "v"}, "boom")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if e.Status != StatusPending || e.RetryCount != 0 {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.NextRetryAt == nil || !e.NextRetryAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected next_retry_at = now+60s, got %v", e.NextRetryAt)
	}
	if e.Payload != `{"k":"v"}` {
		t.Fatalf("unexpected payload %q", e.Payload)
	}
}

func TestRecovery_CompletesSuccessfulEvent(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	rec := NewRecovery(store, nil)
	rec.clock = fixedClock(now)

	seedEvent(t, store, "ev-1", 0, now.Add(-time.Hour))

	var handled []string
	rec.Register(inbox.ChannelWhatsApp, EventTypeMessageReceive, func(ctx context.Context, e Event) error {
		handled = append(handled, e.ID)
		return nil
	})

	n, err := rec.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if n != 1 {
		t.Fatalf("expected processedCount 1, got %d", n)
	}
	if len(handled) != 1 || handled[0] != "ev-1" {
		t.Fatalf("expected handler invoked with ev-1, got %v", handled)
	}
	got, _ := store.Get("ev-1")
	if got.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestRecovery_ReschedulesWithBackoff(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	rec := NewRecovery(store, nil)
	rec.clock = fixedClock(now)

	seedEvent(t, store, "ev-1", 3, now.Add(-time.Hour))
	rec.Register(inbox.ChannelWhatsApp, EventTypeMessageReceive, func(ctx context.Context, e Event) error {
		return errors.New("still broken")
	})

	n, err := rec.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if n != 0 {
		t.Fatalf("expected processedCount 0, got %d", n)
	}

	got, _ := store.Get("ev-1")
	if got.Status != StatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if got.RetryCount != 4 {
		t.Fatalf("expected retry_count 4, got %d", got.RetryCount)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.After(now) {
		t.Fatalf("expected future next_retry_at, got %v", got.NextRetryAt)
	}
	if got.ErrorMessage != "still broken" {
		t.Fatalf("expected error message captured, got %q", got.ErrorMessage)
	}
}

func TestRecovery_PermanentFailureAtMaxRetries(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	rec := NewRecovery(store, nil)
	rec.clock = fixedClock(now)

	seedEvent(t, store, "ev-1", 4, now.Add(-time.Hour))
	rec.Register(inbox.ChannelWhatsApp, EventTypeMessageReceive, func(ctx context.Context, e Event) error {
		return errors.New("still broken")
	})

	if _, err := rec.ProcessPending(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	got, _ := store.Get("ev-1")
	if got.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.RetryCount != 5 {
		t.Fatalf("expected retry_count 5, got %d", got.RetryCount)
	}
	if got.NextRetryAt != nil {
		t.Fatalf("expected no further next_retry_at, got %v", got.NextRetryAt)
	}
	if got.ErrorMessage != terminalErrorMessage {
		t.Fatalf("unexpected terminal message %q", got.ErrorMessage)
	}
}

func TestRecovery_UnknownHandlerConsumesRetry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	rec := NewRecovery(store, nil)
	rec.clock = fixedClock(now)

	seedEvent(t, store, "ev-1", 0, now.Add(-time.Hour))

	if _, err := rec.ProcessPending(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	got, _ := store.Get("ev-1")
	if got.Status != StatusPending || got.RetryCount != 1 {
		t.Fatalf("expected rescheduled with retry_count 1, got %+v", got)
	}
}

func TestRecovery_BatchIsolationAndOrder(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	rec := NewRecovery(store, nil)
	rec.clock = fixedClock(now)

	for i := 0; i < 3; i++ {
		seedEvent(t, store, fmt.Sprintf("ev-%d", i), 0, now.Add(-time.Hour).Add(time.Duration(i)*time.Minute))
	}

	var order []string
	rec.Register(inbox.ChannelWhatsApp, EventTypeMessageReceive, func(ctx context.Context, e Event) error {
		order = append(order, e.ID)
		if e.ID == "ev-1" {
			panic("corrupt payload")
		}
		return nil
	})

	n, err := rec.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 completed, got %d", n)
	}
	if len(order) != 3 || order[0] != "ev-0" || order[1] != "ev-1" || order[2] != "ev-2" {
		t.Fatalf("expected oldest-first processing of all events, got %v", order)
	}
	mid, _ := store.Get("ev-1")
	if mid.Status != StatusPending || mid.RetryCount != 1 {
		t.Fatalf("expected panicking event rescheduled, got %+v", mid)
	}
}

func TestMemoryStore_ListDueFiltersAndLimits(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()

	seedEvent(t, store, "due-1", 0, now.Add(-2*time.Hour))
	seedEvent(t, store, "due-2", 0, now.Add(-time.Hour))

	future := now.Add(time.Hour)
	_ = store.Create(context.Background(), Event{
		ID: "not-due", Channel: inbox.ChannelWhatsApp, EventType: EventTypeMessageReceive,
		Status: StatusPending, NextRetryAt: &future, CreatedAt: now, UpdatedAt: now,
	})
	_ = store.Create(context.Background(), Event{
		ID: "audit", Channel: inbox.ChannelWhatsApp, EventType: EventTypeWebhookReceived,
		Status: StatusReceived, CreatedAt: now, UpdatedAt: now,
	})

	due, err := store.ListDue(context.Background(), now, 1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(due) != 1 || due[0].ID != "due-1" {
		t.Fatalf("expected oldest due event only, got %v", due)
	}
}
