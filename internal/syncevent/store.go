package syncevent

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound     = errors.New("syncevent: not found")
	ErrInvalidEvent = errors.New("syncevent: invalid event")
)

// Store is the persistence contract for sync events.
//
// Records are append-then-update: payloads are never rewritten after
// creation, only the retry bookkeeping columns move.
type Store interface {
	Create(ctx context.Context, e Event) error
	// ListDue returns up to limit pending events with next_retry_at <= now,
	// oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Event, error)
	MarkProcessing(ctx context.Context, id string, at time.Time) error
	MarkCompleted(ctx context.Context, id string, at time.Time) error
	// Reschedule moves a failed attempt back to pending with updated retry
	// bookkeeping.
	Reschedule(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, errMsg string, at time.Time) error
	// MarkFailed terminally fails an event; next_retry_at is cleared.
	MarkFailed(ctx context.Context, id string, retryCount int, errMsg string, at time.Time) error
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string]Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: map[string]Event{}}
}

func (s *MemoryStore) Create(ctx context.Context, e Event) error {
	if e.ID == "" || e.EventType == "" {
		return ErrInvalidEvent
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = e
	return nil
}

func (s *MemoryStore) ListDue(ctx context.Context, now time.Time, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Event
	for _, e := range s.events {
		if e.Status != StatusPending {
			continue
		}
		if e.NextRetryAt == nil || e.NextRetryAt.After(now) {
			continue
		}
		due = append(due, e)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) MarkProcessing(ctx context.Context, id string, at time.Time) error {
	return s.update(id, func(e *Event) {
		e.Status = StatusProcessing
		e.UpdatedAt = at
	})
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	return s.update(id, func(e *Event) {
		e.Status = StatusCompleted
		e.UpdatedAt = at
	})
}

func (s *MemoryStore) Reschedule(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, errMsg string, at time.Time) error {
	return s.update(id, func(e *Event) {
		e.Status = StatusPending
		e.RetryCount = retryCount
		t := nextRetryAt
		e.NextRetryAt = &t
		e.ErrorMessage = errMsg
		e.UpdatedAt = at
	})
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id string, retryCount int, errMsg string, at time.Time) error {
	return s.update(id, func(e *Event) {
		e.Status = StatusFailed
		e.RetryCount = retryCount
		e.NextRetryAt = nil
		e.ErrorMessage = errMsg
		e.UpdatedAt = at
	})
}

func (s *MemoryStore) update(id string, fn func(e *Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return ErrNotFound
	}
	fn(&e)
	s.events[id] = e
	return nil
}

// Get returns an event by id. Test helper.
func (s *MemoryStore) Get(id string) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	return e, ok
}

// All returns every stored event, oldest first. Test helper.
func (s *MemoryStore) All() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
