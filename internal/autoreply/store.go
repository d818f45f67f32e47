package autoreply

import (
	"context"
	"errors"
	"sort"
	"sync"

	"inbox-platform/internal/inbox"
)

var (
	ErrNotFound        = errors.New("autoreply: not found")
	ErrInvalidArgument = errors.New("autoreply: invalid argument")
)

// Store is the persistence contract for auto-reply rules.
type Store interface {
	// ListActive returns active rules applying to the channel (rule
	// channel empty or equal), in listing order (created_at, id).
	ListActive(ctx context.Context, ch inbox.Channel) ([]Rule, error)
	List(ctx context.Context) ([]Rule, error)
	Get(ctx context.Context, id string) (Rule, error)
	Create(ctx context.Context, r Rule) error
	Update(ctx context.Context, r Rule) error
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu    sync.Mutex
	rules map[string]Rule
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: map[string]Rule{}}
}

func (s *MemoryStore) ListActive(ctx context.Context, ch inbox.Channel) ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Rule
	for _, r := range s.rules {
		if !r.IsActive {
			continue
		}
		if r.Channel != "" && r.Channel != ch {
			continue
		}
		out = append(out, r)
	}
	sortRules(out)
	return out, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sortRules(out)
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return Rule{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) Create(ctx context.Context, r Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = r
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, r Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[r.ID]; !ok {
		return ErrNotFound
	}
	s.rules[r.ID] = r
	return nil
}

func sortRules(rules []Rule) {
	sort.Slice(rules, func(i, j int) bool {
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
}
