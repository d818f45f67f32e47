package inbox

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and early development.
// It mirrors the Postgres store's semantics, including atomic counter
// updates (under the mutex) and monotonic delivery transitions.
type MemoryStore struct {
	mu sync.Mutex

	contacts      map[string]Contact
	conversations map[string]Conversation
	messages      map[string]Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contacts:      map[string]Contact{},
		conversations: map[string]Conversation{},
		messages:      map[string]Message{},
	}
}

func (s *MemoryStore) GetContactByExternalID(ctx context.Context, ch Channel, externalID string) (Contact, error) {
	if externalID == "" {
		return Contact{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.Channel == ch && c.ExternalID == externalID {
			return c, nil
		}
	}
	return Contact{}, ErrNotFound
}

func (s *MemoryStore) GetContactByEmail(ctx context.Context, ch Channel, email string) (Contact, error) {
	if email == "" {
		return Contact{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.Channel == ch && c.Email == email {
			return c, nil
		}
	}
	return Contact{}, ErrNotFound
}

func (s *MemoryStore) GetContact(ctx context.Context, id string) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) CreateContact(ctx context.Context, c Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.ID] = c
	return nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) GetOpenConversation(ctx context.Context, contactID, groupingKey string) (Conversation, error) {
	if contactID == "" {
		return Conversation{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []Conversation
	for _, c := range s.conversations {
		if c.ContactID == contactID && c.Status == ConversationStatusOpen && c.GroupingKey == groupingKey {
			matched = append(matched, c)
		}
	}
	if len(matched) == 0 {
		return Conversation{}, ErrNotFound
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
	return matched[0], nil
}

func (s *MemoryStore) CreateConversation(ctx context.Context, c Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	return nil
}

func (s *MemoryStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.LastMessageAt = at
	c.UnreadCount++
	c.UpdatedAt = at
	s.conversations[id] = c
	return nil
}

func (s *MemoryStore) SetLastMessageAt(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.LastMessageAt = at
	c.UpdatedAt = at
	s.conversations[id] = c
	return nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = m
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) GetMessageByExternalID(ctx context.Context, externalID string) (Message, error) {
	if externalID == "" {
		return Message{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ExternalID == externalID {
			return m, nil
		}
	}
	return Message{}, ErrNotFound
}

func (s *MemoryStore) SetMessageExternalID(ctx context.Context, id, externalID string) error {
	if id == "" || externalID == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.ExternalID != "" {
		return ErrNotFound
	}
	m.ExternalID = externalID
	s.messages[id] = m
	return nil
}

func (s *MemoryStore) UpdateMessageDelivery(ctx context.Context, externalID string, status MessageStatus, at time.Time) error {
	if externalID == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.messages {
		if m.ExternalID != externalID {
			continue
		}
		if !CanAdvance(m.Status, status) {
			return ErrStaleTransition
		}
		m.Status = status
		ts := at
		switch status {
		case MessageStatusSent:
			m.SentAt = &ts
		case MessageStatusDelivered:
			m.DeliveredAt = &ts
		case MessageStatusRead:
			m.ReadAt = &ts
		}
		s.messages[id] = m
		return nil
	}
	return ErrNotFound
}

func (s *MemoryStore) MarkMessageFailed(ctx context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.Status = MessageStatusFailed
	meta := map[string]any{}
	if m.Metadata != "" {
		_ = json.Unmarshal([]byte(m.Metadata), &meta)
	}
	meta["error"] = errMsg
	b, _ := json.Marshal(meta)
	m.Metadata = string(b)
	s.messages[id] = m
	return nil
}

func (s *MemoryStore) MarkMessageSent(ctx context.Context, id, externalID string, at time.Time) error {
	if id == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.Status = MessageStatusSent
	sentAt := at
	m.SentAt = &sentAt
	if m.ExternalID == "" {
		m.ExternalID = externalID
	}
	s.messages[id] = m
	return nil
}

// Messages returns a copy of all stored messages, oldest first.
// Test helper.
func (s *MemoryStore) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Contacts returns a copy of all stored contacts. Test helper.
func (s *MemoryStore) Contacts() []Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, c)
	}
	return out
}

// Conversations returns a copy of all stored conversations. Test helper.
func (s *MemoryStore) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	return out
}
