package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Identity carries the provider-side identity and profile fields used when a
// contact has to be created on first sight.
type Identity struct {
	// ExternalID is the provider identity (wa_id for WhatsApp). Empty for
	// email, where Email is the resolution key.
	ExternalID string
	Name       string
	Phone      string
	Email      string
	ProfilePic string
	// Metadata is an optional JSON document stored on the new contact.
	Metadata string
}

// Resolver performs the idempotent find-or-create resolution of contacts and
// open conversations.
//
// Find-or-create is a read-then-write sequence without transactional
// isolation: concurrent inbound events for the same unseen identity can race
// and create duplicates. The ingest layer's webhook dedupe narrows the
// window; the unique partial indexes are the backstop.
type Resolver struct {
	store Store
	clock func() time.Time
	newID func() string
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, clock: time.Now, newID: uuid.NewString}
}

// ResolveContact looks a contact up by its channel resolution key, creating
// it with the supplied profile fields when absent.
func (r *Resolver) ResolveContact(ctx context.Context, ch Channel, id Identity) (Contact, error) {
	if !ch.Valid() {
		return Contact{}, ErrInvalidArgument
	}

	var (
		existing Contact
		err      error
	)
	if ch == ChannelEmail {
		if id.Email == "" {
			return Contact{}, ErrInvalidArgument
		}
		existing, err = r.store.GetContactByEmail(ctx, ch, id.Email)
	} else {
		if id.ExternalID == "" {
			return Contact{}, ErrInvalidArgument
		}
		existing, err = r.store.GetContactByExternalID(ctx, ch, id.ExternalID)
	}
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Contact{}, err
	}

	now := r.clock().UTC()
	c := Contact{
		ID:            r.newID(),
		ExternalID:    id.ExternalID,
		Channel:       ch,
		Name:          id.Name,
		Phone:         id.Phone,
		Email:         id.Email,
		ProfilePicURL: id.ProfilePic,
		Metadata:      id.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.store.CreateContact(ctx, c); err != nil {
		return Contact{}, err
	}
	return c, nil
}

// ResolveOpenConversation returns the contact's open conversation, creating
// one when none exists. For chat channels groupingKey is empty; for email it
// is the subject line, which becomes part of the resolution key and is
// stored in the conversation metadata.
func (r *Resolver) ResolveOpenConversation(ctx context.Context, contactID string, ch Channel, groupingKey string) (Conversation, error) {
	if contactID == "" || !ch.Valid() {
		return Conversation{}, ErrInvalidArgument
	}

	existing, err := r.store.GetOpenConversation(ctx, contactID, groupingKey)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Conversation{}, err
	}

	now := r.clock().UTC()
	c := Conversation{
		ID:            r.newID(),
		ContactID:     contactID,
		Status:        ConversationStatusOpen,
		Priority:      0,
		Channel:       ch,
		LastMessageAt: now,
		GroupingKey:   groupingKey,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if groupingKey != "" {
		b, err := json.Marshal(map[string]string{"subject": groupingKey})
		if err != nil {
			return Conversation{}, err
		}
		c.Metadata = string(b)
	}
	if err := r.store.CreateConversation(ctx, c); err != nil {
		return Conversation{}, err
	}
	return c, nil
}
