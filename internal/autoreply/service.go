package autoreply

import (
	"context"
	"strings"
	"time"

	"inbox-platform/internal/inbox"

	"github.com/google/uuid"
)

// Service exposes rule management to the dashboard API.
type Service struct {
	store Store
	clock func() time.Time
	newID func() string
}

func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now, newID: uuid.NewString}
}

type CreateRuleRequest struct {
	Name            string        `json:"name"`
	TriggerKeywords []string      `json:"trigger_keywords"`
	ResponseText    string        `json:"response_text"`
	IsActive        *bool         `json:"is_active,omitempty"`
	Channel         inbox.Channel `json:"channel,omitempty"`
}

type UpdateRuleRequest struct {
	Name            *string        `json:"name,omitempty"`
	TriggerKeywords *[]string      `json:"trigger_keywords,omitempty"`
	ResponseText    *string        `json:"response_text,omitempty"`
	IsActive        *bool          `json:"is_active,omitempty"`
	Channel         *inbox.Channel `json:"channel,omitempty"`
}

func (s *Service) List(ctx context.Context) ([]Rule, error) {
	return s.store.List(ctx)
}

func (s *Service) Create(ctx context.Context, createdBy string, req CreateRuleRequest) (Rule, error) {
	keywords := normalizeKeywords(req.TriggerKeywords)
	if req.Name == "" || req.ResponseText == "" || len(keywords) == 0 {
		return Rule{}, ErrInvalidArgument
	}
	if req.Channel != "" && !req.Channel.Valid() {
		return Rule{}, ErrInvalidArgument
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	now := s.clock().UTC()
	r := Rule{
		ID:              s.newID(),
		Name:            req.Name,
		TriggerKeywords: keywords,
		ResponseText:    req.ResponseText,
		IsActive:        active,
		Channel:         req.Channel,
		CreatedBy:       createdBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func (s *Service) Update(ctx context.Context, id string, req UpdateRuleRequest) (Rule, error) {
	if id == "" {
		return Rule{}, ErrInvalidArgument
	}
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return Rule{}, err
	}

	if req.Name != nil {
		if *req.Name == "" {
			return Rule{}, ErrInvalidArgument
		}
		r.Name = *req.Name
	}
	if req.TriggerKeywords != nil {
		keywords := normalizeKeywords(*req.TriggerKeywords)
		if len(keywords) == 0 {
			return Rule{}, ErrInvalidArgument
		}
		r.TriggerKeywords = keywords
	}
	if req.ResponseText != nil {
		if *req.ResponseText == "" {
			return Rule{}, ErrInvalidArgument
		}
		r.ResponseText = *req.ResponseText
	}
	if req.IsActive != nil {
		r.IsActive = *req.IsActive
	}
	if req.Channel != nil {
		if *req.Channel != "" && !req.Channel.Valid() {
			return Rule{}, ErrInvalidArgument
		}
		r.Channel = *req.Channel
	}

	r.UpdatedAt = s.clock().UTC()
	if err := s.store.Update(ctx, r); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, kw := range in {
		kw = strings.TrimSpace(kw)
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}
