package autoreply

import (
	"time"

	"inbox-platform/internal/inbox"
)

// Rule is a keyword-triggered canned response.
//
// Channel empty means the rule applies to every channel. Keywords match as
// case-insensitive substrings; the first matching rule in listing order wins
// and at most one auto-reply fires per inbound message.
type Rule struct {
	ID              string        `json:"id" db:"id"`
	Name            string        `json:"name" db:"name"`
	TriggerKeywords []string      `json:"trigger_keywords" db:"trigger_keywords"`
	ResponseText    string        `json:"response_text" db:"response_text"`
	IsActive        bool          `json:"is_active" db:"is_active"`
	Channel         inbox.Channel `json:"channel,omitempty" db:"channel"`
	CreatedBy       string        `json:"created_by,omitempty" db:"created_by"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
