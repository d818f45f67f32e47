package autoreply

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"inbox-platform/internal/inbox"

	"github.com/google/uuid"
)

// MessageWriter is the slice of the inbox store the engine needs.
type MessageWriter interface {
	CreateMessage(ctx context.Context, m inbox.Message) error
}

// Engine evaluates inbound content against active auto-reply rules and
// records a system-authored reply for the first match.
//
// The synthetic reply is stored only; it is not dispatched to the channel
// adapter. Agents see it in the thread either way.
type Engine struct {
	rules    Store
	messages MessageWriter
	clock    func() time.Time
	newID    func() string
	log      *slog.Logger
}

func NewEngine(rules Store, messages MessageWriter, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		rules:    rules,
		messages: messages,
		clock:    time.Now,
		newID:    uuid.NewString,
		log:      log,
	}
}

// Evaluate matches content against active rules for the channel and, on the
// first hit, inserts a system message with the rule's response text. The
// created message is returned, or nil when no rule matched. Empty content
// never matches.
func (e *Engine) Evaluate(ctx context.Context, conversationID string, ch inbox.Channel, content string) (*inbox.Message, error) {
	if conversationID == "" {
		return nil, ErrInvalidArgument
	}
	if content == "" {
		return nil, nil
	}

	rules, err := e.rules.ListActive(ctx, ch)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}

	haystack := strings.ToLower(content)
	for _, rule := range rules {
		if !matches(haystack, rule.TriggerKeywords) {
			continue
		}

		now := e.clock().UTC()
		sentAt := now
		msg := inbox.Message{
			ID:             e.newID(),
			ConversationID: conversationID,
			SenderType:     inbox.SenderTypeSystem,
			Content:        rule.ResponseText,
			MessageType:    inbox.MessageTypeText,
			Status:         inbox.MessageStatusSent,
			CreatedAt:      now,
			SentAt:         &sentAt,
		}
		if err := e.messages.CreateMessage(ctx, msg); err != nil {
			return nil, err
		}
		e.log.Info("auto-reply fired",
			"rule_id", rule.ID,
			"rule_name", rule.Name,
			"conversation_id", conversationID,
		)
		// Only one auto-reply fires per inbound message.
		return &msg, nil
	}
	return nil, nil
}

func matches(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.TrimSpace(strings.ToLower(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}
