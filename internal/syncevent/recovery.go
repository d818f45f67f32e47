package syncevent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"inbox-platform/internal/inbox"
	"inbox-platform/internal/retry"
)

const (
	// MaxRetries is the terminal retry count: an event whose incremented
	// retry_count reaches this value fails permanently.
	MaxRetries = 5
	// BatchSize bounds one recovery run.
	BatchSize = 50

	terminalErrorMessage = "exceeded maximum retry attempts"
)

// Handler replays one captured event. A returned error consumes a retry.
type Handler func(ctx context.Context, e Event) error

// HandlerKey dispatches on the event's channel and type.
type HandlerKey struct {
	Channel   inbox.Channel
	EventType EventType
}

// Recovery is the cron-triggered job that retries pending sync events with
// exponential backoff.
//
// Events are processed sequentially; one event's failure never aborts the
// batch.
type Recovery struct {
	store    Store
	handlers map[HandlerKey]Handler
	policy   retry.Policy
	clock    func() time.Time
	log      *slog.Logger
}

func NewRecovery(store Store, log *slog.Logger) *Recovery {
	if log == nil {
		log = slog.Default()
	}
	return &Recovery{
		store:    store,
		handlers: map[HandlerKey]Handler{},
		policy: retry.Policy{
			MaxRetries: MaxRetries,
			BaseDelay:  time.Second,
			MaxDelay:   time.Hour,
		},
		clock: time.Now,
		log:   log,
	}
}

// Register installs the replay handler for a (channel, event type) pair.
func (r *Recovery) Register(ch inbox.Channel, t EventType, h Handler) {
	r.handlers[HandlerKey{Channel: ch, EventType: t}] = h
}

// ProcessPending runs one recovery cycle and returns the number of events
// completed in it.
func (r *Recovery) ProcessPending(ctx context.Context) (int, error) {
	now := r.clock().UTC()
	due, err := r.store.ListDue(ctx, now, BatchSize)
	if err != nil {
		return 0, fmt.Errorf("syncevent: listing due events: %w", err)
	}

	processed := 0
	for _, e := range due {
		if err := r.processOne(ctx, e); err != nil {
			r.log.Warn("sync event retry failed",
				"event_id", e.ID,
				"channel", e.Channel,
				"event_type", e.EventType,
				"retry_count", e.RetryCount,
				"err", err,
			)
			continue
		}
		processed++
	}
	return processed, nil
}

func (r *Recovery) processOne(ctx context.Context, e Event) error {
	now := r.clock().UTC()
	if err := r.store.MarkProcessing(ctx, e.ID, now); err != nil {
		return err
	}

	attemptErr := r.attempt(ctx, e)
	if attemptErr == nil {
		if err := r.store.MarkCompleted(ctx, e.ID, r.clock().UTC()); err != nil {
			return err
		}
		r.log.Info("sync event recovered", "event_id", e.ID, "channel", e.Channel, "event_type", e.EventType)
		return nil
	}

	retryCount := e.RetryCount + 1
	now = r.clock().UTC()
	if retryCount >= MaxRetries {
		if err := r.store.MarkFailed(ctx, e.ID, retryCount, terminalErrorMessage, now); err != nil {
			return err
		}
		return fmt.Errorf("permanently failed after %d retries: %w", retryCount, attemptErr)
	}

	next := r.policy.NextRetryAt(now, retryCount)
	if err := r.store.Reschedule(ctx, e.ID, retryCount, next, attemptErr.Error(), now); err != nil {
		return err
	}
	return attemptErr
}

// attempt dispatches to the registered handler, converting panics into
// errors so a bad payload consumes a retry instead of killing the batch.
func (r *Recovery) attempt(ctx context.Context, e Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()

	h, ok := r.handlers[HandlerKey{Channel: e.Channel, EventType: e.EventType}]
	if !ok {
		return fmt.Errorf("no handler for channel=%s event_type=%s", e.Channel, e.EventType)
	}
	return h(ctx, e)
}
