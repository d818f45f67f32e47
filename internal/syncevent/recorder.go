package syncevent

import (
	"context"
	"encoding/json"
	"time"

	"inbox-platform/internal/inbox"

	"github.com/google/uuid"
)

// FirstRetryDelay is how long after a pipeline failure the first recovery
// attempt becomes due.
const FirstRetryDelay = time.Minute

// Recorder creates sync events. It is the single write path for pipeline
// failures and webhook audit records.
//
// Callers should treat recording as best-effort: a failing Recorder must
// never block a webhook acknowledgment.
type Recorder struct {
	store Store
	clock func() time.Time
	newID func() string
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, clock: time.Now, newID: uuid.NewString}
}

// RecordFailure captures a failed pipeline operation for later replay by the
// recovery job. The payload must carry everything needed to reprocess.
func (r *Recorder) RecordFailure(ctx context.Context, ch inbox.Channel, t EventType, payload any, errMsg string) (Event, error) {
	now := r.clock().UTC()
	next := now.Add(FirstRetryDelay)
	e := Event{
		ID:           r.newID(),
		Channel:      ch,
		EventType:    t,
		Status:       StatusPending,
		Payload:      marshalPayload(payload),
		ErrorMessage: errMsg,
		RetryCount:   0,
		NextRetryAt:  &next,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.store.Create(ctx, e); err != nil {
		return Event{}, err
	}
	return e, nil
}

// RecordAudit captures webhook traffic (verification attempts, raw bodies,
// handler panics) without scheduling a retry.
func (r *Recorder) RecordAudit(ctx context.Context, ch inbox.Channel, t EventType, status Status, payload any, errMsg string) error {
	now := r.clock().UTC()
	return r.store.Create(ctx, Event{
		ID:           r.newID(),
		Channel:      ch,
		EventType:    t,
		Status:       status,
		Payload:      marshalPayload(payload),
		ErrorMessage: errMsg,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func marshalPayload(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
