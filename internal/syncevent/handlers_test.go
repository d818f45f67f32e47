package syncevent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"inbox-platform/internal/inbox"

	"github.com/gin-gonic/gin"
)

func cronRouter(t *testing.T, h CronHandler) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/cron/sync", h.Run)
	return r
}

func TestCronRun(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecovery(store, nil)
	rec.clock = fixedClock(time.Unix(1700000000, 0).UTC())
	rec.Register(inbox.ChannelWhatsApp, EventTypeMessageReceive, func(ctx context.Context, e Event) error {
		return nil
	})
	seedEvent(t, store, "ev-1", 0, time.Unix(1699990000, 0).UTC())
	seedEvent(t, store, "ev-2", 0, time.Unix(1699990001, 0).UTC())

	r := cronRouter(t, CronHandler{Recovery: rec, APIKey: "cron-secret"})

	req := httptest.NewRequest(http.MethodGet, "/cron/sync", nil)
	req.Header.Set("x-api-key", "cron-secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var body struct {
		Success        bool `json:"success"`
		ProcessedCount int  `json:"processedCount"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.ProcessedCount != 2 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestCronRun_RejectsBadKey(t *testing.T) {
	rec := NewRecovery(NewMemoryStore(), nil)

	cases := []struct {
		name   string
		apiKey string
		header string
	}{
		{"wrong key", "cron-secret", "nope"},
		{"missing header", "cron-secret", ""},
		{"unconfigured key", "", "anything"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := cronRouter(t, CronHandler{Recovery: rec, APIKey: tc.apiKey})

			req := httptest.NewRequest(http.MethodGet, "/cron/sync", nil)
			if tc.header != "" {
				req.Header.Set("x-api-key", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
		})
	}
}
