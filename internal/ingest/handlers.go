package ingest

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"inbox-platform/internal/inbox"
	"inbox-platform/internal/syncevent"
	"inbox-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// WebhookHandler exposes the provider-facing endpoints. It converts HTTP to
// pipeline calls and audits traffic; no business logic here.
type WebhookHandler struct {
	Pipeline *Pipeline
	Recorder *syncevent.Recorder

	// WhatsAppVerifyToken is the secret echoed during the subscription
	// handshake.
	WhatsAppVerifyToken string
	// EmailAPIKey guards the inbound email endpoint.
	EmailAPIKey string
}

// VerifyWhatsApp handles the Cloud API subscription handshake: on a valid
// token the literal challenge is echoed back. Both outcomes are audited
// best-effort.
func (h WebhookHandler) VerifyWhatsApp(c *gin.Context) {
	log := logger.FromGin(c)
	ctx := c.Request.Context()

	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	audit := map[string]any{"mode": mode, "timestamp": time.Now().UTC().Format(time.RFC3339)}

	if mode == "subscribe" && tokenMatches(token, h.WhatsAppVerifyToken) {
		if err := h.Recorder.RecordAudit(ctx, inbox.ChannelWhatsApp, syncevent.EventTypeWebhookVerification, syncevent.StatusCompleted, audit, ""); err != nil {
			log.Warn("verification audit failed", "err", err)
		}
		c.String(http.StatusOK, challenge)
		return
	}

	log.Warn("webhook verification rejected", "mode", mode)
	if err := h.Recorder.RecordAudit(ctx, inbox.ChannelWhatsApp, syncevent.EventTypeWebhookVerification, syncevent.StatusFailed, audit, "token incorrect or invalid mode"); err != nil {
		log.Warn("verification audit failed", "err", err)
	}
	c.String(http.StatusForbidden, "Verification failed")
}

// ReceiveWhatsApp ingests the webhook body. The raw payload is audited
// before parsing; per-message failures are captured inside the pipeline and
// the webhook is acknowledged regardless.
func (h WebhookHandler) ReceiveWhatsApp(c *gin.Context) {
	log := logger.FromGin(c)
	ctx := c.Request.Context()

	defer func() {
		if p := recover(); p != nil {
			errMsg := fmt.Sprintf("panic: %v", p)
			if err := h.Recorder.RecordAudit(ctx, inbox.ChannelWhatsApp, syncevent.EventTypeWebhookError, syncevent.StatusFailed, map[string]any{"error": errMsg}, errMsg); err != nil {
				log.Error("webhook error audit failed", "err", err)
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
	}()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	if err := h.Recorder.RecordAudit(ctx, inbox.ChannelWhatsApp, syncevent.EventTypeWebhookReceived, syncevent.StatusReceived, string(body), ""); err != nil {
		log.Warn("webhook audit failed", "err", err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Warn("webhook body parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if err := h.Pipeline.ProcessEnvelope(ctx, env); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Unsupported event type"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ReceiveEmail ingests an inbound email posted by the email provider.
// Processing failures are captured as sync events and the webhook is still
// acknowledged.
func (h WebhookHandler) ReceiveEmail(c *gin.Context) {
	log := logger.FromGin(c)
	ctx := c.Request.Context()

	if !tokenMatches(c.GetHeader("x-api-key"), h.EmailAPIKey) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var email InboundEmail
	if err := c.ShouldBindJSON(&email); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if email.From.Email == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from email is required"})
		return
	}

	if err := h.Pipeline.ProcessEmail(ctx, email); err != nil {
		log.Error("email ingestion failed", "from", email.From.Email, "err", err)
		if _, recErr := h.Recorder.RecordFailure(ctx, inbox.ChannelEmail, syncevent.EventTypeMessageReceive, email, err.Error()); recErr != nil {
			log.Error("sync event record failed", "err", recErr)
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func tokenMatches(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
