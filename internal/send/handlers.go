package send

import (
	"encoding/json"
	"errors"
	"net/http"

	"inbox-platform/internal/auth"
	"inbox-platform/internal/inbox"
	"inbox-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handler exposes the outbound send endpoint.
type Handler struct {
	Service *Service
}

func (h Handler) Send(c *gin.Context) {
	log := logger.FromGin(c)
	ctx := c.Request.Context()

	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if req.SenderID == "" {
		if agentID, err := auth.AgentID(ctx); err == nil {
			req.SenderID = agentID
		}
	}

	res, err := h.Service.Send(ctx, req)
	switch {
	case err == nil:
	case errors.Is(err, inbox.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	case errors.Is(err, inbox.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	case errors.Is(err, ErrNoRecipient):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Contact phone number not found"})
		return
	default:
		var dispatch *DispatchError
		if errors.As(err, &dispatch) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "Failed to send message",
				"details": dispatch.Err.Error(),
			})
			return
		}
		log.Error("send failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	out := gin.H{"success": true, "message": res.Message}
	if res.ProviderRaw != "" && json.Valid([]byte(res.ProviderRaw)) {
		out["provider_response"] = json.RawMessage(res.ProviderRaw)
	}
	if res.Note != "" {
		out["note"] = res.Note
	}
	c.JSON(http.StatusOK, out)
}
