package autoreply

import (
	"errors"
	"net/http"

	"inbox-platform/internal/auth"
	"inbox-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handler exposes rule management on the protected v1 API.
type Handler struct {
	Service *Service
}

func (h Handler) List(c *gin.Context) {
	log := logger.FromGin(c)

	rules, err := h.Service.List(c.Request.Context())
	if err != nil {
		log.Error("rule list failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (h Handler) Create(c *gin.Context) {
	log := logger.FromGin(c)
	ctx := c.Request.Context()

	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	createdBy, _ := auth.AgentID(ctx)
	rule, err := h.Service.Create(ctx, createdBy, req)
	if err != nil {
		if errors.Is(err, ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "name, response_text and trigger_keywords are required"})
			return
		}
		log.Error("rule create failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"rule": rule})
}

func (h Handler) Update(c *gin.Context) {
	log := logger.FromGin(c)

	var req UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	rule, err := h.Service.Update(c.Request.Context(), c.Param("id"), req)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	case errors.Is(err, ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid rule fields"})
		return
	default:
		log.Error("rule update failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule": rule})
}
