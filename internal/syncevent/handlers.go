package syncevent

import (
	"crypto/subtle"
	"net/http"

	"inbox-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CronHandler runs the recovery job on demand. The endpoint is called by an
// external scheduler and guarded by a shared API key.
type CronHandler struct {
	Recovery *Recovery
	APIKey   string
}

func (h CronHandler) Run(c *gin.Context) {
	log := logger.FromGin(c)

	key := c.GetHeader("x-api-key")
	if h.APIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.APIKey)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	processed, err := h.Recovery.ProcessPending(c.Request.Context())
	if err != nil {
		log.Error("recovery run failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "processedCount": processed})
}
