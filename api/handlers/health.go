package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mailpilot/mailpilot/interfaces"
)

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status reports the per-account connection and cursor state of the poller.
func Status(imapService interfaces.IMAPService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, imapService.Status())
	}
}
