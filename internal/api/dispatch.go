package api

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// triggerDispatch runs one dispatch invocation for an external scheduler.
func (s *Server) triggerDispatch(c *gin.Context) {
	token := c.GetHeader("X-Dispatch-Token")
	if s.cfg.TriggerToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.TriggerToken)) != 1 {
		respondError(c, http.StatusUnauthorized, "Invalid dispatch token")
		return
	}

	// A dropped client connection does not interrupt the batch.
	summary, err := s.deps.Dispatcher.Run(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		body := gin.H{"error": err.Error()}
		if summary != nil {
			body["execution_id"] = summary.ExecutionID
		}
		c.JSON(http.StatusInternalServerError, body)
		return
	}
	c.JSON(http.StatusOK, summary)
}
