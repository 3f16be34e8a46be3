package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/autoreply-agent/internal/common"
	"github.com/suPer8Hu/autoreply-agent/internal/chat"
)

// TestAgent runs the generator against a single message without persisting
// anything or contacting a platform.
func (h *Handler) TestAgent(c *gin.Context) {
	var req struct {
		Message string `json:"message"`
	}
	// an empty body falls through to the missing message error
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message is required"})
		return
	}
	if h.App.Degraded() || h.App.Generator == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No agent configured"})
		return
	}
	a, err := h.currentAgent(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No agent configured"})
		return
	}

	history := []chat.Message{{Sender: chat.SenderCustomer, Content: msg}}
	out := h.App.Generator.Generate(c.Request.Context(), a, history, msg)
	c.JSON(http.StatusOK, gin.H{"response": out.Text})
}
