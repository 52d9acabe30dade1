package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dify-portal/golang/relay"
)

// apiChatStream validates the request, then hands off to the relay and
// frames its events as server-sent events. Validation failures are plain
// JSON errors; once streaming starts, failures can only be reported as a
// terminal error event.
func (s *Server) apiChatStream(c *gin.Context) {
	u, ok := s.currentUser(c)
	if !ok {
		return
	}

	if s.cfg.UpstreamBase == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upstream API base not set"})
		return
	}
	apiKey := s.cfg.APIKeyFor(u.ModelKey)
	if apiKey == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "API key not set"})
		return
	}

	var body struct {
		Message  string `json:"message"`
		ThreadID string `json:"thread_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid params"})
		return
	}
	message := strings.TrimSpace(body.Message)
	if message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // disable nginx buffering
	c.Writer.WriteHeaderNow()

	emit := func(event string, data any) {
		payload, err := json.Marshal(data)
		if err != nil {
			s.logger.Error("event encode failed", "event", event, "error", err)
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, payload)
		c.Writer.Flush()
	}

	s.relay.Run(c.Request.Context(), relay.Params{
		UserID:   u.UserID,
		ModelKey: u.ModelKey,
		APIKey:   apiKey,
		Message:  message,
		ThreadID: strings.TrimSpace(body.ThreadID),
	}, emit)
}
