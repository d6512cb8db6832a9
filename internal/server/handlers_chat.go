package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"healthmate/backend/internal/knowledge"
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

// chat runs the assistant pipeline: daily quota, knowledge lookup, compose,
// post-process. Composer failures degrade to fallback copy inside Compose, so
// the only error statuses here are auth, quota, and quota-infrastructure.
func (a *App) chat(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	var payload chatRequest
	if !mustJSON(c, &payload) {
		return
	}

	allowed, err := a.recordUserMessage(c.Request.Context(), user.ID, payload.Message, time.Now().UTC())
	if err != nil {
		log.Printf("daily quota check failed for user %s: %v", user.ID, err)
		writeError(c, http.StatusInternalServerError, "Failed to check rate limit")
		return
	}
	if !allowed {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"rateLimitExceeded": true,
			"error":             "Daily message limit exceeded. You can send 8 messages per day.",
		})
		return
	}

	lookup := knowledge.Search(payload.Message)
	composed := a.ai.Compose(c.Request.Context(), payload.Message, lookup.Snippets)

	// Knowledge sources are merged in only when the lookup actually
	// contributed context; otherwise the composer's attribution stands alone.
	finalSources := composed.Sources
	if len(lookup.Snippets) > 0 {
		finalSources = mergeSources(lookup.Sources, composed.Sources)
	}

	c.JSON(http.StatusOK, gin.H{
		"response":  postProcessResponse(composed.Response),
		"sources":   finalSources,
		"timestamp": time.Now().UTC(),
	})
}
