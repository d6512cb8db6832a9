package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type reportRequest struct {
	ConversationID string `json:"conversation_id"`
}

// generateReport summarizes a conversation transcript into a consultation
// report for a doctor. The composer degrades to fallback copy on upstream
// failure, so the endpoint still returns 200 with usable text.
func (a *App) generateReport(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload reportRequest
	if !mustJSON(c, &payload) {
		return
	}
	conversationID := strings.TrimSpace(payload.ConversationID)
	if conversationID == "" {
		writeError(c, http.StatusBadRequest, "conversation_id required")
		return
	}

	conversation, err := a.loadConversationForUser(c.Request.Context(), user.ID, conversationID)
	if err != nil {
		a.writeHandlerError(c, err)
		return
	}

	transcript, err := a.loadTranscript(c.Request.Context(), conversation.ID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to generate report")
		return
	}
	if len(transcript) == 0 {
		writeError(c, http.StatusBadRequest, "Source thread empty")
		return
	}

	lines := make([]string, 0, len(transcript))
	for _, m := range transcript {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	instruction := "Summarize the following patient conversation into a concise consultation report for a doctor. " +
		"Cover the patient's reported symptoms, relevant history mentioned, and questions asked. " +
		"Use markdown with short sections. Do not invent facts not present in the transcript."

	composed := a.ai.Compose(c.Request.Context(), instruction, lines)

	c.JSON(http.StatusOK, gin.H{
		"report":          composed.Response,
		"conversation_id": conversation.ID,
		"generated_at":    time.Now().UTC(),
	})
}
