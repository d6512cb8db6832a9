package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const doctorThreadIntro = "System: This consultation thread was initiated by the patient. The following report summarizes the patient's AI assistant conversation and context."

type doctorThreadCreateRequest struct {
	SourceConversationID string `json:"sourceConversationId"`
	DoctorID             string `json:"doctorId"`
}

type doctorMessageCreateRequest struct {
	Content string `json:"content"`
}

type transcriptMessage struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

func (a *App) loadTranscript(ctx context.Context, conversationID string) ([]transcriptMessage, error) {
	rows, err := a.db.Query(
		ctx,
		`SELECT role, content, "createdAt" FROM "Message"
		 WHERE "conversationId" = $1
		 ORDER BY "createdAt" ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]transcriptMessage, 0, 16)
	for rows.Next() {
		var m transcriptMessage
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// deriveThreadTitle takes the first user message as the consultation title,
// capped at 60 bytes.
func deriveThreadTitle(messages []transcriptMessage) string {
	for _, m := range messages {
		if m.Role == "user" && strings.TrimSpace(m.Content) != "" {
			return truncate(m.Content, 60)
		}
	}
	return "Consultation"
}

// fetchReport asks this service's own report endpoint for a consultation
// summary, reusing the caller's bearer token. Any failure returns an empty
// report; the caller falls back to embedding the raw transcript.
func (a *App) fetchReport(ctx context.Context, authHeader, conversationID string) string {
	origin := strings.TrimSpace(a.cfg.SiteURL)
	if origin == "" {
		return ""
	}

	body, err := json.Marshal(gin.H{"conversation_id": conversationID})
	if err != nil {
		return ""
	}
	url := strings.TrimRight(origin, "/") + a.cfg.APIPrefix + "/reports"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return ""
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authHeader)

	resp, err := a.http.Do(req)
	if err != nil {
		log.Printf("report fetch failed for conversation %s: %v", conversationID, err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var payload struct {
		Report string `json:"report"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Report)
}

func transcriptFallback(messages []transcriptMessage) string {
	start := len(messages) - 10
	if start < 0 {
		start = 0
	}
	lines := make([]string, 0, 10)
	for _, m := range messages[start:] {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return "Report generation failed; including raw recent transcript.\n\n" + strings.Join(lines, "\n")
}

func (a *App) createDoctorThread(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload doctorThreadCreateRequest
	if !mustJSON(c, &payload) {
		return
	}
	sourceID := strings.TrimSpace(payload.SourceConversationID)
	if sourceID == "" {
		writeError(c, http.StatusBadRequest, "sourceConversationId required")
		return
	}

	conversation, err := a.loadConversationForUser(c.Request.Context(), user.ID, sourceID)
	if err != nil {
		a.writeHandlerError(c, err)
		return
	}

	transcript, err := a.loadTranscript(c.Request.Context(), conversation.ID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to create doctor thread")
		return
	}
	if len(transcript) == 0 {
		writeError(c, http.StatusBadRequest, "Source thread empty")
		return
	}

	summary := a.fetchReport(c.Request.Context(), c.GetHeader("Authorization"), conversation.ID)
	if summary == "" {
		summary = transcriptFallback(transcript)
	}

	var doctorRef any
	if doctorID := strings.TrimSpace(payload.DoctorID); doctorID != "" {
		doctorRef = doctorID
	}

	threadID := uuid.NewString()
	if _, err := a.db.Exec(
		c.Request.Context(),
		`INSERT INTO "DoctorThread" (id, "userId", "doctorId", "sourceConversationId", title, "createdAt")
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		threadID,
		user.ID,
		doctorRef,
		conversation.ID,
		deriveThreadTitle(transcript),
	); err != nil {
		log.Printf("doctor thread insert failed: %v", err)
		writeError(c, http.StatusInternalServerError, "Failed to create doctor thread")
		return
	}

	// The thread opens with two system messages: the intro and the report (or
	// transcript fallback), so the doctor has context before the patient types.
	for _, content := range []string{doctorThreadIntro, summary} {
		if _, err := a.db.Exec(
			c.Request.Context(),
			`INSERT INTO "DoctorMessage" (id, "doctorThreadId", "userId", role, content, "createdAt")
			 VALUES ($1, $2, NULL, 'system', $3, NOW())`,
			uuid.NewString(),
			threadID,
			content,
		); err != nil {
			log.Printf("doctor thread seed failed: %v", err)
			writeError(c, http.StatusInternalServerError, "Failed to create doctor thread")
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"doctorThreadId": threadID})
}

func (a *App) listDoctorThreads(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT id, "doctorId", "sourceConversationId", title, "createdAt"
		 FROM "DoctorThread"
		 WHERE "userId" = $1
		 ORDER BY "createdAt" DESC`,
		user.ID,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to fetch doctor threads")
		return
	}
	defer rows.Close()

	items := make([]gin.H, 0, 8)
	for rows.Next() {
		var id, title string
		var doctorID, sourceID *string
		var createdAt time.Time
		if err := rows.Scan(&id, &doctorID, &sourceID, &title, &createdAt); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to parse doctor threads")
			return
		}
		items = append(items, gin.H{
			"id":                     id,
			"doctor_id":              doctorID,
			"source_conversation_id": sourceID,
			"title":                  title,
			"created_at":             createdAt.UTC(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"threads": items})
}

func (a *App) loadDoctorThreadForUser(ctx context.Context, userID, threadID string) error {
	var id string
	err := a.db.QueryRow(
		ctx,
		`SELECT id FROM "DoctorThread" WHERE id = $1 AND "userId" = $2`,
		threadID,
		userID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return &httpError{Status: http.StatusNotFound, Detail: "Thread not found"}
	}
	return err
}

func (a *App) listDoctorMessages(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	threadID := strings.TrimSpace(c.Param("id"))

	if err := a.loadDoctorThreadForUser(c.Request.Context(), user.ID, threadID); err != nil {
		a.writeHandlerError(c, err)
		return
	}

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT id, role, content, "createdAt"
		 FROM "DoctorMessage"
		 WHERE "doctorThreadId" = $1
		 ORDER BY "createdAt" ASC`,
		threadID,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to fetch messages")
		return
	}
	defer rows.Close()

	items := make([]gin.H, 0, 16)
	for rows.Next() {
		var id, role, content string
		var createdAt time.Time
		if err := rows.Scan(&id, &role, &content, &createdAt); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to parse messages")
			return
		}
		items = append(items, gin.H{
			"id":         id,
			"role":       role,
			"content":    content,
			"created_at": createdAt.UTC(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"messages": items})
}

func (a *App) createDoctorMessage(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	threadID := strings.TrimSpace(c.Param("id"))

	var payload doctorMessageCreateRequest
	if !mustJSON(c, &payload) {
		return
	}
	if strings.TrimSpace(payload.Content) == "" {
		writeError(c, http.StatusBadRequest, "content required")
		return
	}

	if err := a.loadDoctorThreadForUser(c.Request.Context(), user.ID, threadID); err != nil {
		a.writeHandlerError(c, err)
		return
	}

	messageID := uuid.NewString()
	var createdAt time.Time
	err := a.db.QueryRow(
		c.Request.Context(),
		`INSERT INTO "DoctorMessage" (id, "doctorThreadId", "userId", role, content, "createdAt")
		 VALUES ($1, $2, $3, 'user', $4, NOW())
		 RETURNING "createdAt"`,
		messageID,
		threadID,
		user.ID,
		payload.Content,
	).Scan(&createdAt)
	if err != nil {
		log.Printf("doctor message insert failed: %v", err)
		writeError(c, http.StatusInternalServerError, "Failed to send message")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": gin.H{
			"id":               messageID,
			"doctor_thread_id": threadID,
			"role":             "user",
			"content":          payload.Content,
			"created_at":       createdAt.UTC(),
		},
	})
}
