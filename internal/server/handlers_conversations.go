package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type conversationRecord struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type conversationCreateRequest struct {
	Title string `json:"title"`
}

type conversationUpdateRequest struct {
	Title string `json:"title"`
}

type messageCreateRequest struct {
	Content string   `json:"content"`
	Role    string   `json:"role"`
	Sources []string `json:"sources"`
	FileIDs []string `json:"fileIds"`
}

func (a *App) loadConversationForUser(ctx context.Context, userID, conversationID string) (conversationRecord, error) {
	record := conversationRecord{}
	err := a.db.QueryRow(
		ctx,
		`SELECT id, "userId", title, "createdAt", "updatedAt"
		 FROM "Conversation"
		 WHERE id = $1 AND "userId" = $2`,
		conversationID,
		userID,
	).Scan(&record.ID, &record.UserID, &record.Title, &record.CreatedAt, &record.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return conversationRecord{}, &httpError{Status: http.StatusNotFound, Detail: "Conversation not found"}
	}
	if err != nil {
		return conversationRecord{}, err
	}
	return record, nil
}

func (a *App) listConversations(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT
			c.id,
			c.title,
			c."createdAt",
			c."updatedAt",
			(SELECT COUNT(*)::int FROM "Message" m WHERE m."conversationId" = c.id) AS message_count
		 FROM "Conversation" c
		 WHERE c."userId" = $1
		 ORDER BY c."updatedAt" DESC`,
		user.ID,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to fetch conversations")
		return
	}
	defer rows.Close()

	items := make([]gin.H, 0, 16)
	for rows.Next() {
		var id, title string
		var createdAt, updatedAt time.Time
		var messageCount int
		if err := rows.Scan(&id, &title, &createdAt, &updatedAt, &messageCount); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to parse conversations")
			return
		}
		items = append(items, gin.H{
			"id":            id,
			"title":         title,
			"created_at":    createdAt.UTC(),
			"updated_at":    updatedAt.UTC(),
			"message_count": messageCount,
		})
	}

	c.JSON(http.StatusOK, gin.H{"conversations": items})
}

func (a *App) createConversation(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload conversationCreateRequest
	if !mustJSON(c, &payload) {
		return
	}
	title := strings.TrimSpace(payload.Title)
	if title == "" {
		title = "New Conversation"
	}

	conversationID := uuid.NewString()
	var createdAt time.Time
	err := a.db.QueryRow(
		c.Request.Context(),
		`INSERT INTO "Conversation" (id, "userId", title, "createdAt", "updatedAt")
		 VALUES ($1, $2, $3, NOW(), NOW())
		 RETURNING "createdAt"`,
		conversationID,
		user.ID,
		title,
	).Scan(&createdAt)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to create conversation")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation": gin.H{
			"id":         conversationID,
			"title":      title,
			"created_at": createdAt.UTC(),
		},
	})
}

func (a *App) getConversation(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conversation, err := a.loadConversationForUser(c.Request.Context(), user.ID, strings.TrimSpace(c.Param("id")))
	if err != nil {
		a.writeHandlerError(c, err)
		return
	}

	messages, err := a.loadConversationMessages(c.Request.Context(), conversation.ID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load messages")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation": gin.H{
			"id":         conversation.ID,
			"title":      conversation.Title,
			"created_at": conversation.CreatedAt.UTC(),
			"updated_at": conversation.UpdatedAt.UTC(),
			"messages":   messages,
		},
	})
}

func (a *App) loadConversationMessages(ctx context.Context, conversationID string) ([]gin.H, error) {
	rows, err := a.db.Query(
		ctx,
		`SELECT
			m.id,
			m.role,
			m.content,
			m."sourcesJson",
			m."createdAt",
			COALESCE(
				(SELECT json_agg(json_build_object(
					'id', f.id,
					'file_name', f."fileName",
					'file_size', f."fileSize",
					'file_type', f."fileType"
				) ORDER BY f."createdAt")
				 FROM "UploadedFile" f
				 WHERE f."messageId" = m.id),
				'[]'
			)
		 FROM "Message" m
		 WHERE m."conversationId" = $1
		 ORDER BY m."createdAt" ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]gin.H, 0, 16)
	for rows.Next() {
		var id, role, content string
		var sourcesRaw, filesRaw []byte
		var createdAt time.Time
		if err := rows.Scan(&id, &role, &content, &sourcesRaw, &createdAt, &filesRaw); err != nil {
			return nil, err
		}
		item := gin.H{
			"id":         id,
			"role":       role,
			"content":    content,
			"created_at": createdAt.UTC(),
		}
		if sources := parseJSONStringList(sourcesRaw); sources != nil {
			item["sources"] = sources
		}
		var attachedFiles []map[string]any
		if err := json.Unmarshal(filesRaw, &attachedFiles); err == nil && len(attachedFiles) > 0 {
			item["files"] = attachedFiles
		}
		items = append(items, item)
	}
	return items, nil
}

func (a *App) updateConversation(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload conversationUpdateRequest
	if !mustJSON(c, &payload) {
		return
	}
	title := strings.TrimSpace(payload.Title)
	if title == "" {
		writeError(c, http.StatusBadRequest, "title is required")
		return
	}

	tag, err := a.db.Exec(
		c.Request.Context(),
		`UPDATE "Conversation" SET title = $3, "updatedAt" = NOW()
		 WHERE id = $1 AND "userId" = $2`,
		strings.TrimSpace(c.Param("id")),
		user.ID,
		title,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to update conversation")
		return
	}
	if tag.RowsAffected() == 0 {
		writeError(c, http.StatusNotFound, "Conversation not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation": gin.H{
			"id":    strings.TrimSpace(c.Param("id")),
			"title": title,
		},
	})
}

// deleteConversation removes the conversation's blobs from storage first,
// then lets the row delete cascade over messages and file metadata.
func (a *App) deleteConversation(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))

	conversation, err := a.loadConversationForUser(c.Request.Context(), user.ID, conversationID)
	if err != nil {
		a.writeHandlerError(c, err)
		return
	}

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT "filePath" FROM "UploadedFile" WHERE "conversationId" = $1`,
		conversation.ID,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to delete conversation")
		return
	}
	paths := make([]string, 0, 4)
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			writeError(c, http.StatusInternalServerError, "Failed to delete conversation")
			return
		}
		paths = append(paths, path)
	}
	rows.Close()

	for _, path := range paths {
		if err := a.files.Delete(c.Request.Context(), path); err != nil {
			log.Printf("storage cleanup failed for %s: %v", path, err)
		}
	}

	if _, err := a.db.Exec(
		c.Request.Context(),
		`DELETE FROM "Conversation" WHERE id = $1 AND "userId" = $2`,
		conversation.ID,
		user.ID,
	); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to delete conversation")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Conversation deleted successfully"})
}

func (a *App) createMessage(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload messageCreateRequest
	if !mustJSON(c, &payload) {
		return
	}

	conversation, err := a.loadConversationForUser(c.Request.Context(), user.ID, strings.TrimSpace(c.Param("id")))
	if err != nil {
		a.writeHandlerError(c, err)
		return
	}

	role := strings.ToLower(strings.TrimSpace(payload.Role))
	if role == "" {
		role = "user"
	}
	if role != "user" && role != "assistant" && role != "system" {
		writeError(c, http.StatusBadRequest, "role must be one of: user, assistant, system")
		return
	}

	var sourcesRef any
	if len(payload.Sources) > 0 {
		encoded, err := json.Marshal(payload.Sources)
		if err != nil {
			writeError(c, http.StatusBadRequest, "Invalid sources payload")
			return
		}
		sourcesRef = string(encoded)
	}

	messageID := uuid.NewString()
	var createdAt time.Time
	err = a.db.QueryRow(
		c.Request.Context(),
		`INSERT INTO "Message" (id, "conversationId", role, content, "sourcesJson", "createdAt")
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 RETURNING "createdAt"`,
		messageID,
		conversation.ID,
		role,
		payload.Content,
		sourcesRef,
	).Scan(&createdAt)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to create message")
		return
	}

	// Attach previously uploaded files to this message. A linking failure is
	// logged but does not fail the message create, matching the original flow.
	if len(payload.FileIDs) > 0 {
		if _, err := a.db.Exec(
			c.Request.Context(),
			`UPDATE "UploadedFile" SET "messageId" = $1
			 WHERE id = ANY($2) AND "userId" = $3`,
			messageID,
			payload.FileIDs,
			user.ID,
		); err != nil {
			log.Printf("file linking failed for message %s: %v", messageID, err)
		}
	}

	if _, err := a.db.Exec(
		c.Request.Context(),
		`UPDATE "Conversation" SET "updatedAt" = NOW() WHERE id = $1`,
		conversation.ID,
	); err != nil {
		log.Printf("conversation timestamp bump failed for %s: %v", conversation.ID, err)
	}

	c.JSON(http.StatusOK, gin.H{
		"message": gin.H{
			"id":              messageID,
			"conversation_id": conversation.ID,
			"role":            role,
			"content":         payload.Content,
			"created_at":      createdAt.UTC(),
		},
	})
}

func parseJSONStringList(input []byte) []string {
	if len(input) == 0 {
		return nil
	}
	var result []string
	if err := json.Unmarshal(input, &result); err != nil {
		return nil
	}
	return result
}
