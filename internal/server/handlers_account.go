package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type updateMyAccountRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

func (a *App) getMyAccount(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var createdAt time.Time
	if err := a.db.QueryRow(
		c.Request.Context(),
		`SELECT "createdAt" FROM "User" WHERE id = $1`,
		user.ID,
	).Scan(&createdAt); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load account")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"name":       user.Name,
		"created_at": createdAt.UTC(),
	})
}

func (a *App) updateMyAccount(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload updateMyAccountRequest
	if !mustJSON(c, &payload) {
		return
	}

	name := user.Name
	if payload.Name != nil {
		trimmed := strings.TrimSpace(*payload.Name)
		if trimmed == "" {
			writeError(c, http.StatusBadRequest, "name cannot be empty")
			return
		}
		name = trimmed
	}

	email := user.Email
	if payload.Email != nil {
		trimmed := strings.TrimSpace(*payload.Email)
		if trimmed == "" {
			email = nil
		} else {
			if !strings.Contains(trimmed, "@") {
				writeError(c, http.StatusBadRequest, "email must be a valid address")
				return
			}
			email = &trimmed
		}
	}

	if _, err := a.db.Exec(
		c.Request.Context(),
		`UPDATE "User" SET name = $2, email = $3 WHERE id = $1`,
		user.ID,
		name,
		email,
	); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to update account")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":    user.ID,
		"name":  name,
		"email": email,
	})
}

func (a *App) getMyUsage(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	now := time.Now().UTC()
	count, err := a.countMessagesToday(c.Request.Context(), a.db, user.ID, now)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load usage")
		return
	}

	var totalFiles int
	if err := a.db.QueryRow(
		c.Request.Context(),
		`SELECT COUNT(*)::int FROM "UploadedFile" WHERE "userId" = $1`,
		user.ID,
	).Scan(&totalFiles); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load usage")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"day":                startOfUTCDay(now).Format("2006-01-02"),
		"messages_used":      count,
		"messages_limit":     dailyMessageLimit,
		"messages_remaining": maxInt(dailyMessageLimit-count, 0),
		"files_used":         totalFiles,
		"files_limit":        maxFilesPerUser,
	})
}

// exportMyData returns everything the service stores for the caller as one
// JSON document.
func (a *App) exportMyData(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	ctx := c.Request.Context()

	conversations, err := a.exportConversations(ctx, user.ID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to export conversations")
		return
	}
	files, err := a.exportFiles(ctx, user.ID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to export files")
		return
	}
	threads, err := a.exportDoctorThreads(ctx, user.ID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to export doctor threads")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exported_at": time.Now().UTC(),
		"user": gin.H{
			"id":    user.ID,
			"email": user.Email,
			"name":  user.Name,
		},
		"conversations":  conversations,
		"files":          files,
		"doctor_threads": threads,
	})
}

func (a *App) exportConversations(ctx context.Context, userID string) ([]gin.H, error) {
	rows, err := a.db.Query(
		ctx,
		`SELECT id, title, "createdAt", "updatedAt" FROM "Conversation"
		 WHERE "userId" = $1 ORDER BY "createdAt" ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]gin.H, 0, 16)
	for rows.Next() {
		var id, title string
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&id, &title, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		items = append(items, gin.H{
			"id":         id,
			"title":      title,
			"created_at": createdAt.UTC(),
			"updated_at": updatedAt.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, item := range items {
		messages, err := a.loadConversationMessages(ctx, item["id"].(string))
		if err != nil {
			return nil, err
		}
		item["messages"] = messages
	}
	return items, nil
}

func (a *App) exportFiles(ctx context.Context, userID string) ([]gin.H, error) {
	rows, err := a.db.Query(
		ctx,
		`SELECT id, "conversationId", "messageId", "fileName", "fileSize", "fileType", "createdAt"
		 FROM "UploadedFile"
		 WHERE "userId" = $1 ORDER BY "createdAt" ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]gin.H, 0, 8)
	for rows.Next() {
		var id, fileName, fileType string
		var conversationID, messageID *string
		var fileSize int64
		var createdAt time.Time
		if err := rows.Scan(&id, &conversationID, &messageID, &fileName, &fileSize, &fileType, &createdAt); err != nil {
			return nil, err
		}
		items = append(items, gin.H{
			"id":              id,
			"conversation_id": conversationID,
			"message_id":      messageID,
			"file_name":       fileName,
			"file_size":       fileSize,
			"file_type":       fileType,
			"created_at":      createdAt.UTC(),
		})
	}
	return items, rows.Err()
}

func (a *App) exportDoctorThreads(ctx context.Context, userID string) ([]gin.H, error) {
	rows, err := a.db.Query(
		ctx,
		`SELECT
			t.id,
			t.title,
			t."sourceConversationId",
			t."createdAt",
			COALESCE(
				(SELECT json_agg(json_build_object(
					'id', m.id,
					'role', m.role,
					'content', m.content,
					'created_at', m."createdAt"
				) ORDER BY m."createdAt")
				 FROM "DoctorMessage" m
				 WHERE m."doctorThreadId" = t.id),
				'[]'
			)
		 FROM "DoctorThread" t
		 WHERE t."userId" = $1
		 ORDER BY t."createdAt" ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]gin.H, 0, 4)
	for rows.Next() {
		var id, title string
		var sourceID *string
		var createdAt time.Time
		var messagesRaw []byte
		if err := rows.Scan(&id, &title, &sourceID, &createdAt, &messagesRaw); err != nil {
			return nil, err
		}
		var messages []map[string]any
		_ = json.Unmarshal(messagesRaw, &messages)
		items = append(items, gin.H{
			"id":                     id,
			"title":                  title,
			"source_conversation_id": sourceID,
			"created_at":             createdAt.UTC(),
			"messages":               messages,
		})
	}
	return items, rows.Err()
}
