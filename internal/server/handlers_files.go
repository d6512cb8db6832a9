package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	maxFilesPerMessage = 3
	maxFilesPerUser    = 8
	maxFileSizeBytes   = 10 * 1024 * 1024
	fileURLExpiry      = time.Hour
)

var allowedFileTypes = map[string]struct{}{
	"application/pdf":    {},
	"image/jpeg":         {},
	"image/png":          {},
	"image/jpg":          {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
}

// checkUploadLimits counts existing rows and compares against the per-user and
// per-message ceilings. This is deliberately check-then-act without a lock:
// concurrent uploads can race past it, matching the original behavior.
func (a *App) checkUploadLimits(ctx context.Context, userID, messageID string, filesToAdd int) (bool, string, error) {
	var totalFiles int
	if err := a.db.QueryRow(
		ctx,
		`SELECT COUNT(*)::int FROM "UploadedFile" WHERE "userId" = $1`,
		userID,
	).Scan(&totalFiles); err != nil {
		return false, "", err
	}
	if totalFiles+filesToAdd > maxFilesPerUser {
		return false, "Maximum 8 files total per user", nil
	}

	if strings.TrimSpace(messageID) != "" {
		var messageFiles int
		if err := a.db.QueryRow(
			ctx,
			`SELECT COUNT(*)::int FROM "UploadedFile" WHERE "messageId" = $1`,
			messageID,
		).Scan(&messageFiles); err != nil {
			return false, "", err
		}
		if messageFiles+filesToAdd > maxFilesPerMessage {
			return false, "Maximum 3 files allowed per message", nil
		}
	}

	return true, "", nil
}

func validateUploadFile(header *multipart.FileHeader) error {
	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if _, ok := allowedFileTypes[contentType]; !ok {
		return fmt.Errorf("File type %s not allowed", contentType)
	}
	if header.Size > maxFileSizeBytes {
		return errors.New("File size must be less than 10MB")
	}
	return nil
}

func (a *App) uploadFiles(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		writeError(c, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	files := form.File["files"]
	conversationID := strings.TrimSpace(c.PostForm("conversationId"))
	messageID := strings.TrimSpace(c.PostForm("messageId"))

	if len(files) == 0 {
		writeError(c, http.StatusBadRequest, "No files provided")
		return
	}
	if len(files) > maxFilesPerMessage {
		writeError(c, http.StatusBadRequest, "Maximum 3 files per message")
		return
	}

	allowed, reason, err := a.checkUploadLimits(c.Request.Context(), user.ID, messageID, len(files))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to check upload limits")
		return
	}
	if !allowed {
		writeError(c, http.StatusBadRequest, reason)
		return
	}

	if conversationID != "" {
		if _, err := a.loadConversationForUser(c.Request.Context(), user.ID, conversationID); err != nil {
			a.writeHandlerError(c, err)
			return
		}
	}

	for _, header := range files {
		if err := validateUploadFile(header); err != nil {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	uploaded := make([]gin.H, 0, len(files))
	for _, header := range files {
		record, err := a.storeUploadedFile(c.Request.Context(), user.ID, conversationID, messageID, header)
		if err != nil {
			a.writeHandlerError(c, err)
			return
		}
		uploaded = append(uploaded, record)
	}

	c.JSON(http.StatusOK, gin.H{"files": uploaded})
}

// storeUploadedFile writes the blob first and the metadata row second. When
// the insert fails the blob is removed best-effort so storage does not keep
// orphans; a failed cleanup is logged, not retried.
func (a *App) storeUploadedFile(
	ctx context.Context,
	userID, conversationID, messageID string,
	header *multipart.FileHeader,
) (gin.H, error) {
	src, err := header.Open()
	if err != nil {
		return nil, &httpError{Status: http.StatusBadRequest, Detail: "Failed to read uploaded file"}
	}
	defer src.Close()

	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	key := fmt.Sprintf(
		"%s/%d-%s%s",
		userID,
		time.Now().UnixMilli(),
		truncate(uuid.NewString(), 8),
		filepath.Ext(header.Filename),
	)

	if err := a.files.Put(ctx, key, src, header.Size, contentType); err != nil {
		log.Printf("file upload to storage failed: %v", err)
		return nil, &httpError{Status: http.StatusInternalServerError, Detail: "Failed to upload file"}
	}

	var conversationRef, messageRef any
	if conversationID != "" {
		conversationRef = conversationID
	}
	if messageID != "" {
		messageRef = messageID
	}

	fileID := uuid.NewString()
	var createdAt time.Time
	err = a.db.QueryRow(
		ctx,
		`INSERT INTO "UploadedFile" (
			id, "userId", "conversationId", "messageId", "fileName", "filePath", "fileSize", "fileType", "createdAt"
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING "createdAt"`,
		fileID,
		userID,
		conversationRef,
		messageRef,
		header.Filename,
		key,
		header.Size,
		contentType,
	).Scan(&createdAt)
	if err != nil {
		log.Printf("file metadata insert failed: %v", err)
		if cleanupErr := a.files.Delete(ctx, key); cleanupErr != nil {
			log.Printf("orphaned blob cleanup failed for %s: %v", key, cleanupErr)
		}
		return nil, &httpError{Status: http.StatusInternalServerError, Detail: "Failed to save file metadata"}
	}

	return gin.H{
		"id":              fileID,
		"file_name":       header.Filename,
		"file_path":       key,
		"file_size":       header.Size,
		"file_type":       contentType,
		"conversation_id": conversationID,
		"created_at":      createdAt.UTC(),
	}, nil
}

type uploadedFileRecord struct {
	ID             string
	UserID         string
	ConversationID *string
	MessageID      *string
	FileName       string
	FilePath       string
	FileSize       int64
	FileType       string
	CreatedAt      time.Time
}

func (a *App) loadFileForUser(ctx context.Context, userID, fileID string) (uploadedFileRecord, error) {
	record := uploadedFileRecord{}
	err := a.db.QueryRow(
		ctx,
		`SELECT id, "userId", "conversationId", "messageId", "fileName", "filePath", "fileSize", "fileType", "createdAt"
		 FROM "UploadedFile"
		 WHERE id = $1 AND "userId" = $2`,
		fileID,
		userID,
	).Scan(
		&record.ID,
		&record.UserID,
		&record.ConversationID,
		&record.MessageID,
		&record.FileName,
		&record.FilePath,
		&record.FileSize,
		&record.FileType,
		&record.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return uploadedFileRecord{}, &httpError{Status: http.StatusNotFound, Detail: "File not found"}
	}
	if err != nil {
		return uploadedFileRecord{}, err
	}
	return record, nil
}

func (a *App) getFile(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	record, err := a.loadFileForUser(c.Request.Context(), user.ID, strings.TrimSpace(c.Param("file_id")))
	if err != nil {
		a.writeHandlerError(c, err)
		return
	}

	signedURL, err := a.files.PresignGet(c.Request.Context(), record.FilePath, fileURLExpiry)
	if err != nil {
		log.Printf("presign failed for %s: %v", record.FilePath, err)
		writeError(c, http.StatusInternalServerError, "Failed to generate file URL")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":              record.ID,
		"file_name":       record.FileName,
		"file_path":       record.FilePath,
		"file_size":       record.FileSize,
		"file_type":       record.FileType,
		"conversation_id": record.ConversationID,
		"message_id":      record.MessageID,
		"created_at":      record.CreatedAt.UTC(),
		"signed_url":      signedURL,
	})
}

func (a *App) deleteFile(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	record, err := a.loadFileForUser(c.Request.Context(), user.ID, strings.TrimSpace(c.Param("file_id")))
	if err != nil {
		a.writeHandlerError(c, err)
		return
	}

	if err := a.files.Delete(c.Request.Context(), record.FilePath); err != nil {
		log.Printf("storage deletion failed for %s: %v", record.FilePath, err)
	}

	if _, err := a.db.Exec(
		c.Request.Context(),
		`DELETE FROM "UploadedFile" WHERE id = $1 AND "userId" = $2`,
		record.ID,
		user.ID,
	); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to delete file record")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "File deleted successfully"})
}
