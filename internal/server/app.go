package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"healthmate/backend/internal/config"
	"healthmate/backend/internal/storage"
)

type dbQuerier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type App struct {
	cfg   config.Config
	db    *pgxpool.Pool
	files storage.ObjectStore
	ai    Composer
	http  *http.Client
}

type AuthUser struct {
	ID    string
	Email *string
	Name  string
}

func New(cfg config.Config, db *pgxpool.Pool, files storage.ObjectStore, ai Composer) *App {
	return &App{
		cfg:   cfg,
		db:    db,
		files: files,
		ai:    ai,
		http: &http.Client{
			Timeout: time.Duration(maxInt(cfg.AITimeoutSeconds, 10)) * time.Second,
		},
	}
}

func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     a.cfg.CORSAllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", a.health)

	api := router.Group(a.cfg.APIPrefix)
	api.Use(a.authMiddleware())

	api.POST("/chat", a.chat)

	api.GET("/conversations", a.listConversations)
	api.POST("/conversations", a.createConversation)
	api.GET("/conversations/:id", a.getConversation)
	api.PUT("/conversations/:id", a.updateConversation)
	api.DELETE("/conversations/:id", a.deleteConversation)
	api.POST("/conversations/:id/messages", a.createMessage)

	api.POST("/files/upload", a.uploadFiles)
	api.GET("/files/:file_id", a.getFile)
	api.DELETE("/files/:file_id", a.deleteFile)

	api.POST("/doctor-threads", a.createDoctorThread)
	api.GET("/doctor-threads", a.listDoctorThreads)
	api.GET("/doctor-threads/:id/messages", a.listDoctorMessages)
	api.POST("/doctor-threads/:id/messages", a.createDoctorMessage)

	api.POST("/reports", a.generateReport)

	api.GET("/account/me", a.getMyAccount)
	api.PATCH("/account/me", a.updateMyAccount)
	api.GET("/account/usage", a.getMyUsage)
	api.GET("/account/export", a.exportMyData)

	return router
}

func (a *App) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "healthmate-api",
	})
}

func (a *App) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			writeError(c, http.StatusUnauthorized, "Authentication required")
			return
		}
		tokenString := strings.TrimSpace(authHeader[len("Bearer "):])
		if tokenString == "" {
			writeError(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
			if token.Method == nil || token.Method.Alg() != a.cfg.JWTAlgorithm {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(a.cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			writeError(c, http.StatusUnauthorized, "Invalid bearer token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			writeError(c, http.StatusUnauthorized, "Invalid token payload")
			return
		}
		if a.cfg.JWTAudience != "" && !claimHasAudience(claims["aud"], a.cfg.JWTAudience) {
			writeError(c, http.StatusUnauthorized, "Invalid token audience")
			return
		}
		if a.cfg.JWTIssuer != "" {
			issuer, _ := claims["iss"].(string)
			if issuer != a.cfg.JWTIssuer {
				writeError(c, http.StatusUnauthorized, "Invalid token issuer")
				return
			}
		}
		sub, _ := claims["sub"].(string)
		sub = strings.TrimSpace(sub)
		if sub == "" {
			writeError(c, http.StatusUnauthorized, "Token subject missing")
			return
		}

		user, err := a.getOrCreateUser(c.Request.Context(), sub, claims)
		if err != nil {
			writeError(c, http.StatusUnauthorized, err.Error())
			return
		}

		c.Set("authUser", user)
		c.Next()
	}
}

func claimHasAudience(value any, audience string) bool {
	switch v := value.(type) {
	case string:
		return v == audience
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == audience {
				return true
			}
		}
	case []string:
		for _, item := range v {
			if item == audience {
				return true
			}
		}
	}
	return false
}

func toOptionalString(raw any) *string {
	if s, ok := raw.(string); ok {
		trimmed := strings.TrimSpace(s)
		if trimmed != "" {
			return &trimmed
		}
	}
	return nil
}

func (a *App) getOrCreateUser(ctx context.Context, userID string, claims jwt.MapClaims) (AuthUser, error) {
	user := AuthUser{}
	var email *string

	err := a.db.QueryRow(
		ctx,
		`SELECT id, email, name FROM "User" WHERE id = $1`,
		userID,
	).Scan(&user.ID, &email, &user.Name)
	if err == nil {
		user.Email = email
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AuthUser{}, err
	}
	if !a.cfg.AuthAutoCreateUser {
		return AuthUser{}, errors.New("User not found")
	}

	email = toOptionalString(claims["email"])
	name := ""
	if rawName, ok := claims["name"].(string); ok {
		name = strings.TrimSpace(rawName)
	}
	if name == "" {
		name = fmt.Sprintf("user-%s", truncate(userID, 8))
	}

	if _, err := a.db.Exec(
		ctx,
		`INSERT INTO "User" (id, email, name, "createdAt")
		 VALUES ($1, $2, $3, NOW())`,
		userID,
		email,
		name,
	); err != nil {
		return AuthUser{}, err
	}

	return AuthUser{ID: userID, Email: email, Name: name}, nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}

func authUserFromContext(c *gin.Context) (AuthUser, bool) {
	raw, ok := c.Get("authUser")
	if !ok {
		return AuthUser{}, false
	}
	user, ok := raw.(AuthUser)
	return user, ok
}

// writeError terminates the request with the wire shape the web client
// expects: {"error": "..."}.
func writeError(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"error": detail})
}

type httpError struct {
	Status int
	Detail string
}

func (e *httpError) Error() string {
	return e.Detail
}

func (a *App) writeHandlerError(c *gin.Context, err error) {
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		writeError(c, httpErr.Status, httpErr.Detail)
		return
	}
	writeError(c, http.StatusInternalServerError, "Internal server error")
}

func mustJSON(c *gin.Context, payload any) bool {
	if err := c.ShouldBindJSON(payload); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	return true
}

func startOfUTCDay(t time.Time) time.Time {
	utc := t.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// mergeSources unions two ordered source lists, keeping first-seen order and
// dropping duplicates.
func mergeSources(primary, secondary []string) []string {
	merged := make([]string, 0, len(primary)+len(secondary))
	seen := make(map[string]struct{}, len(primary)+len(secondary))
	for _, list := range [][]string{primary, secondary} {
		for _, source := range list {
			if _, ok := seen[source]; ok {
				continue
			}
			seen[source] = struct{}{}
			merged = append(merged, source)
		}
	}
	return merged
}
