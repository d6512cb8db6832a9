package server

import (
	"net/http"
	"testing"

	"healthmate/backend/internal/storage"
)

func TestAuthRejectsMissingHeader(t *testing.T) {
	resetDatabase(t)
	env := newTestApp(t)

	rec := performRequest(t, env.router, http.MethodGet, "/api/v1/conversations", "", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
	if detail := responseDetail(t, rec); detail != "Authentication required" {
		t.Fatalf("unexpected detail: %q", detail)
	}
}

func TestAuthRejectsGarbageToken(t *testing.T) {
	resetDatabase(t)
	env := newTestApp(t)

	rec := performRequest(t, env.router, http.MethodGet, "/api/v1/conversations", "not-a-jwt", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
	if detail := responseDetail(t, rec); detail != "Invalid bearer token" {
		t.Fatalf("unexpected detail: %q", detail)
	}
}

func TestAuthRejectsTokenSignedWithWrongSecret(t *testing.T) {
	resetDatabase(t)
	env := newTestApp(t)

	wrongCfg := baseTestConfig
	wrongCfg.JWTSecret = "some-other-secret-9876543210"
	token := signTokenWithConfig(t, wrongCfg, testID(), nil)

	rec := performRequest(t, env.router, http.MethodGet, "/api/v1/conversations", token, nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAuthRejectsTokenWithoutSubject(t *testing.T) {
	resetDatabase(t)
	env := newTestApp(t)

	token := signToken(t, "", nil)
	rec := performRequest(t, env.router, http.MethodGet, "/api/v1/conversations", token, nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
	if detail := responseDetail(t, rec); detail != "Token subject missing" {
		t.Fatalf("unexpected detail: %q", detail)
	}
}

func TestAuthRejectsUnknownUserWhenAutoCreateDisabled(t *testing.T) {
	resetDatabase(t)
	requireIntegration(t)

	cfg := baseTestConfig
	cfg.AuthAutoCreateUser = false
	app := New(cfg, testPool, storage.NewMemoryStore(), defaultStubComposer())
	router := app.Router()

	token := signTokenWithConfig(t, cfg, testID(), nil)
	rec := performRequest(t, router, http.MethodGet, "/api/v1/conversations", token, nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
	if detail := responseDetail(t, rec); detail != "User not found" {
		t.Fatalf("unexpected detail: %q", detail)
	}
}

func TestAuthEnforcesAudienceWhenConfigured(t *testing.T) {
	resetDatabase(t)
	requireIntegration(t)

	cfg := baseTestConfig
	cfg.JWTAudience = "healthmate-clients"
	app := New(cfg, testPool, storage.NewMemoryStore(), defaultStubComposer())
	router := app.Router()

	userID := seedUser(t, "")
	missing := signTokenWithConfig(t, baseTestConfig, userID, nil)
	rec := performRequest(t, router, http.MethodGet, "/api/v1/conversations", missing, nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing audience, got %d: %s", rec.Code, rec.Body.String())
	}

	matching := signTokenWithConfig(t, cfg, userID, nil)
	rec = performRequest(t, router, http.MethodGet, "/api/v1/conversations", matching, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for matching audience, got %d: %s", rec.Code, rec.Body.String())
	}
}
