package server

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestCreateDoctorThreadSeedsSystemMessages(t *testing.T) {
	resetDatabase(t)
	env := newTestApp(t)
	userID := seedUser(t, "")
	token := signToken(t, userID, nil)

	conversationID := seedConversation(t, "", userID, "symptoms chat")
	base := time.Now().UTC().Add(-time.Hour)
	seedMessage(t, "", conversationID, "user", "I have had chest pain when climbing stairs", base)
	seedMessage(t, "", conversationID, "assistant", "That deserves prompt attention. Consult a doctor.", base.Add(time.Minute))

	rec := performRequest(t, env.router, http.MethodPost, "/api/v1/doctor-threads", token, map[string]any{
		"sourceConversationId": conversationID,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	threadID, _ := decodeJSONMap(t, rec)["doctorThreadId"].(string)
	if threadID == "" {
		t.Fatalf("expected doctorThreadId in response")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rows, err := testPool.Query(
		ctx,
		`SELECT role, content FROM "DoctorMessage" WHERE "doctorThreadId" = $1 ORDER BY "createdAt" ASC`,
		threadID,
	)
	if err != nil {
		t.Fatalf("read seeded messages: %v", err)
	}
	defer rows.Close()

	type seeded struct{ role, content string }
	var messages []seeded
	for rows.Next() {
		var m seeded
		if err := rows.Scan(&m.role, &m.content); err != nil {
			t.Fatalf("scan seeded message: %v", err)
		}
		messages = append(messages, m)
	}
	if len(messages) != 2 {
		t.Fatalf("expected two seeded system messages, got %d", len(messages))
	}
	if messages[0].role != "system" || messages[0].content != doctorThreadIntro {
		t.Fatalf("unexpected intro message: %+v", messages[0])
	}
	// With no report service configured the summary embeds the transcript.
	if messages[1].role != "system" || !strings.Contains(messages[1].content, "chest pain") {
		t.Fatalf("expected transcript summary, got %+v", messages[1])
	}
}

func TestCreateDoctorThreadDerivesTitleFromFirstUserMessage(t *testing.T) {
	resetDatabase(t)
	env := newTestApp(t)
	userID := seedUser(t, "")
	token := signToken(t, userID, nil)

	conversationID := seedConversation(t, "", userID, "whatever")
	seedMessage(t, "", conversationID, "user", "Recurring migraines every morning", time.Now().UTC().Add(-time.Minute))

	rec := performRequest(t, env.router, http.MethodPost, "/api/v1/doctor-threads", token, map[string]any{
		"sourceConversationId": conversationID,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	threadID, _ := decodeJSONMap(t, rec)["doctorThreadId"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var title string
	if err := testPool.QueryRow(
		ctx,
		`SELECT title FROM "DoctorThread" WHERE id = $1`,
		threadID,
	).Scan(&title); err != nil {
		t.Fatalf("read thread title: %v", err)
	}
	if title != "Recurring migraines every morning" {
		t.Fatalf("unexpected title: %q", title)
	}
}

func TestCreateDoctorThreadRejectsEmptySource(t *testing.T) {
	resetDatabase(t)
	env := newTestApp(t)
	userID := seedUser(t, "")
	token := signToken(t, userID, nil)

	conversationID := seedConversation(t, "", userID, "empty chat")

	rec := performRequest(t, env.router, http.MethodPost, "/api/v1/doctor-threads", token, map[string]any{
		"sourceConversationId": conversationID,
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if detail := responseDetail(t, rec); detail != "Source thread empty" {
		t.Fatalf("unexpected detail: %q", detail)
	}
}

func TestCreateDoctorThreadRequiresSourceID(t *testing.T) {
	resetDatabase(t)
	env := newTestApp(t)
	userID := seedUser(t, "")
	token := signToken(t, userID, nil)

	rec := performRequest(t, env.router, http.MethodPost, "/api/v1/doctor-threads", token, map[string]any{}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDoctorMessageAppendAndListing(t *testing.T) {
	resetDatabase(t)
	env := newTestApp(t)
	userID := seedUser(t, "")
	token := signToken(t, userID, nil)

	conversationID := seedConversation(t, "", userID, "chat")
	seedMessage(t, "", conversationID, "user", "hello", time.Now().UTC().Add(-time.Minute))

	rec := performRequest(t, env.router, http.MethodPost, "/api/v1/doctor-threads", token, map[string]any{
		"sourceConversationId": conversationID,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("thread create failed: %d: %s", rec.Code, rec.Body.String())
	}
	threadID, _ := decodeJSONMap(t, rec)["doctorThreadId"].(string)

	rec = performRequest(t, env.router, http.MethodPost, "/api/v1/doctor-threads/"+threadID+"/messages", token, map[string]any{
		"content": "Doctor, does this sound serious?",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("message append failed: %d: %s", rec.Code, rec.Body.String())
	}
	message := decodeJSONMap(t, rec)["message"].(map[string]any)
	if role, _ := message["role"].(string); role != "user" {
		t.Fatalf("expected role user, got %q", role)
	}

	rec = performRequest(t, env.router, http.MethodGet, "/api/v1/doctor-threads/"+threadID+"/messages", token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("listing failed: %d: %s", rec.Code, rec.Body.String())
	}
	messages := decodeJSONMap(t, rec)["messages"].([]any)
	if len(messages) != 3 {
		t.Fatalf("expected intro, summary, and patient message, got %d", len(messages))
	}
	last := messages[2].(map[string]any)
	if content, _ := last["content"].(string); content != "Doctor, does this sound serious?" {
		t.Fatalf("unexpected last message: %v", last)
	}
}

func TestDoctorMessageRequiresContent(t *testing.T) {
	resetDatabase(t)
	env := newTestApp(t)
	userID := seedUser(t, "")
	token := signToken(t, userID, nil)

	rec := performRequest(t, env.router, http.MethodPost, "/api/v1/doctor-threads/"+testID()+"/messages", token, map[string]any{
		"content": "  ",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDoctorThreadHiddenFromOtherUsers(t *testing.T) {
	resetDatabase(t)
	env := newTestApp(t)
	ownerID := seedUser(t, "")
	otherID := seedUser(t, "")

	conversationID := seedConversation(t, "", ownerID, "chat")
	seedMessage(t, "", conversationID, "user", "hello", time.Now().UTC().Add(-time.Minute))

	ownerToken := signToken(t, ownerID, nil)
	rec := performRequest(t, env.router, http.MethodPost, "/api/v1/doctor-threads", ownerToken, map[string]any{
		"sourceConversationId": conversationID,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("thread create failed: %d: %s", rec.Code, rec.Body.String())
	}
	threadID, _ := decodeJSONMap(t, rec)["doctorThreadId"].(string)

	otherToken := signToken(t, otherID, nil)
	rec = performRequest(t, env.router, http.MethodGet, "/api/v1/doctor-threads/"+threadID+"/messages", otherToken, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign thread, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestListDoctorThreads(t *testing.T) {
	resetDatabase(t)
	env := newTestApp(t)
	userID := seedUser(t, "")
	token := signToken(t, userID, nil)

	conversationID := seedConversation(t, "", userID, "chat")
	seedMessage(t, "", conversationID, "user", "hello", time.Now().UTC().Add(-time.Minute))

	rec := performRequest(t, env.router, http.MethodPost, "/api/v1/doctor-threads", token, map[string]any{
		"sourceConversationId": conversationID,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("thread create failed: %d: %s", rec.Code, rec.Body.String())
	}

	rec = performRequest(t, env.router, http.MethodGet, "/api/v1/doctor-threads", token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("listing failed: %d: %s", rec.Code, rec.Body.String())
	}
	threads := decodeJSONMap(t, rec)["threads"].([]any)
	if len(threads) != 1 {
		t.Fatalf("expected one thread, got %d", len(threads))
	}
	thread := threads[0].(map[string]any)
	if sourceID, _ := thread["source_conversation_id"].(string); sourceID != conversationID {
		t.Fatalf("unexpected source conversation: %v", thread)
	}
}

func TestGenerateReportUsesComposer(t *testing.T) {
	resetDatabase(t)
	env := newTestAppWithComposer(t, stubComposer{result: ComposeResult{
		Response: "## Consultation Report\nPatient reports chest pain.",
		Sources:  []string{"Gemini AI"},
	}})
	userID := seedUser(t, "")
	token := signToken(t, userID, nil)

	conversationID := seedConversation(t, "", userID, "chat")
	seedMessage(t, "", conversationID, "user", "chest pain", time.Now().UTC().Add(-time.Minute))

	rec := performRequest(t, env.router, http.MethodPost, "/api/v1/reports", token, map[string]any{
		"conversation_id": conversationID,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)
	if report, _ := body["report"].(string); !strings.Contains(report, "Consultation Report") {
		t.Fatalf("unexpected report: %v", body)
	}
}

func TestGenerateReportRejectsEmptyConversation(t *testing.T) {
	resetDatabase(t)
	env := newTestApp(t)
	userID := seedUser(t, "")
	token := signToken(t, userID, nil)

	conversationID := seedConversation(t, "", userID, "empty")

	rec := performRequest(t, env.router, http.MethodPost, "/api/v1/reports", token, map[string]any{
		"conversation_id": conversationID,
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}
