package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testWebhook(t *testing.T) (*ChannelWebhook, *sql.DB, *int) {
	t.Helper()
	db := testDB(t)
	h := NewChannelWebhook(testManager(t, db))
	minted := 0
	h.newID = func() string {
		minted++
		return fmt.Sprintf("webhook-session-%d", minted)
	}
	return h, db, &minted
}

func postEvent(t *testing.T, h *ChannelWebhook, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookStablePhoneMapping(t *testing.T) {
	h, _, minted := testWebhook(t)

	var first, second webhookReply
	rec := postEvent(t, h, `{"event": "message", "phoneE164": "+15551234567", "message": "I want to file a complaint"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatalf("decoding reply: %v", err)
	}

	rec = postEvent(t, h, `{"event": "message", "phoneE164": "+15551234567", "message": "My name is Asha Rao"}`)
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatalf("decoding reply: %v", err)
	}

	if first.SessionID != second.SessionID {
		t.Errorf("same phone got different sessions: %q vs %q", first.SessionID, second.SessionID)
	}
	if *minted != 1 {
		t.Errorf("minted %d ids for one phone", *minted)
	}
	// Second turn continued the conversation rather than restarting it.
	if second.State != StateIdentity {
		t.Errorf("state = %q, want %q", second.State, StateIdentity)
	}

	rec = postEvent(t, h, `{"event": "message", "from": "+15559876543", "message": "hello"}`)
	var third webhookReply
	if err := json.Unmarshal(rec.Body.Bytes(), &third); err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	if third.SessionID == first.SessionID {
		t.Errorf("different phones share a session")
	}
}

func TestWebhookForwardsLocationAndMedia(t *testing.T) {
	h, db, _ := testWebhook(t)

	body := `{
		"event": "message",
		"phoneE164": "+15551234567",
		"message": "I want to file a complaint",
		"location": {"hasLocation": true, "locationDescription": "Ward 7, Lakeview Road"},
		"media": {"hasMedia": true, "filename": "pipe.jpg", "mimeType": "image/jpeg"}
	}`
	rec := postEvent(t, h, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var reply webhookReply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decoding reply: %v", err)
	}

	if !strings.Contains(reply.Reply, "pipe.jpg") {
		t.Errorf("attachment not acknowledged in the reply: %q", reply.Reply)
	}
	s, err := GetSession(db, reply.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.Address != "Ward 7, Lakeview Road" {
		t.Errorf("shared location not stored, address = %q", s.Address)
	}

	// The same message without the context blocks reads differently.
	rec = postEvent(t, h, `{"event": "message", "from": "+15550000001", "message": "I want to file a complaint"}`)
	var bare webhookReply
	if err := json.Unmarshal(rec.Body.Bytes(), &bare); err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	if bare.Reply == reply.Reply {
		t.Errorf("context blocks had no effect on the reply")
	}
}

func TestWebhookAttachmentSatisfiesEvidenceStep(t *testing.T) {
	h, _, _ := testWebhook(t)

	turns := []string{
		"I want to file a complaint",
		"My name is Asha Rao, asha@example.com",
		"The clinic turned us away after a six hour wait and no doctor ever saw my mother.",
	}
	var reply webhookReply
	for _, msg := range turns {
		rec := postEvent(t, h, fmt.Sprintf(`{"event": "message", "phoneE164": "+15551234567", "message": %q}`, msg))
		if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
			t.Fatalf("decoding reply: %v", err)
		}
	}
	if reply.State != StateEvidence {
		t.Fatalf("state = %q, want %q", reply.State, StateEvidence)
	}

	rec := postEvent(t, h, `{
		"event": "message",
		"phoneE164": "+15551234567",
		"message": "here you go",
		"media": {"hasMedia": true, "filename": "queue.jpg", "mimeType": "image/jpeg"}
	}`)
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	if reply.State != StateClassification {
		t.Errorf("state = %q, want %q", reply.State, StateClassification)
	}
	if !strings.Contains(reply.Reply, "upload") {
		t.Errorf("attachment not treated as evidence: %q", reply.Reply)
	}
}

func TestWebhookConnectedEvent(t *testing.T) {
	h, _, _ := testWebhook(t)

	rec := postEvent(t, h, `{"event": "connected", "phoneE164": "+15551234567"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var reply webhookReply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	if reply.SessionID == "" {
		t.Errorf("connected event should return the session id")
	}

	// A later message reuses the session minted at connect time.
	rec = postEvent(t, h, `{"event": "message", "phoneE164": "+15551234567", "message": "hi"}`)
	var msg webhookReply
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	if msg.SessionID != reply.SessionID {
		t.Errorf("message session %q != connect session %q", msg.SessionID, reply.SessionID)
	}
}

func TestWebhookRejectsBadRequests(t *testing.T) {
	h, _, _ := testWebhook(t)

	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{{{`},
		{"missing sender", `{"event": "message", "message": "hi"}`},
		{"missing message", `{"event": "message", "phoneE164": "+15551234567"}`},
		{"unknown event", `{"event": "reboot", "phoneE164": "+15551234567"}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := postEvent(t, h, c.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestWebhookRejectsGet(t *testing.T) {
	h, _, _ := testWebhook(t)
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handleHealthz(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}
