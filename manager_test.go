package main

import (
	"database/sql"
	"strings"
	"testing"
)

func testManager(t *testing.T, db *sql.DB) *ConversationManager {
	t.Helper()
	return NewConversationManager(db, testHandlers(t, db, nil))
}

func TestManagerOutOfScope(t *testing.T) {
	db := testDB(t)
	m := testManager(t, db)

	resp := m.ProcessMessage("sess-oos", "Can you tell me a joke?", MessageMeta{})
	if !strings.Contains(resp.Text, "complaints") {
		t.Errorf("rejection should restate what the service does: %q", resp.Text)
	}
	// Rejected messages never create a session.
	if _, err := GetSession(db, "sess-oos"); err != sql.ErrNoRows {
		t.Errorf("out-of-scope message created a session, err=%v", err)
	}
}

func TestManagerInScopeWordPassesFilter(t *testing.T) {
	db := testDB(t)
	m := testManager(t, db)

	// A deny-list word co-occurring with an allow-list word goes through.
	resp := m.ProcessMessage("sess-mix", "I have a complaint about the lottery office", MessageMeta{})
	if resp.State != StateIdentity {
		t.Errorf("state = %q, want %q", resp.State, StateIdentity)
	}
}

func TestManagerFilingFlowAdvancesState(t *testing.T) {
	db := testDB(t)
	m := testManager(t, db)

	resp := m.ProcessMessage("sess-flow", "I want to file a complaint", MessageMeta{})
	if resp.State != StateIdentity {
		t.Errorf("state = %q, want %q", resp.State, StateIdentity)
	}

	s, err := GetSession(db, "sess-flow")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.MessageCount != 1 {
		t.Errorf("message count = %d, want 1", s.MessageCount)
	}
}

func TestManagerLocationContextFillsAddress(t *testing.T) {
	db := testDB(t)
	m := testManager(t, db)

	loc := &LocationContext{HasLocation: true, Description: "Ward 7, Lakeview Road"}
	m.ProcessMessage("sess-loc", "I want to file a complaint", MessageMeta{Location: loc})

	s, err := GetSession(db, "sess-loc")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.Address != "Ward 7, Lakeview Road" {
		t.Errorf("address = %q, want the shared location", s.Address)
	}

	// An address the citizen already gave is never overwritten.
	other := &LocationContext{HasLocation: true, Description: "somewhere else"}
	m.ProcessMessage("sess-loc", "my name is Asha Rao", MessageMeta{Location: other})
	s, _ = GetSession(db, "sess-loc")
	if s.Address != "Ward 7, Lakeview Road" {
		t.Errorf("address overwritten: %q", s.Address)
	}
}

func TestManagerLocationCoordinatesFallback(t *testing.T) {
	db := testDB(t)
	m := testManager(t, db)

	loc := &LocationContext{HasLocation: true, Latitude: 12.9716, Longitude: 77.5946}
	m.ProcessMessage("sess-coords", "I want to file a complaint", MessageMeta{Location: loc})

	s, err := GetSession(db, "sess-coords")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.Address != "12.97160,77.59460" {
		t.Errorf("address = %q, want the rendered coordinates", s.Address)
	}
}

func TestManagerAcknowledgesEarlyAttachment(t *testing.T) {
	db := testDB(t)
	m := testManager(t, db)

	media := &MediaContext{HasMedia: true, Filename: "pipe.jpg", MimeType: "image/jpeg"}
	resp := m.ProcessMessage("sess-media", "I want to file a complaint", MessageMeta{Media: media})
	if !strings.Contains(resp.Text, "pipe.jpg") {
		t.Errorf("attachment not acknowledged: %q", resp.Text)
	}
	// The ack rides in front of the normal reply, not instead of it.
	if resp.State != StateIdentity {
		t.Errorf("state = %q, want %q", resp.State, StateIdentity)
	}

	// The same message without the attachment reads differently.
	bare := m.ProcessMessage("sess-media-bare", "I want to file a complaint", MessageMeta{})
	if bare.Text == resp.Text {
		t.Errorf("attachment context had no effect on the reply")
	}
}

func TestManagerGenderCorrection(t *testing.T) {
	db := testDB(t)
	m := testManager(t, db)

	m.ProcessMessage("sess-gender", "I want to file a complaint", MessageMeta{})

	resp := m.ProcessMessage("sess-gender", "Actually I'm female, not male", MessageMeta{})
	if !strings.Contains(resp.Text, "apologies") {
		t.Errorf("correction should be acknowledged with an apology: %q", resp.Text)
	}
	if resp.State != StateIdentity {
		t.Errorf("correction must not move the state machine, state = %q", resp.State)
	}

	s, err := GetSession(db, "sess-gender")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.Gender != "female" {
		t.Errorf("gender = %q, want female", s.Gender)
	}
	if s.State != StateIdentity {
		t.Errorf("persisted state = %q, want %q", s.State, StateIdentity)
	}
	if s.MessageCount != 2 {
		t.Errorf("message count = %d, correction turns still count", s.MessageCount)
	}
}

func TestManagerTrackingShortcutFromGreeting(t *testing.T) {
	db := testDB(t)
	m := testManager(t, db)

	resp := m.ProcessMessage("sess-track", "track OMB-ABC123-XYZ987", MessageMeta{})
	if resp.State != StateTracking {
		t.Errorf("state = %q, want %q", resp.State, StateTracking)
	}
	if !strings.Contains(resp.Text, "cannot find") {
		t.Errorf("unknown number should report not found: %q", resp.Text)
	}

	// The citizen can retry with another number from the same session.
	resp = m.ProcessMessage("sess-track", "sorry, it's OMB-DEF456-UVW321", MessageMeta{})
	if resp.State != StateTracking {
		t.Errorf("retry state = %q, want %q", resp.State, StateTracking)
	}
}

func TestManagerCompletedSessionReportsComplete(t *testing.T) {
	db := testDB(t)
	m := testManager(t, db)

	s, err := GetOrCreateSession(db, "sess-done")
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	s.State = StateCompleted
	if err := UpdateSession(db, s); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	resp := m.ProcessMessage("sess-done", "hello again", MessageMeta{})
	if !resp.IsComplete {
		t.Errorf("IsComplete should be true for a completed session")
	}
}

func TestManagerUnknownStateRecovers(t *testing.T) {
	db := testDB(t)
	m := testManager(t, db)

	if _, err := GetOrCreateSession(db, "sess-bogus"); err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	if _, err := db.Exec(`UPDATE sessions SET state = 'bogus' WHERE id = 'sess-bogus'`); err != nil {
		t.Fatalf("corrupting state: %v", err)
	}

	resp := m.ProcessMessage("sess-bogus", "hello", MessageMeta{})
	if resp.State != StateGreeting {
		t.Errorf("corrupt state should reset to greeting, got %q", resp.State)
	}
}

func TestManagerPanicBecomesErrorState(t *testing.T) {
	db := testDB(t)
	// A nil classifier makes the classification handler panic; the manager
	// must turn that into a safe reply and an error-state session.
	h := NewHandlers(testConfig(), db, nil, NewTrackingService(db))
	m := NewConversationManager(db, h)

	s, err := GetOrCreateSession(db, "sess-panic")
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	s.State = StateClassification
	s.Description = "A long enough description of the problem with the office."
	if err := UpdateSession(db, s); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	resp := m.ProcessMessage("sess-panic", "ok", MessageMeta{})
	if resp.State != StateError {
		t.Errorf("state = %q, want %q", resp.State, StateError)
	}
	if !strings.Contains(resp.Text, "sorry") {
		t.Errorf("panic reply should be a plain apology: %q", resp.Text)
	}

	after, err := GetSession(db, "sess-panic")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if after.State != StateError || after.ErrorReason == "" {
		t.Errorf("session not moved to error state: state=%q reason=%q", after.State, after.ErrorReason)
	}
}

func TestDetectGenderCorrection(t *testing.T) {
	cases := []struct {
		text string
		want string
		ok   bool
	}{
		{"actually I'm female", "female", true},
		{"I am a man", "male", true},
		{"i'm non-binary", "non-binary", true},
		{"I'm a woman, not a man", "female", true},
		{"I'm frustrated", "", false},
		{"the form says female", "", false},
	}
	for _, c := range cases {
		got, ok := detectGenderCorrection(c.text)
		if got != c.want || ok != c.ok {
			t.Errorf("detectGenderCorrection(%q) = (%q, %v), want (%q, %v)", c.text, got, ok, c.want, c.ok)
		}
	}
}
