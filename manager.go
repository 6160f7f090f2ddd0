package main

import (
	"database/sql"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"
)

// Out-of-scope lexical filter. A message matching the deny list is
// rejected unless it also matches the allow list. This is a keyword
// filter, not a classifier, and is meant to stay auditable.
var outOfScopeKeywords = []string{
	"weather", "joke", "recipe", "song", "lottery", "football", "cricket",
	"movie", "horoscope", "bitcoin", "stock market", "homework", "poem",
}

var inScopeKeywords = []string{
	"complaint", "grievance", "ministry", "government", "track", "status",
	"file", "report", "omb-", "office", "service", "officer",
}

// genderCorrectionRegex matches a first-person self-description followed
// by a recognized gender term, e.g. "actually I am female".
var genderCorrectionRegex = regexp.MustCompile(`(?i)\bi(?:\s+a|')m\s+(?:a\s+)?(female|male|woman|man|non-binary|nonbinary)\b`)

var genderTerms = map[string]string{
	"female":     "female",
	"woman":      "female",
	"male":       "male",
	"man":        "male",
	"non-binary": "non-binary",
	"nonbinary":  "non-binary",
}

type ManagerResponse struct {
	Text       string
	State      string
	IsComplete bool
}

// MessageMeta is per-message context from the transport: which channel
// the message arrived on, plus any location or media block that rode
// alongside the text.
type MessageMeta struct {
	Channel  string
	Location *LocationContext
	Media    *MediaContext
}

// ConversationManager routes one inbound message through the cross-cutting
// interceptors and the handler for the session's current state. It is the
// outermost boundary: no error or panic escapes to the transport layer.
type ConversationManager struct {
	db       *sql.DB
	handlers *Handlers
	now      func() time.Time
}

func NewConversationManager(db *sql.DB, handlers *Handlers) *ConversationManager {
	return &ConversationManager{db: db, handlers: handlers, now: time.Now}
}

func (m *ConversationManager) ProcessMessage(sessionID, text string, meta MessageMeta) (resp ManagerResponse) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("manager panic session=%s: %v", sessionID, r)
			m.forceError(sessionID, fmt.Sprintf("panic: %v", r))
			resp = ManagerResponse{
				Text:  "I'm sorry, something went wrong on our side. Please try again in a moment.",
				State: StateError,
			}
		}
	}()

	if isOutOfScope(text) {
		return ManagerResponse{
			Text: "I can only help with filing or tracking complaints about government services. " +
				"Is there a grievance I can help you with?",
			State: StateGreeting,
		}
	}

	session, err := GetOrCreateSession(m.db, sessionID)
	if err != nil {
		log.Printf("manager session load error session=%s: %v", sessionID, err)
		return ManagerResponse{
			Text:  "I'm sorry, something went wrong on our side. Please try again in a moment.",
			State: StateError,
		}
	}

	session.MessageCount++
	session.LastMessageAt = m.now().UTC()

	// A shared location fills the complaint address when the citizen has
	// not typed one; their own words win once given.
	if label := locationLabel(meta.Location); label != "" && session.Address == "" {
		session.Address = label
		log.Printf("manager location context session=%s address=%q", sessionID, label)
	}

	// Gender self-identification corrections apply immediately in any
	// state and bypass normal routing.
	if gender, ok := detectGenderCorrection(text); ok && !IsTerminalState(session.State) {
		session.Gender = gender
		if err := UpdateSession(m.db, session); err != nil {
			log.Printf("manager correction persist error session=%s: %v", sessionID, err)
		}
		log.Printf("manager gender correction session=%s gender=%s state=%s", sessionID, gender, session.State)
		return ManagerResponse{
			Text:  fmt.Sprintf("My apologies for the mix-up. I've noted that you are %s. Let's continue where we were.", gender),
			State: session.State,
		}
	}

	// Tracking shortcut: from greeting, a tracking intent or a
	// tracking-shaped token routes straight to the tracking handler.
	if session.State == StateGreeting {
		if matchCue(text, trackingCues) == "track" || ExtractTrackingNumber(text) != "" {
			session.State = StateTracking
		}
	}

	// An attachment outside the evidence step still gets acknowledged so
	// the citizen knows it was not dropped on the floor.
	mediaAck := ""
	if md := meta.Media; md != nil && session.State != StateEvidence && !IsTerminalState(session.State) {
		name := md.Filename
		if name == "" {
			name = "your file"
		}
		mediaAck = fmt.Sprintf("I've received %s. Evidence is collected through our secure upload channel "+
			"once your complaint is submitted.\n\n", name)
	}

	reply, update := m.handlers.Handle(&session, text, meta)
	if !validStates[session.State] {
		// Handlers must never leave the enum; treat it as a programming
		// error rather than persisting garbage.
		panic(fmt.Sprintf("handler produced invalid state %q", session.State))
	}
	if update {
		if err := UpdateSession(m.db, session); err != nil {
			log.Printf("manager persist error session=%s state=%s: %v", sessionID, session.State, err)
			m.forceError(sessionID, fmt.Sprintf("session persist failed: %v", err))
			return ManagerResponse{
				Text:  "I'm sorry, something went wrong saving our conversation. Please try again in a moment.",
				State: StateError,
			}
		}
	} else {
		// Counters and timestamps still move on a no-update turn.
		if err := UpdateSession(m.db, session); err != nil {
			log.Printf("manager counter persist error session=%s: %v", sessionID, err)
		}
	}

	log.Printf("manager handled session=%s state=%s chars=%d", sessionID, session.State, len(reply))
	return ManagerResponse{
		Text:       mediaAck + reply,
		State:      session.State,
		IsComplete: session.State == StateCompleted,
	}
}

// forceError best-effort moves a session to the error state with a reason.
func (m *ConversationManager) forceError(sessionID, reason string) {
	session, err := GetSession(m.db, sessionID)
	if err != nil {
		return
	}
	session.State = StateError
	session.ErrorReason = reason
	if err := UpdateSession(m.db, session); err != nil {
		log.Printf("manager force-error persist failed session=%s: %v", sessionID, err)
	}
}

func isOutOfScope(text string) bool {
	normalized := normalizeTextToken(text)
	denied := false
	for _, kw := range outOfScopeKeywords {
		if strings.Contains(normalized, kw) {
			denied = true
			break
		}
	}
	if !denied {
		return false
	}
	for _, kw := range inScopeKeywords {
		if strings.Contains(normalized, kw) {
			return false
		}
	}
	return true
}

func detectGenderCorrection(text string) (string, bool) {
	m := genderCorrectionRegex.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false
	}
	gender, ok := genderTerms[strings.ToLower(m[1])]
	return gender, ok
}
