package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// webhookEvent is one inbound event from a messaging-channel bridge.
// Message events carry the sender plus the message body; location and
// media blocks ride into the conversation alongside the text.
type webhookEvent struct {
	Event       string           `json:"event"`
	From        string           `json:"from,omitempty"`
	PhoneE164   string           `json:"phoneE164,omitempty"`
	Message     string           `json:"message,omitempty"`
	MessageType string           `json:"messageType,omitempty"`
	Location    *LocationContext `json:"location,omitempty"`
	Media       *MediaContext    `json:"media,omitempty"`
}

// phone returns the stable per-contact key: the normalized E.164 number
// when the bridge provides one, the raw sender address otherwise.
func (e webhookEvent) phone() string {
	if p := strings.TrimSpace(e.PhoneE164); p != "" {
		return p
	}
	return strings.TrimSpace(e.From)
}

type webhookReply struct {
	Reply     string `json:"reply,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	State     string `json:"state,omitempty"`
}

// ChannelWebhook adapts connected/disconnected/message events from an
// external messaging bridge onto the state-machine conversation path.
// Each phone number maps to a stable session id for the life of the
// process, so a contact's messages always land in the same session.
type ChannelWebhook struct {
	manager *ConversationManager

	mu       sync.Mutex
	sessions map[string]string

	// newID generates session ids. Tests replace it.
	newID func() string
}

func NewChannelWebhook(manager *ConversationManager) *ChannelWebhook {
	return &ChannelWebhook{
		manager:  manager,
		sessions: make(map[string]string),
		newID:    uuid.NewString,
	}
}

// sessionFor returns the stable session id for a phone number, minting
// one on first contact.
func (h *ChannelWebhook) sessionFor(phone string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id, ok := h.sessions[phone]; ok {
		return id
	}
	id := h.newID()
	h.sessions[phone] = id
	return id
}

func (h *ChannelWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var ev webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	phone := ev.phone()
	if phone == "" {
		http.Error(w, "from or phoneE164 is required", http.StatusBadRequest)
		return
	}

	switch ev.Event {
	case "connected":
		log.Printf("webhook channel connected phone=%s", phone)
		writeJSON(w, http.StatusOK, webhookReply{SessionID: h.sessionFor(phone)})
	case "disconnected":
		log.Printf("webhook channel disconnected phone=%s", phone)
		writeJSON(w, http.StatusOK, webhookReply{})
	case "message":
		if strings.TrimSpace(ev.Message) == "" {
			http.Error(w, "message is required for message events", http.StatusBadRequest)
			return
		}
		sessionID := h.sessionFor(phone)
		resp := h.manager.ProcessMessage(sessionID, ev.Message, MessageMeta{
			Channel:  "webhook",
			Location: locationOrNil(ev.Location),
			Media:    mediaOrNil(ev.Media),
		})
		writeJSON(w, http.StatusOK, webhookReply{
			Reply:     resp.Text,
			SessionID: sessionID,
			State:     resp.State,
		})
	default:
		http.Error(w, "unknown event type", http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("webhook response encode failed: %v", err)
	}
}
