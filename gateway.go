package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// streamEnvelope is one inbound websocket frame. sessionId and message
// are required; the rest is optional context the agent folds into the
// turn.
type streamEnvelope struct {
	SessionID       string           `json:"sessionId"`
	Message         string           `json:"message"`
	LocationContext *LocationContext `json:"locationContext,omitempty"`
	MediaContext    *MediaContext    `json:"mediaContext,omitempty"`
	UserName        string           `json:"userName,omitempty"`
	UserEmail       string           `json:"userEmail,omitempty"`
}

// streamReply is the single outbound frame, for both replies and typed
// envelope errors. Exactly one frame goes out per inbound frame.
type streamReply struct {
	Delta string `json:"delta,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

const (
	errCodeBadEnvelope    = "BAD_ENVELOPE"
	errCodeMissingSession = "MISSING_SESSION_ID"
	errCodeMissingMessage = "MISSING_MESSAGE"
	errCodeFrameTooLarge  = "FRAME_TOO_LARGE"
)

// maxFrameBytes caps one inbound websocket frame. Media rides as base64
// in the envelope, so the cap leaves room for a photo plus the text.
const maxFrameBytes = 1 << 20

// Gateway terminates websocket connections and feeds each envelope to
// the agent. One envelope in, one reply frame out, in order, per
// connection.
type Gateway struct {
	agent    *Agent
	upgrader websocket.Upgrader

	// processTimeout bounds one agent turn.
	processTimeout time.Duration
}

func NewGateway(agent *Agent) *Gateway {
	return &Gateway{
		agent: agent,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The gateway sits behind the public edge; origin policy is
			// enforced there.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		processTimeout: 2 * time.Minute,
	}
}

func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway upgrade failed remote=%s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)
	log.Printf("gateway connected remote=%s", r.RemoteAddr)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				// The read side is already poisoned with a 1009 close; the
				// error frame is best effort for clients that still read.
				_ = conn.WriteJSON(streamReply{
					Code:  errCodeFrameTooLarge,
					Error: fmt.Sprintf("frame exceeds the %d byte limit", maxFrameBytes),
					Done:  true,
				})
				log.Printf("gateway frame too large remote=%s limit=%d", r.RemoteAddr, maxFrameBytes)
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("gateway read error remote=%s: %v", r.RemoteAddr, err)
			}
			return
		}

		env, errFrame := parseEnvelope(payload)
		if errFrame != nil {
			// Malformed envelopes get an error frame, not a drop; the
			// client may send a corrected frame on the same connection.
			if werr := conn.WriteJSON(errFrame); werr != nil {
				log.Printf("gateway error-frame write failed remote=%s: %v", r.RemoteAddr, werr)
				return
			}
			continue
		}

		reply := g.handleEnvelope(r.Context(), env)
		if werr := conn.WriteJSON(reply); werr != nil {
			log.Printf("gateway write failed remote=%s session=%s: %v", r.RemoteAddr, env.SessionID, werr)
			return
		}
	}
}

func parseEnvelope(payload []byte) (streamEnvelope, *streamReply) {
	var env streamEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return env, &streamReply{
			Code:  errCodeBadEnvelope,
			Error: "frame must be a JSON envelope with sessionId and message",
			Done:  true,
		}
	}
	if strings.TrimSpace(env.SessionID) == "" {
		return env, &streamReply{Code: errCodeMissingSession, Error: "sessionId is required", Done: true}
	}
	if strings.TrimSpace(env.Message) == "" {
		return env, &streamReply{Code: errCodeMissingMessage, Error: "message is required", Done: true}
	}
	return env, nil
}

func (g *Gateway) handleEnvelope(parent context.Context, env streamEnvelope) streamReply {
	ctx, cancel := context.WithTimeout(parent, g.processTimeout)
	defer cancel()

	g.seedIdentity(env)

	text := g.agent.ProcessMessage(ctx, env.SessionID, env.Message, AgentContext{
		Location: locationOrNil(env.LocationContext),
		Media:    mediaOrNil(env.MediaContext),
	})
	return streamReply{Delta: text, Done: true}
}

// seedIdentity pre-fills empty contact fields from envelope identity
// hints. A name or email the citizen already gave in conversation wins.
func (g *Gateway) seedIdentity(env streamEnvelope) {
	if env.UserName == "" && env.UserEmail == "" {
		return
	}
	s, err := GetOrCreateSession(g.agent.tools.db, env.SessionID)
	if err != nil {
		log.Printf("gateway identity seed load failed session=%s: %v", env.SessionID, err)
		return
	}
	changed := false
	if env.UserName != "" && s.Name == "" {
		s.Name = env.UserName
		changed = true
	}
	if env.UserEmail != "" && s.Email == "" && emailRegex.MatchString(env.UserEmail) {
		s.Email = env.UserEmail
		changed = true
	}
	if !changed {
		return
	}
	if err := UpdateSession(g.agent.tools.db, s); err != nil {
		log.Printf("gateway identity seed persist failed session=%s: %v", env.SessionID, err)
	}
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
