package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

func testAgent(t *testing.T, db *sql.DB, complete agentCompleteFunc) *Agent {
	t.Helper()
	a := NewAgent(testConfig(), testRegistry(t, db))
	a.complete = complete
	return a
}

func textReply(text string) agentReply {
	return agentReply{Text: text, Param: anthropic.NewAssistantMessage(anthropic.NewTextBlock(text))}
}

func toolReply(id, name, input string) agentReply {
	return agentReply{
		ToolCalls: []agentToolCall{{ID: id, Name: name, Input: json.RawMessage(input)}},
		Param:     anthropic.NewAssistantMessage(anthropic.NewTextBlock("")),
	}
}

func TestAgentPlainTextTurn(t *testing.T) {
	db := testDB(t)
	a := testAgent(t, db, func(_ context.Context, _ string, _ []anthropic.MessageParam, _ []anthropic.ToolUnionParam) (agentReply, error) {
		return textReply("Hello! How can I help with your complaint?"), nil
	})

	got := a.ProcessMessage(context.Background(), "sess-a", "hi", AgentContext{})
	if got != "Hello! How can I help with your complaint?" {
		t.Errorf("reply = %q", got)
	}
	// One user turn plus one assistant turn.
	if n := a.TranscriptLen("sess-a"); n != 2 {
		t.Errorf("transcript length = %d, want 2", n)
	}
}

func TestAgentToolBudgetExhausted(t *testing.T) {
	db := testDB(t)
	calls := 0
	a := testAgent(t, db, func(_ context.Context, _ string, _ []anthropic.MessageParam, _ []anthropic.ToolUnionParam) (agentReply, error) {
		calls++
		return toolReply("t1", "get_session_data", `{}`), nil
	})

	got := a.ProcessMessage(context.Background(), "sess-b", "hi", AgentContext{})
	if !strings.Contains(got, "taking longer") {
		t.Errorf("budget exhaustion reply = %q", got)
	}
	if calls != testConfig().AgentMaxIterations {
		t.Errorf("model called %d times, want %d", calls, testConfig().AgentMaxIterations)
	}
}

func TestAgentToolThenText(t *testing.T) {
	db := testDB(t)
	turn := 0
	a := testAgent(t, db, func(_ context.Context, _ string, msgs []anthropic.MessageParam, _ []anthropic.ToolUnionParam) (agentReply, error) {
		turn++
		if turn == 1 {
			return toolReply("t1", "save_contact_info",
				`{"name": "Asha Rao", "email": "asha@example.com"}`), nil
		}
		// The tool result must have been appended before the second turn.
		if len(msgs) != 3 {
			t.Errorf("second turn saw %d messages, want 3", len(msgs))
		}
		return textReply("Thanks Asha, I've saved your details."), nil
	})

	got := a.ProcessMessage(context.Background(), "sess-c", "I'm Asha Rao, asha@example.com", AgentContext{})
	if !strings.Contains(got, "saved your details") {
		t.Errorf("reply = %q", got)
	}

	s, err := GetSession(db, "sess-c")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.Name != "Asha Rao" || s.Email != "asha@example.com" {
		t.Errorf("tool side effects missing: name=%q email=%q", s.Name, s.Email)
	}
}

func TestAgentUnknownToolKeepsGoing(t *testing.T) {
	db := testDB(t)
	turn := 0
	a := testAgent(t, db, func(_ context.Context, _ string, _ []anthropic.MessageParam, _ []anthropic.ToolUnionParam) (agentReply, error) {
		turn++
		if turn == 1 {
			return toolReply("t1", "launch_rockets", `{}`), nil
		}
		return textReply("Let me try that differently."), nil
	})

	got := a.ProcessMessage(context.Background(), "sess-d", "hi", AgentContext{})
	if got != "Let me try that differently." {
		t.Errorf("an unknown tool must not end the loop, reply = %q", got)
	}
}

func TestAgentUpstreamErrorApologies(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{errors.New("401 authentication_error: invalid api key"), "temporarily unavailable"},
		{errors.New("429 rate limit exceeded"), "a lot of requests"},
		{errors.New("context deadline exceeded"), "took too long"},
		{errors.New("dial tcp: connection refused"), "couldn't reach"},
	}
	for _, c := range cases {
		db := testDB(t)
		a := testAgent(t, db, func(_ context.Context, _ string, _ []anthropic.MessageParam, _ []anthropic.ToolUnionParam) (agentReply, error) {
			return agentReply{}, c.err
		})
		got := a.ProcessMessage(context.Background(), "sess-e", "hi", AgentContext{})
		if !strings.Contains(got, c.want) {
			t.Errorf("apology for %v = %q, want substring %q", c.err, got, c.want)
		}
		if strings.Contains(got, "api key") || strings.Contains(got, "tcp") {
			t.Errorf("apology leaked upstream detail: %q", got)
		}
	}
}

func TestAgentEvictStale(t *testing.T) {
	db := testDB(t)
	a := testAgent(t, db, func(_ context.Context, _ string, _ []anthropic.MessageParam, _ []anthropic.ToolUnionParam) (agentReply, error) {
		return textReply("ok"), nil
	})
	clock := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return clock }

	a.ProcessMessage(context.Background(), "sess-old", "hi", AgentContext{})
	clock = clock.Add(45 * time.Minute)
	a.ProcessMessage(context.Background(), "sess-new", "hi", AgentContext{})

	evicted := a.EvictStale(30 * time.Minute)
	if evicted != 1 {
		t.Errorf("evicted = %d, want 1", evicted)
	}
	if a.TranscriptLen("sess-old") != 0 {
		t.Errorf("stale transcript survived eviction")
	}
	if a.TranscriptLen("sess-new") == 0 {
		t.Errorf("fresh transcript was evicted")
	}
}

func TestTagUserTurn(t *testing.T) {
	got := tagUserTurn("sess-1", StateComplaint, "the pipe burst", AgentContext{
		Location: &LocationContext{Description: "Ward 7, Riverside"},
		Media:    &MediaContext{Filename: "pipe.jpg", MimeType: "image/jpeg"},
	})
	for _, want := range []string{
		"[session:sess-1]",
		"[state:complaint_collection]",
		"[location:Ward 7, Riverside]",
		"[media:pipe.jpg image/jpeg]",
		"the pipe burst",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("tagged turn missing %q: %q", want, got)
		}
	}

	bare := tagUserTurn("sess-1", StateGreeting, "hi", AgentContext{})
	if strings.Contains(bare, "[location") || strings.Contains(bare, "[media") {
		t.Errorf("absent context must not be tagged: %q", bare)
	}
}

func TestTagUserTurnCoordinatesFallback(t *testing.T) {
	got := tagUserTurn("sess-1", StateGreeting, "here", AgentContext{
		Location: &LocationContext{Latitude: 12.97160, Longitude: 77.59460},
	})
	if !strings.Contains(got, "[location:12.97160,77.59460]") {
		t.Errorf("coordinates fallback missing: %q", got)
	}
}
