package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/folio-chat/folio/internal/conversation"
	"github.com/folio-chat/folio/internal/knowledge"
	"github.com/folio-chat/folio/internal/llm"
)

func frameTypes(frames []Frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func assertFrameTypes(t *testing.T, frames []Frame, want ...string) {
	t.Helper()
	got := frameTypes(frames)
	if len(got) != len(want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frames = %v, want %v", got, want)
		}
	}
}

func TestStreamNewConversation(t *testing.T) {
	client := &scriptClient{provider: "ollama", model: "mistral", turns: []turn{
		{events: []llm.Event{llm.TokenEvent("Hel"), llm.TokenEvent("lo")}},
	}}
	env := newTestEnv(t, client, nil)

	ex, err := env.orch.Begin(context.Background(), testUserID, Request{
		ProjectID: testProjectID,
		Query:     "say hello",
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	frames := collectFrames(context.Background(), ex)
	assertFrameTypes(t, frames, FrameToken, FrameToken, FrameDone)

	if frames[0].Content != "Hel" || frames[1].Content != "lo" {
		t.Errorf("tokens = %q, %q", frames[0].Content, frames[1].Content)
	}
	if frames[2].ConversationID != 101 {
		t.Errorf("done conversation_id = %d, want 101", frames[2].ConversationID)
	}
	if ex.State() != StateCompleted {
		t.Errorf("state = %v, want completed", ex.State())
	}
	if ex.ConversationID() != 101 {
		t.Errorf("ConversationID = %d, want 101", ex.ConversationID())
	}

	if len(env.conversations.commits) != 1 {
		t.Fatalf("commits = %d, want exactly 1", len(env.conversations.commits))
	}
	commit := env.conversations.commits[0]
	if !commit.ref.IsDraft() {
		t.Error("commit ref is not the draft")
	}
	if commit.pair.UserText != "say hello" || commit.pair.AssistantText != "Hello" {
		t.Errorf("committed pair = (%q, %q)", commit.pair.UserText, commit.pair.AssistantText)
	}
	if commit.pair.Provider != "ollama" || commit.pair.Model != "mistral" {
		t.Errorf("committed tag = (%q, %q), want the resolved pair", commit.pair.Provider, commit.pair.Model)
	}
	if len(commit.pair.ToolCalls) != 0 || len(commit.pair.ToolResults) != 0 {
		t.Errorf("tool-less exchange committed tool traffic: %+v", commit.pair)
	}
}

func TestStreamExistingConversationCommitsAppend(t *testing.T) {
	client := &scriptClient{provider: "ollama", model: "mistral", turns: []turn{
		{events: []llm.Event{llm.TokenEvent("sure")}},
	}}
	env := newTestEnv(t, client, nil)
	env.conversations.conversations[55] = conversation.Conversation{ID: 55, ProjectID: testProjectID}

	ex, err := env.orch.Begin(context.Background(), testUserID, Request{
		ProjectID:      testProjectID,
		Query:          "more",
		ConversationID: ptr(int64(55)),
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	frames := collectFrames(context.Background(), ex)
	assertFrameTypes(t, frames, FrameToken, FrameDone)
	if frames[1].ConversationID != 55 {
		t.Errorf("done conversation_id = %d, want 55", frames[1].ConversationID)
	}

	commit := env.conversations.commits[0]
	if commit.ref.IsDraft() || commit.ref.ID() != 55 {
		t.Errorf("commit ref = %+v", commit.ref)
	}
}

func TestStreamToolRoundTrip(t *testing.T) {
	call := llm.ToolCall{ID: "call_1", Name: "document_search", Args: json.RawMessage(`{"query":"deploy"}`)}
	client := &scriptClient{provider: "ollama", model: "mistral", turns: []turn{
		{events: []llm.Event{llm.TokenEvent("Checking. "), llm.ToolCallEvent(call)}},
		{events: []llm.Event{llm.TokenEvent("Deploy with make.")}},
	}}
	search := &fakeSearch{results: []knowledge.Result{
		{Source: "runbook.md", Score: 0.88, Excerpt: "run make deploy"},
	}}
	env := newTestEnv(t, client, search)

	ex, err := env.orch.Begin(context.Background(), testUserID, Request{
		ProjectID: testProjectID,
		Query:     "how do we deploy?",
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	frames := collectFrames(context.Background(), ex)
	assertFrameTypes(t, frames,
		FrameToken, FrameToolCall, FrameToolResult, FrameToken, FrameDone)

	if frames[1].ToolName != "document_search" || frames[1].ToolID != "call_1" {
		t.Errorf("tool_call frame = %+v", frames[1])
	}
	if string(frames[1].Args) != `{"query":"deploy"}` {
		t.Errorf("tool_call args = %s", frames[1].Args)
	}
	if frames[2].ToolName != "document_search" {
		t.Errorf("tool_result name = %q", frames[2].ToolName)
	}
	if frames[2].ToolID != "" {
		t.Errorf("tool_result should correlate by name, got id %q", frames[2].ToolID)
	}
	if !strings.Contains(frames[2].Content, "[Document 1]") || !strings.Contains(frames[2].Content, "runbook.md") {
		t.Errorf("tool_result content = %q", frames[2].Content)
	}

	// Persisted assistant text spans both turns of the exchange, and
	// the tool traffic rides along on the assistant message.
	commit := env.conversations.commits[0]
	if commit.pair.AssistantText != "Checking. Deploy with make." {
		t.Errorf("committed assistant = %q", commit.pair.AssistantText)
	}
	if len(commit.pair.ToolCalls) != 1 || commit.pair.ToolCalls[0].ID != "call_1" {
		t.Errorf("committed tool calls = %+v", commit.pair.ToolCalls)
	}
	if len(commit.pair.ToolResults) != 1 || commit.pair.ToolResults[0].Name != "document_search" {
		t.Errorf("committed tool results = %+v", commit.pair.ToolResults)
	}
}

func TestStreamModelFailure(t *testing.T) {
	client := &scriptClient{provider: "ollama", model: "mistral", turns: []turn{
		{events: []llm.Event{llm.TokenEvent("partial")}, err: errors.New("upstream hiccup")},
	}}
	env := newTestEnv(t, client, nil)

	ex, err := env.orch.Begin(context.Background(), testUserID, Request{
		ProjectID: testProjectID,
		Query:     "hi",
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	frames := collectFrames(context.Background(), ex)
	assertFrameTypes(t, frames, FrameToken, FrameError)

	if strings.Contains(frames[1].Message, "upstream hiccup") {
		t.Errorf("error frame leaks transport detail: %q", frames[1].Message)
	}
	if !strings.Contains(frames[1].Message, "ollama backend failed") {
		t.Errorf("error frame = %q", frames[1].Message)
	}
	if ex.State() != StateFailed {
		t.Errorf("state = %v, want failed", ex.State())
	}
	if len(env.conversations.commits) != 0 {
		t.Errorf("failed exchange committed %d times", len(env.conversations.commits))
	}
}

func TestStreamClientCancel(t *testing.T) {
	client := &blockingClient{provider: "ollama", model: "mistral", events: []llm.Event{
		llm.TokenEvent("thinking"),
	}}
	env := newTestEnv(t, client, nil)

	ex, err := env.orch.Begin(context.Background(), testUserID, Request{
		ProjectID: testProjectID,
		Query:     "long question",
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var frames []Frame
	for f := range ex.Stream(ctx) {
		frames = append(frames, f)
		cancel()
	}
	cancel()

	assertFrameTypes(t, frames, FrameToken)
	if ex.State() != StateCancelled {
		t.Errorf("state = %v, want cancelled", ex.State())
	}
	if len(env.conversations.commits) != 0 {
		t.Errorf("cancelled exchange committed %d times", len(env.conversations.commits))
	}
}

func TestStreamStopsWhenConsumerBreaks(t *testing.T) {
	client := &scriptClient{provider: "ollama", model: "mistral", turns: []turn{
		{events: []llm.Event{llm.TokenEvent("a"), llm.TokenEvent("b"), llm.TokenEvent("c")}},
	}}
	env := newTestEnv(t, client, nil)

	ex, err := env.orch.Begin(context.Background(), testUserID, Request{
		ProjectID: testProjectID,
		Query:     "hi",
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	for range ex.Stream(context.Background()) {
		break
	}

	if ex.State() != StateCancelled {
		t.Errorf("state = %v, want cancelled", ex.State())
	}
	if len(env.conversations.commits) != 0 {
		t.Error("abandoned exchange was committed")
	}
}

func TestStreamIdleTimeout(t *testing.T) {
	client := &blockingClient{provider: "ollama", model: "mistral", events: []llm.Event{
		llm.TokenEvent("one token then silence"),
	}}
	env := newTestEnv(t, client, nil)
	cfg := testConfig()
	cfg.IdleTimeout = 50 * time.Millisecond
	env.orch.cfg = cfg

	ex, err := env.orch.Begin(context.Background(), testUserID, Request{
		ProjectID: testProjectID,
		Query:     "hi",
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	start := time.Now()
	frames := collectFrames(context.Background(), ex)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took %v", elapsed)
	}

	assertFrameTypes(t, frames, FrameToken, FrameError)
	if !strings.Contains(frames[1].Message, "no model activity") {
		t.Errorf("error frame = %q", frames[1].Message)
	}
	if ex.State() != StateFailed {
		t.Errorf("state = %v, want failed", ex.State())
	}
	if len(env.conversations.commits) != 0 {
		t.Error("timed out exchange was committed")
	}
}

func TestStreamCommitFailure(t *testing.T) {
	client := &scriptClient{provider: "ollama", model: "mistral", turns: []turn{
		{events: []llm.Event{llm.TokenEvent("fine answer")}},
	}}
	env := newTestEnv(t, client, nil)
	env.conversations.commitErr = errors.New("deadlock detected")

	ex, err := env.orch.Begin(context.Background(), testUserID, Request{
		ProjectID: testProjectID,
		Query:     "hi",
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	frames := collectFrames(context.Background(), ex)
	assertFrameTypes(t, frames, FrameToken, FrameError)

	if frames[1].Message != "failed to save the conversation" {
		t.Errorf("error frame = %q, internals must not leak", frames[1].Message)
	}
	if ex.State() != StateFailed {
		t.Errorf("state = %v, want failed", ex.State())
	}
}
