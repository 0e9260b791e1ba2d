package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/folio-chat/folio/internal/log"
)

func intptr(i int) *int { return &i }

func TestMergeToolCallDeltas(t *testing.T) {
	var calls []openai.ToolCall

	// First fragment carries id and name; later fragments append argument text.
	calls = mergeToolCallDeltas(calls, []openai.ToolCall{
		{Index: intptr(0), ID: "call_abc", Function: openai.FunctionCall{Name: "document_search", Arguments: `{"qu`}},
	})
	calls = mergeToolCallDeltas(calls, []openai.ToolCall{
		{Index: intptr(0), Function: openai.FunctionCall{Arguments: `ery":"x"}`}},
	})
	calls = mergeToolCallDeltas(calls, []openai.ToolCall{
		{Index: intptr(1), ID: "call_def", Function: openai.FunctionCall{Name: "other", Arguments: `{}`}},
	})

	if len(calls) != 2 {
		t.Fatalf("len = %d, want 2", len(calls))
	}
	if calls[0].ID != "call_abc" || calls[0].Function.Arguments != `{"query":"x"}` {
		t.Errorf("first call = %+v, want merged arguments", calls[0])
	}
	if calls[1].ID != "call_def" || calls[1].Function.Name != "other" {
		t.Errorf("second call = %+v", calls[1])
	}
}

func TestMergeToolCallDeltas_NilIndex(t *testing.T) {
	var calls []openai.ToolCall
	calls = mergeToolCallDeltas(calls, []openai.ToolCall{
		{ID: "call_1", Function: openai.FunctionCall{Name: "f", Arguments: "{"}},
	})
	calls = mergeToolCallDeltas(calls, []openai.ToolCall{
		{Function: openai.FunctionCall{Arguments: "}"}},
	})

	if len(calls) != 1 || calls[0].Function.Arguments != "{}" {
		t.Errorf("calls = %+v, want one call with merged args", calls)
	}
}

// sseChunk formats one OpenAI streaming chunk line.
func sseChunk(t *testing.T, delta map[string]any, finish string) string {
	t.Helper()
	choice := map[string]any{"index": 0, "delta": delta}
	if finish != "" {
		choice["finish_reason"] = finish
	}
	payload := map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion.chunk",
		"choices": []any{choice},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal chunk: %v", err)
	}
	return "data: " + string(data) + "\n\n"
}

func newOpenAITestServer(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprint(w, c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestOpenAIStream_TokensAndToolCalls(t *testing.T) {
	chunks := []string{
		sseChunk(t, map[string]any{"role": "assistant", "content": "Sure"}, ""),
		sseChunk(t, map[string]any{"content": ", searching."}, ""),
		sseChunk(t, map[string]any{"tool_calls": []any{map[string]any{
			"index": 0, "id": "call_9", "type": "function",
			"function": map[string]any{"name": "document_search", "arguments": `{"query":"tax"}`},
		}}}, ""),
		sseChunk(t, map[string]any{}, "tool_calls"),
	}
	srv := newOpenAITestServer(t, chunks)
	defer srv.Close()

	p := NewOpenAIProvider("test-key", srv.URL+"/v1", []string{"gpt-4o"}, log.NewNop())
	events, err := collectEvents(t, p.Open("gpt-4o"), Request{
		Messages: []Message{{Role: RoleUser, Content: "tax docs?"}},
		Tools:    []ToolDef{{Name: "document_search"}},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}
	if events[0].Text != "Sure" || events[1].Text != ", searching." {
		t.Errorf("token events = %+v", events[:2])
	}
	call := events[2]
	if call.Kind != KindToolCall || call.Call.ID != "call_9" || call.Call.Name != "document_search" {
		t.Errorf("tool call event = %+v", call)
	}
}

func TestToOpenAIMessages_Roles(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, Content: "", ToolCalls: []ToolCall{{ID: "c1", Name: "f", Args: json.RawMessage(`{}`)}}},
		{Role: RoleTool, Content: "out", ToolCallID: "c1", ToolName: "f"},
	}

	wire := toOpenAIMessages(msgs)
	want := []string{
		openai.ChatMessageRoleSystem,
		openai.ChatMessageRoleUser,
		openai.ChatMessageRoleAssistant,
		openai.ChatMessageRoleTool,
	}
	for i, role := range want {
		if wire[i].Role != role {
			t.Errorf("message %d role = %q, want %q", i, wire[i].Role, role)
		}
	}
	if len(wire[2].ToolCalls) != 1 || wire[2].ToolCalls[0].ID != "c1" {
		t.Errorf("assistant tool calls = %+v", wire[2].ToolCalls)
	}
	if wire[3].ToolCallID != "c1" || wire[3].Name != "f" {
		t.Errorf("tool message = %+v", wire[3])
	}
}
