// Package llm defines the provider abstraction for streaming model backends.
//
// A Provider enumerates its models and opens Clients; a Client streams one
// model turn as a lazy event sequence (iter.Seq2). The Registry maps
// provider/model identifiers to Clients with fail-fast validation and no
// I/O: transport work is deferred to the Client's first use.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"iter"

	"github.com/google/jsonschema-go/jsonschema"
)

var (
	// ErrUnknownProvider indicates the requested provider is not registered.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrUnknownModel indicates the model is not in the provider's model set.
	ErrUnknownModel = errors.New("unknown model")
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of model history.
type Message struct {
	Role    Role
	Content string

	// ToolCalls carries the calls an assistant message requested.
	ToolCalls []ToolCall

	// ToolCallID and ToolName identify, on a RoleTool message, the call
	// this message answers.
	ToolCallID string
	ToolName   string
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// ToolDef describes a callable tool offered to the model for one turn.
type ToolDef struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
}

// Request is the input to one model turn.
type Request struct {
	Messages []Message
	Tools    []ToolDef
}

// EventKind discriminates Event variants.
type EventKind int

const (
	// KindToken carries a text fragment.
	KindToken EventKind = iota
	// KindToolCall carries a model-requested tool invocation.
	KindToolCall
	// KindToolResult carries the textual outcome of an executed tool call.
	KindToolResult
	// KindDone marks the successful end of an exchange. Emitted once,
	// by the agent loop, never by a Client.
	KindDone
)

// String returns the wire name of the kind.
func (k EventKind) String() string {
	switch k {
	case KindToken:
		return "token"
	case KindToolCall:
		return "tool_call"
	case KindToolResult:
		return "tool_result"
	case KindDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event is one unit of a generation sequence.
type Event struct {
	Kind EventKind

	// Text is the fragment for KindToken.
	Text string

	// Call is set for KindToolCall.
	Call ToolCall

	// Result is set for KindToolResult.
	Result ToolResult
}

// ToolResult is the textual outcome of a tool call.
type ToolResult struct {
	Name    string
	Content string
}

// TokenEvent builds a KindToken event.
func TokenEvent(text string) Event {
	return Event{Kind: KindToken, Text: text}
}

// ToolCallEvent builds a KindToolCall event.
func ToolCallEvent(call ToolCall) Event {
	return Event{Kind: KindToolCall, Call: call}
}

// ToolResultEvent builds a KindToolResult event.
func ToolResultEvent(name, content string) Event {
	return Event{Kind: KindToolResult, Result: ToolResult{Name: name, Content: content}}
}

// DoneEvent builds the exchange-terminal KindDone event.
func DoneEvent() Event {
	return Event{Kind: KindDone}
}

// Client streams single model turns for one provider/model binding.
//
// Stream is lazy and non-restartable: nothing happens until the first pull,
// and a consumed sequence cannot be iterated again. A turn yields zero or
// more KindToken events and zero or more KindToolCall events; the sequence
// ends when the turn is complete or the error side is non-nil. Clients never
// yield KindDone or KindToolResult.
type Client interface {
	Provider() string
	Model() string
	Stream(ctx context.Context, req Request) iter.Seq2[Event, error]
}

// Provider enumerates models and opens Clients for them. Open must be pure:
// no network I/O, no blocking.
type Provider interface {
	ID() string
	Models() []string
	Open(model string) Client
}
