// Package conversation persists chat history. A conversation belongs to
// one project and owns an ordered message log; ordering is enforced by
// per-conversation sequence numbers assigned under a row lock.
package conversation

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a conversation does not exist or is not
// visible within the given project.
var ErrNotFound = errors.New("conversation: not found")

// DefaultTitle names conversations started from an empty query.
const DefaultTitle = "New Conversation"

// titleMaxRunes bounds stored titles; longer ones are clipped.
const titleMaxRunes = 50

// Conversation is one chat thread within a project. Provider and model
// are chosen per exchange, not per conversation, so they live on the
// individual assistant messages.
type Conversation struct {
	ID           int64     `json:"id"`
	ProjectID    int64     `json:"project_id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message is one persisted turn. Role holds the wire role string, user
// or assistant. Assistant messages are tagged with the provider and
// model that produced them and carry the tool traffic of their
// exchange in arrival order.
type Message struct {
	ID             int64        `json:"id"`
	ConversationID int64        `json:"conversation_id"`
	Role           string       `json:"role"`
	Content        string       `json:"content"`
	Provider       string       `json:"provider,omitempty"`
	Model          string       `json:"model,omitempty"`
	ToolCalls      []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults    []ToolResult `json:"tool_results,omitempty"`
	SequenceNumber int          `json:"sequence_number"`
	CreatedAt      time.Time    `json:"created_at"`
}

// ToolCall records one model-requested invocation on an assistant
// message.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ToolResult records the textual outcome of one executed call. A
// result references its call by name and never precedes it in the
// message's log.
type ToolResult struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Pair is one completed exchange ready to persist: the user turn and
// the assistant turn that answered it, plus any tool traffic the
// assistant generated on the way.
type Pair struct {
	UserText      string
	AssistantText string
	Provider      string
	Model         string
	ToolCalls     []ToolCall
	ToolResults   []ToolResult
}

// Draft carries everything needed to create a conversation row at
// commit time. Nothing is written until the first exchange completes.
type Draft struct {
	ProjectID int64
	Title     string
}

// Ref points an exchange at its commit target: either an existing
// conversation row or a draft that becomes one when the exchange
// completes.
type Ref struct {
	id    int64
	draft *Draft
}

// Existing returns a ref to an already persisted conversation.
func Existing(id int64) Ref { return Ref{id: id} }

// NewDraft returns a ref that will create a conversation on commit.
// The title derives from the opening query.
func NewDraft(projectID int64, query string) Ref {
	return Ref{draft: &Draft{
		ProjectID: projectID,
		Title:     DeriveTitle(query),
	}}
}

// IsDraft reports whether committing this ref creates a new row.
func (r Ref) IsDraft() bool { return r.draft != nil }

// ID returns the conversation id, or 0 for an uncommitted draft.
func (r Ref) ID() int64 { return r.id }

// Draft returns the pending conversation and true when the ref is a
// draft. Stores use it to learn what row a commit should create.
func (r Ref) Draft() (Draft, bool) {
	if r.draft == nil {
		return Draft{}, false
	}
	return *r.draft, true
}

// DeriveTitle builds a conversation title from its opening query:
// surrounding whitespace is trimmed, empty input falls back to
// DefaultTitle, and anything longer than 50 runes is clipped to 47
// plus an ellipsis.
func DeriveTitle(query string) string {
	title := strings.TrimSpace(query)
	if title == "" {
		return DefaultTitle
	}
	runes := []rune(title)
	if len(runes) <= titleMaxRunes {
		return title
	}
	return string(runes[:titleMaxRunes-3]) + "..."
}
