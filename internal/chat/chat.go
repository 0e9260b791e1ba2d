// Package chat orchestrates one streaming exchange end to end: resolve
// the model, load context, run the agent loop, frame events for the
// wire, and persist the finished exchange. Work splits into two phases
// so failures before the first frame can still use plain HTTP errors:
// Begin validates and resolves everything fallible up front, Stream
// performs the exchange.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/folio-chat/folio/internal/agent"
	"github.com/folio-chat/folio/internal/conversation"
	"github.com/folio-chat/folio/internal/llm"
	"github.com/folio-chat/folio/internal/log"
	"github.com/folio-chat/folio/internal/project"
	"github.com/folio-chat/folio/internal/tools"
)

var (
	// ErrEmptyQuery rejects requests whose query is blank.
	ErrEmptyQuery = errors.New("chat: query is required")
	// ErrInvalidProject rejects requests without a usable project id.
	ErrInvalidProject = errors.New("chat: project_id is required")
)

// defaultSystemPrompt steers exchanges in projects that set no prompt
// of their own.
const defaultSystemPrompt = "You are a helpful assistant. When the user asks about their " +
	"documents, use the document_search tool to find relevant content before answering."

// Request is one chat turn as received from the client. A nil
// ConversationID starts a new conversation; provider and model fall
// back to the configured defaults when empty.
type Request struct {
	ProjectID      int64  `json:"project_id"`
	Query          string `json:"query"`
	ConversationID *int64 `json:"conversation_id"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
}

// Frame type markers, carried inside each frame's JSON payload.
const (
	FrameToken      = "token"
	FrameToolCall   = "tool_call"
	FrameToolResult = "tool_result"
	FrameDone       = "done"
	FrameError      = "error"
)

// Frame is one wire frame. Exactly one frame per exchange is terminal:
// done on success, error otherwise. Tool result frames carry no id;
// clients correlate them to the preceding call by tool name.
type Frame struct {
	Type           string          `json:"type"`
	Content        string          `json:"content,omitempty"`
	ToolName       string          `json:"tool_name,omitempty"`
	ToolID         string          `json:"tool_id,omitempty"`
	Args           json.RawMessage `json:"args,omitempty"`
	ConversationID int64           `json:"conversation_id,omitempty"`
	Message        string          `json:"message,omitempty"`
}

// State tracks an exchange through its lifecycle.
type State int

const (
	// StateIdle is the state between Begin and the first Stream pull.
	StateIdle State = iota
	// StateStreaming covers the exchange while frames flow.
	StateStreaming
	// StateCompleted is the terminal state of a committed exchange.
	StateCompleted
	// StateCancelled is terminal for abandoned exchanges. Nothing is
	// persisted and no further frames are written.
	StateCancelled
	// StateFailed is terminal for exchanges ending in an error frame.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ConversationStore is the history persistence the orchestrator needs.
// *conversation.Store satisfies it.
type ConversationStore interface {
	Get(ctx context.Context, projectID, id int64) (conversation.Conversation, error)
	History(ctx context.Context, conversationID int64, limit int) ([]conversation.Message, error)
	Commit(ctx context.Context, ref conversation.Ref, pair conversation.Pair) (int64, error)
}

// ProjectStore resolves project ownership. *project.Store satisfies it.
type ProjectStore interface {
	Get(ctx context.Context, userID, id int64) (project.Project, error)
}

// Config carries the orchestrator's tunables.
type Config struct {
	DefaultProvider string
	DefaultModel    string
	HistoryLimit    int
	IdleTimeout     time.Duration
	MaxToolRounds   int
	ToolTimeout     time.Duration
	SearchLimit     int
}

// Orchestrator builds exchanges. It holds no per-exchange state.
type Orchestrator struct {
	registry      *llm.Registry
	conversations ConversationStore
	projects      ProjectStore
	search        tools.Searcher
	cfg           Config
	logger        log.Logger
}

// New wires an orchestrator. search may be nil to run without the
// document tool.
func New(registry *llm.Registry, conversations ConversationStore, projects ProjectStore, search tools.Searcher, cfg Config, logger log.Logger) *Orchestrator {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 90 * time.Second
	}
	return &Orchestrator{
		registry:      registry,
		conversations: conversations,
		projects:      projects,
		search:        search,
		cfg:           cfg,
		logger:        logger.With("component", "chat"),
	}
}

// Begin validates the request and resolves everything that can fail
// before the response commits to SSE: project ownership, provider and
// model, conversation existence, and history. No frame is produced
// here; callers map returned errors to plain HTTP responses. The
// returned exchange holds no connection yet; transport work starts
// when Stream is iterated.
func (o *Orchestrator) Begin(ctx context.Context, userID int64, req Request) (*Exchange, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if req.ProjectID <= 0 {
		return nil, ErrInvalidProject
	}

	proj, err := o.projects.Get(ctx, userID, req.ProjectID)
	if err != nil {
		return nil, err
	}

	providerID := req.Provider
	if providerID == "" {
		providerID = o.cfg.DefaultProvider
	}
	modelID := req.Model
	if modelID == "" {
		modelID = o.cfg.DefaultModel
	}
	client, err := o.registry.Resolve(providerID, modelID)
	if err != nil {
		return nil, err
	}

	var ref conversation.Ref
	var history []conversation.Message
	if req.ConversationID != nil && *req.ConversationID > 0 {
		id := *req.ConversationID
		if _, err := o.conversations.Get(ctx, req.ProjectID, id); err != nil {
			return nil, err
		}
		history, err = o.conversations.History(ctx, id, o.cfg.HistoryLimit)
		if err != nil {
			return nil, err
		}
		ref = conversation.Existing(id)
	} else {
		ref = conversation.NewDraft(req.ProjectID, query)
	}

	prompt := proj.Prompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: prompt})
	for _, m := range history {
		messages = append(messages, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})

	var invoker agent.Invoker
	if o.search != nil {
		searchTool, err := tools.NewDocumentSearch(o.search, req.ProjectID, o.cfg.SearchLimit, o.logger)
		if err != nil {
			return nil, fmt.Errorf("build tools: %w", err)
		}
		invoker = tools.NewRegistry(o.cfg.ToolTimeout, o.logger, searchTool)
	}

	logger := o.logger.With("project_id", req.ProjectID, "provider", providerID, "model", modelID)
	return &Exchange{
		loop:          agent.New(client, invoker, o.cfg.MaxToolRounds, logger),
		conversations: o.conversations,
		ref:           ref,
		userText:      query,
		messages:      messages,
		idleTimeout:   o.cfg.IdleTimeout,
		provider:      providerID,
		model:         modelID,
		logger:        logger,
		state:         StateIdle,
	}, nil
}
