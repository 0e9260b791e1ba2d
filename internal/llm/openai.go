package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/folio-chat/folio/internal/log"
)

// openAIProvider serves OpenAI models through the official REST API.
type openAIProvider struct {
	models []string
	client *openai.Client
	logger log.Logger
}

// NewOpenAIProvider creates the OpenAI provider. baseURL may be empty for
// the public endpoint. Construction performs no I/O.
func NewOpenAIProvider(apiKey, baseURL string, models []string, logger log.Logger) Provider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &openAIProvider{
		models: slices.Clone(models),
		client: openai.NewClientWithConfig(cfg),
		logger: logger.With("provider", "openai"),
	}
}

func (p *openAIProvider) ID() string       { return "openai" }
func (p *openAIProvider) Models() []string { return p.models }

func (p *openAIProvider) Open(model string) Client {
	return &openAIClient{provider: "openai", model: model, client: p.client, logger: p.logger}
}

// openAIClient streams turns through a go-openai client. It is shared by the
// OpenAI provider and the Serpro gateway provider, which differ only in how
// the underlying client is obtained.
type openAIClient struct {
	provider string
	model    string
	client   *openai.Client
	logger   log.Logger
}

func (c *openAIClient) Provider() string { return c.provider }
func (c *openAIClient) Model() string    { return c.model }

func (c *openAIClient) Stream(ctx context.Context, req Request) iter.Seq2[Event, error] {
	return streamCompletion(ctx, c.client, c.provider, c.model, req)
}

// streamCompletion runs one streaming chat completion and yields its events.
// Tool call fragments are aggregated across deltas by index and emitted once
// the turn ends.
func streamCompletion(ctx context.Context, client *openai.Client, providerID, model string, req Request) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		stream, err := client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:    model,
			Messages: toOpenAIMessages(req.Messages),
			Tools:    toOpenAITools(req.Tools),
		})
		if err != nil {
			yield(Event{}, fmt.Errorf("%s transport: %w", providerID, err))
			return
		}
		defer stream.Close() //nolint:errcheck

		var calls []openai.ToolCall
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				yield(Event{}, fmt.Errorf("%s stream: %w", providerID, err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}

			delta := resp.Choices[0].Delta
			if delta.Content != "" {
				if !yield(TokenEvent(delta.Content), nil) {
					return
				}
			}
			calls = mergeToolCallDeltas(calls, delta.ToolCalls)
		}

		for _, call := range calls {
			tc := ToolCall{
				ID:   call.ID,
				Name: call.Function.Name,
				Args: json.RawMessage(call.Function.Arguments),
			}
			if tc.ID == "" {
				tc.ID = "call_" + uuid.NewString()
			}
			if len(tc.Args) == 0 {
				tc.Args = json.RawMessage("{}")
			}
			if !yield(ToolCallEvent(tc), nil) {
				return
			}
		}
	}
}

// mergeToolCallDeltas folds streamed tool call fragments into complete calls.
// The first fragment of a call carries its id and function name; subsequent
// fragments append argument text, keyed by index.
func mergeToolCallDeltas(calls []openai.ToolCall, deltas []openai.ToolCall) []openai.ToolCall {
	for _, d := range deltas {
		idx := len(calls) - 1
		if d.Index != nil {
			idx = *d.Index
		}
		if idx < 0 {
			idx = 0
		}
		for idx >= len(calls) {
			calls = append(calls, openai.ToolCall{})
		}
		cur := &calls[idx]
		if d.ID != "" {
			cur.ID = d.ID
		}
		if d.Function.Name != "" {
			cur.Function.Name = d.Function.Name
		}
		cur.Function.Arguments += d.Function.Arguments
	}
	return calls
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := openai.ChatCompletionMessage{Content: m.Content}
		switch m.Role {
		case RoleSystem:
			cm.Role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			cm.Role = openai.ChatMessageRoleAssistant
			for _, tc := range m.ToolCalls {
				cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				})
			}
		case RoleTool:
			cm.Role = openai.ChatMessageRoleTool
			cm.ToolCallID = m.ToolCallID
			cm.Name = m.ToolName
		default:
			cm.Role = openai.ChatMessageRoleUser
		}
		out = append(out, cm)
	}
	return out
}

func toOpenAITools(defs []ToolDef) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Schema,
			},
		})
	}
	return out
}
