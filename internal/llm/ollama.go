package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/folio-chat/folio/internal/log"
)

// ollamaProvider talks to an Ollama server over its native NDJSON chat API.
type ollamaProvider struct {
	host   string
	models []string
	http   *http.Client
	logger log.Logger
}

// NewOllamaProvider creates the Ollama provider. host is the server base URL
// (e.g. http://localhost:11434); models is the enumerated model set offered
// through the registry.
func NewOllamaProvider(host string, models []string, logger log.Logger) Provider {
	return &ollamaProvider{
		host:   host,
		models: slices.Clone(models),
		// No overall timeout: streams run until the idle backstop upstream
		// cuts them off. Dial/TLS limits come from the default transport.
		http:   &http.Client{},
		logger: logger.With("provider", "ollama"),
	}
}

func (p *ollamaProvider) ID() string       { return "ollama" }
func (p *ollamaProvider) Models() []string { return p.models }

func (p *ollamaProvider) Open(model string) Client {
	return &ollamaClient{provider: p, model: model}
}

type ollamaClient struct {
	provider *ollamaProvider
	model    string
}

func (c *ollamaClient) Provider() string { return "ollama" }
func (c *ollamaClient) Model() string    { return c.model }

// Wire types for the /api/chat endpoint.
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaToolSpec `json:"function"`
}

type ollamaToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

type ollamaChunk struct {
	Message struct {
		Role      string           `json:"role"`
		Content   string           `json:"content"`
		ToolCalls []ollamaToolCall `json:"tool_calls"`
	} `json:"message"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
	Error      string `json:"error"`
}

func (c *ollamaClient) Stream(ctx context.Context, req Request) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		payload := ollamaChatRequest{
			Model:    c.model,
			Messages: toOllamaMessages(req.Messages),
			Stream:   true,
			Tools:    toOllamaTools(req.Tools),
		}
		body, err := json.Marshal(payload)
		if err != nil {
			yield(Event{}, fmt.Errorf("encoding chat request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.provider.host+"/api/chat", bytes.NewReader(body))
		if err != nil {
			yield(Event{}, fmt.Errorf("building chat request: %w", err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		start := time.Now()
		resp, err := c.provider.http.Do(httpReq)
		if err != nil {
			yield(Event{}, fmt.Errorf("ollama transport: %w", err))
			return
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			yield(Event{}, fmt.Errorf("ollama transport: %s", decodeOllamaError(resp)))
			return
		}

		dec := json.NewDecoder(resp.Body)
		for {
			var chunk ollamaChunk
			if err := dec.Decode(&chunk); err != nil {
				if errors.Is(err, io.EOF) {
					yield(Event{}, errors.New("ollama stream ended without a final chunk"))
				} else {
					yield(Event{}, fmt.Errorf("decoding ollama chunk: %w", err))
				}
				return
			}
			if chunk.Error != "" {
				yield(Event{}, fmt.Errorf("ollama: %s", chunk.Error))
				return
			}

			if chunk.Message.Content != "" {
				if !yield(TokenEvent(chunk.Message.Content), nil) {
					return
				}
			}
			for _, tc := range chunk.Message.ToolCalls {
				// Ollama assigns no call identifiers; mint one so results
				// can be correlated on the wire.
				call := ToolCall{
					ID:   "call_" + uuid.NewString(),
					Name: tc.Function.Name,
					Args: tc.Function.Arguments,
				}
				if !yield(ToolCallEvent(call), nil) {
					return
				}
			}
			if chunk.Done {
				c.provider.logger.Debug("turn complete",
					"model", c.model,
					"reason", chunk.DoneReason,
					"elapsed", time.Since(start),
				)
				return
			}
		}
	}
}

func toOllamaMessages(msgs []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(msgs))
	for _, m := range msgs {
		om := ollamaMessage{Role: string(m.Role), Content: m.Content}
		if m.Role == RoleTool {
			om.ToolName = m.ToolName
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, ollamaToolCall{
				Function: ollamaFunctionCall{Name: tc.Name, Arguments: tc.Args},
			})
		}
		out = append(out, om)
	}
	return out
}

func toOllamaTools(defs []ToolDef) []ollamaTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]ollamaTool, 0, len(defs))
	for _, d := range defs {
		out = append(out, ollamaTool{
			Type: "function",
			Function: ollamaToolSpec{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Schema,
			},
		})
	}
	return out
}

// decodeOllamaError extracts the error message from a non-200 response,
// falling back to the HTTP status.
func decodeOllamaError(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(data) > 0 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return e.Error
		}
	}
	return resp.Status
}
