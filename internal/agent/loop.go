// Package agent runs the model exchange loop. One call to Run streams
// model turns, executes requested tools between turns, and feeds the
// results back until the model answers in plain text or a limit trips.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/folio-chat/folio/internal/llm"
	"github.com/folio-chat/folio/internal/log"
	"github.com/folio-chat/folio/internal/tools"
)

// DefaultMaxToolRounds caps tool cycles per exchange when the caller
// passes no limit.
const DefaultMaxToolRounds = 8

// ErrTooManyRounds is returned through the event sequence when the
// model keeps requesting tools past the configured round limit.
var ErrTooManyRounds = errors.New("agent: tool round limit exceeded")

// Invoker executes named tools and describes them to the model.
// *tools.Registry satisfies it.
type Invoker interface {
	Defs() []llm.ToolDef
	Invoke(ctx context.Context, name string, args json.RawMessage) (string, *tools.ToolError)
}

// Loop drives one model exchange. It owns no connections; the client
// and invoker it composes carry their own state.
type Loop struct {
	client    llm.Client
	tools     Invoker
	maxRounds int
	logger    log.Logger
}

// New returns a loop over client and invoker. invoker may be nil for
// tool-less exchanges. maxRounds <= 0 selects DefaultMaxToolRounds.
func New(client llm.Client, invoker Invoker, maxRounds int, logger log.Logger) *Loop {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}
	return &Loop{
		client:    client,
		tools:     invoker,
		maxRounds: maxRounds,
		logger:    logger.With("provider", client.Provider(), "model", client.Model()),
	}
}

// Run executes the exchange against the given history. The returned
// sequence is lazy and single use; all network and tool work happens
// during iteration. It yields token, tool_call, and tool_result events
// in model order and terminates with exactly one of: a final event of
// kind done, or an error on the error side. Stopping iteration early
// abandons the exchange.
func (l *Loop) Run(ctx context.Context, history []llm.Message) iter.Seq2[llm.Event, error] {
	return func(yield func(llm.Event, error) bool) {
		messages := slices.Clone(history)

		var defs []llm.ToolDef
		if l.tools != nil {
			defs = l.tools.Defs()
		}

		for round := 0; ; round++ {
			if round > l.maxRounds {
				l.logger.Warn("tool round limit exceeded", "rounds", round)
				yield(llm.Event{}, ErrTooManyRounds)
				return
			}

			var text strings.Builder
			var calls []llm.ToolCall

			for ev, err := range l.client.Stream(ctx, llm.Request{Messages: messages, Tools: defs}) {
				if err != nil {
					yield(llm.Event{}, fmt.Errorf("model stream: %w", err))
					return
				}
				switch ev.Kind {
				case llm.KindToken:
					text.WriteString(ev.Text)
				case llm.KindToolCall:
					calls = append(calls, ev.Call)
				}
				if !yield(ev, nil) {
					return
				}
			}

			if len(calls) == 0 {
				yield(llm.DoneEvent(), nil)
				return
			}

			messages = append(messages, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   text.String(),
				ToolCalls: calls,
			})

			for _, call := range calls {
				content := l.execute(ctx, call)
				if !yield(llm.ToolResultEvent(call.Name, content), nil) {
					return
				}
				messages = append(messages, llm.Message{
					Role:       llm.RoleTool,
					Content:    content,
					ToolCallID: call.ID,
					ToolName:   call.Name,
				})
			}
		}
	}
}

// execute runs one tool call. Tool failures come back as model-visible
// text so the exchange continues; only the transport can end it.
func (l *Loop) execute(ctx context.Context, call llm.ToolCall) string {
	if l.tools == nil {
		return fmt.Sprintf("tool %q is not available", call.Name)
	}

	result, terr := l.tools.Invoke(ctx, call.Name, call.Args)
	if terr != nil {
		l.logger.Debug("tool returned error", "tool", call.Name, "type", terr.ErrorType)
		return terr.Message
	}
	return result
}
