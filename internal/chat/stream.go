package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/folio-chat/folio/internal/agent"
	"github.com/folio-chat/folio/internal/conversation"
	"github.com/folio-chat/folio/internal/llm"
	"github.com/folio-chat/folio/internal/log"
	"github.com/folio-chat/folio/internal/metrics"
)

// Exchange is one in-flight chat turn, produced by Begin. It streams
// exactly once.
type Exchange struct {
	loop          *agent.Loop
	conversations ConversationStore
	ref           conversation.Ref
	userText      string
	messages      []llm.Message
	idleTimeout   time.Duration
	provider      string
	model         string
	logger        log.Logger

	state          State
	conversationID int64
}

// State reports the exchange lifecycle state.
func (ex *Exchange) State() State { return ex.state }

// Provider reports the resolved provider id.
func (ex *Exchange) Provider() string { return ex.provider }

// Model reports the resolved model id.
func (ex *Exchange) Model() string { return ex.model }

// IsNewConversation reports whether this exchange starts a new
// conversation.
func (ex *Exchange) IsNewConversation() bool { return ex.ref.IsDraft() }

// ConversationID returns the conversation this exchange belongs to.
// For a new conversation it is 0 until the exchange completes.
func (ex *Exchange) ConversationID() int64 {
	if ex.conversationID != 0 {
		return ex.conversationID
	}
	return ex.ref.ID()
}

// pumpItem carries one agent event, or the terminal error, from the
// pump goroutine to the frame loop.
type pumpItem struct {
	event llm.Event
	err   error
}

// Stream runs the exchange and yields wire frames in order. The
// sequence is lazy and single use. It ends with exactly one terminal:
// a done frame after a successful commit, an error frame on failure or
// idle timeout, or silence when ctx is cancelled or the consumer stops
// early, in which case nothing is persisted.
func (ex *Exchange) Stream(ctx context.Context) iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		ex.state = StateStreaming
		start := time.Now()
		ctx, span := otel.Tracer("folio/chat").Start(ctx, "chat.exchange",
			trace.WithAttributes(
				attribute.String("llm.provider", ex.provider),
				attribute.String("llm.model", ex.model),
			))
		metrics.StreamsActive.Inc()
		defer func() {
			metrics.StreamsActive.Dec()
			metrics.RecordStream(ex.provider, ex.model, ex.state.String(), time.Since(start).Seconds())
			span.SetAttributes(attribute.String("chat.state", ex.state.String()))
			if ex.state == StateFailed {
				span.SetStatus(codes.Error, "exchange failed")
			}
			span.End()
			ex.logger.Info("exchange finished",
				"state", ex.state.String(),
				"conversation_id", ex.conversationID,
				"duration", time.Since(start))
		}()

		pumpCtx, cancelPump := context.WithCancel(ctx)
		items := make(chan pumpItem)
		go ex.pump(pumpCtx, items)
		// Draining until close guarantees the pump has exited before
		// Stream returns.
		defer func() {
			cancelPump()
			for range items {
			}
		}()

		timer := time.NewTimer(ex.idleTimeout)
		defer timer.Stop()

		var assistant strings.Builder
		var calls []conversation.ToolCall
		var results []conversation.ToolResult
		for {
			select {
			case <-ctx.Done():
				ex.state = StateCancelled
				return

			case <-timer.C:
				if ctx.Err() != nil {
					ex.state = StateCancelled
					return
				}
				ex.state = StateFailed
				ex.logger.Warn("exchange idle timeout", "timeout", ex.idleTimeout)
				yield(Frame{Type: FrameError, Message: fmt.Sprintf("no model activity for %s", ex.idleTimeout)})
				return

			case item, ok := <-items:
				// A cancelled context wins every race: once the client
				// is gone no frame goes out and nothing is persisted.
				if ctx.Err() != nil {
					ex.state = StateCancelled
					return
				}
				if !ok {
					ex.state = StateFailed
					yield(Frame{Type: FrameError, Message: "model stream ended unexpectedly"})
					return
				}
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(ex.idleTimeout)

				if item.err != nil {
					ex.state = StateFailed
					ex.logger.Error("exchange failed", "error", item.err)
					yield(Frame{Type: FrameError, Message: redacted(item.err, ex.provider)})
					return
				}

				switch item.event.Kind {
				case llm.KindToken:
					assistant.WriteString(item.event.Text)
					if !yield(Frame{Type: FrameToken, Content: item.event.Text}) {
						ex.state = StateCancelled
						return
					}
				case llm.KindToolCall:
					call := item.event.Call
					calls = append(calls, conversation.ToolCall{ID: call.ID, Name: call.Name, Args: call.Args})
					if !yield(Frame{Type: FrameToolCall, ToolName: call.Name, ToolID: call.ID, Args: call.Args}) {
						ex.state = StateCancelled
						return
					}
				case llm.KindToolResult:
					res := item.event.Result
					results = append(results, conversation.ToolResult{Name: res.Name, Content: res.Content})
					if !yield(Frame{Type: FrameToolResult, ToolName: res.Name, Content: res.Content}) {
						ex.state = StateCancelled
						return
					}
				case llm.KindDone:
					ex.finish(ctx, yield, conversation.Pair{
						UserText:      ex.userText,
						AssistantText: assistant.String(),
						Provider:      ex.provider,
						Model:         ex.model,
						ToolCalls:     calls,
						ToolResults:   results,
					})
					return
				}
			}
		}
	}
}

// redacted maps an exchange failure to client-safe text. Full detail
// stays in the log; raw transport errors carry hosts and request
// internals that must not reach the stream.
func redacted(err error, provider string) string {
	if errors.Is(err, agent.ErrTooManyRounds) {
		return "the model exceeded the tool call limit"
	}
	return fmt.Sprintf("the %s backend failed to complete the response", provider)
}

// finish commits the exchange and emits the done frame. This is the
// only path that writes to the database.
func (ex *Exchange) finish(ctx context.Context, yield func(Frame) bool, pair conversation.Pair) {
	id, err := ex.conversations.Commit(ctx, ex.ref, pair)
	if err != nil {
		ex.state = StateFailed
		ex.logger.Error("commit failed", "error", err)
		yield(Frame{Type: FrameError, Message: "failed to save the conversation"})
		return
	}

	if ex.ref.IsDraft() {
		metrics.ConversationsTotal.Inc()
	}
	ex.conversationID = id
	ex.state = StateCompleted
	yield(Frame{Type: FrameDone, ConversationID: id})
}

// pump feeds agent events into items, closing it when the loop ends.
// Sends race against ctx so an abandoned exchange cannot strand this
// goroutine.
func (ex *Exchange) pump(ctx context.Context, items chan<- pumpItem) {
	defer close(items)
	for ev, err := range ex.loop.Run(ctx, ex.messages) {
		select {
		case items <- pumpItem{event: ev, err: err}:
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
