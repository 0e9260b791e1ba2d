package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/folio-chat/folio/internal/llm"
	"github.com/folio-chat/folio/internal/log"
	"github.com/folio-chat/folio/internal/metrics"
)

// DefaultInvokeTimeout bounds a single tool call when the registry is
// constructed without an explicit timeout.
const DefaultInvokeTimeout = 15 * time.Second

// Registry maps tool names to Tools and executes calls with a bounded
// timeout. It is immutable after construction.
type Registry struct {
	ordered []Tool
	byName  map[string]Tool
	timeout time.Duration
	logger  log.Logger
}

// NewRegistry builds a registry over the given tools, preserving order.
// timeout <= 0 selects DefaultInvokeTimeout.
func NewRegistry(timeout time.Duration, logger log.Logger, tools ...Tool) *Registry {
	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}
	r := &Registry{
		byName:  make(map[string]Tool, len(tools)),
		timeout: timeout,
		logger:  logger.With("component", "tools"),
	}
	for _, t := range tools {
		if t == nil {
			continue
		}
		if _, dup := r.byName[t.Name()]; dup {
			continue
		}
		r.ordered = append(r.ordered, t)
		r.byName[t.Name()] = t
	}
	return r
}

// Defs returns the tool definitions offered to the model for one turn.
func (r *Registry) Defs() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(r.ordered))
	for _, t := range r.ordered {
		defs = append(defs, llm.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return defs
}

// Len reports the number of registered tools.
func (r *Registry) Len() int { return len(r.ordered) }

// Invoke executes the named tool with the given arguments. Every failure
// mode, including an unknown name and a timed-out call, is returned as a
// *ToolError; the caller feeds its text back to the model.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (string, *ToolError) {
	t, ok := r.byName[name]
	if !ok {
		metrics.ToolCallsTotal.WithLabelValues(name, "unknown").Inc()
		return "", &ToolError{
			ErrorType: ErrorTypeUnknownTool,
			Message:   fmt.Sprintf("no tool named %q is available", name),
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	out, err := t.Call(callCtx, args)
	elapsed := time.Since(start)

	if err != nil {
		metrics.ToolCallsTotal.WithLabelValues(name, "error").Inc()
		r.logger.Warn("tool call failed", "tool", name, "elapsed", elapsed, "error", err)
		var te *ToolError
		if errors.As(err, &te) {
			return "", te
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", &ToolError{
				ErrorType: ErrorTypeTimeout,
				Message:   fmt.Sprintf("tool %q did not finish within %s", name, r.timeout),
			}
		}
		// Internal error details stay in the log; the model gets a
		// generic failure it can act on.
		return "", &ToolError{
			ErrorType: ErrorTypeExecutionFailed,
			Message:   fmt.Sprintf("tool %q failed", name),
		}
	}

	metrics.ToolCallsTotal.WithLabelValues(name, "ok").Inc()
	r.logger.Debug("tool call complete", "tool", name, "elapsed", elapsed)
	return out, nil
}
