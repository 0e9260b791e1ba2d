// Package tools provides the callable-tool registry offered to models
// during an exchange.
//
// A Registry is a per-exchange snapshot: the orchestrator builds one with
// the tools that apply to the current project and hands its definitions to
// the model. Tool failures never escape as protocol errors; they become
// *ToolError values fed back to the model as text.
package tools

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

// Tool is one callable capability.
type Tool interface {
	Name() string
	Description() string
	Schema() *jsonschema.Schema

	// Call executes the tool. args is the raw JSON argument object from the
	// model. The returned string is fed back to the model verbatim.
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

// Error types used in ToolError.ErrorType.
const (
	ErrorTypeUnknownTool      = "UnknownTool"
	ErrorTypeInvalidArguments = "InvalidArguments"
	ErrorTypeTimeout          = "Timeout"
	ErrorTypeExecutionFailed  = "ExecutionFailed"
)

// ToolError is a structured error format for model consumption: the model
// sees the type and message as text and can decide to retry or apologize.
type ToolError struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// Error implements the error interface. Pointer receiver keeps nil checks
// consistent at call sites.
func (e *ToolError) Error() string {
	if e == nil {
		return "<nil ToolError>"
	}
	if e.ErrorType == "" && e.Message == "" {
		return "<empty ToolError>"
	}
	if e.ErrorType == "" {
		return e.Message
	}
	if e.Message == "" {
		return e.ErrorType
	}
	return e.ErrorType + ": " + e.Message
}
