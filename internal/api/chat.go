package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/folio-chat/folio/internal/chat"
	"github.com/folio-chat/folio/internal/conversation"
	"github.com/folio-chat/folio/internal/llm"
	"github.com/folio-chat/folio/internal/log"
	"github.com/folio-chat/folio/internal/metrics"
	"github.com/folio-chat/folio/internal/project"
	"github.com/folio-chat/folio/internal/sse"
)

// chatHandler serves the streaming exchange endpoint.
type chatHandler struct {
	orch   *chat.Orchestrator
	logger log.Logger
}

// stream handles POST /api/v1/chat/stream. Validation and resolution
// run before the response commits to SSE, so bad requests still get
// plain JSON errors; after the first frame, failures travel inside the
// stream.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}

	var req chat.Request
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body", h.logger)
		return
	}

	ex, err := h.orch.Begin(r.Context(), userID, req)
	if err != nil {
		h.beginError(w, err)
		return
	}

	// Continuing an existing conversation is announced up front; a new
	// conversation has no id until its done frame.
	if !ex.IsNewConversation() {
		w.Header().Set("X-Conversation-ID", strconv.FormatInt(ex.ConversationID(), 10))
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming", h.logger)
		return
	}

	for frame := range ex.Stream(r.Context()) {
		metrics.FramesTotal.WithLabelValues(frame.Type).Inc()
		if err := writer.WriteFrame(r.Context(), frame); err != nil {
			h.logger.Debug("stream write aborted", "error", err, "conversation_id", ex.ConversationID())
			return
		}
	}
}

// beginError maps Begin failures onto plain JSON errors. Nothing has
// been written yet when this runs.
func (h *chatHandler) beginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyQuery):
		WriteError(w, http.StatusBadRequest, "query_required", "query is required", h.logger)
	case errors.Is(err, chat.ErrInvalidProject):
		WriteError(w, http.StatusBadRequest, "project_required", "project_id is required", h.logger)
	case errors.Is(err, llm.ErrUnknownProvider):
		WriteError(w, http.StatusBadRequest, "unknown_provider", "unknown provider", h.logger)
	case errors.Is(err, llm.ErrUnknownModel):
		WriteError(w, http.StatusBadRequest, "unknown_model", "unknown model for provider", h.logger)
	case errors.Is(err, project.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "project not found", h.logger)
	case errors.Is(err, conversation.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "conversation not found", h.logger)
	default:
		h.logger.Error("beginning exchange", "error", err)
		WriteError(w, http.StatusInternalServerError, "begin_failed", "failed to start the exchange", h.logger)
	}
}
