package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/folio-chat/folio/internal/conversation"
	"github.com/folio-chat/folio/internal/log"
	"github.com/folio-chat/folio/internal/project"
)

const (
	conversationsDefaultLimit = 50
	conversationsMaxLimit     = 200
)

// conversationHandler serves conversation listing, history, and
// management. Listing and creation hang off the owning project;
// per-conversation routes are flat and resolve ownership through the
// conversation's project.
type conversationHandler struct {
	store    ConversationStore
	projects ProjectStore
	logger   log.Logger
}

// list handles GET /api/v1/projects/{id}/conversations.
func (h *conversationHandler) list(w http.ResponseWriter, r *http.Request) {
	projectID, ok := requireProject(w, r, h.projects, h.logger)
	if !ok {
		return
	}

	limit := min(queryInt(r, "limit", conversationsDefaultLimit), conversationsMaxLimit)
	offset := queryInt(r, "offset", 0)

	conversations, err := h.store.List(r.Context(), projectID, limit, offset)
	if err != nil {
		h.logger.Error("listing conversations", "error", err, "project_id", projectID)
		WriteError(w, http.StatusInternalServerError, "list_failed", "failed to list conversations", h.logger)
		return
	}
	if conversations == nil {
		conversations = []conversation.Conversation{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{"items": conversations}, h.logger)
}

// create handles POST /api/v1/projects/{id}/conversations. The body is
// optional; without a title the conversation starts under the default
// one and is renamed by the first exchange or by the client.
func (h *conversationHandler) create(w http.ResponseWriter, r *http.Request) {
	projectID, ok := requireProject(w, r, h.projects, h.logger)
	if !ok {
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body", h.logger)
			return
		}
	}

	conv, err := h.store.Create(r.Context(), projectID, req.Title)
	if err != nil {
		h.logger.Error("creating conversation", "error", err, "project_id", projectID)
		WriteError(w, http.StatusInternalServerError, "create_failed", "failed to create conversation", h.logger)
		return
	}

	WriteJSON(w, http.StatusCreated, conv, h.logger)
}

// messages handles GET /api/v1/conversations/{id}/messages.
func (h *conversationHandler) messages(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.requireConversation(w, r)
	if !ok {
		return
	}

	msgs, err := h.store.Messages(r.Context(), conv.ProjectID, conv.ID)
	if err != nil {
		h.logger.Error("loading messages", "error", err, "conversation_id", conv.ID)
		WriteError(w, http.StatusInternalServerError, "messages_failed", "failed to load messages", h.logger)
		return
	}
	if msgs == nil {
		msgs = []conversation.Message{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"items":        msgs,
	}, h.logger)
}

// rename handles PATCH /api/v1/conversations/{id}.
func (h *conversationHandler) rename(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.requireConversation(w, r)
	if !ok {
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body", h.logger)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		WriteError(w, http.StatusBadRequest, "title_required", "title is required", h.logger)
		return
	}

	if err := h.store.Rename(r.Context(), conv.ProjectID, conv.ID, req.Title); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "conversation not found", h.logger)
			return
		}
		h.logger.Error("renaming conversation", "error", err, "conversation_id", conv.ID)
		WriteError(w, http.StatusInternalServerError, "rename_failed", "failed to rename conversation", h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// deleteConversation handles DELETE /api/v1/conversations/{id}.
func (h *conversationHandler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.requireConversation(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), conv.ProjectID, conv.ID); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "conversation not found", h.logger)
			return
		}
		h.logger.Error("deleting conversation", "error", err, "conversation_id", conv.ID)
		WriteError(w, http.StatusInternalServerError, "delete_failed", "failed to delete conversation", h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// requireConversation resolves the {id} path parameter as a
// conversation whose project the caller owns. Conversations in foreign
// projects read as 404 so ids cannot be probed. On failure the
// response has already been written.
func (h *conversationHandler) requireConversation(w http.ResponseWriter, r *http.Request) (conversation.Conversation, bool) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return conversation.Conversation{}, false
	}
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "invalid conversation id", h.logger)
		return conversation.Conversation{}, false
	}

	conv, err := h.store.Find(r.Context(), id)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "conversation not found", h.logger)
			return conversation.Conversation{}, false
		}
		h.logger.Error("finding conversation", "error", err, "conversation_id", id)
		WriteError(w, http.StatusInternalServerError, "get_failed", "failed to load conversation", h.logger)
		return conversation.Conversation{}, false
	}

	if _, err := h.projects.Get(r.Context(), userID, conv.ProjectID); err != nil {
		if !errors.Is(err, project.ErrNotFound) {
			h.logger.Error("resolving project", "error", err, "project_id", conv.ProjectID)
		}
		WriteError(w, http.StatusNotFound, "not_found", "conversation not found", h.logger)
		return conversation.Conversation{}, false
	}

	return conv, true
}
