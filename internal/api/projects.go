package api

import (
	"errors"
	"net/http"

	"github.com/folio-chat/folio/internal/log"
	"github.com/folio-chat/folio/internal/project"
)

// projectHandler serves project CRUD. Every route is scoped to the
// authenticated user; a project owned by someone else reads as 404.
type projectHandler struct {
	store  ProjectStore
	logger log.Logger
}

// create handles POST /api/v1/projects.
func (h *projectHandler) create(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}

	var params project.Params
	if err := decodeJSON(w, r, &params); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body", h.logger)
		return
	}

	p, err := h.store.Create(r.Context(), userID, params)
	switch {
	case errors.Is(err, project.ErrEmptyName):
		WriteError(w, http.StatusBadRequest, "name_required", "project name is required", h.logger)
	case err != nil:
		h.logger.Error("creating project", "error", err, "user_id", userID)
		WriteError(w, http.StatusInternalServerError, "create_failed", "failed to create project", h.logger)
	default:
		WriteJSON(w, http.StatusCreated, p, h.logger)
	}
}

// list handles GET /api/v1/projects.
func (h *projectHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}

	projects, err := h.store.List(r.Context(), userID)
	if err != nil {
		h.logger.Error("listing projects", "error", err, "user_id", userID)
		WriteError(w, http.StatusInternalServerError, "list_failed", "failed to list projects", h.logger)
		return
	}
	if projects == nil {
		projects = []project.Project{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{"items": projects}, h.logger)
}

// get handles GET /api/v1/projects/{id}.
func (h *projectHandler) get(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "invalid project id", h.logger)
		return
	}

	p, err := h.store.Get(r.Context(), userID, id)
	switch {
	case errors.Is(err, project.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "project not found", h.logger)
	case err != nil:
		h.logger.Error("getting project", "error", err, "project_id", id)
		WriteError(w, http.StatusInternalServerError, "get_failed", "failed to load project", h.logger)
	default:
		WriteJSON(w, http.StatusOK, p, h.logger)
	}
}

// update handles PATCH /api/v1/projects/{id}.
func (h *projectHandler) update(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "invalid project id", h.logger)
		return
	}

	var params project.Params
	if err := decodeJSON(w, r, &params); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body", h.logger)
		return
	}

	p, err := h.store.Update(r.Context(), userID, id, params)
	switch {
	case errors.Is(err, project.ErrEmptyName):
		WriteError(w, http.StatusBadRequest, "name_required", "project name is required", h.logger)
	case errors.Is(err, project.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "project not found", h.logger)
	case err != nil:
		h.logger.Error("updating project", "error", err, "project_id", id)
		WriteError(w, http.StatusInternalServerError, "update_failed", "failed to update project", h.logger)
	default:
		WriteJSON(w, http.StatusOK, p, h.logger)
	}
}

// deleteProject handles DELETE /api/v1/projects/{id}.
func (h *projectHandler) deleteProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "invalid project id", h.logger)
		return
	}

	err = h.store.Delete(r.Context(), userID, id)
	switch {
	case errors.Is(err, project.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "project not found", h.logger)
	case err != nil:
		h.logger.Error("deleting project", "error", err, "project_id", id)
		WriteError(w, http.StatusInternalServerError, "delete_failed", "failed to delete project", h.logger)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// requireProject resolves the {id} path parameter as a project owned
// by the caller. On failure the response has already been written.
func requireProject(w http.ResponseWriter, r *http.Request, projects ProjectStore, logger log.Logger) (int64, bool) {
	userID, ok := callerID(w, r, logger)
	if !ok {
		return 0, false
	}
	projectID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "invalid project id", logger)
		return 0, false
	}

	if _, err := projects.Get(r.Context(), userID, projectID); err != nil {
		if errors.Is(err, project.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "project not found", logger)
			return 0, false
		}
		logger.Error("resolving project", "error", err, "project_id", projectID)
		WriteError(w, http.StatusInternalServerError, "get_failed", "failed to load project", logger)
		return 0, false
	}
	return projectID, true
}
