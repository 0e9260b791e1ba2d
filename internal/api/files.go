package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/folio-chat/folio/internal/ingest"
	"github.com/folio-chat/folio/internal/knowledge"
	"github.com/folio-chat/folio/internal/log"
)

// uploadOverheadBytes is headroom on top of the file size cap for
// multipart boundaries and part headers.
const uploadOverheadBytes = 10 << 10

// fileHandler serves project knowledge uploads and management.
type fileHandler struct {
	store    FileStore
	ingestor Ingestor
	projects ProjectStore
	logger   log.Logger
}

// upload handles POST /api/v1/projects/{id}/files. The file travels as
// the multipart field "file".
func (h *fileHandler) upload(w http.ResponseWriter, r *http.Request) {
	projectID, ok := requireProject(w, r, h.projects, h.logger)
	if !ok {
		return
	}

	limit := h.ingestor.MaxBytes() + uploadOverheadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteError(w, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds the upload size limit", h.logger)
			return
		}
		WriteError(w, http.StatusBadRequest, "invalid_multipart", "invalid multipart body", h.logger)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "file_required", `multipart field "file" is required`, h.logger)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("reading upload", "error", err, "project_id", projectID)
		WriteError(w, http.StatusInternalServerError, "upload_failed", "failed to read upload", h.logger)
		return
	}

	filename, chunks, err := h.ingestor.IngestFile(r.Context(), projectID, header.Filename, data)
	switch {
	case errors.Is(err, ingest.ErrFileTooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds the upload size limit", h.logger)
	case errors.Is(err, ingest.ErrUnsupportedType):
		WriteError(w, http.StatusBadRequest, "unsupported_type", "only plain text and markdown files are supported", h.logger)
	case errors.Is(err, ingest.ErrNotText):
		WriteError(w, http.StatusBadRequest, "not_text", "file is not valid UTF-8 text", h.logger)
	case errors.Is(err, ingest.ErrEmptyFile):
		WriteError(w, http.StatusBadRequest, "empty_file", "file has no content", h.logger)
	case err != nil:
		h.logger.Error("ingesting file", "error", err, "project_id", projectID)
		WriteError(w, http.StatusInternalServerError, "ingest_failed", "failed to ingest file", h.logger)
	default:
		WriteJSON(w, http.StatusCreated, map[string]any{
			"filename": filename,
			"chunks":   chunks,
		}, h.logger)
	}
}

// list handles GET /api/v1/projects/{id}/files.
func (h *fileHandler) list(w http.ResponseWriter, r *http.Request) {
	projectID, ok := requireProject(w, r, h.projects, h.logger)
	if !ok {
		return
	}

	files, err := h.store.ListFiles(r.Context(), projectID)
	if err != nil {
		h.logger.Error("listing files", "error", err, "project_id", projectID)
		WriteError(w, http.StatusInternalServerError, "list_failed", "failed to list files", h.logger)
		return
	}
	if files == nil {
		files = []knowledge.FileInfo{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{"items": files}, h.logger)
}

// deleteFile handles DELETE /api/v1/projects/{id}/files/{filename}.
func (h *fileHandler) deleteFile(w http.ResponseWriter, r *http.Request) {
	projectID, ok := requireProject(w, r, h.projects, h.logger)
	if !ok {
		return
	}

	filename := r.PathValue("filename")
	if filename == "" {
		WriteError(w, http.StatusBadRequest, "filename_required", "filename is required", h.logger)
		return
	}

	err := h.store.DeleteFile(r.Context(), projectID, filename)
	switch {
	case errors.Is(err, knowledge.ErrFileNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "file not found", h.logger)
	case err != nil:
		h.logger.Error("deleting file", "error", err, "project_id", projectID, "filename", filename)
		WriteError(w, http.StatusInternalServerError, "delete_failed", "failed to delete file", h.logger)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
