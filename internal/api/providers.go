package api

import (
	"net/http"

	"github.com/folio-chat/folio/internal/llm"
	"github.com/folio-chat/folio/internal/log"
)

// providersHandler serves the provider catalog so clients can build
// model pickers without hardcoding the deployment's provider set.
type providersHandler struct {
	registry        *llm.Registry
	defaultProvider string
	defaultModel    string
	logger          log.Logger
}

// list handles GET /api/v1/providers.
func (h *providersHandler) list(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"providers":        h.registry.Providers(),
		"default_provider": h.defaultProvider,
		"default_model":    h.defaultModel,
	}, h.logger)
}
