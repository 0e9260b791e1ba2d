package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/folio-chat/folio/internal/log"
)

// readinessTimeout bounds the database ping on /ready.
const readinessTimeout = 2 * time.Second

// health answers liveness probes: the process is up and serving.
func health(logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}

// readiness answers readiness probes. A nil pool skips the database
// check so the server can run degraded in tests.
func readiness(pool *pgxpool.Pool, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			defer cancel()

			if err := pool.Ping(ctx); err != nil {
				logger.Warn("readiness check failed", "error", err)
				WriteError(w, http.StatusServiceUnavailable, "not_ready", "database unavailable", logger)
				return
			}
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}
