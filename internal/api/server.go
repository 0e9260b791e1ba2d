package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/folio-chat/folio/internal/auth"
	"github.com/folio-chat/folio/internal/chat"
	"github.com/folio-chat/folio/internal/conversation"
	"github.com/folio-chat/folio/internal/knowledge"
	"github.com/folio-chat/folio/internal/llm"
	"github.com/folio-chat/folio/internal/log"
	"github.com/folio-chat/folio/internal/project"
)

// ProjectStore is the project persistence the handlers need.
// *project.Store satisfies it.
type ProjectStore interface {
	Create(ctx context.Context, userID int64, params project.Params) (project.Project, error)
	Get(ctx context.Context, userID, id int64) (project.Project, error)
	List(ctx context.Context, userID int64) ([]project.Project, error)
	Update(ctx context.Context, userID, id int64, params project.Params) (project.Project, error)
	Delete(ctx context.Context, userID, id int64) error
}

// ConversationStore is the conversation persistence the handlers need.
// *conversation.Store satisfies it.
type ConversationStore interface {
	Create(ctx context.Context, projectID int64, title string) (conversation.Conversation, error)
	Find(ctx context.Context, id int64) (conversation.Conversation, error)
	List(ctx context.Context, projectID int64, limit, offset int) ([]conversation.Conversation, error)
	Messages(ctx context.Context, projectID, conversationID int64) ([]conversation.Message, error)
	Rename(ctx context.Context, projectID, id int64, title string) error
	Delete(ctx context.Context, projectID, id int64) error
}

// FileStore is the knowledge persistence the file handlers need.
// *knowledge.Store satisfies it.
type FileStore interface {
	ListFiles(ctx context.Context, projectID int64) ([]knowledge.FileInfo, error)
	DeleteFile(ctx context.Context, projectID int64, filename string) error
}

// Ingestor turns uploads into stored chunks. *ingest.Ingestor
// satisfies it.
type Ingestor interface {
	IngestFile(ctx context.Context, projectID int64, filename string, data []byte) (string, int, error)
	MaxBytes() int64
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger        log.Logger
	Auth          *auth.Service      // Required
	Orchestrator  *chat.Orchestrator // Required
	Registry      *llm.Registry      // Required
	Projects      ProjectStore       // Required
	Conversations ConversationStore  // Required
	Files         FileStore          // Optional: nil disables the file API
	Ingestor      Ingestor           // Optional: nil disables uploads
	Pool          *pgxpool.Pool      // Optional: nil skips the database check in /ready

	DefaultProvider string // Provider used when a chat request names none
	DefaultModel    string // Model used when a chat request names none

	CORSOrigins []string // Allowed origins for CORS
	TrustProxy  bool     // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateRPS     float64  // Rate limiter refill per IP (0 = default 1/sec)
	RateBurst   int      // Rate limiter burst size per IP (0 = default 60)
	IsDev       bool     // Disables HSTS for plain-HTTP development
}

// Server is the JSON and SSE HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates an API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Auth == nil {
		return nil, errors.New("auth service is required")
	}
	if cfg.Orchestrator == nil {
		return nil, errors.New("chat orchestrator is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("provider registry is required")
	}
	if cfg.Projects == nil {
		return nil, errors.New("project store is required")
	}
	if cfg.Conversations == nil {
		return nil, errors.New("conversation store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ah := &authHandler{service: cfg.Auth, logger: logger}
	ph := &projectHandler{store: cfg.Projects, logger: logger}
	ch := &conversationHandler{store: cfg.Conversations, projects: cfg.Projects, logger: logger}
	sh := &chatHandler{orch: cfg.Orchestrator, logger: logger}
	pv := &providersHandler{
		registry:        cfg.Registry,
		defaultProvider: cfg.DefaultProvider,
		defaultModel:    cfg.DefaultModel,
		logger:          logger,
	}

	mux := http.NewServeMux()

	// Accounts
	mux.HandleFunc("POST /api/v1/auth/register", ah.register)
	mux.HandleFunc("POST /api/v1/auth/token", ah.token)

	// Provider catalog
	mux.HandleFunc("GET /api/v1/providers", pv.list)

	// Projects
	mux.HandleFunc("POST /api/v1/projects", ph.create)
	mux.HandleFunc("GET /api/v1/projects", ph.list)
	mux.HandleFunc("GET /api/v1/projects/{id}", ph.get)
	mux.HandleFunc("PATCH /api/v1/projects/{id}", ph.update)
	mux.HandleFunc("DELETE /api/v1/projects/{id}", ph.deleteProject)

	// Conversations
	mux.HandleFunc("GET /api/v1/projects/{id}/conversations", ch.list)
	mux.HandleFunc("POST /api/v1/projects/{id}/conversations", ch.create)
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", ch.messages)
	mux.HandleFunc("PATCH /api/v1/conversations/{id}", ch.rename)
	mux.HandleFunc("DELETE /api/v1/conversations/{id}", ch.deleteConversation)

	// Chat
	mux.HandleFunc("POST /api/v1/chat/stream", sh.stream)

	// Project knowledge, only registered when ingestion is wired.
	if cfg.Files != nil && cfg.Ingestor != nil {
		fh := &fileHandler{store: cfg.Files, ingestor: cfg.Ingestor, projects: cfg.Projects, logger: logger}
		mux.HandleFunc("POST /api/v1/projects/{id}/files", fh.upload)
		mux.HandleFunc("GET /api/v1/projects/{id}/files", fh.list)
		mux.HandleFunc("DELETE /api/v1/projects/{id}/files/{filename}", fh.deleteFile)
	}

	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 1.0
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newIPLimiter(rps, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Auth → Routes
	// RequestID must be before Logging so request_id is available in log attributes.
	// CORS must be before RateLimit so preflight OPTIONS gets proper CORS headers.
	var handler http.Handler = mux
	handler = authMiddleware(cfg.Auth.Tokens(), logger)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Wrap with security headers
	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Use a top-level mux to keep probes and the metrics scrape outside
	// the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.HandleFunc("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("GET /metrics", promhttp.Handler())
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// callerID pulls the authenticated user id injected by authMiddleware.
// A missing id means a route was registered outside the auth stack by
// mistake; the caller gets a 401 either way.
func callerID(w http.ResponseWriter, r *http.Request, logger log.Logger) (int64, bool) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok || userID <= 0 {
		WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required", logger)
		return 0, false
	}
	return userID, true
}

// pathID parses a positive integer path parameter.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

// queryInt parses an optional non-negative integer query parameter,
// falling back on absent or malformed values.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
