package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/folio-chat/folio/internal/auth"
	"github.com/folio-chat/folio/internal/chat"
	"github.com/folio-chat/folio/internal/conversation"
	"github.com/folio-chat/folio/internal/knowledge"
	"github.com/folio-chat/folio/internal/llm"
	"github.com/folio-chat/folio/internal/log"
	"github.com/folio-chat/folio/internal/project"
	"github.com/folio-chat/folio/internal/tools"
)

// fakeUsers is an in-memory auth.UserStore.
type fakeUsers struct {
	users  map[string]auth.User
	nextID int64
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[string]auth.User), nextID: 1}
}

func (f *fakeUsers) Create(_ context.Context, email, passwordHash string) (auth.User, error) {
	if _, exists := f.users[email]; exists {
		return auth.User{}, auth.ErrEmailTaken
	}
	u := auth.User{ID: f.nextID, Email: email, PasswordHash: passwordHash, CreatedAt: time.Now()}
	f.users[email] = u
	f.nextID++
	return u, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (auth.User, error) {
	u, ok := f.users[email]
	if !ok {
		return auth.User{}, auth.ErrInvalidCredentials
	}
	return u, nil
}

// fakeProjects is an in-memory ProjectStore.
type fakeProjects struct {
	projects map[int64]project.Project
	nextID   int64
	err      error
}

func newFakeProjects() *fakeProjects {
	return &fakeProjects{projects: make(map[int64]project.Project), nextID: 1}
}

func (f *fakeProjects) Create(_ context.Context, userID int64, params project.Params) (project.Project, error) {
	if f.err != nil {
		return project.Project{}, f.err
	}
	if err := params.Validate(); err != nil {
		return project.Project{}, err
	}
	now := time.Now()
	p := project.Project{
		ID:          f.nextID,
		OwnerID:     userID,
		Name:        params.Name,
		Description: params.Description,
		Prompt:      params.Prompt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.projects[p.ID] = p
	f.nextID++
	return p, nil
}

func (f *fakeProjects) Get(_ context.Context, userID, id int64) (project.Project, error) {
	if f.err != nil {
		return project.Project{}, f.err
	}
	p, ok := f.projects[id]
	if !ok || p.OwnerID != userID {
		return project.Project{}, project.ErrNotFound
	}
	return p, nil
}

func (f *fakeProjects) List(_ context.Context, userID int64) ([]project.Project, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []project.Project
	for _, p := range f.projects {
		if p.OwnerID == userID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b project.Project) int { return int(a.ID - b.ID) })
	return out, nil
}

func (f *fakeProjects) Update(ctx context.Context, userID, id int64, params project.Params) (project.Project, error) {
	p, err := f.Get(ctx, userID, id)
	if err != nil {
		return project.Project{}, err
	}
	if err := params.Validate(); err != nil {
		return project.Project{}, err
	}
	p.Name = params.Name
	p.Description = params.Description
	p.Prompt = params.Prompt
	p.UpdatedAt = time.Now()
	f.projects[id] = p
	return p, nil
}

func (f *fakeProjects) Delete(ctx context.Context, userID, id int64) error {
	if _, err := f.Get(ctx, userID, id); err != nil {
		return err
	}
	delete(f.projects, id)
	return nil
}

// fakeConversations is an in-memory store satisfying both the handler
// interface and the orchestrator's chat.ConversationStore.
type fakeConversations struct {
	convs    map[int64]conversation.Conversation
	messages map[int64][]conversation.Message
	nextID   int64
	err      error
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{
		convs:    make(map[int64]conversation.Conversation),
		messages: make(map[int64][]conversation.Message),
		nextID:   1,
	}
}

func (f *fakeConversations) Create(_ context.Context, projectID int64, title string) (conversation.Conversation, error) {
	if f.err != nil {
		return conversation.Conversation{}, f.err
	}
	now := time.Now()
	conv := conversation.Conversation{
		ID:        f.nextID,
		ProjectID: projectID,
		Title:     conversation.DeriveTitle(title),
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.convs[conv.ID] = conv
	f.nextID++
	return conv, nil
}

func (f *fakeConversations) Commit(ctx context.Context, ref conversation.Ref, pair conversation.Pair) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	id := ref.ID()
	if draft, ok := ref.Draft(); ok {
		conv, err := f.Create(ctx, draft.ProjectID, draft.Title)
		if err != nil {
			return 0, err
		}
		id = conv.ID
	}
	conv, ok := f.convs[id]
	if !ok {
		return 0, conversation.ErrNotFound
	}

	seq := len(f.messages[id])
	f.messages[id] = append(f.messages[id],
		conversation.Message{ConversationID: id, Role: "user", Content: pair.UserText, SequenceNumber: seq + 1},
		conversation.Message{
			ConversationID: id,
			Role:           "assistant",
			Content:        pair.AssistantText,
			Provider:       pair.Provider,
			Model:          pair.Model,
			ToolCalls:      pair.ToolCalls,
			ToolResults:    pair.ToolResults,
			SequenceNumber: seq + 2,
		},
	)
	conv.MessageCount = len(f.messages[id])
	conv.UpdatedAt = time.Now()
	f.convs[id] = conv
	return id, nil
}

func (f *fakeConversations) Find(_ context.Context, id int64) (conversation.Conversation, error) {
	if f.err != nil {
		return conversation.Conversation{}, f.err
	}
	conv, ok := f.convs[id]
	if !ok {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	return conv, nil
}

func (f *fakeConversations) Get(_ context.Context, projectID, id int64) (conversation.Conversation, error) {
	conv, ok := f.convs[id]
	if !ok || conv.ProjectID != projectID {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	return conv, nil
}

func (f *fakeConversations) List(_ context.Context, projectID int64, limit, offset int) ([]conversation.Conversation, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []conversation.Conversation
	for _, c := range f.convs {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b conversation.Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeConversations) Messages(ctx context.Context, projectID, conversationID int64) ([]conversation.Message, error) {
	if _, err := f.Get(ctx, projectID, conversationID); err != nil {
		return nil, err
	}
	return f.messages[conversationID], nil
}

func (f *fakeConversations) History(_ context.Context, conversationID int64, limit int) ([]conversation.Message, error) {
	msgs := f.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (f *fakeConversations) Rename(ctx context.Context, projectID, id int64, title string) error {
	conv, err := f.Get(ctx, projectID, id)
	if err != nil {
		return err
	}
	conv.Title = conversation.DeriveTitle(title)
	conv.UpdatedAt = time.Now()
	f.convs[id] = conv
	return nil
}

func (f *fakeConversations) Delete(ctx context.Context, projectID, id int64) error {
	if _, err := f.Get(ctx, projectID, id); err != nil {
		return err
	}
	delete(f.convs, id)
	delete(f.messages, id)
	return nil
}

// stubProvider opens clients that replay scripted events. turns, when
// set, scripts each model turn separately so exchanges with tool calls
// can terminate; otherwise every Stream call replays events.
type stubProvider struct {
	id     string
	models []string
	events []llm.Event
	turns  [][]llm.Event
	err    error
}

func (p *stubProvider) ID() string       { return p.id }
func (p *stubProvider) Models() []string { return p.models }

func (p *stubProvider) Open(model string) llm.Client {
	return &stubClient{provider: p.id, model: model, events: p.events, turns: p.turns, err: p.err}
}

type stubClient struct {
	provider string
	model    string
	events   []llm.Event
	turns    [][]llm.Event
	err      error
}

func (c *stubClient) Provider() string { return c.provider }
func (c *stubClient) Model() string    { return c.model }

func (c *stubClient) Stream(_ context.Context, _ llm.Request) iter.Seq2[llm.Event, error] {
	events := c.events
	if len(c.turns) > 0 {
		events = c.turns[0]
		c.turns = c.turns[1:]
	}
	return func(yield func(llm.Event, error) bool) {
		for _, ev := range events {
			if !yield(ev, nil) {
				return
			}
		}
		if c.err != nil && len(c.turns) == 0 {
			yield(llm.Event{}, c.err)
		}
	}
}

// fakeSearcher returns canned document hits for the search tool.
type fakeSearcher struct {
	results []knowledge.Result
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, _ int64, _ string, _ int, _ float64) ([]knowledge.Result, error) {
	return f.results, f.err
}

// testEnv is a fully wired server over in-memory fakes.
type testEnv struct {
	server   *Server
	auth     *auth.Service
	users    *fakeUsers
	projects *fakeProjects
	convs    *fakeConversations
}

type envOption func(*envConfig)

type envConfig struct {
	provider *stubProvider
	search   tools.Searcher
	files    FileStore
	ingestor Ingestor
	burst    int
}

func withProvider(p *stubProvider) envOption {
	return func(cfg *envConfig) { cfg.provider = p }
}

func withSearch(s tools.Searcher) envOption {
	return func(cfg *envConfig) { cfg.search = s }
}

func withFiles(files FileStore, ing Ingestor) envOption {
	return func(cfg *envConfig) {
		cfg.files = files
		cfg.ingestor = ing
	}
}

func withRateBurst(burst int) envOption {
	return func(cfg *envConfig) { cfg.burst = burst }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := envConfig{
		provider: &stubProvider{
			id:     "ollama",
			models: []string{"gpt-oss:120b-cloud", "mistral"},
			events: []llm.Event{llm.TokenEvent("Hello"), llm.TokenEvent(" there")},
		},
		burst: 1000,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := log.NewNop()
	users := newFakeUsers()
	tokens := auth.NewTokenManager("server-test-secret-0123456789abcdef", time.Hour)
	authSvc := auth.NewService(users, tokens, bcrypt.MinCost, logger)

	projects := newFakeProjects()
	convs := newFakeConversations()

	registry := llm.NewRegistry(cfg.provider)
	orch := chat.New(registry, convs, projects, cfg.search, chat.Config{
		DefaultProvider: "ollama",
		DefaultModel:    "gpt-oss:120b-cloud",
		HistoryLimit:    20,
		IdleTimeout:     5 * time.Second,
	}, logger)

	srv, err := NewServer(ServerConfig{
		Logger:          logger,
		Auth:            authSvc,
		Orchestrator:    orch,
		Registry:        registry,
		Projects:        projects,
		Conversations:   convs,
		Files:           cfg.files,
		Ingestor:        cfg.ingestor,
		DefaultProvider: "ollama",
		DefaultModel:    "gpt-oss:120b-cloud",
		RateBurst:       cfg.burst,
		IsDev:           true,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	return &testEnv{server: srv, auth: authSvc, users: users, projects: projects, convs: convs}
}

// register creates an account directly and returns its bearer token.
func (e *testEnv) register(t *testing.T, email string) string {
	t.Helper()
	_, token, err := e.auth.Register(context.Background(), email, "correct horse battery")
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return token
}

// do runs one request through the full middleware stack.
func (e *testEnv) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	r := httptest.NewRequest(method, target, reader)
	r.RemoteAddr = "10.1.2.3:50000"
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, r)
	return w
}

// decodeData unwraps the success envelope into T.
func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return env.Data
}

// decodeError unwraps the error envelope.
func decodeError(t *testing.T, w *httptest.ResponseRecorder) Error {
	t.Helper()
	var env struct {
		Error Error `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error response %q: %v", w.Body.String(), err)
	}
	if env.Error.Code == "" {
		t.Fatalf("response %q is not an error envelope", w.Body.String())
	}
	return env.Error
}

func TestNewServerRequiresCollaborators(t *testing.T) {
	env := newTestEnv(t)
	base := func(t *testing.T) ServerConfig {
		t.Helper()
		registry := llm.NewRegistry(&stubProvider{id: "ollama", models: []string{"mistral"}})
		return ServerConfig{
			Auth:          env.auth,
			Orchestrator:  chat.New(registry, env.convs, env.projects, nil, chat.Config{}, log.NewNop()),
			Registry:      registry,
			Projects:      env.projects,
			Conversations: env.convs,
		}
	}

	tests := []struct {
		name   string
		mutate func(*ServerConfig)
	}{
		{"missing auth", func(cfg *ServerConfig) { cfg.Auth = nil }},
		{"missing orchestrator", func(cfg *ServerConfig) { cfg.Orchestrator = nil }},
		{"missing registry", func(cfg *ServerConfig) { cfg.Registry = nil }},
		{"missing projects", func(cfg *ServerConfig) { cfg.Projects = nil }},
		{"missing conversations", func(cfg *ServerConfig) { cfg.Conversations = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base(t)
			tt.mutate(&cfg)
			if _, err := NewServer(cfg); err == nil {
				t.Error("NewServer accepted incomplete config")
			}
		})
	}

	if _, err := NewServer(base(t)); err != nil {
		t.Errorf("NewServer rejected complete config: %v", err)
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	routes := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/api/v1/providers"},
		{http.MethodGet, "/api/v1/projects"},
		{http.MethodPost, "/api/v1/projects"},
		{http.MethodGet, "/api/v1/projects/1"},
		{http.MethodPatch, "/api/v1/projects/1"},
		{http.MethodDelete, "/api/v1/projects/1"},
		{http.MethodGet, "/api/v1/projects/1/conversations"},
		{http.MethodPost, "/api/v1/projects/1/conversations"},
		{http.MethodGet, "/api/v1/conversations/1/messages"},
		{http.MethodPatch, "/api/v1/conversations/1"},
		{http.MethodDelete, "/api/v1/conversations/1"},
		{http.MethodPost, "/api/v1/chat/stream"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.target, func(t *testing.T) {
			w := env.do(t, rt.method, rt.target, "", nil)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if got := decodeError(t, w).Code; got != "unauthorized" {
				t.Errorf("code = %q, want %q", got, "unauthorized")
			}
		})
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/projects", "not-a-jwt", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRegisterLoginFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email":    "ada@example.com",
		"password": "correct horse battery",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", w.Code, w.Body.String())
	}
	created := decodeData[authResponse](t, w)
	if created.UserID == 0 || created.Token == "" {
		t.Fatalf("register response missing fields: %+v", created)
	}

	w = env.do(t, http.MethodPost, "/api/v1/auth/token", "", map[string]string{
		"email":    "ada@example.com",
		"password": "correct horse battery",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("token status = %d, body %s", w.Code, w.Body.String())
	}
	issued := decodeData[authResponse](t, w)

	w = env.do(t, http.MethodGet, "/api/v1/projects", issued.Token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated request status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		wantCode string
		want     int
	}{
		{"bad email", "nope", "correct horse battery", "invalid_email", http.StatusBadRequest},
		{"short password", "ada@example.com", "short", "weak_password", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			w := env.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
				"email":    tt.email,
				"password": tt.password,
			})
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if got := decodeError(t, w).Code; got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com")

	w := env.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email":    "ada@example.com",
		"password": "correct horse battery",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if got := decodeError(t, w).Code; got != "email_taken" {
		t.Errorf("code = %q, want %q", got, "email_taken")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com")

	w := env.do(t, http.MethodPost, "/api/v1/auth/token", "", map[string]string{
		"email":    "ada@example.com",
		"password": "wrong password entirely",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if got := decodeError(t, w).Code; got != "invalid_credentials" {
		t.Errorf("code = %q, want %q", got, "invalid_credentials")
	}
}

func TestProvidersEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "ada@example.com")

	w := env.do(t, http.MethodGet, "/api/v1/providers", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	data := decodeData[struct {
		Providers       []llm.ProviderInfo `json:"providers"`
		DefaultProvider string             `json:"default_provider"`
		DefaultModel    string             `json:"default_model"`
	}](t, w)

	if data.DefaultProvider != "ollama" || data.DefaultModel != "gpt-oss:120b-cloud" {
		t.Errorf("defaults = %q/%q", data.DefaultProvider, data.DefaultModel)
	}
	if len(data.Providers) != 1 || data.Providers[0].ID != "ollama" {
		t.Fatalf("providers = %+v", data.Providers)
	}
	if !slices.Contains(data.Providers[0].Models, "mistral") {
		t.Errorf("models = %v, want mistral listed", data.Providers[0].Models)
	}
}

func TestHealthAndReadyOutsideAuth(t *testing.T) {
	env := newTestEnv(t)

	for _, target := range []string{"/health", "/ready"} {
		w := env.do(t, http.MethodGet, target, "", nil)
		if w.Code != http.StatusOK {
			t.Errorf("%s status = %d, want %d", target, w.Code, http.StatusOK)
		}
		data := decodeData[map[string]string](t, w)
		if data["status"] != "ok" {
			t.Errorf("%s status field = %q", target, data["status"])
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "folio_") {
		t.Error("metrics output missing folio_ series")
	}
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/projects", "", nil)
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
	// Dev mode serves plain HTTP, so no HSTS.
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("Strict-Transport-Security = %q, want unset in dev", got)
	}
}

func TestRequestIDEcho(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "ada@example.com")

	r := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	r.RemoteAddr = "10.1.2.3:50000"
	r.Header.Set("Authorization", "Bearer "+token)
	r.Header.Set("X-Request-ID", "trace-me-42")
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, r)

	if got := w.Header().Get("X-Request-ID"); got != "trace-me-42" {
		t.Errorf("X-Request-ID = %q, want echo of inbound id", got)
	}

	// Without an inbound id the server mints one.
	w = env.do(t, http.MethodGet, "/api/v1/projects", token, nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID missing on response")
	}
}
