package llm

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"slices"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/folio-chat/folio/internal/log"
)

// serproProvider serves models exposed by the Serpro AI gateway, an
// OpenAI-compatible endpoint authenticated with OAuth2 client credentials.
// No token is fetched at construction: the token source performs its first
// request on the first streamed turn and refreshes cached tokens as they
// expire.
type serproProvider struct {
	baseURL string
	models  []string
	tokens  oauth2.TokenSource
	logger  log.Logger
}

// SerproConfig carries the gateway settings.
type SerproConfig struct {
	TokenURL       string
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Models         []string
}

// NewSerproProvider creates the Serpro gateway provider.
func NewSerproProvider(cfg SerproConfig, logger log.Logger) Provider {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ConsumerKey,
		ClientSecret: cfg.ConsumerSecret,
		TokenURL:     cfg.TokenURL,
	}
	// Token fetches use their own bounded client, detached from any single
	// exchange's context.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{
		Timeout: 30 * time.Second,
	})
	return &serproProvider{
		baseURL: cfg.BaseURL,
		models:  slices.Clone(cfg.Models),
		tokens:  cc.TokenSource(tokenCtx),
		logger:  logger.With("provider", "serpro"),
	}
}

func (p *serproProvider) ID() string       { return "serpro" }
func (p *serproProvider) Models() []string { return p.models }

func (p *serproProvider) Open(model string) Client {
	return &serproClient{provider: p, model: model}
}

type serproClient struct {
	provider *serproProvider
	model    string
}

func (c *serproClient) Provider() string { return "serpro" }
func (c *serproClient) Model() string    { return c.model }

func (c *serproClient) Stream(ctx context.Context, req Request) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		// Token() blocks only when the cached token is missing or expired.
		tok, err := c.provider.tokens.Token()
		if err != nil {
			yield(Event{}, fmt.Errorf("serpro token: %w", err))
			return
		}

		cfg := openai.DefaultConfig(tok.AccessToken)
		cfg.BaseURL = c.provider.baseURL
		client := openai.NewClientWithConfig(cfg)

		for ev, err := range streamCompletion(ctx, client, "serpro", c.model, req) {
			if !yield(ev, err) {
				return
			}
			if err != nil {
				return
			}
		}
	}
}
