package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks invariants that hold for every command.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return ErrInvalidDatabaseURL
	}
	u, err := url.Parse(c.Database.URL)
	if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
		return fmt.Errorf("%w: %q", ErrInvalidDatabaseURL, c.Database.URL)
	}

	if c.Providers.Ollama.Enabled {
		if err := validateHTTPURL(c.Providers.Ollama.Host); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOllamaHost, err)
		}
	}
	if c.Providers.Serpro.Enabled {
		if c.Providers.Serpro.ConsumerKey == "" || c.Providers.Serpro.ConsumerSecret == "" {
			return ErrMissingSerproCredentials
		}
	}
	if c.Providers.OpenAI.Enabled && c.Providers.OpenAI.APIKey == "" {
		return ErrMissingOpenAIKey
	}

	if !c.providerEnabled(c.Chat.DefaultProvider) {
		return fmt.Errorf("%w: %q", ErrUnknownDefaultProvider, c.Chat.DefaultProvider)
	}
	if c.Chat.IdleTimeout <= 0 {
		return ErrInvalidIdleTimeout
	}

	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize || c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidChunking, c.Ingest.ChunkSize, c.Ingest.ChunkOverlap)
	}

	return nil
}

// ValidateServe checks the additional invariants serve mode needs.
func (c *Config) ValidateServe() error {
	if c.Auth.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if len(c.Auth.JWTSecret) < 32 {
		return ErrWeakJWTSecret
	}
	return nil
}

func (c *Config) providerEnabled(id string) bool {
	switch id {
	case ProviderOllama:
		return c.Providers.Ollama.Enabled
	case ProviderSerpro:
		return c.Providers.Serpro.Enabled
	case ProviderOpenAI:
		return c.Providers.OpenAI.Enabled
	default:
		return false
	}
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q is not http(s)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

// IsDev reports whether this looks like a local non-TLS setup. The
// server skips HSTS in that case.
func (c *Config) IsDev() bool {
	u, err := url.Parse(c.Database.URL)
	if err != nil {
		return false
	}
	return u.Query().Get("sslmode") == "disable"
}
