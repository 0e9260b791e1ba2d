package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/folio-chat/folio/internal/log"
)

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions is the width of the vectors Embed produces.
	Dimensions() int
}

// OllamaEmbedder produces embeddings through Ollama's embed endpoint.
type OllamaEmbedder struct {
	host   string
	model  string
	dim    int
	http   *http.Client
	logger log.Logger
}

// NewOllamaEmbedder returns an embedder backed by the given Ollama host
// and model. dim is the expected vector width; responses with a
// different width are rejected rather than silently stored.
func NewOllamaEmbedder(host, model string, dim int, logger log.Logger) *OllamaEmbedder {
	return &OllamaEmbedder{
		host:   strings.TrimRight(host, "/"),
		model:  model,
		dim:    dim,
		http:   &http.Client{Timeout: 2 * time.Minute},
		logger: logger.With("embedder", "ollama", "model", model),
	}
}

func (e *OllamaEmbedder) Dimensions() int { return e.dim }

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed requests vectors for all texts in one call.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama embed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("ollama embed: %s", out.Error)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d inputs", len(out.Embeddings), len(texts))
	}
	for i, vec := range out.Embeddings {
		if len(vec) != e.dim {
			return nil, fmt.Errorf("ollama embed: vector %d has %d dimensions, want %d", i, len(vec), e.dim)
		}
	}

	e.logger.Debug("embedded texts", "count", len(texts))
	return out.Embeddings, nil
}
