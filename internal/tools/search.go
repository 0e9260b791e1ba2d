package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/folio-chat/folio/internal/knowledge"
	"github.com/folio-chat/folio/internal/log"
)

// Searcher answers similarity queries over one project's documents.
// *knowledge.Store satisfies it.
type Searcher interface {
	Search(ctx context.Context, projectID int64, query string, limit int, threshold float64) ([]knowledge.Result, error)
}

// SearchInput is the argument payload models send to document_search.
type SearchInput struct {
	Query string `json:"query" jsonschema:"description=Search query to run against the project documents"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum number of document chunks to return"`
}

// DocumentSearch searches the documents uploaded to a single project.
// Each instance is bound to one project, so a model can never reach
// across project boundaries no matter what arguments it sends.
type DocumentSearch struct {
	store     Searcher
	projectID int64
	limit     int
	schema    *jsonschema.Schema
	logger    log.Logger
}

// NewDocumentSearch builds the search tool for one project. limit caps
// how many chunks a single call may return regardless of what the model
// asks for; values <= 0 fall back to 2.
func NewDocumentSearch(store Searcher, projectID int64, limit int, logger log.Logger) (*DocumentSearch, error) {
	if limit <= 0 {
		limit = 2
	}
	schema, err := jsonschema.For[SearchInput](nil)
	if err != nil {
		return nil, fmt.Errorf("build search schema: %w", err)
	}
	return &DocumentSearch{
		store:     store,
		projectID: projectID,
		limit:     limit,
		schema:    schema,
		logger:    logger.With("tool", "document_search"),
	}, nil
}

func (d *DocumentSearch) Name() string { return "document_search" }

func (d *DocumentSearch) Description() string {
	return "Search the documents uploaded to this project and return the most relevant passages. " +
		"Use this whenever the user asks about the content of their files."
}

func (d *DocumentSearch) Schema() *jsonschema.Schema { return d.schema }

// Call runs the search and renders the hits as prompt-ready text.
func (d *DocumentSearch) Call(ctx context.Context, args json.RawMessage) (string, error) {
	var in SearchInput
	if err := json.Unmarshal(args, &in); err != nil {
		return "", &ToolError{
			ErrorType: ErrorTypeInvalidArguments,
			Message:   fmt.Sprintf("invalid arguments for document_search: %v", err),
		}
	}
	if strings.TrimSpace(in.Query) == "" {
		return "", &ToolError{
			ErrorType: ErrorTypeInvalidArguments,
			Message:   "document_search requires a non-empty query",
		}
	}

	limit := in.Limit
	if limit <= 0 || limit > d.limit {
		limit = d.limit
	}

	results, err := d.store.Search(ctx, d.projectID, in.Query, limit, 0)
	if err != nil {
		return "", fmt.Errorf("search project %d: %w", d.projectID, err)
	}

	d.logger.Debug("search executed", "project_id", d.projectID, "hits", len(results))
	return FormatResults(results), nil
}

// FormatResults renders search hits the way they are spliced into the
// model conversation. An empty result set becomes an explicit sentence
// so the model does not hallucinate sources.
func FormatResults(results []knowledge.Result) string {
	if len(results) == 0 {
		return "No relevant content found in the project documents."
	}

	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("[Document %d]\nFile: %s\nSimilarity: %.2f\nContent:\n%s",
			i+1, r.Source, r.Score, r.Excerpt)
	}
	return strings.Join(parts, "\n---\n")
}
