// Package ingest turns uploaded files into searchable project
// knowledge: validate, chunk, and hand off for embedding and storage.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/folio-chat/folio/internal/knowledge"
	"github.com/folio-chat/folio/internal/log"
	"github.com/folio-chat/folio/internal/metrics"
)

var (
	// ErrFileTooLarge rejects uploads over the configured cap.
	ErrFileTooLarge = errors.New("ingest: file too large")
	// ErrUnsupportedType rejects extensions the extractor cannot read.
	ErrUnsupportedType = errors.New("ingest: unsupported file type")
	// ErrNotText rejects files that are not valid UTF-8.
	ErrNotText = errors.New("ingest: file is not valid text")
	// ErrEmptyFile rejects files with no usable content.
	ErrEmptyFile = errors.New("ingest: file is empty")
)

// textExtensions lists the file types accepted for ingestion.
var textExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".text":     true,
}

// ChunkStore persists extracted chunks. *knowledge.Store satisfies it.
type ChunkStore interface {
	AddFile(ctx context.Context, projectID int64, filename string, chunks []string) (int, error)
}

// Ingestor runs the upload pipeline for one configuration.
type Ingestor struct {
	store    ChunkStore
	chunker  *knowledge.Chunker
	maxBytes int64
	logger   log.Logger
}

// New wires an ingestor. maxBytes <= 0 defaults to 10 MiB.
func New(store ChunkStore, chunker *knowledge.Chunker, maxBytes int64, logger log.Logger) *Ingestor {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Ingestor{
		store:    store,
		chunker:  chunker,
		maxBytes: maxBytes,
		logger:   logger.With("component", "ingest"),
	}
}

// MaxBytes reports the upload size cap, for request body limits.
func (in *Ingestor) MaxBytes() int64 { return in.maxBytes }

// IngestFile validates, chunks, and stores one uploaded file under a
// project. It returns the stored filename (the base name of the upload)
// and the number of chunks written. Re-uploading a filename replaces
// its previous chunks.
func (in *Ingestor) IngestFile(ctx context.Context, projectID int64, filename string, data []byte) (string, int, error) {
	filename = path.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == "/" {
		return "", 0, fmt.Errorf("%w: missing filename", ErrUnsupportedType)
	}

	ext := strings.ToLower(path.Ext(filename))
	if !textExtensions[ext] {
		return "", 0, fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
	if int64(len(data)) > in.maxBytes {
		return "", 0, fmt.Errorf("%w: %d bytes over %d limit", ErrFileTooLarge, len(data), in.maxBytes)
	}
	if !utf8.Valid(data) {
		return "", 0, ErrNotText
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", 0, ErrEmptyFile
	}

	chunks := in.chunker.Split(text)
	if len(chunks) == 0 {
		return "", 0, ErrEmptyFile
	}

	n, err := in.store.AddFile(ctx, projectID, filename, chunks)
	if err != nil {
		return "", 0, fmt.Errorf("store %q: %w", filename, err)
	}

	metrics.FilesIngested.Inc()
	in.logger.Info("file ingested", "project_id", projectID, "filename", filename, "chunks", n)
	return filename, n, nil
}
