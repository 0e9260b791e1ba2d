// Package knowledge stores document chunks with vector embeddings and
// answers similarity searches over a project's files. It is the storage
// side of retrieval; formatting results for a model prompt belongs to
// the tool that consumes it.
package knowledge

import (
	"errors"
	"time"
)

// ErrFileNotFound is returned when deleting a file that has no chunks
// stored for the given project.
var ErrFileNotFound = errors.New("knowledge: file not found")

// Result is a single similarity hit against a project's documents.
type Result struct {
	// Source is the filename the chunk was ingested from.
	Source string `json:"source"`
	// Score is cosine similarity in [0, 1], higher is closer.
	Score float64 `json:"score"`
	// Excerpt is the stored chunk content.
	Excerpt string `json:"excerpt"`
}

// FileInfo summarizes one ingested file within a project.
type FileInfo struct {
	Filename   string    `json:"filename"`
	ChunkCount int       `json:"chunk_count"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
}
