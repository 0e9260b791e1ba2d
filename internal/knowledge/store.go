package knowledge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/folio-chat/folio/internal/log"
)

// Store persists document chunks and their embeddings in Postgres and
// serves cosine-similarity search through pgvector.
type Store struct {
	pool     *pgxpool.Pool
	embedder Embedder
	logger   log.Logger
}

// NewStore returns a store backed by the given pool and embedder.
func NewStore(pool *pgxpool.Pool, embedder Embedder, logger log.Logger) *Store {
	return &Store{
		pool:     pool,
		embedder: embedder,
		logger:   logger.With("component", "knowledge"),
	}
}

// AddFile stores chunks for one file under a project, replacing any
// chunks previously stored for the same filename. Embedding happens
// before the transaction opens so the lock window stays short. Returns
// the number of chunks stored.
func (s *Store) AddFile(ctx context.Context, projectID int64, filename string, chunks []string) (int, error) {
	if len(chunks) == 0 {
		return 0, fmt.Errorf("no chunks to store for %q", filename)
	}

	vectors, err := s.embedder.Embed(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embed %q: %w", filename, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM file_chunks WHERE project_id = $1 AND filename = $2`,
		projectID, filename,
	); err != nil {
		return 0, fmt.Errorf("clear existing chunks: %w", err)
	}

	for i, chunk := range chunks {
		if _, err := tx.Exec(ctx,
			`INSERT INTO file_chunks (project_id, filename, chunk_index, content, embedding)
			 VALUES ($1, $2, $3, $4, $5)`,
			projectID, filename, i, chunk, pgvector.NewVector(vectors[i]),
		); err != nil {
			return 0, fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	s.logger.Info("file ingested", "project_id", projectID, "filename", filename, "chunks", len(chunks))
	return len(chunks), nil
}

// Search embeds the query and returns the closest chunks for the
// project, ordered by descending similarity. Results scoring below
// threshold are dropped; a zero threshold keeps everything.
func (s *Store) Search(ctx context.Context, projectID int64, query string, limit int, threshold float64) ([]Result, error) {
	if limit <= 0 {
		limit = 2
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	vec := pgvector.NewVector(vectors[0])

	rows, err := s.pool.Query(ctx,
		`SELECT filename, content, 1 - (embedding <=> $1) AS similarity
		 FROM file_chunks
		 WHERE project_id = $2
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		vec, projectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Source, &r.Excerpt, &r.Score); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if r.Score >= threshold {
			results = append(results, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}

	s.logger.Debug("search completed", "project_id", projectID, "hits", len(results))
	return results, nil
}

// ListFiles reports the files stored for a project, newest first.
func (s *Store) ListFiles(ctx context.Context, projectID int64) ([]FileInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT filename, COUNT(*), COALESCE(SUM(octet_length(content)), 0), MIN(created_at)
		 FROM file_chunks
		 WHERE project_id = $1
		 GROUP BY filename
		 ORDER BY MIN(created_at) DESC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	files, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (FileInfo, error) {
		var f FileInfo
		err := row.Scan(&f.Filename, &f.ChunkCount, &f.SizeBytes, &f.CreatedAt)
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect files: %w", err)
	}
	return files, nil
}

// DeleteFile removes all chunks stored for filename under the project.
// Returns ErrFileNotFound when nothing was stored under that name.
func (s *Store) DeleteFile(ctx context.Context, projectID int64, filename string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM file_chunks WHERE project_id = $1 AND filename = $2`,
		projectID, filename,
	)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}

	s.logger.Info("file deleted", "project_id", projectID, "filename", filename, "chunks", tag.RowsAffected())
	return nil
}
