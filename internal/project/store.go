package project

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/folio-chat/folio/internal/log"
)

// Store persists projects in Postgres. Every read and write is scoped
// by the owning user; there is no cross-user access path.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore returns a store backed by the given pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	return &Store{pool: pool, logger: logger.With("component", "project")}
}

// Create inserts a project for the user.
func (s *Store) Create(ctx context.Context, userID int64, params Params) (Project, error) {
	if err := params.Validate(); err != nil {
		return Project{}, err
	}

	var p Project
	err := s.pool.QueryRow(ctx,
		`INSERT INTO projects (owner_id, name, description, llm_prompt)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, owner_id, name, description, llm_prompt, created_at, updated_at`,
		userID, params.Name, params.Description, params.Prompt,
	).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Prompt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("create project: %w", err)
	}

	s.logger.Info("project created", "project_id", p.ID, "user_id", userID)
	return p, nil
}

// Get loads one project owned by the user.
func (s *Store) Get(ctx context.Context, userID, id int64) (Project, error) {
	var p Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, description, llm_prompt, created_at, updated_at
		 FROM projects
		 WHERE id = $1 AND owner_id = $2`,
		id, userID,
	).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Prompt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// List returns the user's projects, most recently updated first.
func (s *Store) List(ctx context.Context, userID int64) ([]Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, name, description, llm_prompt, created_at, updated_at
		 FROM projects
		 WHERE owner_id = $1
		 ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Project, error) {
		var p Project
		err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Prompt, &p.CreatedAt, &p.UpdatedAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect projects: %w", err)
	}
	return projects, nil
}

// Update rewrites the writable fields of a project owned by the user.
func (s *Store) Update(ctx context.Context, userID, id int64, params Params) (Project, error) {
	if err := params.Validate(); err != nil {
		return Project{}, err
	}

	var p Project
	err := s.pool.QueryRow(ctx,
		`UPDATE projects SET name = $3, description = $4, llm_prompt = $5, updated_at = now()
		 WHERE id = $1 AND owner_id = $2
		 RETURNING id, owner_id, name, description, llm_prompt, created_at, updated_at`,
		id, userID, params.Name, params.Description, params.Prompt,
	).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Prompt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("update project: %w", err)
	}
	return p, nil
}

// Delete removes a project. Conversations, messages, and file chunks
// under it go with it through the schema's cascades.
func (s *Store) Delete(ctx context.Context, userID, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM projects WHERE id = $1 AND owner_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.logger.Info("project deleted", "project_id", id, "user_id", userID)
	return nil
}
