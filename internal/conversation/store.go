package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/folio-chat/folio/internal/log"
)

// defaultListLimit applies when List is called with a non-positive limit.
const defaultListLimit = 50

// Store persists conversations and their message logs in Postgres.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore returns a store backed by the given pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	return &Store{pool: pool, logger: logger.With("component", "conversation")}
}

// Create inserts an empty conversation and returns it. The title is
// derived the same way draft titles are.
func (s *Store) Create(ctx context.Context, projectID int64, title string) (Conversation, error) {
	var c Conversation
	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (project_id, title, message_count)
		 VALUES ($1, $2, 0)
		 RETURNING id, project_id, title, message_count, created_at, updated_at`,
		projectID, DeriveTitle(title),
	).Scan(&c.ID, &c.ProjectID, &c.Title, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

// Commit persists one completed exchange atomically and returns the
// conversation id. For a draft ref this creates the conversation row
// and its first two messages; for an existing ref it appends the pair
// under a row lock so concurrent commits cannot collide on sequence
// numbers. The assistant message carries the provider/model tag and
// the exchange's tool traffic. Nothing is written for exchanges that
// never complete.
func (s *Store) Commit(ctx context.Context, ref Ref, p Pair) (int64, error) {
	if p.ToolCalls == nil {
		p.ToolCalls = []ToolCall{}
	}
	if p.ToolResults == nil {
		p.ToolResults = []ToolResult{}
	}
	callsJSON, err := json.Marshal(p.ToolCalls)
	if err != nil {
		return 0, fmt.Errorf("marshal tool calls: %w", err)
	}
	resultsJSON, err := json.Marshal(p.ToolResults)
	if err != nil {
		return 0, fmt.Errorf("marshal tool results: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("commit rollback", "error", err)
		}
	}()

	var id int64
	var maxSeq int

	if ref.IsDraft() {
		d := ref.draft
		err = tx.QueryRow(ctx,
			`INSERT INTO conversations (project_id, title, message_count)
			 VALUES ($1, $2, 2)
			 RETURNING id`,
			d.ProjectID, d.Title,
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("create conversation: %w", err)
		}
	} else {
		id = ref.id
		var locked int64
		err = tx.QueryRow(ctx,
			`SELECT id FROM conversations WHERE id = $1 FOR UPDATE`, id,
		).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		if err != nil {
			return 0, fmt.Errorf("lock conversation: %w", err)
		}

		err = tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(sequence_number), 0) FROM messages WHERE conversation_id = $1`, id,
		).Scan(&maxSeq)
		if err != nil {
			return 0, fmt.Errorf("read max sequence: %w", err)
		}
	}

	turns := []struct {
		role     string
		text     string
		provider string
		model    string
		calls    []byte
		results  []byte
	}{
		{role: "user", text: p.UserText, calls: []byte(`[]`), results: []byte(`[]`)},
		{role: "assistant", text: p.AssistantText, provider: p.Provider, model: p.Model, calls: callsJSON, results: resultsJSON},
	}
	for i, m := range turns {
		if _, err := tx.Exec(ctx,
			`INSERT INTO messages (conversation_id, role, content, provider, model, tool_calls, tool_results, sequence_number)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, m.role, m.text, m.provider, m.model, m.calls, m.results, maxSeq+i+1,
		); err != nil {
			return 0, fmt.Errorf("insert %s message: %w", m.role, err)
		}
	}

	if !ref.IsDraft() {
		if _, err := tx.Exec(ctx,
			`UPDATE conversations SET message_count = $2, updated_at = now() WHERE id = $1`,
			id, maxSeq+2,
		); err != nil {
			return 0, fmt.Errorf("update conversation: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	s.logger.Debug("exchange committed", "conversation_id", id, "draft", ref.IsDraft())
	return id, nil
}

// Get loads one conversation scoped to a project.
func (s *Store) Get(ctx context.Context, projectID, id int64) (Conversation, error) {
	var c Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, title, message_count, created_at, updated_at
		 FROM conversations
		 WHERE id = $1 AND project_id = $2`,
		id, projectID,
	).Scan(&c.ID, &c.ProjectID, &c.Title, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// Find loads one conversation by id alone. Callers that hold a user
// identity rather than a project id use it to discover the owning
// project before an ownership check.
func (s *Store) Find(ctx context.Context, id int64) (Conversation, error) {
	var c Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, title, message_count, created_at, updated_at
		 FROM conversations
		 WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.ProjectID, &c.Title, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("find conversation: %w", err)
	}
	return c, nil
}

// List returns a page of a project's conversations, most recently
// active first. A non-positive limit falls back to the default page
// size; a negative offset is treated as zero.
func (s *Store) List(ctx context.Context, projectID int64, limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, title, message_count, created_at, updated_at
		 FROM conversations
		 WHERE project_id = $1
		 ORDER BY updated_at DESC
		 LIMIT $2 OFFSET $3`,
		projectID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Conversation, error) {
		var c Conversation
		err := row.Scan(&c.ID, &c.ProjectID, &c.Title, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect conversations: %w", err)
	}
	return conversations, nil
}

// Messages returns the full log of a conversation in sequence order,
// after confirming the conversation is visible within the project.
func (s *Store) Messages(ctx context.Context, projectID, conversationID int64) ([]Message, error) {
	if _, err := s.Get(ctx, projectID, conversationID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, provider, model, tool_calls, tool_results, sequence_number, created_at
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY sequence_number ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// History returns the last limit messages of a conversation in
// ascending sequence order, for building a model prompt. limit <= 0
// returns the whole log.
func (s *Store) History(ctx context.Context, conversationID int64, limit int) ([]Message, error) {
	var rows pgx.Rows
	var err error
	if limit > 0 {
		rows, err = s.pool.Query(ctx,
			`SELECT id, conversation_id, role, content, provider, model, tool_calls, tool_results, sequence_number, created_at
			 FROM (
			   SELECT id, conversation_id, role, content, provider, model, tool_calls, tool_results, sequence_number, created_at
			   FROM messages
			   WHERE conversation_id = $1
			   ORDER BY sequence_number DESC
			   LIMIT $2
			 ) recent
			 ORDER BY sequence_number ASC`,
			conversationID, limit,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, conversation_id, role, content, provider, model, tool_calls, tool_results, sequence_number, created_at
			 FROM messages
			 WHERE conversation_id = $1
			 ORDER BY sequence_number ASC`,
			conversationID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// Rename updates a conversation title, clipped the same way derived
// titles are.
func (s *Store) Rename(ctx context.Context, projectID, id int64, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET title = $3, updated_at = now()
		 WHERE id = $1 AND project_id = $2`,
		id, projectID, DeriveTitle(title),
	)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a conversation and, through the schema's cascade, its
// messages.
func (s *Store) Delete(ctx context.Context, projectID, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conversations WHERE id = $1 AND project_id = $2`,
		id, projectID,
	)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.logger.Info("conversation deleted", "conversation_id", id, "project_id", projectID)
	return nil
}

func collectMessages(rows pgx.Rows) ([]Message, error) {
	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var m Message
		err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Provider, &m.Model, &m.ToolCalls, &m.ToolResults, &m.SequenceNumber, &m.CreatedAt)
		if len(m.ToolCalls) == 0 {
			m.ToolCalls = nil
		}
		if len(m.ToolResults) == 0 {
			m.ToolResults = nil
		}
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect messages: %w", err)
	}
	return messages, nil
}
