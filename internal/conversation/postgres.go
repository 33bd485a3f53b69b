package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nbianchi/tasktalk/internal/reliability"
)

// PostgresStore persists conversations and messages in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_updated ON conversations (user_id, updated_at DESC);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages (conversation_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init conversation schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, userID string) (Conversation, error) {
	now := time.Now().UTC()
	c := Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES ($1,$2,$3,$4,$5)`,
		c.ID, c.UserID, c.Title, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return Conversation{}, reliability.WrapStorage("create conversation", err)
	}
	return c, nil
}

func (s *PostgresStore) Get(ctx context.Context, id, userID string) (Conversation, error) {
	var c Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, created_at, updated_at
		   FROM conversations WHERE id=$1 AND user_id=$2`,
		id, userID,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, reliability.WrapStorage("get conversation", err)
	}
	return c, nil
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID string, limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, title, created_at, updated_at
		   FROM conversations WHERE user_id=$1
		  ORDER BY updated_at DESC, id DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, reliability.WrapStorage("list conversations", err)
	}
	defer rows.Close()

	out := make([]Conversation, 0, limit)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, reliability.WrapStorage("scan conversation row", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, reliability.WrapStorage("iterate conversation rows", err)
	}
	return out, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID, userID string, role Role, content string) (Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, reliability.WrapStorage("begin append", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Ownership check and timestamp bump in one statement keeps the
	// (id, user) filter joint: a wrong owner matches zero rows, exactly like
	// a missing id.
	now := time.Now().UTC()
	var title string
	err = tx.QueryRow(ctx,
		`UPDATE conversations SET updated_at=$3 WHERE id=$1 AND user_id=$2 RETURNING title`,
		conversationID, userID, now,
	).Scan(&title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, reliability.WrapStorage("claim conversation", err)
	}

	m := Message{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, user_id, conversation_id, role, content, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		m.ID, m.UserID, m.ConversationID, string(m.Role), m.Content, m.CreatedAt,
	)
	if err != nil {
		return Message{}, reliability.WrapStorage("insert message", err)
	}

	if title == "" && role == RoleUser {
		if _, err := tx.Exec(ctx,
			`UPDATE conversations SET title=$3 WHERE id=$1 AND user_id=$2`,
			conversationID, userID, TitleFromContent(content),
		); err != nil {
			return Message{}, reliability.WrapStorage("set conversation title", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, reliability.WrapStorage("commit append", err)
	}
	return m, nil
}

func (s *PostgresStore) Messages(ctx context.Context, conversationID, userID string) ([]Message, error) {
	if _, err := s.Get(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, conversation_id, role, content, created_at
		   FROM messages WHERE conversation_id=$1 AND user_id=$2
		  ORDER BY created_at ASC, id ASC`,
		conversationID, userID,
	)
	if err != nil {
		return nil, reliability.WrapStorage("list messages", err)
	}
	defer rows.Close()

	out := make([]Message, 0, 16)
	for rows.Next() {
		var (
			m    Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.ConversationID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, reliability.WrapStorage("scan message row", err)
		}
		m.Role = Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, reliability.WrapStorage("iterate message rows", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, conversationID, userID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conversations WHERE id=$1 AND user_id=$2`,
		conversationID, userID,
	)
	if err != nil {
		return false, reliability.WrapStorage("delete conversation", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
