package taskstore

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

// PostgresStore persists tasks in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initTaskSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initTaskSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			priority TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			due_date TIMESTAMPTZ NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks (user_id, created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init task schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const taskColumns = `id, user_id, title, description, completed, priority, category, due_date, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, task Task) (Task, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = task.CreatedAt

	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		task.ID, task.UserID, task.Title, task.Description, task.Completed,
		task.Priority, task.Category, task.DueDate, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return Task{}, reliability.WrapStorage("create task", err)
	}
	return task, nil
}

func (s *PostgresStore) Get(ctx context.Context, id, userID string) (Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id=$1 AND user_id=$2`,
		id, userID,
	)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, reliability.WrapStorage("get task", err)
	}
	return task, nil
}

func (s *PostgresStore) Update(ctx context.Context, id, userID string, patch Patch) (Task, error) {
	set := make([]string, 0, 7)
	args := make([]any, 0, 9)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.Title != nil {
		set = append(set, "title="+arg(*patch.Title))
	}
	if patch.Description != nil {
		set = append(set, "description="+arg(*patch.Description))
	}
	if patch.Completed != nil {
		set = append(set, "completed="+arg(*patch.Completed))
	}
	if patch.Priority != nil {
		set = append(set, "priority="+arg(*patch.Priority))
	}
	if patch.Category != nil {
		set = append(set, "category="+arg(*patch.Category))
	}
	if patch.ClearDue {
		set = append(set, "due_date=NULL")
	} else if patch.DueDate != nil {
		set = append(set, "due_date="+arg(patch.DueDate.UTC()))
	}
	set = append(set, "updated_at="+arg(time.Now().UTC()))

	query := `UPDATE tasks SET ` + strings.Join(set, ", ") +
		` WHERE id=` + arg(id) + ` AND user_id=` + arg(userID) +
		` RETURNING ` + taskColumns

	task, err := scanTask(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, reliability.WrapStorage("update task", err)
	}
	return task, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return reliability.WrapStorage("delete task", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, userID string, filter Filter) ([]Task, error) {
	where := []string{"user_id=$1"}
	args := []any{userID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch filter.Status {
	case StatusActive:
		where = append(where, "completed=FALSE")
	case StatusCompleted:
		where = append(where, "completed=TRUE")
	}
	if filter.Priority != "" {
		where = append(where, "priority="+arg(filter.Priority))
	}
	if filter.Category != "" {
		where = append(where, "category="+arg(filter.Category))
	}

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch filter.Due {
	case DueToday:
		where = append(where, "due_date >= "+arg(dayStart), "due_date < "+arg(dayStart.AddDate(0, 0, 1)))
	case DueTomorrow:
		where = append(where, "due_date >= "+arg(dayStart.AddDate(0, 0, 1)), "due_date < "+arg(dayStart.AddDate(0, 0, 2)))
	case DueThisWeek:
		where = append(where, "due_date >= "+arg(dayStart), "due_date < "+arg(dayStart.AddDate(0, 0, 7)))
	case DueOverdue:
		where = append(where, "due_date < "+arg(now), "completed=FALSE")
	case DueNone:
		where = append(where, "due_date IS NULL")
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, reliability.WrapStorage("list tasks", err)
	}
	defer rows.Close()

	out := make([]Task, 0, 16)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, reliability.WrapStorage("scan task row", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, reliability.WrapStorage("iterate task rows", err)
	}
	return out, nil
}

func (s *PostgresStore) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE user_id=$1`, userID).Scan(&n)
	if err != nil {
		return 0, reliability.WrapStorage("count tasks", err)
	}
	return n, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanTask(row pgx.Row) (Task, error) {
	var (
		task        Task
		dueNullable *time.Time
	)
	if err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.Title,
		&task.Description,
		&task.Completed,
		&task.Priority,
		&task.Category,
		&dueNullable,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return Task{}, err
	}
	task.DueDate = dueNullable
	return task, nil
}
