// Package storage persists per-round conversation history in an
// embedded SQLite database.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/bobmcallan/patentforge/internal/common"
	"github.com/bobmcallan/patentforge/internal/interfaces"
	"github.com/bobmcallan/patentforge/internal/models"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// ConversationStore implements interfaces.ConversationStore on SQLite.
// A single connection plus a write mutex keeps writers serialized; SQLite
// itself guarantees readers see the last committed write.
type ConversationStore struct {
	db     *sql.DB
	logger *common.Logger

	writeMu sync.Mutex
}

// NewConversationStore opens (creating if necessary) the database at
// path and applies pending migrations.
func NewConversationStore(path string, logger *common.Logger) (*ConversationStore, error) {
	if logger == nil {
		logger = common.NewSilentLogger()
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, models.WrapError(models.ErrIO, "failed to create database directory", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, models.WrapError(models.ErrIO, "failed to open conversations database", err)
	}
	// modernc sqlite is happiest with a single writer connection.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, models.WrapError(models.ErrIO, "failed to migrate conversations database", err)
	}

	logger.Info().Str("path", path).Msg("Conversation store opened")

	return &ConversationStore{db: db, logger: logger}, nil
}

// runMigrations applies the embedded schema migrations with goose.
func runMigrations(db *sql.DB) error {
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	goose.SetBaseFS(embedMigrations)
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// CreateTask registers a run before its first round is logged.
func (s *ConversationStore) CreateTask(ctx context.Context, task models.ConversationTask) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	created := now
	if !task.CreatedAt.IsZero() {
		created = task.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	status := task.Status
	if status == "" {
		status = "running"
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, title, mode, iterations, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Mode, task.Iterations, status, created, now)
	if err != nil {
		return models.WrapError(models.ErrIO, "failed to create conversation task", err)
	}
	return nil
}

// LogRound appends an immutable prompt/response record and bumps the
// task's updated_at stamp.
func (s *ConversationStore) LogRound(ctx context.Context, taskID string, round int, role, prompt, response string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.WrapError(models.ErrIO, "failed to begin round write", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rounds (task_id, round_number, role, prompt, response, ts)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		taskID, round, role, prompt, response, now); err != nil {
		return models.WrapError(models.ErrIO, "failed to log round", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET updated_at = ? WHERE id = ?`, now, taskID); err != nil {
		return models.WrapError(models.ErrIO, "failed to stamp task", err)
	}

	if err := tx.Commit(); err != nil {
		return models.WrapError(models.ErrIO, "failed to commit round write", err)
	}

	s.logger.Debug().
		Str("task_id", taskID).
		Int("round", round).
		Str("role", role).
		Msg("Round logged")

	return nil
}

// UpdateTaskStatus stamps the run's terminal status.
func (s *ConversationStore) UpdateTaskStatus(ctx context.Context, taskID, status string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, status, now, taskID)
	if err != nil {
		return models.WrapError(models.ErrIO, "failed to update task status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NewError(models.ErrNotFound, fmt.Sprintf("conversation task %s not found", taskID))
	}
	return nil
}

// Tasks lists runs, newest first.
func (s *ConversationStore) Tasks(ctx context.Context) ([]models.ConversationTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, mode, iterations, status, created_at, updated_at
		 FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, models.WrapError(models.ErrIO, "failed to list tasks", err)
	}
	defer rows.Close()

	var tasks []models.ConversationTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, models.WrapError(models.ErrIO, "failed to scan task", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Task returns one run, or not_found.
func (s *ConversationStore) Task(ctx context.Context, taskID string) (models.ConversationTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, mode, iterations, status, created_at, updated_at
		 FROM tasks WHERE id = ?`, taskID)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ConversationTask{}, models.NewError(models.ErrNotFound, fmt.Sprintf("conversation task %s not found", taskID))
	}
	if err != nil {
		return models.ConversationTask{}, models.WrapError(models.ErrIO, "failed to read task", err)
	}
	return task, nil
}

// Rounds returns the distinct round indices of a run, ascending.
func (s *ConversationStore) Rounds(ctx context.Context, taskID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT round_number FROM rounds WHERE task_id = ? ORDER BY round_number`, taskID)
	if err != nil {
		return nil, models.WrapError(models.ErrIO, "failed to list rounds", err)
	}
	defer rows.Close()

	indices := []int{}
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, models.WrapError(models.ErrIO, "failed to scan round index", err)
		}
		indices = append(indices, n)
	}
	return indices, rows.Err()
}

// Round returns the records of one round grouped by role.
func (s *ConversationStore) Round(ctx context.Context, taskID string, round int) (models.RoundDetail, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, round_number, role, prompt, response, ts
		 FROM rounds WHERE task_id = ? AND round_number = ? ORDER BY role`, taskID, round)
	if err != nil {
		return models.RoundDetail{}, models.WrapError(models.ErrIO, "failed to read round", err)
	}
	defer rows.Close()

	var detail models.RoundDetail
	found := false
	for rows.Next() {
		var r models.ConversationRound
		var ts string
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Round, &r.Role, &r.Prompt, &r.Response, &ts); err != nil {
			return models.RoundDetail{}, models.WrapError(models.ErrIO, "failed to scan round", err)
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		found = true
		switch r.Role {
		case models.RoleWriter:
			rec := r
			detail.Writer = &rec
		case models.RoleModifier:
			rec := r
			detail.Modifier = &rec
		case models.RoleReviewer:
			rec := r
			detail.Reviewer = &rec
		}
	}
	if err := rows.Err(); err != nil {
		return models.RoundDetail{}, models.WrapError(models.ErrIO, "failed to iterate round", err)
	}
	if !found {
		return models.RoundDetail{}, models.NewError(models.ErrNotFound, fmt.Sprintf("round %d of task %s not found", round, taskID))
	}
	return detail, nil
}

// DeleteTask removes a run and its rounds.
func (s *ConversationStore) DeleteTask(ctx context.Context, taskID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.WrapError(models.ErrIO, "failed to begin delete", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rounds WHERE task_id = ?`, taskID); err != nil {
		return models.WrapError(models.ErrIO, "failed to delete rounds", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID); err != nil {
		return models.WrapError(models.ErrIO, "failed to delete task", err)
	}
	if err := tx.Commit(); err != nil {
		return models.WrapError(models.ErrIO, "failed to commit delete", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *ConversationStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (models.ConversationTask, error) {
	var task models.ConversationTask
	var created, updated string
	if err := row.Scan(&task.ID, &task.Title, &task.Mode, &task.Iterations, &task.Status, &created, &updated); err != nil {
		return models.ConversationTask{}, err
	}
	task.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	task.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return task, nil
}

// Ensure ConversationStore implements the interface
var _ interfaces.ConversationStore = (*ConversationStore)(nil)
