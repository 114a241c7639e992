package interfaces

import (
	"context"

	"github.com/bobmcallan/patentforge/internal/models"
)

// ConversationStore durably records the per-round dialogue of every run.
// Writes are serialized by the store; reads see the last committed write.
type ConversationStore interface {
	// CreateTask registers a run before its first round is logged.
	CreateTask(ctx context.Context, task models.ConversationTask) error

	// LogRound appends an immutable prompt/response record.
	LogRound(ctx context.Context, taskID string, round int, role, prompt, response string) error

	// UpdateTaskStatus stamps the run's terminal status.
	UpdateTaskStatus(ctx context.Context, taskID, status string) error

	// Tasks lists runs, newest first.
	Tasks(ctx context.Context) ([]models.ConversationTask, error)

	// Task returns one run, or not_found.
	Task(ctx context.Context, taskID string) (models.ConversationTask, error)

	// Rounds returns the distinct round indices of a run, ascending.
	Rounds(ctx context.Context, taskID string) ([]int, error)

	// Round returns the records of one round grouped by role.
	Round(ctx context.Context, taskID string, round int) (models.RoundDetail, error)

	// DeleteTask removes a run and its rounds.
	DeleteTask(ctx context.Context, taskID string) error

	Close() error
}
