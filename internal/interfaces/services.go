package interfaces

import (
	"context"

	"github.com/bobmcallan/patentforge/internal/models"
)

// TaskManager accepts generation requests and runs them on a bounded
// worker pool with polling, cancellation, and terminal-state retention.
type TaskManager interface {
	// Submit enqueues a validated request and returns the task ID.
	// Fails with queue_full when the pending queue is at its bound.
	Submit(req models.GenerateRequest) (string, error)

	// Get returns a consistent snapshot of the task, or not_found.
	Get(taskID string) (models.Task, error)

	// Cancel sets the cooperative cancellation flag. Idempotent; a task
	// already terminal reports late=true and is left untouched.
	Cancel(taskID string) (late bool, err error)

	// Statistics reports counts by status, queue depth, and worker load.
	Statistics() models.TaskStatistics

	Start()
	Stop()
}

// WorkflowRunner executes the writer/reviewer iteration loop for one task.
type WorkflowRunner interface {
	Run(ctx context.Context, opts RunOptions) (*models.GenerateResult, error)
}

// GenerationService runs a validated request end to end: context
// construction, conversation registration, the iteration loop, and the
// terminal status stamp.
type GenerationService interface {
	Execute(ctx context.Context, taskID string, req models.GenerateRequest, progress func(progress int, message string), cancelled func() bool) (*models.GenerateResult, error)
}

// RunOptions carries everything one iteration run needs.
type RunOptions struct {
	TaskID     string
	Context    string
	Iterations int
	OutputName string
	TemplateID string
	Progress   func(progress int, message string)
	Cancelled  func() bool
}

// PromptEngine resolves the prompt to send for a role and round.
type PromptEngine interface {
	Build(role string, vars PromptVars) (string, error)
	Reload() error
}

// PromptVars is the closed variable table recognized by prompt assembly.
type PromptVars struct {
	Context         string
	PreviousDraft   string
	PreviousReview  string
	CurrentDraft    string
	Iteration       int
	TotalIterations int
	TemplateID      string
}

// SourceAnalyzer builds a bounded Markdown digest of a project tree.
type SourceAnalyzer interface {
	Summarize(ctx context.Context, projectPath string) (string, error)
}

// TemplateRegistry lists document template descriptors for run labeling.
type TemplateRegistry interface {
	List() []models.TemplateDescriptor
	Get(id string) (models.TemplateDescriptor, bool)
	DefaultID() string
	Reload() error
}

// UserPromptStore persists the process-wide custom prompt record.
type UserPromptStore interface {
	// Get returns the stored prompt for a role, empty when unset.
	Get(role string) string
	All() map[string]string
	Set(role, prompt string) error
	Delete(role string) error
	Stats() models.UserPromptStats
}
