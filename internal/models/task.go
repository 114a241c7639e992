// Package models defines the data types shared across PatentForge services.
package models

import "time"

// TaskStatus is the lifecycle state of a generation task.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Input modes for a generation request.
const (
	ModeCode = "code"
	ModeIdea = "idea"
)

// Iteration bounds enforced by the validator.
const (
	MinIterations = 1
	MaxIterations = 10
)

// GenerateRequest is the validated input of one patent generation run.
type GenerateRequest struct {
	Mode        string `json:"mode"`
	ProjectPath string `json:"projectPath,omitempty"`
	IdeaText    string `json:"ideaText,omitempty"`
	Iterations  int    `json:"iterations"`
	OutputName  string `json:"outputName,omitempty"`
	TemplateID  string `json:"templateId,omitempty"`
}

// GenerateResult is produced when a run completes.
type GenerateResult struct {
	OutputPath   string `json:"outputPath"`
	DocxPath     string `json:"docxPath,omitempty"`
	Iterations   int    `json:"iterations"`
	LastReview   string `json:"lastReview"`
	TemplateUsed string `json:"templateUsed,omitempty"`
	TaskID       string `json:"taskId"`
}

// Task is a generation job tracked by the task manager.
// Fields are mutated only by the owning worker and the manager's cancel
// path; handlers observe it through Snapshot copies.
type Task struct {
	ID         string          `json:"taskId"`
	Request    GenerateRequest `json:"request"`
	Status     TaskStatus      `json:"status"`
	Progress   int             `json:"progress"`
	Message    string          `json:"message"`
	CreatedAt  time.Time       `json:"createdAt"`
	StartedAt  time.Time       `json:"startedAt,omitzero"`
	FinishedAt time.Time       `json:"finishedAt,omitzero"`
	Result     *GenerateResult `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Snapshot returns a consistent copy of the task's observable fields.
// The Result pointer is duplicated so pollers never share mutable state
// with the worker.
func (t *Task) Snapshot() Task {
	copy := *t
	if t.Result != nil {
		r := *t.Result
		copy.Result = &r
	}
	return copy
}

// TaskStatistics summarizes the manager's current load.
type TaskStatistics struct {
	TotalTasks   int                `json:"totalTasks"`
	StatusCounts map[TaskStatus]int `json:"statusCounts"`
	QueueDepth   int                `json:"queueDepth"`
	BusyWorkers  int                `json:"busyWorkers"`
	MaxWorkers   int                `json:"maxWorkers"`
}
