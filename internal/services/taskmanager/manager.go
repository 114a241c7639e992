// Package taskmanager runs generation tasks on a bounded worker pool
// with a FIFO submission queue, cooperative cancellation, and retention
// of finished tasks for polling.
package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/patentforge/internal/common"
	"github.com/bobmcallan/patentforge/internal/interfaces"
	"github.com/bobmcallan/patentforge/internal/models"
)

// RunFunc executes one task end to end. It must honor the cancelled
// callback and the context deadline.
type RunFunc func(ctx context.Context, taskID string, req models.GenerateRequest, progress func(int, string), cancelled func() bool) (*models.GenerateResult, error)

// entry pairs the observable task with its cooperative cancel flag.
type entry struct {
	task      models.Task
	cancelled bool
}

// Manager implements interfaces.TaskManager.
type Manager struct {
	run    RunFunc
	config common.TasksConfig
	logger *common.Logger

	queue chan string

	mu    sync.RWMutex
	tasks map[string]*entry
	busy  int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager; Start launches the pool.
func NewManager(config common.TasksConfig, run RunFunc, logger *common.Logger) *Manager {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Manager{
		run:    run,
		config: config,
		logger: logger,
		queue:  make(chan string, config.GetMaxQueued()),
		tasks:  map[string]*entry{},
	}
}

// safeGo launches a goroutine with panic recovery and logging.
func (m *Manager) safeGo(name string, fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in task manager goroutine")
			}
		}()
		fn()
	}()
}

// Start launches the worker pool and the reaper. Safe to call again;
// any previous pool is stopped first.
func (m *Manager) Start() {
	if m.cancel != nil {
		m.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	workers := m.config.GetMaxWorkers()
	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker-%d", i)
		m.safeGo(name, func() { m.processLoop(ctx) })
	}
	m.safeGo("reaper", func() { m.reapLoop(ctx) })

	m.logger.Info().
		Int("workers", workers).
		Int("queue_capacity", m.config.GetMaxQueued()).
		Msg("Task manager started")
}

// Stop cancels all loops and waits for running tasks to observe the
// cancellation.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.wg.Wait()
	m.logger.Info().Msg("Task manager stopped")
}

// Submit registers a task and enqueues it. Fails with queue_full when
// the pending queue is at its bound.
func (m *Manager) Submit(req models.GenerateRequest) (string, error) {
	id := uuid.NewString()

	m.mu.Lock()
	m.tasks[id] = &entry{task: models.Task{
		ID:        id,
		Request:   req,
		Status:    models.TaskStatusQueued,
		Message:   "任务等待中...",
		CreatedAt: time.Now().UTC(),
	}}
	m.mu.Unlock()

	select {
	case m.queue <- id:
	default:
		m.mu.Lock()
		delete(m.tasks, id)
		m.mu.Unlock()
		return "", models.NewError(models.ErrQueueFull,
			fmt.Sprintf("task queue is full (%d pending)", m.config.GetMaxQueued()))
	}

	m.logger.Info().Str("task_id", id).Str("mode", req.Mode).Int("iterations", req.Iterations).Msg("Task submitted")
	return id, nil
}

// Get returns a consistent snapshot of a task.
func (m *Manager) Get(taskID string) (models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.tasks[taskID]
	if !ok {
		return models.Task{}, models.NewError(models.ErrNotFound, fmt.Sprintf("task %s not found", taskID))
	}
	return e.task.Snapshot(), nil
}

// Cancel requests cooperative cancellation. A queued task transitions
// to cancelled immediately; a running task is flagged and transitions
// at its next cancellation check. A terminal task reports late=true.
func (m *Manager) Cancel(taskID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.tasks[taskID]
	if !ok {
		return false, models.NewError(models.ErrNotFound, fmt.Sprintf("task %s not found", taskID))
	}

	if e.task.Status.IsTerminal() {
		return true, nil
	}

	e.cancelled = true
	if e.task.Status == models.TaskStatusQueued {
		e.task.Status = models.TaskStatusCancelled
		e.task.Message = "任务已取消"
		e.task.FinishedAt = time.Now().UTC()
	} else {
		e.task.Message = "任务取消中..."
	}

	m.logger.Info().Str("task_id", taskID).Msg("Task cancellation requested")
	return false, nil
}

// Statistics reports counts by status, queue depth, and worker load.
func (m *Manager) Statistics() models.TaskStatistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := models.TaskStatistics{
		TotalTasks:   len(m.tasks),
		StatusCounts: map[models.TaskStatus]int{},
		QueueDepth:   len(m.queue),
		BusyWorkers:  m.busy,
		MaxWorkers:   m.config.GetMaxWorkers(),
	}
	for _, e := range m.tasks {
		stats.StatusCounts[e.task.Status]++
	}
	return stats
}

// processLoop dequeues and executes tasks until the manager stops.
func (m *Manager) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-m.queue:
			m.execute(ctx, id)
		}
	}
}

// execute runs one task under the per-task wall clock deadline.
func (m *Manager) execute(ctx context.Context, id string) {
	m.mu.Lock()
	e, ok := m.tasks[id]
	if !ok || e.task.Status != models.TaskStatusQueued {
		// Cancelled (or reaped) while queued.
		m.mu.Unlock()
		return
	}
	e.task.Status = models.TaskStatusRunning
	e.task.StartedAt = time.Now().UTC()
	e.task.Message = "任务执行中..."
	req := e.task.Request
	m.busy++
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.busy--
		m.mu.Unlock()
	}()

	taskCtx, cancel := context.WithTimeout(ctx, m.config.GetTaskTimeout())
	defer cancel()

	start := time.Now()
	result, err := m.run(taskCtx, id, req,
		func(p int, msg string) { m.updateProgress(id, p, msg) },
		func() bool { return m.isCancelled(id) })
	elapsed := time.Since(start)

	m.mu.Lock()
	defer m.mu.Unlock()

	e.task.FinishedAt = time.Now().UTC()
	switch {
	case err == nil:
		e.task.Status = models.TaskStatusCompleted
		e.task.Progress = 100
		e.task.Message = "任务完成"
		e.task.Result = result
		m.logger.Info().Str("task_id", id).Dur("elapsed", elapsed).Msg("Task completed")

	case models.IsKind(err, models.ErrCancelled):
		e.task.Status = models.TaskStatusCancelled
		e.task.Message = "任务已取消"
		m.logger.Info().Str("task_id", id).Dur("elapsed", elapsed).Msg("Task cancelled")

	case errors.Is(err, context.DeadlineExceeded):
		e.task.Status = models.TaskStatusFailed
		e.task.Error = err.Error()
		e.task.Message = fmt.Sprintf("任务超时（限制 %s）", m.config.GetTaskTimeout())
		m.logger.Warn().Str("task_id", id).Dur("elapsed", elapsed).Msg("Task timed out")

	default:
		e.task.Status = models.TaskStatusFailed
		e.task.Error = err.Error()
		e.task.Message = "任务失败: " + err.Error()
		m.logger.Warn().Str("task_id", id).Dur("elapsed", elapsed).Err(err).Msg("Task failed")
	}
}

// updateProgress applies a progress report. Progress never decreases,
// only a running task accepts updates, and callback reports are capped
// at 99: progress 100 is set only by the completion stamp, atomically
// with the terminal status.
func (m *Manager) updateProgress(id string, progress int, message string) {
	if progress < 0 {
		progress = 0
	}
	if progress > 99 {
		progress = 99
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.tasks[id]
	if !ok || e.task.Status != models.TaskStatusRunning {
		return
	}
	if progress > e.task.Progress {
		e.task.Progress = progress
	}
	e.task.Message = message
}

func (m *Manager) isCancelled(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.tasks[id]
	return ok && e.cancelled
}

// reapLoop removes terminal tasks past the retention window.
func (m *Manager) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(m.config.GetCleanupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reap()
		}
	}
}

func (m *Manager) reap() {
	threshold := time.Now().UTC().Add(-m.config.GetRetention())

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.tasks {
		if e.task.Status.IsTerminal() && !e.task.FinishedAt.IsZero() && e.task.FinishedAt.Before(threshold) {
			delete(m.tasks, id)
			m.logger.Debug().Str("task_id", id).Msg("Expired task removed")
		}
	}
}

var _ interfaces.TaskManager = (*Manager)(nil)
