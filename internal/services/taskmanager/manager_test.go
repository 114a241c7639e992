package taskmanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/patentforge/internal/common"
	"github.com/bobmcallan/patentforge/internal/models"
)

func testConfig() common.TasksConfig {
	return common.TasksConfig{
		MaxWorkers:      2,
		MaxQueued:       4,
		TaskTimeout:     "5s",
		Retention:       "24h",
		CleanupInterval: "1h",
	}
}

func waitForStatus(t *testing.T, m *Manager, id string, status models.TaskStatus) models.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := m.Get(id)
		require.NoError(t, err)
		if task.Status == status {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	task, _ := m.Get(id)
	t.Fatalf("task %s never reached %s, last status %s", id, status, task.Status)
	return models.Task{}
}

func TestSubmitAndComplete(t *testing.T) {
	run := func(ctx context.Context, id string, req models.GenerateRequest, progress func(int, string), cancelled func() bool) (*models.GenerateResult, error) {
		progress(50, "halfway")
		return &models.GenerateResult{OutputPath: "out.md", Iterations: req.Iterations, TaskID: id}, nil
	}
	m := NewManager(testConfig(), run, common.NewSilentLogger())
	m.Start()
	defer m.Stop()

	id, err := m.Submit(models.GenerateRequest{Mode: models.ModeIdea, IdeaText: "想法", Iterations: 2})
	require.NoError(t, err)

	task := waitForStatus(t, m, id, models.TaskStatusCompleted)
	assert.Equal(t, 100, task.Progress)
	assert.Equal(t, "任务完成", task.Message)
	require.NotNil(t, task.Result)
	assert.Equal(t, "out.md", task.Result.OutputPath)
	assert.Equal(t, id, task.Result.TaskID)
	assert.False(t, task.FinishedAt.IsZero())
}

func TestSubmitQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueued = 1
	m := NewManager(cfg, nil, common.NewSilentLogger())
	// Not started: nothing drains the queue.

	_, err := m.Submit(models.GenerateRequest{Mode: models.ModeIdea, IdeaText: "a", Iterations: 1})
	require.NoError(t, err)

	_, err = m.Submit(models.GenerateRequest{Mode: models.ModeIdea, IdeaText: "b", Iterations: 1})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrQueueFull))

	// The rejected task is not retained.
	assert.Equal(t, 1, m.Statistics().TotalTasks)
}

func TestGetUnknownTask(t *testing.T) {
	m := NewManager(testConfig(), nil, common.NewSilentLogger())
	_, err := m.Get("missing")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrNotFound))
}

func TestTaskFailure(t *testing.T) {
	run := func(ctx context.Context, id string, req models.GenerateRequest, progress func(int, string), cancelled func() bool) (*models.GenerateResult, error) {
		return nil, models.NewError(models.ErrLLMAuth, "authentication failed")
	}
	m := NewManager(testConfig(), run, common.NewSilentLogger())
	m.Start()
	defer m.Stop()

	id, err := m.Submit(models.GenerateRequest{Mode: models.ModeIdea, IdeaText: "想法", Iterations: 1})
	require.NoError(t, err)

	task := waitForStatus(t, m, id, models.TaskStatusFailed)
	assert.Contains(t, task.Error, "authentication failed")
	assert.Nil(t, task.Result)
}

func TestCancelQueuedTask(t *testing.T) {
	cfg := testConfig()
	m := NewManager(cfg, nil, common.NewSilentLogger())
	// Not started, so the task stays queued.

	id, err := m.Submit(models.GenerateRequest{Mode: models.ModeIdea, IdeaText: "想法", Iterations: 1})
	require.NoError(t, err)

	late, err := m.Cancel(id)
	require.NoError(t, err)
	assert.False(t, late)

	task, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, task.Status)
	assert.Equal(t, "任务已取消", task.Message)
}

func TestCancelRunningTask(t *testing.T) {
	started := make(chan struct{})
	run := func(ctx context.Context, id string, req models.GenerateRequest, progress func(int, string), cancelled func() bool) (*models.GenerateResult, error) {
		close(started)
		for !cancelled() {
			select {
			case <-ctx.Done():
				return nil, models.ErrTaskCancelled
			case <-time.After(5 * time.Millisecond):
			}
		}
		return nil, models.ErrTaskCancelled
	}
	m := NewManager(testConfig(), run, common.NewSilentLogger())
	m.Start()
	defer m.Stop()

	id, err := m.Submit(models.GenerateRequest{Mode: models.ModeIdea, IdeaText: "想法", Iterations: 1})
	require.NoError(t, err)

	<-started
	late, err := m.Cancel(id)
	require.NoError(t, err)
	assert.False(t, late)

	task := waitForStatus(t, m, id, models.TaskStatusCancelled)
	assert.Equal(t, "任务已取消", task.Message)
}

func TestCancelTerminalTaskReportsLate(t *testing.T) {
	run := func(ctx context.Context, id string, req models.GenerateRequest, progress func(int, string), cancelled func() bool) (*models.GenerateResult, error) {
		return &models.GenerateResult{TaskID: id}, nil
	}
	m := NewManager(testConfig(), run, common.NewSilentLogger())
	m.Start()
	defer m.Stop()

	id, err := m.Submit(models.GenerateRequest{Mode: models.ModeIdea, IdeaText: "想法", Iterations: 1})
	require.NoError(t, err)
	waitForStatus(t, m, id, models.TaskStatusCompleted)

	late, err := m.Cancel(id)
	require.NoError(t, err)
	assert.True(t, late)

	// The terminal state is untouched.
	task, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
}

func TestCancelUnknownTask(t *testing.T) {
	m := NewManager(testConfig(), nil, common.NewSilentLogger())
	_, err := m.Cancel("missing")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrNotFound))
}

func TestTaskTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.TaskTimeout = "30ms"
	run := func(ctx context.Context, id string, req models.GenerateRequest, progress func(int, string), cancelled func() bool) (*models.GenerateResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m := NewManager(cfg, run, common.NewSilentLogger())
	m.Start()
	defer m.Stop()

	id, err := m.Submit(models.GenerateRequest{Mode: models.ModeIdea, IdeaText: "想法", Iterations: 1})
	require.NoError(t, err)

	task := waitForStatus(t, m, id, models.TaskStatusFailed)
	assert.Contains(t, task.Message, "任务超时")
}

func TestTaskTimeoutWrappedByRunnerIsFailedNotCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.TaskTimeout = "30ms"
	run := func(ctx context.Context, id string, req models.GenerateRequest, progress func(int, string), cancelled func() bool) (*models.GenerateResult, error) {
		<-ctx.Done()
		// The iteration engine classifies deadline expiry before returning.
		return nil, models.WrapError(models.ErrLLMTimeout, "任务超时", ctx.Err())
	}
	m := NewManager(cfg, run, common.NewSilentLogger())
	m.Start()
	defer m.Stop()

	id, err := m.Submit(models.GenerateRequest{Mode: models.ModeIdea, IdeaText: "想法", Iterations: 1})
	require.NoError(t, err)

	task := waitForStatus(t, m, id, models.TaskStatusFailed)
	assert.Contains(t, task.Message, "任务超时")
}

func TestProgressNeverDecreases(t *testing.T) {
	reported := make(chan struct{})
	run := func(ctx context.Context, id string, req models.GenerateRequest, progress func(int, string), cancelled func() bool) (*models.GenerateResult, error) {
		progress(60, "ahead")
		progress(30, "stale report")
		progress(150, "clamped")
		close(reported)
		return &models.GenerateResult{TaskID: id}, nil
	}
	m := NewManager(testConfig(), run, common.NewSilentLogger())
	m.Start()
	defer m.Stop()

	id, err := m.Submit(models.GenerateRequest{Mode: models.ModeIdea, IdeaText: "想法", Iterations: 1})
	require.NoError(t, err)

	<-reported
	task := waitForStatus(t, m, id, models.TaskStatusCompleted)
	assert.Equal(t, 100, task.Progress)
}

func TestProgressHundredImpliesCompleted(t *testing.T) {
	reported := make(chan struct{})
	release := make(chan struct{})
	run := func(ctx context.Context, id string, req models.GenerateRequest, progress func(int, string), cancelled func() bool) (*models.GenerateResult, error) {
		progress(100, "文件已保存")
		close(reported)
		<-release
		return &models.GenerateResult{TaskID: id}, nil
	}
	m := NewManager(testConfig(), run, common.NewSilentLogger())
	m.Start()
	defer m.Stop()

	id, err := m.Submit(models.GenerateRequest{Mode: models.ModeIdea, IdeaText: "想法", Iterations: 1})
	require.NoError(t, err)

	<-reported
	task, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, task.Status)
	assert.Equal(t, 99, task.Progress)

	close(release)
	final := waitForStatus(t, m, id, models.TaskStatusCompleted)
	assert.Equal(t, 100, final.Progress)
}

func TestStatistics(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 8)
	run := func(ctx context.Context, id string, req models.GenerateRequest, progress func(int, string), cancelled func() bool) (*models.GenerateResult, error) {
		started <- struct{}{}
		<-block
		return &models.GenerateResult{TaskID: id}, nil
	}
	m := NewManager(testConfig(), run, common.NewSilentLogger())
	m.Start()
	defer m.Stop()

	for i := 0; i < 2; i++ {
		_, err := m.Submit(models.GenerateRequest{Mode: models.ModeIdea, IdeaText: "想法", Iterations: 1})
		require.NoError(t, err)
	}
	<-started
	<-started

	stats := m.Statistics()
	assert.Equal(t, 2, stats.TotalTasks)
	assert.Equal(t, 2, stats.BusyWorkers)
	assert.Equal(t, 2, stats.MaxWorkers)
	assert.Equal(t, 2, stats.StatusCounts[models.TaskStatusRunning])

	close(block)
}

func TestReapRemovesExpiredTasks(t *testing.T) {
	cfg := testConfig()
	cfg.Retention = "1ms"
	run := func(ctx context.Context, id string, req models.GenerateRequest, progress func(int, string), cancelled func() bool) (*models.GenerateResult, error) {
		return &models.GenerateResult{TaskID: id}, nil
	}
	m := NewManager(cfg, run, common.NewSilentLogger())
	m.Start()
	defer m.Stop()

	id, err := m.Submit(models.GenerateRequest{Mode: models.ModeIdea, IdeaText: "想法", Iterations: 1})
	require.NoError(t, err)
	waitForStatus(t, m, id, models.TaskStatusCompleted)

	time.Sleep(5 * time.Millisecond)
	m.reap()

	_, err = m.Get(id)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrNotFound))
}
