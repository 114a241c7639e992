// Package workflow drives the multi-round writer/reviewer iteration
// that turns a technical context into a patent draft.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bobmcallan/patentforge/internal/clients/anthropic"
	"github.com/bobmcallan/patentforge/internal/common"
	"github.com/bobmcallan/patentforge/internal/interfaces"
	"github.com/bobmcallan/patentforge/internal/models"
)

// Engine runs the iteration loop for one task at a time. It is
// stateless across runs; every worker may share one instance.
type Engine struct {
	llm      interfaces.LLMClient
	prompts  interfaces.PromptEngine
	store    interfaces.ConversationStore
	analyzer interfaces.SourceAnalyzer
	registry interfaces.TemplateRegistry

	outputDir string
	logger    *common.Logger
}

// NewEngine wires the iteration engine. registry may be nil when no
// document templates are configured.
func NewEngine(
	llm interfaces.LLMClient,
	prompts interfaces.PromptEngine,
	store interfaces.ConversationStore,
	analyzer interfaces.SourceAnalyzer,
	registry interfaces.TemplateRegistry,
	outputDir string,
	logger *common.Logger,
) *Engine {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Engine{
		llm:       llm,
		prompts:   prompts,
		store:     store,
		analyzer:  analyzer,
		registry:  registry,
		outputDir: outputDir,
		logger:    logger,
	}
}

// BuildContext produces the technical context for a validated request:
// the summarizer's digest for code mode, the wrapped idea text for idea
// mode.
func (e *Engine) BuildContext(ctx context.Context, req models.GenerateRequest) (string, error) {
	if req.Mode == models.ModeCode {
		return e.analyzer.Summarize(ctx, req.ProjectPath)
	}
	return strings.Join([]string{
		"# Idea Based Context",
		"",
		"User provided idea / requirement:",
		"",
		req.IdeaText,
		"",
		"Goal: Extract key technical innovations and write a full Chinese invention patent based on this idea.",
	}, "\n"), nil
}

// Execute runs a request end to end: context construction, conversation
// task registration, the iteration loop, and the terminal status stamp.
func (e *Engine) Execute(ctx context.Context, taskID string, req models.GenerateRequest, progress func(int, string), cancelled func() bool) (*models.GenerateResult, error) {
	runCtx, err := e.BuildContext(ctx, req)
	if err != nil {
		return nil, err
	}

	if createErr := e.store.CreateTask(ctx, models.ConversationTask{
		ID:         taskID,
		Title:      taskTitle(req),
		Mode:       req.Mode,
		Iterations: req.Iterations,
		Status:     string(models.TaskStatusRunning),
		CreatedAt:  time.Now().UTC(),
	}); createErr != nil {
		return nil, createErr
	}

	result, runErr := e.Run(ctx, interfaces.RunOptions{
		TaskID:     taskID,
		Context:    runCtx,
		Iterations: req.Iterations,
		OutputName: req.OutputName,
		TemplateID: req.TemplateID,
		Progress:   progress,
		Cancelled:  cancelled,
	})

	status := models.TaskStatusCompleted
	switch {
	case models.IsKind(runErr, models.ErrCancelled):
		status = models.TaskStatusCancelled
	case runErr != nil:
		status = models.TaskStatusFailed
	}
	// The run context may already be expired or cancelled; the terminal
	// stamp still has to land.
	stampCtx, stampCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stampCancel()
	if statusErr := e.store.UpdateTaskStatus(stampCtx, taskID, string(status)); statusErr != nil {
		e.logger.Warn().Err(statusErr).Str("task_id", taskID).Msg("Failed to stamp conversation status")
	}

	return result, runErr
}

// Run executes the iteration loop. Round 1 is written by the writer
// role, rounds 2..N by the modifier; the reviewer closes every round.
// Cancellation is checked before each round, after each model call, and
// before each store write.
func (e *Engine) Run(ctx context.Context, opts interfaces.RunOptions) (*models.GenerateResult, error) {
	total := opts.Iterations
	if total < models.MinIterations {
		total = models.MinIterations
	}

	progress := opts.Progress
	if progress == nil {
		progress = func(int, string) {}
	}
	cancelled := opts.Cancelled
	if cancelled == nil {
		cancelled = func() bool { return false }
	}
	checkCancel := func() error {
		if err := ctx.Err(); err != nil {
			// The per-task deadline is a failure, not a cancellation.
			if errors.Is(err, context.DeadlineExceeded) {
				return models.WrapError(models.ErrLLMTimeout, "任务超时", err)
			}
			return models.ErrTaskCancelled
		}
		if cancelled() {
			return models.ErrTaskCancelled
		}
		return nil
	}

	roundShare := 100 / total

	var draft, review string
	progress(0, fmt.Sprintf("开始专利生成流程，共 %d 轮迭代", total))

	for i := 1; i <= total; i++ {
		if err := checkCancel(); err != nil {
			return nil, err
		}
		base := roundShare * (i - 1)

		role := models.RoleModifier
		if i == 1 {
			role = models.RoleWriter
		}

		vars := interfaces.PromptVars{
			Context:         opts.Context,
			PreviousDraft:   draft,
			PreviousReview:  review,
			Iteration:       i,
			TotalIterations: total,
			TemplateID:      opts.TemplateID,
		}

		progress(base, fmt.Sprintf("第 %d/%d 轮：准备撰写阶段", i, total))
		newDraft, prompt, err := e.phase(ctx, role, i, vars)
		if err != nil {
			return nil, err
		}
		if err := checkCancel(); err != nil {
			// Model response discarded, round never recorded.
			return nil, err
		}
		if err := e.store.LogRound(ctx, opts.TaskID, i, role, prompt, newDraft); err != nil {
			return nil, err
		}
		draft = newDraft
		progress(base+roundShare/2, fmt.Sprintf("第 %d/%d 轮：专利撰写完成", i, total))

		if err := checkCancel(); err != nil {
			return nil, err
		}
		vars.CurrentDraft = draft
		newReview, reviewPrompt, err := e.phase(ctx, models.RoleReviewer, i, vars)
		if err != nil {
			return nil, err
		}
		if err := checkCancel(); err != nil {
			return nil, err
		}
		if err := e.store.LogRound(ctx, opts.TaskID, i, models.RoleReviewer, reviewPrompt, newReview); err != nil {
			return nil, err
		}
		review = newReview
		progress(roundShare*i, fmt.Sprintf("第 %d/%d 轮：评审完成", i, total))
	}

	outputPath, err := e.writeOutput(opts.OutputName, draft, total)
	if err != nil {
		return nil, err
	}
	progress(100, fmt.Sprintf("专利生成完成，文件已保存到: %s", outputPath))

	result := &models.GenerateResult{
		OutputPath: outputPath,
		Iterations: total,
		LastReview: review,
		TaskID:     opts.TaskID,
	}
	if opts.TemplateID != "" {
		result.TemplateUsed = opts.TemplateID
		if e.registry != nil {
			if desc, ok := e.registry.Get(opts.TemplateID); ok {
				result.TemplateUsed = desc.Name
			}
		}
	}
	return result, nil
}

// phase assembles the prompt for one role and calls the model.
func (e *Engine) phase(ctx context.Context, role string, round int, vars interfaces.PromptVars) (response, prompt string, err error) {
	prompt, err = e.prompts.Build(role, vars)
	if err != nil {
		return "", "", err
	}

	callCtx := anthropic.WithCallInfo(ctx, role, round)
	response, err = e.llm.Generate(callCtx, prompt)
	if err != nil {
		return "", "", err
	}
	return response, prompt, nil
}

// writeOutput saves the final draft with a metadata header.
func (e *Engine) writeOutput(baseName, draft string, iterations int) (string, error) {
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return "", models.WrapError(models.ErrIO, "failed to create output directory", err)
	}

	name := strings.TrimSpace(baseName)
	if name == "" {
		ts := strings.NewReplacer(":", "-", ".", "-").Replace(time.Now().UTC().Format("2006-01-02T15:04:05.000000"))
		name = "patent-" + ts
	}
	path := filepath.Join(e.outputDir, name+".md")

	header := strings.Join([]string{
		"<!--",
		"  Generated by multi-round patent generator",
		fmt.Sprintf("  Iterations: %d", iterations),
		fmt.Sprintf("  Generated at: %s", time.Now().UTC().Format(time.RFC3339)),
		"-->",
		"",
	}, "\n")

	if err := os.WriteFile(path, []byte(header+draft), 0o644); err != nil {
		return "", models.WrapError(models.ErrIO, "failed to write output file", err)
	}
	return path, nil
}

// taskTitle labels the conversation record for listing.
func taskTitle(req models.GenerateRequest) string {
	if name := strings.TrimSpace(req.OutputName); name != "" {
		return name
	}
	if req.Mode == models.ModeCode {
		return "代码模式: " + filepath.Base(req.ProjectPath)
	}
	line := strings.TrimSpace(strings.SplitN(req.IdeaText, "\n", 2)[0])
	runes := []rune(line)
	if len(runes) > 50 {
		return string(runes[:50])
	}
	if line == "" {
		return "未命名任务"
	}
	return line
}

var _ interfaces.WorkflowRunner = (*Engine)(nil)
