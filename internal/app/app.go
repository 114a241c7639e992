// Package app wires configuration, storage, clients, and services into
// the running application. It is the single composition root used by
// cmd/patentforge-server.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/patentforge/internal/clients/anthropic"
	"github.com/bobmcallan/patentforge/internal/common"
	"github.com/bobmcallan/patentforge/internal/interfaces"
	"github.com/bobmcallan/patentforge/internal/services/analyzer"
	"github.com/bobmcallan/patentforge/internal/services/prompt"
	"github.com/bobmcallan/patentforge/internal/services/taskmanager"
	"github.com/bobmcallan/patentforge/internal/services/template"
	"github.com/bobmcallan/patentforge/internal/services/workflow"
	"github.com/bobmcallan/patentforge/internal/storage"
)

// App holds all initialized services and clients.
type App struct {
	Config        *common.Config
	Logger        *common.Logger
	Conversations interfaces.ConversationStore
	LLM           interfaces.LLMClient
	Prompts       interfaces.PromptEngine
	UserPrompts   interfaces.UserPromptStore
	Templates     interfaces.TemplateRegistry
	Analyzer      interfaces.SourceAnalyzer
	Generator     interfaces.GenerationService
	Tasks         interfaces.TaskManager
	StartupTime   time.Time

	promptStore *prompt.Store
	watchCancel context.CancelFunc
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes storage, the LLM gateway, prompt and template
// stores, and the task manager. configPath may be empty, in which case
// the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	binDir := getBinaryDir()

	// Load configuration - check provided path, PATENTFORGE_CONFIG, then
	// binary dir, then fallback
	if configPath == "" {
		configPath = os.Getenv("PATENTFORGE_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "patentforge.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/patentforge.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative storage paths to the binary directory
	resolvePath(binDir, &config.Storage.OutputDir)
	resolvePath(binDir, &config.Storage.PromptsDir)
	resolvePath(binDir, &config.Storage.TemplatesDir)
	resolvePath(binDir, &config.Storage.ConversationsDB)
	resolvePath(binDir, &config.Storage.UserPromptsPath)
	resolvePath(binDir, &config.Logging.FilePath)

	logger := common.NewLoggerFromConfig(config.Logging)

	conversations, err := storage.NewConversationStore(config.Storage.ConversationsDB, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize conversation store: %w", err)
	}

	llm, err := anthropic.NewClient(config.LLM.APIKey,
		anthropic.WithLogger(logger),
		anthropic.WithModel(config.LLM.Model),
		anthropic.WithMaxTokens(config.LLM.MaxTokens),
		anthropic.WithTimeout(config.LLM.GetTimeout()),
		anthropic.WithRetry(config.LLM.RetryAttempts, config.LLM.GetRetryDelay()),
		anthropic.WithMaxOutputLength(config.LLM.MaxOutputLength),
		anthropic.WithMinCallInterval(config.LLM.GetMinCallInterval()),
	)
	if err != nil {
		conversations.Close()
		return nil, err
	}

	promptStore := prompt.NewStore(config.Storage.PromptsDir, logger)
	if err := promptStore.Reload(); err != nil {
		logger.Warn().Err(err).Str("dir", config.Storage.PromptsDir).Msg("Prompt templates not loaded, falling back to built-in defaults")
	}

	userPrompts, err := prompt.NewFileUserPromptStore(config.Storage.UserPromptsPath, logger)
	if err != nil {
		conversations.Close()
		return nil, fmt.Errorf("failed to initialize user prompt store: %w", err)
	}

	templates := template.NewRegistry(config.Storage.TemplatesDir, logger)
	if err := templates.Reload(); err != nil {
		logger.Warn().Err(err).Str("dir", config.Storage.TemplatesDir).Msg("Document templates not loaded")
	}

	promptEngine := prompt.NewEngine(promptStore, userPrompts, templates, config.LLM.MaxInputLength, logger)
	sourceAnalyzer := analyzer.New(config.Analyzer, logger)

	generator := workflow.NewEngine(llm, promptEngine, conversations, sourceAnalyzer, templates, config.Storage.OutputDir, logger)

	tasks := taskmanager.NewManager(config.Tasks, generator.Execute, logger)

	a := &App{
		Config:        config,
		Logger:        logger,
		Conversations: conversations,
		LLM:           llm,
		Prompts:       promptEngine,
		UserPrompts:   userPrompts,
		Templates:     templates,
		Analyzer:      sourceAnalyzer,
		Generator:     generator,
		Tasks:         tasks,
		StartupTime:   startupStart,
		promptStore:   promptStore,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")

	return a, nil
}

// Start launches the task workers and the prompt template watcher.
func (a *App) Start() {
	a.Tasks.Start()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	a.watchCancel = watchCancel
	go func() {
		if err := a.promptStore.Watch(watchCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("Prompt template watcher stopped")
		}
	}()
}

// Close releases all resources held by the App.
// Shutdown order: stop the watcher, drain workers, close storage.
func (a *App) Close() {
	if a.watchCancel != nil {
		a.watchCancel()
		a.watchCancel = nil
	}
	if a.Tasks != nil {
		a.Tasks.Stop()
	}
	if a.Conversations != nil {
		a.Conversations.Close()
		a.Conversations = nil
	}
}

func resolvePath(binDir string, path *string) {
	if *path != "" && !filepath.IsAbs(*path) {
		*path = filepath.Join(binDir, *path)
	}
}
