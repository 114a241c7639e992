// Package common provides shared utilities for PatentForge
package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for PatentForge
type Config struct {
	Environment string         `toml:"environment"`
	Server      ServerConfig   `toml:"server"`
	LLM         LLMConfig      `toml:"llm"`
	Tasks       TasksConfig    `toml:"tasks"`
	Analyzer    AnalyzerConfig `toml:"analyzer"`
	Storage     StorageConfig  `toml:"storage"`
	Logging     LoggingConfig  `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// LLMConfig holds the Anthropic client configuration
type LLMConfig struct {
	APIKey          string `toml:"api_key"`
	Model           string `toml:"model"`
	MaxTokens       int    `toml:"max_tokens"`
	Timeout         string `toml:"timeout"`
	RetryAttempts   int    `toml:"retry_attempts"`
	RetryDelay      string `toml:"retry_delay"`
	MaxInputLength  int    `toml:"max_input_length"`
	MaxOutputLength int    `toml:"max_output_length"`
	MinCallInterval string `toml:"min_call_interval"`
}

// GetTimeout parses and returns the per-call timeout duration
func (c *LLMConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// GetRetryDelay parses and returns the base retry delay
func (c *LLMConfig) GetRetryDelay() time.Duration {
	d, err := time.ParseDuration(c.RetryDelay)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetMinCallInterval parses and returns the pacing interval between remote calls
func (c *LLMConfig) GetMinCallInterval() time.Duration {
	d, err := time.ParseDuration(c.MinCallInterval)
	if err != nil {
		return 0
	}
	return d
}

// TasksConfig holds task manager configuration
type TasksConfig struct {
	MaxWorkers      int    `toml:"max_workers"`
	MaxQueued       int    `toml:"max_queued"`
	TaskTimeout     string `toml:"task_timeout"`
	Retention       string `toml:"retention"`
	CleanupInterval string `toml:"cleanup_interval"`
}

// GetMaxWorkers returns the worker slot count with a floor of 1
func (c *TasksConfig) GetMaxWorkers() int {
	if c.MaxWorkers <= 0 {
		return 3
	}
	return c.MaxWorkers
}

// GetMaxQueued returns the submission queue bound
func (c *TasksConfig) GetMaxQueued() int {
	if c.MaxQueued <= 0 {
		return 100
	}
	return c.MaxQueued
}

// GetTaskTimeout parses and returns the per-job wall clock deadline
func (c *TasksConfig) GetTaskTimeout() time.Duration {
	d, err := time.ParseDuration(c.TaskTimeout)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// GetRetention parses and returns how long terminal jobs are kept for polling
func (c *TasksConfig) GetRetention() time.Duration {
	d, err := time.ParseDuration(c.Retention)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// GetCleanupInterval parses and returns the reaper interval
func (c *TasksConfig) GetCleanupInterval() time.Duration {
	d, err := time.ParseDuration(c.CleanupInterval)
	if err != nil {
		return time.Hour
	}
	return d
}

// AnalyzerConfig holds source tree summarizer limits
type AnalyzerConfig struct {
	MaxFiles    int   `toml:"max_files"`
	MaxBytes    int64 `toml:"max_bytes"`
	HeadLines   int   `toml:"head_lines"`
	MaxFileSize int64 `toml:"max_file_size"`
}

// StorageConfig holds paths for outputs, prompts, templates, and the conversation DB
type StorageConfig struct {
	OutputDir       string `toml:"output_dir"`
	PromptsDir      string `toml:"prompts_dir"`
	TemplatesDir    string `toml:"templates_dir"`
	ConversationsDB string `toml:"conversations_db"`
	UserPromptsPath string `toml:"user_prompts_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string `toml:"level"`
	Format   string `toml:"format"`
	FilePath string `toml:"file_path"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8081,
		},
		LLM: LLMConfig{
			Model:           "claude-3-5-sonnet-20241022",
			MaxTokens:       8192,
			Timeout:         "5m",
			RetryAttempts:   3,
			RetryDelay:      "5s",
			MaxInputLength:  100000,
			MaxOutputLength: 2000000,
			MinCallInterval: "0s",
		},
		Tasks: TasksConfig{
			MaxWorkers:      3,
			MaxQueued:       100,
			TaskTimeout:     "30m",
			Retention:       "24h",
			CleanupInterval: "1h",
		},
		Analyzer: AnalyzerConfig{
			MaxFiles:    200,
			MaxBytes:    4 * 1024 * 1024,
			HeadLines:   80,
			MaxFileSize: 1024 * 1024,
		},
		Storage: StorageConfig{
			OutputDir:       "output",
			PromptsDir:      "prompts",
			TemplatesDir:    "templates",
			ConversationsDB: "data/conversations.db",
			UserPromptsPath: "data/user_prompts.json",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if host := os.Getenv("HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		config.LLM.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_MODEL"); v != "" {
		config.LLM.Model = v
	}
	if v := os.Getenv("ANTHROPIC_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.LLM.MaxTokens = n
		}
	}
	if v := os.Getenv("LLM_TIMEOUT"); v != "" {
		config.LLM.Timeout = normalizeDuration(v)
	}
	if v := os.Getenv("RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.LLM.RetryAttempts = n
		}
	}
	if v := os.Getenv("RETRY_DELAY"); v != "" {
		config.LLM.RetryDelay = normalizeDuration(v)
	}
	if v := os.Getenv("MAX_INPUT_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.LLM.MaxInputLength = n
		}
	}
	if v := os.Getenv("MAX_OUTPUT_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.LLM.MaxOutputLength = n
		}
	}

	if v := os.Getenv("MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Tasks.MaxWorkers = n
		}
	}
	if v := os.Getenv("TASK_TIMEOUT"); v != "" {
		config.Tasks.TaskTimeout = normalizeDuration(v)
	}

	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		config.Storage.OutputDir = v
	}
	if v := os.Getenv("PROMPTS_DIR"); v != "" {
		config.Storage.PromptsDir = v
	}
	if v := os.Getenv("TEMPLATES_DIR"); v != "" {
		config.Storage.TemplatesDir = v
	}
	if v := os.Getenv("CONVERSATIONS_DB_PATH"); v != "" {
		config.Storage.ConversationsDB = v
	}
	if v := os.Getenv("USER_PROMPTS_PATH"); v != "" {
		config.Storage.UserPromptsPath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// normalizeDuration accepts bare integers (interpreted as seconds) as
// well as Go duration strings.
func normalizeDuration(v string) string {
	if _, err := strconv.Atoi(v); err == nil {
		return v + "s"
	}
	return v
}

// Validate checks configuration bounds that would make the server unusable.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Tasks.MaxWorkers < 0 {
		return fmt.Errorf("max_workers must not be negative")
	}
	if c.LLM.MaxInputLength <= 0 {
		return fmt.Errorf("max_input_length must be positive")
	}
	if c.LLM.MaxOutputLength <= 0 {
		return fmt.Errorf("max_output_length must be positive")
	}
	if c.Storage.OutputDir == "" {
		return fmt.Errorf("output_dir must not be empty")
	}
	return nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}
