package prompt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/bobmcallan/patentforge/internal/common"
	"github.com/bobmcallan/patentforge/internal/models"
)

// Template is one role prompt loaded from a YAML file.
type Template struct {
	Metadata        Metadata        `yaml:"metadata"`
	Prompt          PromptBody      `yaml:"prompt"`
	IterationPhases IterationPhases `yaml:"iteration_phases"`
	ContextSections ContextSections `yaml:"context_sections"`
}

// Metadata identifies a template file.
type Metadata struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
}

// PromptBody is the fixed preamble and closing of a template.
type PromptBody struct {
	Role             string   `yaml:"role"`
	Objective        string   `yaml:"objective"`
	Task             string   `yaml:"task"`
	Requirements     []string `yaml:"requirements"`
	ReviewFocus      []string `yaml:"review_focus"`
	FinalInstruction string   `yaml:"final_instruction"`
	OutputFormat     string   `yaml:"output_format"`
}

// IterationPhases holds the per-phase instruction lines.
type IterationPhases struct {
	First      *PhaseInstruction `yaml:"first_iteration"`
	Subsequent *PhaseInstruction `yaml:"subsequent_iteration"`
}

// PhaseInstruction is the instruction emitted for one iteration phase.
type PhaseInstruction struct {
	Instruction string `yaml:"instruction"`
}

// ContextSection is one conditional block of dynamic context.
type ContextSection struct {
	Key         string
	Title       string `yaml:"title"`
	Placeholder string `yaml:"placeholder"`
	Condition   string `yaml:"condition"`
}

// ContextSections preserves the file's section order, which a plain map
// would lose.
type ContextSections []ContextSection

// UnmarshalYAML decodes the mapping pairwise to keep declaration order.
func (cs *ContextSections) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("context_sections must be a mapping")
	}
	sections := make(ContextSections, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var section ContextSection
		if err := node.Content[i+1].Decode(&section); err != nil {
			return err
		}
		section.Key = node.Content[i].Value
		sections = append(sections, section)
	}
	*cs = sections
	return nil
}

// Validate rejects templates that cannot produce a usable prompt.
func (t *Template) Validate() error {
	if t.Metadata.Name == "" || t.Metadata.Version == "" || t.Metadata.Description == "" {
		return fmt.Errorf("metadata requires name, version, and description")
	}
	if strings.TrimSpace(t.Prompt.Role) == "" {
		return fmt.Errorf("prompt.role must not be empty")
	}
	return nil
}

// Store loads role templates from a directory tree and serves them to
// the engine. Reload builds a fresh map and swaps it in one step, so
// readers never observe a partial load.
type Store struct {
	dir    string
	logger *common.Logger

	mu        sync.RWMutex
	templates map[string]*Template

	watcher *fsnotify.Watcher
}

// NewStore loads all templates under dir. A missing directory is not an
// error; the engine falls back to compiled-in defaults.
func NewStore(dir string, logger *common.Logger) *Store {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	s := &Store{dir: dir, logger: logger, templates: map[string]*Template{}}
	if err := s.Reload(); err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("Initial template load failed")
	}
	return s
}

// Reload rescans the directory and atomically replaces the template map.
// Files that fail to parse or validate are skipped with a warning.
func (s *Store) Reload() error {
	loaded := map[string]*Template{}

	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		s.logger.Warn().Str("dir", s.dir).Msg("Prompt template directory does not exist")
		s.swap(loaded)
		return nil
	}

	err := filepath.Walk(s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			s.logger.Warn().Err(readErr).Str("path", path).Msg("Failed to read template")
			return nil
		}

		var tmpl Template
		if yamlErr := yaml.Unmarshal(raw, &tmpl); yamlErr != nil {
			s.logger.Warn().Err(yamlErr).Str("path", path).Msg("Failed to parse template")
			return nil
		}
		if valErr := tmpl.Validate(); valErr != nil {
			s.logger.Warn().Err(valErr).Str("path", path).Msg("Skipping invalid template")
			return nil
		}

		key := s.keyFor(path)
		loaded[key] = &tmpl
		s.logger.Debug().Str("key", key).Str("name", tmpl.Metadata.Name).Msg("Template loaded")
		return nil
	})
	if err != nil {
		return models.WrapError(models.ErrIO, "failed to scan template directory", err)
	}

	s.swap(loaded)
	s.logger.Info().Int("count", len(loaded)).Str("dir", s.dir).Msg("Prompt templates loaded")
	return nil
}

func (s *Store) swap(templates map[string]*Template) {
	s.mu.Lock()
	s.templates = templates
	s.mu.Unlock()
}

// keyFor maps prompts/writer/base_prompt.yaml to "writer.base_prompt".
func (s *Store) keyFor(path string) string {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return strings.ReplaceAll(rel, string(filepath.Separator), ".")
}

// ForRole returns the template serving a role, trying the conventional
// keys in order.
func (s *Store) ForRole(role string) (*Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range []string{role + ".base_prompt", "patent." + role + ".base_prompt", role} {
		if tmpl, ok := s.templates[key]; ok {
			return tmpl, true
		}
	}
	return nil, false
}

// Count returns the number of loaded templates.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.templates)
}

// Watch reloads the store when template files change on disk. Events are
// debounced so an editor's write burst triggers one reload. Returns
// after starting the background goroutine; the watcher stops when ctx
// is done.
func (s *Store) Watch(ctx context.Context) error {
	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return models.WrapError(models.ErrIO, "failed to create template watcher", err)
	}
	s.watcher = watcher

	err = filepath.Walk(s.dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return models.WrapError(models.ErrIO, "failed to watch template directory", err)
	}

	go s.processEvents(ctx)
	s.logger.Info().Str("dir", s.dir).Msg("Template watcher started")
	return nil
}

func (s *Store) processEvents(ctx context.Context) {
	defer s.watcher.Close()

	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			ext := filepath.Ext(event.Name)
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn().Err(err).Msg("Template watcher error")

		case <-timerC:
			timerC = nil
			timer = nil
			if err := s.Reload(); err != nil {
				s.logger.Warn().Err(err).Msg("Template reload failed")
			}
		}
	}
}
