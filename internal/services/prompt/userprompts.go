package prompt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/patentforge/internal/common"
	"github.com/bobmcallan/patentforge/internal/interfaces"
	"github.com/bobmcallan/patentforge/internal/models"
)

// validRoles are the prompt roles a user may override.
var validRoles = map[string]bool{
	models.RoleWriter:   true,
	models.RoleModifier: true,
	models.RoleReviewer: true,
}

// FileUserPromptStore persists the custom prompt record as a single JSON
// file. Every write goes through a temp file and an atomic rename so a
// crash never leaves a half-written record.
type FileUserPromptStore struct {
	path   string
	logger *common.Logger

	mu   sync.RWMutex
	data models.UserPrompts
}

// NewFileUserPromptStore loads (or initializes) the record at path.
func NewFileUserPromptStore(path string, logger *common.Logger) (*FileUserPromptStore, error) {
	if logger == nil {
		logger = common.NewSilentLogger()
	}

	s := &FileUserPromptStore{
		path:   path,
		logger: logger,
		data: models.UserPrompts{
			Prompts:   map[string]string{},
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		},
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, models.WrapError(models.ErrIO, "failed to create user prompt directory", err)
		}
	}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// First run, start empty.
	case err != nil:
		return nil, models.WrapError(models.ErrIO, "failed to read user prompts", err)
	default:
		var loaded models.UserPrompts
		if jsonErr := json.Unmarshal(raw, &loaded); jsonErr != nil || loaded.Prompts == nil {
			logger.Warn().Str("path", path).Msg("User prompt file is malformed, starting empty")
		} else {
			s.data = loaded
		}
	}

	return s, nil
}

// Get returns the stored prompt for a role, empty when unset or the role
// is unknown.
func (s *FileUserPromptStore) Get(role string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Prompts[role]
}

// All returns a copy of the stored prompts.
func (s *FileUserPromptStore) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.data.Prompts))
	for k, v := range s.data.Prompts {
		out[k] = v
	}
	return out
}

// Set stores a prompt for a role. The content is trimmed; storing an
// empty string clears the override.
func (s *FileUserPromptStore) Set(role, prompt string) error {
	if !validRoles[role] {
		return models.NewError(models.ErrInvalid, fmt.Sprintf("unknown prompt role: %s", role))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Prompts[role] = strings.TrimSpace(prompt)
	s.data.UpdatedAt = time.Now().UTC()

	if err := s.save(); err != nil {
		return err
	}
	s.logger.Info().Str("role", role).Int("length", len(prompt)).Msg("User prompt stored")
	return nil
}

// Delete removes the override for a role. Deleting an absent role is a
// no-op.
func (s *FileUserPromptStore) Delete(role string) error {
	if !validRoles[role] {
		return models.NewError(models.ErrInvalid, fmt.Sprintf("unknown prompt role: %s", role))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Prompts[role]; !ok {
		return nil
	}
	delete(s.data.Prompts, role)
	s.data.UpdatedAt = time.Now().UTC()

	if err := s.save(); err != nil {
		return err
	}
	s.logger.Info().Str("role", role).Msg("User prompt deleted")
	return nil
}

// Stats summarizes the stored record.
func (s *FileUserPromptStore) Stats() models.UserPromptStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	writer := s.data.Prompts[models.RoleWriter]
	modifier := s.data.Prompts[models.RoleModifier]
	reviewer := s.data.Prompts[models.RoleReviewer]

	return models.UserPromptStats{
		HasWriterPrompt:      strings.TrimSpace(writer) != "",
		HasModifierPrompt:    strings.TrimSpace(modifier) != "",
		HasReviewerPrompt:    strings.TrimSpace(reviewer) != "",
		WriterPromptLength:   len(writer),
		ModifierPromptLength: len(modifier),
		ReviewerPromptLength: len(reviewer),
		LastUpdated:          s.data.UpdatedAt,
		CreatedAt:            s.data.CreatedAt,
	}
}

// save writes the record atomically. Caller holds the write lock.
func (s *FileUserPromptStore) save() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return models.WrapError(models.ErrIO, "failed to encode user prompts", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return models.WrapError(models.ErrIO, "failed to write user prompts", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return models.WrapError(models.ErrIO, "failed to replace user prompts", err)
	}
	return nil
}

var _ interfaces.UserPromptStore = (*FileUserPromptStore)(nil)
