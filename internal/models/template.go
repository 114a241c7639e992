package models

import "time"

// TemplateDescriptor labels a stored document template. Content insertion
// into the binary document is delegated to the external renderer; the
// descriptor exists so runs can be tagged with the template they used.
type TemplateDescriptor struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	IsDefault        bool      `json:"is_default"`
	IsValid          bool      `json:"is_valid"`
	PlaceholderCount int       `json:"placeholder_count"`
	SectionCount     int       `json:"section_count"`
	FileSize         int64     `json:"file_size"`
	CreatedAt        time.Time `json:"created_at"`
}

// UserPrompts is the process-wide custom prompt record, persisted as a
// single JSON file replaced by atomic rename.
type UserPrompts struct {
	Prompts   map[string]string `json:"prompts"`
	UpdatedAt time.Time         `json:"updated_at"`
	CreatedAt time.Time         `json:"created_at"`
}

// UserPromptStats summarizes the stored custom prompts for the API.
type UserPromptStats struct {
	HasWriterPrompt      bool      `json:"has_writer_prompt"`
	HasModifierPrompt    bool      `json:"has_modifier_prompt"`
	HasReviewerPrompt    bool      `json:"has_reviewer_prompt"`
	WriterPromptLength   int       `json:"writer_prompt_length"`
	ModifierPromptLength int       `json:"modifier_prompt_length"`
	ReviewerPromptLength int       `json:"reviewer_prompt_length"`
	LastUpdated          time.Time `json:"last_updated"`
	CreatedAt            time.Time `json:"created_at"`
}
