// Package prompt assembles the role prompts sent to the language model.
// A user-stored custom prompt always wins over the YAML templates, and
// the compiled-in defaults back both.
package prompt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bobmcallan/patentforge/internal/common"
	"github.com/bobmcallan/patentforge/internal/interfaces"
	"github.com/bobmcallan/patentforge/internal/models"
)

// DynamicMarker is the literal a custom prompt uses to splice in the
// draft under work. Every occurrence is replaced before sending.
const DynamicMarker = "</text>"

var placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// compressionRatio is how much of a variable survives each truncation
// pass when the assembled prompt exceeds the input budget.
const compressionRatio = 0.6

// Engine implements interfaces.PromptEngine.
type Engine struct {
	store       *Store
	userPrompts interfaces.UserPromptStore
	registry    interfaces.TemplateRegistry
	maxInput    int
	logger      *common.Logger
}

// NewEngine wires the template store, the user prompt record, and the
// document template registry. registry may be nil when run labeling is
// disabled.
func NewEngine(store *Store, userPrompts interfaces.UserPromptStore, registry interfaces.TemplateRegistry, maxInputLength int, logger *common.Logger) *Engine {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	if maxInputLength <= 0 {
		maxInputLength = 100000
	}
	return &Engine{
		store:       store,
		userPrompts: userPrompts,
		registry:    registry,
		maxInput:    maxInputLength,
		logger:      logger,
	}
}

// Build assembles the prompt for a role. When the result exceeds the
// input budget, context, previous draft, and previous review are
// truncated in that order before giving up with prompt_too_large.
func (e *Engine) Build(role string, vars interfaces.PromptVars) (string, error) {
	if defaultTemplate(role) == nil {
		return "", models.NewError(models.ErrInvalid, fmt.Sprintf("unknown prompt role: %s", role))
	}

	prompt := e.assemble(role, vars)

	stages := []struct {
		name  string
		field *string
	}{
		{"context", &vars.Context},
		{"previous_draft", &vars.PreviousDraft},
		{"previous_review", &vars.PreviousReview},
	}
	for _, stage := range stages {
		if utf8.RuneCountInString(prompt) <= e.maxInput {
			break
		}
		if *stage.field == "" {
			continue
		}
		*stage.field = truncateRunes(*stage.field, compressionRatio)
		prompt = e.assemble(role, vars)
		e.logger.Warn().
			Str("role", role).
			Str("compressed", stage.name).
			Int("prompt_len", utf8.RuneCountInString(prompt)).
			Msg("Prompt over budget, variable truncated")
	}

	if n := utf8.RuneCountInString(prompt); n > e.maxInput {
		return "", models.NewError(models.ErrPromptTooLarge,
			fmt.Sprintf("prompt is %d characters after compression, limit is %d", n, e.maxInput))
	}
	return prompt, nil
}

// Reload rescans the YAML template directory.
func (e *Engine) Reload() error {
	return e.store.Reload()
}

// assemble resolves the selection policy for one role. The modifier is
// a writer-family role: without a modifier-specific custom prompt it is
// governed by the stored writer prompt.
func (e *Engine) assemble(role string, vars interfaces.PromptVars) string {
	if custom := e.customPrompt(role); custom != "" {
		return e.assembleCustom(role, custom, vars)
	}

	tmpl, ok := e.store.ForRole(role)
	if !ok {
		tmpl = defaultTemplate(role)
	}
	return e.render(tmpl, role, vars)
}

// customPrompt returns the stored custom prompt governing a role, empty
// when none applies.
func (e *Engine) customPrompt(role string) string {
	if e.userPrompts == nil {
		return ""
	}
	if custom := strings.TrimSpace(e.userPrompts.Get(role)); custom != "" {
		return custom
	}
	if role == models.RoleModifier {
		return strings.TrimSpace(e.userPrompts.Get(models.RoleWriter))
	}
	return ""
}

// assembleCustom handles a user-stored prompt. With the dynamic marker
// present the prompt is sent verbatim after marker and variable
// substitution; without it the relevant draft is appended as a
// delimited block.
func (e *Engine) assembleCustom(role, custom string, vars interfaces.PromptVars) string {
	draft := relevantDraft(role, vars)

	if strings.Contains(custom, DynamicMarker) {
		out := strings.ReplaceAll(custom, DynamicMarker, draft)
		return substituteVars(out, vars)
	}

	var b strings.Builder
	b.WriteString(custom)
	if draft != "" {
		b.WriteString("\n\n====== 动态上下文 ======\n")
		b.WriteString(draft)
		b.WriteString("\n====== 动态上下文结束 ======")
	}
	return substituteVars(b.String(), vars)
}

// render produces the prompt from a template the way the YAML layout
// dictates: preamble, iteration phase, conditional context sections,
// optional template footer, final instruction.
func (e *Engine) render(tmpl *Template, role string, vars interfaces.PromptVars) string {
	var parts []string

	parts = append(parts, tmpl.Prompt.Role)
	if tmpl.Prompt.Objective != "" {
		parts = append(parts, tmpl.Prompt.Objective)
	} else if tmpl.Prompt.Task != "" {
		parts = append(parts, tmpl.Prompt.Task)
	}

	if len(tmpl.Prompt.Requirements) > 0 {
		parts = append(parts, "整体要求：")
		for _, req := range tmpl.Prompt.Requirements {
			parts = append(parts, "- "+req)
		}
	}
	if len(tmpl.Prompt.ReviewFocus) > 0 {
		parts = append(parts, "审查重点包括但不限于：")
		for _, focus := range tmpl.Prompt.ReviewFocus {
			parts = append(parts, "- "+focus)
		}
	}

	parts = append(parts, fmt.Sprintf("这是第 %d/%d 轮。", vars.Iteration, vars.TotalIterations))
	if vars.Iteration == 1 && tmpl.IterationPhases.First != nil {
		parts = append(parts, tmpl.IterationPhases.First.Instruction)
	} else if vars.Iteration > 1 && tmpl.IterationPhases.Subsequent != nil {
		parts = append(parts, tmpl.IterationPhases.Subsequent.Instruction)
	}
	parts = append(parts, "")

	for _, section := range tmpl.ContextSections {
		if section.Condition != "" && varValue(section.Condition, vars) == "" {
			continue
		}
		match := placeholderPattern.FindStringSubmatch(section.Placeholder)
		if match == nil {
			continue
		}
		value := varValue(match[1], vars)
		if value == "" {
			continue
		}
		parts = append(parts, section.Title, value, "")
	}

	if vars.TemplateID != "" {
		if info := sanitizeGenerated(e.templateInfo(vars.TemplateID)); info != "" {
			parts = append(parts, info, "")
		}
	}

	if tmpl.Prompt.FinalInstruction != "" {
		parts = append(parts, tmpl.Prompt.FinalInstruction)
	} else if tmpl.Prompt.OutputFormat != "" {
		parts = append(parts, tmpl.Prompt.OutputFormat)
	}

	return strings.Join(parts, "\n")
}

// templateInfo labels the run with the document template in use.
func (e *Engine) templateInfo(id string) string {
	if e.registry != nil {
		if desc, ok := e.registry.Get(id); ok {
			return "使用模板: " + desc.Name
		}
	}
	return "使用模板ID: " + id
}

// relevantDraft is the draft text a custom prompt's marker splices in.
// The writer's first round has no draft yet and gets an empty string.
func relevantDraft(role string, vars interfaces.PromptVars) string {
	switch role {
	case models.RoleModifier:
		return vars.PreviousDraft
	case models.RoleReviewer:
		return vars.CurrentDraft
	}
	return ""
}

// varValue resolves one recognized variable name; unknown names resolve
// to empty and their sections are dropped.
func varValue(name string, vars interfaces.PromptVars) string {
	switch name {
	case "context":
		return vars.Context
	case "previous_draft":
		return vars.PreviousDraft
	case "previous_review":
		return vars.PreviousReview
	case "current_draft":
		return vars.CurrentDraft
	case "iteration":
		return strconv.Itoa(vars.Iteration)
	case "total_iterations":
		return strconv.Itoa(vars.TotalIterations)
	case "template_id":
		return vars.TemplateID
	}
	return ""
}

// substituteVars expands {{name}} references against the variable table.
func substituteVars(s string, vars interfaces.PromptVars) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if value := varValue(name, vars); value != "" {
			return value
		}
		return match
	})
}

// sanitizeGenerated drops generated fragments that look like code
// instead of natural language.
func sanitizeGenerated(s string) string {
	lowered := strings.ToLower(s)
	for _, fragment := range []string{"```", "def ", "func ", "class ", "import ", "function "} {
		if strings.Contains(lowered, fragment) {
			return ""
		}
	}
	return s
}

// truncateRunes keeps the leading share of a string at a rune boundary.
func truncateRunes(s string, ratio float64) string {
	runes := []rune(s)
	keep := int(float64(len(runes)) * ratio)
	if keep >= len(runes) {
		keep = len(runes) - 1
	}
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep])
}

var _ interfaces.PromptEngine = (*Engine)(nil)
