package server

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/bobmcallan/patentforge/internal/models"
)

var templateIDPattern = regexp.MustCompile(`^[\w.-]+$`)

// validateGenerateRequest normalizes and checks one generation request.
// Iterations of zero defaults to one; anything outside the allowed band
// is rejected rather than clamped.
func validateGenerateRequest(req *models.GenerateRequest) error {
	req.Mode = strings.TrimSpace(req.Mode)
	switch req.Mode {
	case models.ModeCode:
		req.ProjectPath = strings.TrimSpace(req.ProjectPath)
		if req.ProjectPath == "" {
			return models.NewError(models.ErrInvalid, "projectPath is required in code mode")
		}
		info, err := os.Stat(req.ProjectPath)
		if err != nil || !info.IsDir() {
			return models.NewError(models.ErrInvalid, fmt.Sprintf("projectPath is not a readable directory: %s", req.ProjectPath))
		}
	case models.ModeIdea:
		if strings.TrimSpace(req.IdeaText) == "" {
			return models.NewError(models.ErrInvalid, "ideaText is required in idea mode")
		}
	default:
		return models.NewError(models.ErrInvalid, "mode must be \"code\" or \"idea\"")
	}

	if req.Iterations == 0 {
		req.Iterations = models.MinIterations
	}
	if req.Iterations < models.MinIterations || req.Iterations > models.MaxIterations {
		return models.NewError(models.ErrInvalid, fmt.Sprintf("iterations must be between %d and %d", models.MinIterations, models.MaxIterations))
	}

	req.OutputName = strings.TrimSpace(req.OutputName)
	if req.OutputName != "" {
		if strings.ContainsAny(req.OutputName, `/\`) || strings.Contains(req.OutputName, "..") {
			return models.NewError(models.ErrInvalid, "outputName must be a bare file name")
		}
	}

	req.TemplateID = strings.TrimSpace(req.TemplateID)
	if req.TemplateID != "" && !templateIDPattern.MatchString(req.TemplateID) {
		return models.NewError(models.ErrInvalid, "templateId contains invalid characters")
	}

	return nil
}
