package server

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/bobmcallan/patentforge/internal/models"
)

const reviewPreviewRunes = 2000

// handleGenerate runs a generation synchronously and blocks until the
// final draft is on disk. Long jobs belong on the async endpoint; this
// one exists for scripts and single-round runs.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.GenerateRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := validateGenerateRequest(&req); err != nil {
		WriteClassifiedError(w, err)
		return
	}

	taskID := uuid.New().String()
	cancelled := func() bool { return r.Context().Err() != nil }
	result, err := s.app.Generator.Execute(r.Context(), taskID, req, func(int, string) {}, cancelled)
	if err != nil {
		s.logger.Error().Err(err).Str("task_id", taskID).Msg("Synchronous generation failed")
		WriteClassifiedError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":                true,
		"taskId":            taskID,
		"iterations":        result.Iterations,
		"outputPath":        relativePath(result.OutputPath),
		"lastReviewPreview": previewRunes(result.LastReview, reviewPreviewRunes),
		"templateUsed":      result.TemplateUsed,
	})
}

// handleGenerateAsync enqueues the job and returns its polling handle.
func (s *Server) handleGenerateAsync(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.GenerateRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := validateGenerateRequest(&req); err != nil {
		WriteClassifiedError(w, err)
		return
	}

	taskID, err := s.app.Tasks.Submit(req)
	if err != nil {
		WriteClassifiedError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"taskId":  taskID,
		"message": "任务已创建，请轮询任务状态",
	})
}

// relativePath rewrites an absolute output path relative to the working
// directory when possible, matching what callers see on disk.
func relativePath(path string) string {
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(cwd, path)
	if err != nil || filepath.IsAbs(rel) {
		return path
	}
	return rel
}

// previewRunes truncates s to at most n runes.
func previewRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
