package server

import (
	"net/http"
	"strings"

	"github.com/bobmcallan/patentforge/internal/common"
)

// registerRoutes binds all REST endpoints onto the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)

	mux.HandleFunc("/api/generate", s.handleGenerate)
	mux.HandleFunc("/api/generate/async", s.handleGenerateAsync)

	mux.HandleFunc("/api/tasks/statistics", s.handleTaskStatistics)
	mux.HandleFunc("/api/tasks/", s.handleTaskRoutes)

	mux.HandleFunc("/api/templates/", s.handleTemplates)

	mux.HandleFunc("/api/user/prompts", s.handleUserPrompts)
	mux.HandleFunc("/api/user/prompts/", s.handleUserPromptRoutes)

	mux.HandleFunc("/api/conversations/tasks", s.handleConversationTasks)
	mux.HandleFunc("/api/conversations/tasks/", s.handleConversationRoutes)
}

// handleHealth responds to liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleVersion reports build metadata.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GitCommit,
	})
}

// handleTaskRoutes dispatches /api/tasks/{id} and /api/tasks/{id}/cancel.
func (s *Server) handleTaskRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	switch {
	case rest == "":
		WriteError(w, http.StatusNotFound, "not_found", "Not found")
	case strings.HasSuffix(rest, "/cancel"):
		s.handleTaskCancel(w, r, PathParam(r, "/api/tasks/", "/cancel"))
	case !strings.Contains(rest, "/"):
		s.handleTaskStatus(w, r, rest)
	default:
		WriteError(w, http.StatusNotFound, "not_found", "Not found")
	}
}

// handleUserPromptRoutes dispatches /api/user/prompts/{role}.
func (s *Server) handleUserPromptRoutes(w http.ResponseWriter, r *http.Request) {
	role := strings.TrimPrefix(r.URL.Path, "/api/user/prompts/")
	if role == "" || strings.Contains(role, "/") {
		WriteError(w, http.StatusNotFound, "not_found", "Not found")
		return
	}
	s.handleUserPromptDelete(w, r, role)
}

// handleConversationRoutes dispatches the conversation read endpoints:
// /api/conversations/tasks/{id}, .../rounds, and .../rounds/{n}.
func (s *Server) handleConversationRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/tasks/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleConversationTask(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "rounds":
		s.handleConversationRounds(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "rounds":
		s.handleConversationRound(w, r, parts[0], parts[2])
	default:
		WriteError(w, http.StatusNotFound, "not_found", "Not found")
	}
}
