package server

import (
	"net/http"
	"strconv"
)

// handleConversationTasks lists recorded runs, newest first.
func (s *Server) handleConversationTasks(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	tasks, err := s.app.Conversations.Tasks(r.Context())
	if err != nil {
		WriteClassifiedError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": tasks})
}

// handleConversationTask returns or deletes one recorded run.
func (s *Server) handleConversationTask(w http.ResponseWriter, r *http.Request, taskID string) {
	switch r.Method {
	case http.MethodGet:
		task, err := s.app.Conversations.Task(r.Context(), taskID)
		if err != nil {
			WriteClassifiedError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": task})
	case http.MethodDelete:
		if err := s.app.Conversations.DeleteTask(r.Context(), taskID); err != nil {
			WriteClassifiedError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	default:
		RequireMethod(w, r, http.MethodGet, http.MethodDelete)
	}
}

// handleConversationRounds returns the round indices of a run.
func (s *Server) handleConversationRounds(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	if _, err := s.app.Conversations.Task(r.Context(), taskID); err != nil {
		WriteClassifiedError(w, err)
		return
	}
	rounds, err := s.app.Conversations.Rounds(r.Context(), taskID)
	if err != nil {
		WriteClassifiedError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": rounds})
}

// handleConversationRound returns one round's records grouped by role.
func (s *Server) handleConversationRound(w http.ResponseWriter, r *http.Request, taskID, roundStr string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	round, err := strconv.Atoi(roundStr)
	if err != nil || round < 1 {
		WriteError(w, http.StatusBadRequest, "invalid", "round must be a positive integer")
		return
	}

	detail, err := s.app.Conversations.Round(r.Context(), taskID, round)
	if err != nil {
		WriteClassifiedError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": detail})
}
