package server

import (
	"net/http"
)

// handleTaskStatus returns the polling snapshot of one task.
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	task, err := s.app.Tasks.Get(taskID)
	if err != nil {
		WriteClassifiedError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, task)
}

// handleTaskCancel sets the cooperative cancel flag on a task.
func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	late, err := s.app.Tasks.Cancel(taskID)
	if err != nil {
		WriteClassifiedError(w, err)
		return
	}

	resp := map[string]interface{}{"ok": true}
	if late {
		resp["message"] = "任务已结束，取消无效"
	}
	WriteJSON(w, http.StatusOK, resp)
}

// handleTaskStatistics reports the manager's aggregate load.
func (s *Server) handleTaskStatistics(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":         true,
		"statistics": s.app.Tasks.Statistics(),
	})
}
