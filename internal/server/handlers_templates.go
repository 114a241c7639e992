package server

import (
	"net/http"
)

// handleTemplates lists the registered document templates.
func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if r.URL.Path != "/api/templates/" && r.URL.Path != "/api/templates" {
		WriteError(w, http.StatusNotFound, "not_found", "Not found")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":                  true,
		"templates":           s.app.Templates.List(),
		"default_template_id": s.app.Templates.DefaultID(),
	})
}
