package server

import (
	"net/http"
	"strings"

	"github.com/bobmcallan/patentforge/internal/models"
)

// userPromptPayload carries one custom prompt per role. An empty string
// clears the stored prompt for that role.
type userPromptPayload struct {
	Writer   *string `json:"writer,omitempty"`
	Modifier *string `json:"modifier,omitempty"`
	Reviewer *string `json:"reviewer,omitempty"`
}

// handleUserPrompts serves the stored custom prompts.
func (s *Server) handleUserPrompts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleUserPromptsGet(w, r)
	case http.MethodPost:
		s.handleUserPromptsSet(w, r)
	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleUserPromptsGet(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"prompts": s.app.UserPrompts.All(),
			"stats":   s.app.UserPrompts.Stats(),
		},
	})
}

func (s *Server) handleUserPromptsSet(w http.ResponseWriter, r *http.Request) {
	var payload userPromptPayload
	if !DecodeJSON(w, r, &payload) {
		return
	}

	for role, value := range map[string]*string{
		models.RoleWriter:   payload.Writer,
		models.RoleModifier: payload.Modifier,
		models.RoleReviewer: payload.Reviewer,
	} {
		if value == nil {
			continue
		}
		var err error
		if strings.TrimSpace(*value) == "" {
			err = s.app.UserPrompts.Delete(role)
		} else {
			err = s.app.UserPrompts.Set(role, *value)
		}
		if err != nil {
			WriteClassifiedError(w, err)
			return
		}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// handleUserPromptDelete clears one role's custom prompt.
func (s *Server) handleUserPromptDelete(w http.ResponseWriter, r *http.Request, role string) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	if err := s.app.UserPrompts.Delete(role); err != nil {
		WriteClassifiedError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
