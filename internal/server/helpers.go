package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bobmcallan/patentforge/internal/models"
)

// ErrorResponse is the standard error format for REST API responses.
type ErrorResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	WriteJSON(w, statusCode, ErrorResponse{OK: false, Error: code, Message: message})
}

// WriteClassifiedError maps an error's kind to the HTTP status and
// writes the standard error body. Unclassified errors surface a terse
// internal message; the details belong in logs.
func WriteClassifiedError(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)

	status := http.StatusInternalServerError
	message := err.Error()
	switch kind {
	case models.ErrInvalid:
		status = http.StatusBadRequest
	case models.ErrNotFound:
		status = http.StatusNotFound
	case models.ErrQueueFull:
		status = http.StatusServiceUnavailable
	case models.ErrInternal:
		message = "服务器内部错误，请稍后重试"
	}

	WriteError(w, status, string(kind), message)
}

// RequireMethod validates the HTTP method and returns true if it matches.
// If it doesn't match, it writes a 405 response and returns false.
func RequireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	return false
}

// DecodeJSON reads and decodes JSON from the request body into v.
// Returns false and writes a 400 error if decoding fails.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "请求数据格式错误或为空")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 8<<20) // 8MB limit
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

// PathParam extracts a path parameter from the URL path.
// For a pattern like /api/tasks/{id}/cancel, calling
// PathParam(r, "/api/tasks/", "/cancel") extracts the {id} part.
func PathParam(r *http.Request, prefix, suffix string) string {
	path := r.URL.Path
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := path[len(prefix):]
	if suffix != "" {
		idx := strings.Index(rest, suffix)
		if idx < 0 {
			return rest
		}
		return rest[:idx]
	}
	// No suffix: return up to the next /
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}
