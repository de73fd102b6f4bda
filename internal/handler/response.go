// internal/handler/response.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	appErrors "github.com/magictalent/ai-agent-backend/internal/errors"
	"github.com/magictalent/ai-agent-backend/internal/logging"
)

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log := logging.Component("http")
		log.Warn().Err(err).Msg("encode response")
	}
}

// WriteError maps err onto a status code and a {"error": "..."} body.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusFor(err), map[string]string{"error": err.Error()})
}

// BadRequest writes a 400 with msg.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func StatusFor(err error) int {
	switch {
	case appErrors.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, appErrors.ErrInvalidChannel), errors.Is(err, appErrors.ErrMissingLead):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
