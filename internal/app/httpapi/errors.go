package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/relaymesh/grelay/internal/app/manager"
	"github.com/relaymesh/grelay/internal/core/domain"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// writeManagerError maps a Manager sentinel or a *domain.EndpointBuildError
// into the HTTP status and error code the taxonomy names for it, falling
// back to internal_error for anything that slipped through validation.
func writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, manager.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, manager.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, manager.ErrNotRunning):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, manager.ErrAlreadyExists):
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
	case manager.IsInvalidID(err):
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
	default:
		var buildErr *domain.EndpointBuildError
		var cfgErr *domain.ConfigValidationError
		switch {
		case errors.As(err, &buildErr), errors.As(err, &cfgErr):
			writeError(w, http.StatusBadRequest, "invalid_config", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		}
	}
}
