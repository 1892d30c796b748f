package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"storagetier/internal/errs"
	"storagetier/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	resp := models.ErrorResponse{
		Error: models.APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps an error kind onto an HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
		return
	}
	status := http.StatusInternalServerError
	switch e.Kind {
	case errs.KindInvalid:
		status = http.StatusBadRequest
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindConflict:
		status = http.StatusConflict
	case errs.KindConfiguration:
		status = http.StatusServiceUnavailable
	case errs.KindBackendUnavailable:
		status = http.StatusBadGateway
		w.Header().Set("Retry-After", "5")
	}
	writeError(w, status, string(e.Kind), err.Error(), nil)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errs.Invalid("api", "%s must be a non-negative integer", key)
	}
	return v, nil
}
