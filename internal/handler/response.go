// internal/handler/response.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"verification-service/pkg/xerrors"
)

func sendSuccess(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": message,
		"data":    data,
	})
}

func sendError(w http.ResponseWriter, statusCode int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]interface{}{
		"success": false,
		"message": message,
	}
	if err != nil {
		response["error"] = err.Error()
	}

	json.NewEncoder(w).Encode(response)
}

// errorStatus maps pipeline errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, xerrors.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, xerrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, xerrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, xerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, xerrors.ErrAlreadyApproved),
		errors.Is(err, xerrors.ErrNotApprovable),
		errors.Is(err, xerrors.ErrTxAlreadyUsed):
		return http.StatusConflict
	case errors.Is(err, xerrors.ErrNoPassingEvidence):
		return http.StatusUnprocessableEntity
	case errors.Is(err, xerrors.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
