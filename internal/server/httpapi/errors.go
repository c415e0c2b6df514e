package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cipherdrop/cipherdrop/internal/common"
)

// errorBody is the wire shape of every API error: a stable machine
// readable code plus a human message. Store internals are never forwarded.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusForError maps the error taxonomy onto HTTP. Unknown errors are
// redacted to a generic 500.
func statusForError(err error) (int, string, string) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound, "NotFound", "file not found"
	case errors.Is(err, common.ErrFileExpired):
		return http.StatusGone, "Expired", "file has expired"
	case errors.Is(err, common.ErrDownloadLimitReached):
		return http.StatusForbidden, "Forbidden", "download limit exceeded"
	case errors.Is(err, common.ErrPasswordRequired):
		return http.StatusUnauthorized, "Unauthorized", "password required"
	case errors.Is(err, common.ErrInvalidPassword):
		return http.StatusUnauthorized, "Unauthorized", "invalid password"
	case errors.Is(err, common.ErrInvalidToken):
		return http.StatusUnauthorized, "Unauthorized", "invalid or missing admin token"
	case errors.Is(err, common.ErrInvalidEnvelope):
		return http.StatusBadRequest, "InvalidEnvelope", "encryption envelope is structurally incomplete"
	case errors.Is(err, common.ErrSizeMismatch):
		return http.StatusBadRequest, "SizeMismatch", "declared size does not match payload length"
	case errors.Is(err, common.ErrStorageFailure):
		return http.StatusInternalServerError, "StorageFailure", "storage backend unavailable"
	default:
		return http.StatusInternalServerError, "Internal", "internal server error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code, msg := statusForError(err)
	if s.metrics != nil {
		s.metrics.APIErrors.WithLabelValues(code).Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: code, Message: msg}})
}

// jsonError emits an error that is not part of the taxonomy (bad JSON,
// wrong method, oversized body).
func (s *Server) jsonError(w http.ResponseWriter, code, msg string, status int) {
	if s.metrics != nil {
		s.metrics.APIErrors.WithLabelValues(code).Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: code, Message: msg}})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
