// Package handlers provides HTTP handlers for the agrisync local API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marmos91/agrisync/internal/logger"
	agerrors "github.com/marmos91/agrisync/pkg/errors"
)

// Problem represents an RFC 7807 "problem details" response.
// https://tools.ietf.org/html/rfc7807
type Problem struct {
	// Type is a URI reference that identifies the problem type.
	// If not set, defaults to "about:blank".
	Type string `json:"type,omitempty"`

	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`

	// Status is the HTTP status code for this occurrence of the problem.
	Status int `json:"status"`

	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`

	// Code is the engine error taxonomy name, e.g. "not_found".
	Code string `json:"code,omitempty"`

	// Key is the cache key the problem concerns, if any.
	Key string `json:"key,omitempty"`
}

// ContentTypeProblemJSON is the Content-Type for RFC 7807 problem responses.
const ContentTypeProblemJSON = "application/problem+json"

// WriteProblem writes an RFC 7807 problem response.
func WriteProblem(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &Problem{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func writeProblem(w http.ResponseWriter, p *Problem) {
	w.Header().Set("Content-Type", ContentTypeProblemJSON)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// Common problem helper functions for standard HTTP errors.

// BadRequest writes a 400 Bad Request problem response.
func BadRequest(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusBadRequest, "Bad Request", detail)
}

// NotFound writes a 404 Not Found problem response.
func NotFound(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusNotFound, "Not Found", detail)
}

// InternalServerError writes a 500 Internal Server Error problem response.
func InternalServerError(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", detail)
}

// statusFor maps an engine error code to an HTTP status.
func statusFor(code agerrors.ErrorCode) int {
	switch code {
	case agerrors.ErrNotFound:
		return http.StatusNotFound
	case agerrors.ErrInvalidArgument:
		return http.StatusBadRequest
	case agerrors.ErrDecryptionUnavailable:
		return http.StatusLocked
	case agerrors.ErrTimeout:
		return http.StatusGatewayTimeout
	case agerrors.ErrDeadlineExceeded:
		return http.StatusServiceUnavailable
	case agerrors.ErrTransientNetwork, agerrors.ErrPermanentProvider:
		return http.StatusBadGateway
	case agerrors.ErrBudgetExceeded:
		return http.StatusInsufficientStorage
	case agerrors.ErrClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as a problem response carrying the engine error
// code.
func WriteError(w http.ResponseWriter, err error) {
	code := agerrors.CodeOf(err)
	status := statusFor(code)

	p := &Problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: err.Error(),
	}
	if code != 0 {
		p.Code = code.String()
	}
	var se *agerrors.SyncError
	if errors.As(err, &se) {
		p.Key = se.Key
	}
	if status >= http.StatusInternalServerError && code != agerrors.ErrClosed {
		logger.Warn("API request failed", logger.KeyError, err, logger.KeyErrorCode, p.Code)
	}
	writeProblem(w, p)
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data)
}

// WriteJSONOK writes a 200 OK JSON response.
func WriteJSONOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, data)
}

// WriteJSONAccepted writes a 202 Accepted JSON response.
func WriteJSONAccepted(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusAccepted, data)
}
