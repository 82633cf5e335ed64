package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError represents a problem response from the API.
type APIError struct {
	StatusCode int    `json:"status"`
	Title      string `json:"title"`
	Detail     string `json:"detail,omitempty"`

	// Code is the engine error code, e.g. "not_found" or "timeout".
	Code string `json:"code,omitempty"`
	Key  string `json:"key,omitempty"`

	body []byte
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Title)
}

// IsNotFound returns true if this is a not found error.
func (e *APIError) IsNotFound() bool {
	return e.Code == "not_found" || (e.Code == "" && e.StatusCode == http.StatusNotFound)
}

// IsTimeout returns true if a direct fetch did not finish in time. The
// fetch stays queued on the server.
func (e *APIError) IsTimeout() bool {
	return e.Code == "timeout"
}

// IsValidationError returns true if the request was rejected as invalid.
func (e *APIError) IsValidationError() bool {
	return e.Code == "invalid_argument" || e.StatusCode == http.StatusBadRequest
}

func parseError(status int, body []byte) error {
	var apiErr APIError
	if json.Unmarshal(body, &apiErr) == nil && (apiErr.Title != "" || apiErr.Detail != "") {
		apiErr.StatusCode = status
		return &apiErr
	}
	return &APIError{
		StatusCode: status,
		Title:      http.StatusText(status),
		Detail:     fmt.Sprintf("unexpected response: %s", truncate(body, 200)),
		body:       body,
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
