// Package errors defines the error taxonomy shared by the entry store, the
// request queue and the sync coordinator. It is a leaf package so that every
// layer (storage backends, providers, engine) can classify failures without
// import cycles.
//
// Import graph: errors <- storage <- cache <- queue <- syncer <- engine
package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode represents the kind of failure that occurred.
type ErrorCode int

const (
	// ErrNotFound indicates the entry or operation does not exist. Callers
	// treat it as "absent", never as a zero-value entry.
	ErrNotFound ErrorCode = iota + 1

	// ErrStorageIO indicates the durable store failed to read or write.
	// Not retried internally; the caller decides.
	ErrStorageIO

	// ErrTransientNetwork indicates a provider call failed in a way that may
	// succeed later (timeouts, 5xx, throttling). The operation is re-queued
	// with backoff.
	ErrTransientNetwork

	// ErrPermanentProvider indicates the provider rejected the request
	// (unknown key, malformed request). The operation is not retried.
	ErrPermanentProvider

	// ErrBudgetExceeded indicates the storage budget could not be met after
	// evicting every candidate. The write still succeeded.
	ErrBudgetExceeded

	// ErrDecryptionUnavailable indicates the device key is missing or does
	// not authenticate the stored ciphertext.
	ErrDecryptionUnavailable

	// ErrInvalidArgument indicates a malformed key, category or request.
	ErrInvalidArgument

	// ErrTimeout indicates a caller deadline elapsed before a direct fetch
	// completed. The underlying operation stays queued.
	ErrTimeout

	// ErrDeadlineExceeded indicates delete_user_data could not finish within
	// its bounded deadline.
	ErrDeadlineExceeded

	// ErrClosed indicates the component has been closed.
	ErrClosed
)

// String returns the taxonomy name used in logs, metrics and API responses.
func (e ErrorCode) String() string {
	switch e {
	case ErrNotFound:
		return "not_found"
	case ErrStorageIO:
		return "storage_io_error"
	case ErrTransientNetwork:
		return "transient_network_error"
	case ErrPermanentProvider:
		return "permanent_provider_error"
	case ErrBudgetExceeded:
		return "budget_exceeded"
	case ErrDecryptionUnavailable:
		return "decryption_unavailable"
	case ErrInvalidArgument:
		return "invalid_argument"
	case ErrTimeout:
		return "timeout"
	case ErrDeadlineExceeded:
		return "deadline_exceeded"
	case ErrClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(e))
	}
}

// SyncError is an error carrying an ErrorCode and, where relevant, the cache
// key it concerns. Err holds the underlying cause.
type SyncError struct {
	Code    ErrorCode
	Message string
	Key     string
	Err     error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Key != "" {
		msg += fmt.Sprintf(" (key: %s)", e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *SyncError with the same code, so
// errors.Is(err, &SyncError{Code: ErrNotFound}) works across wrapping.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	return ok && t.Code == e.Code && t.Message == "" && t.Key == ""
}

// New creates a SyncError with the given code and message.
func New(code ErrorCode, key, message string) *SyncError {
	return &SyncError{Code: code, Message: message, Key: key}
}

// Wrap creates a SyncError with code around cause.
func Wrap(code ErrorCode, key string, cause error, message string) *SyncError {
	return &SyncError{Code: code, Message: message, Key: key, Err: cause}
}

// NewNotFoundError creates a NotFound error for a cache key or operation.
func NewNotFoundError(key, resourceType string) *SyncError {
	return &SyncError{
		Code:    ErrNotFound,
		Message: resourceType + " not found",
		Key:     key,
	}
}

// NewStorageIOError wraps a backend failure.
func NewStorageIOError(key string, cause error) *SyncError {
	return Wrap(ErrStorageIO, key, cause, "storage i/o failed")
}

// NewDecryptionUnavailableError reports a missing or unusable device key.
func NewDecryptionUnavailableError(key string, cause error) *SyncError {
	return Wrap(ErrDecryptionUnavailable, key, cause, "device key unavailable")
}

// NewInvalidArgumentError creates an InvalidArgument error.
func NewInvalidArgumentError(message string) *SyncError {
	return New(ErrInvalidArgument, "", message)
}

// NewClosedError reports use of a closed component.
func NewClosedError(component string) *SyncError {
	return New(ErrClosed, "", component+" is closed")
}

// CodeOf returns the ErrorCode of the first SyncError in err's chain. Context
// cancellation and deadlines map to ErrTimeout; anything else reports 0.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return 0
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return 0
}

// IsAbsent reports whether err means "no entry to return": the key is not
// stored, or it is stored but cannot be decrypted.
func IsAbsent(err error) bool {
	code := CodeOf(err)
	return code == ErrNotFound || code == ErrDecryptionUnavailable
}

// IsNotFoundError returns true if the error is a NotFound error.
func IsNotFoundError(err error) bool {
	return CodeOf(err) == ErrNotFound
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return CodeOf(err) == ErrTransientNetwork
}

// IsPermanent reports whether err is a permanent provider failure.
func IsPermanent(err error) bool {
	return CodeOf(err) == ErrPermanentProvider
}
