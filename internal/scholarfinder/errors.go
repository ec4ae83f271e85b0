package scholarfinder

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a failed remote operation. The kind decides whether
// the client retries transparently and what the caller can do about it.
type ErrorKind string

const (
	// KindFileFormat is a bad manuscript file (extension/size), caught before
	// any network call is made
	KindFileFormat ErrorKind = "FILE_FORMAT"

	// KindNetwork is a transport-level failure with no HTTP response
	KindNetwork ErrorKind = "NETWORK"

	// KindTimeout is a single call exceeding its per-request deadline
	KindTimeout ErrorKind = "TIMEOUT"

	// KindExternalAPI is a 5xx from the remote service
	KindExternalAPI ErrorKind = "EXTERNAL_API"

	// KindAuthentication is a 401/403
	KindAuthentication ErrorKind = "AUTHENTICATION"

	// KindRateLimited is a 429; a Retry-After header overrides backoff
	KindRateLimited ErrorKind = "RATE_LIMITED"

	// KindMetadataError is a domain 4xx from upload/metadata operations
	KindMetadataError ErrorKind = "METADATA_ERROR"

	// KindKeywordError is a domain 4xx from keyword operations
	KindKeywordError ErrorKind = "KEYWORD_ERROR"

	// KindSearchError is a domain 4xx from database/author search operations
	KindSearchError ErrorKind = "SEARCH_ERROR"

	// KindValidationError is a domain 4xx from validation/recommendation operations
	KindValidationError ErrorKind = "VALIDATION_ERROR"

	// KindMissingJobID is a client-side precondition failure: the operation
	// needs a job id and none has been issued for the instance
	KindMissingJobID ErrorKind = "MISSING_JOB_ID"
)

// APIError is the single terminal error surfaced by the client. Retry
// bookkeeping never leaks: callers only ever see the final classified error.
type APIError struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
	Status    int // originating HTTP status, 0 if the request never completed

	// retryAfter carries a server-supplied Retry-After delay; it overrides
	// the computed backoff and never escapes the retry loop
	retryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is allows errors.Is comparisons against a bare-kind APIError
func (e *APIError) Is(target error) bool {
	var apiErr *APIError
	if !errors.As(target, &apiErr) {
		return false
	}
	return e.Kind == apiErr.Kind
}

// NewAPIError builds a classified error with no HTTP status attached
func NewAPIError(kind ErrorKind, message string, retryable bool) *APIError {
	return &APIError{Kind: kind, Message: message, Retryable: retryable}
}

// IsRetryable reports whether err is a classified error the client would
// re-attempt with backoff
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return false
}

// KindOf extracts the error kind from err, or "" if err is not an APIError
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// ErrMissingJobID is returned when an operation requires a job id and the
// workflow instance has never completed an upload
var ErrMissingJobID = &APIError{
	Kind:      KindMissingJobID,
	Message:   "no job id recorded for this workflow instance; upload a manuscript first",
	Retryable: false,
}
