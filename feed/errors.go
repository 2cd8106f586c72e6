package feed

import (
	"errors"
	"fmt"
)

// ErrorType represents the classification of a page-fetch outcome
type ErrorType string

const (
	// ErrorTypeTransient covers network failures, timeouts, and non-2xx
	// statuses worth retrying. Retried with a short backoff, bounded.
	ErrorTypeTransient ErrorType = "transient"

	// ErrorTypeRateLimit is API throttling signaled in the error payload.
	// Retried with a longer backoff, unbounded: expected flow control,
	// not a failure.
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeQueryRejected is a schema or parameter rejection (the
	// error payload carries a path, e.g. a bad timeFrame). Never retried.
	ErrorTypeQueryRejected ErrorType = "query_rejected"

	// ErrorTypeFatalAPI is any other API-reported error. Never retried.
	ErrorTypeFatalAPI ErrorType = "fatal_api"

	// ErrorTypeMalformedResponse is a 2xx body missing the expected
	// auditFeed shape. Fatal: continuing would silently lose data.
	ErrorTypeMalformedResponse ErrorType = "malformed_response"

	// ErrorTypeRetryExhausted means the transient retry budget ran out.
	ErrorTypeRetryExhausted ErrorType = "retry_exhausted"
)

// FeedError is a classified page-fetch error
type FeedError struct {
	Type    ErrorType
	Message string
	Payload string // raw API error payload for fatal API errors
	Err     error
}

// Error implements the error interface
func (e *FeedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *FeedError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *FeedError) Is(target error) bool {
	t, ok := target.(*FeedError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// NewFeedError creates a new classified feed error
func NewFeedError(errType ErrorType, message string, err error) *FeedError {
	return &FeedError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

var (
	ErrTransient         = NewFeedError(ErrorTypeTransient, "transient network failure", nil)
	ErrRateLimited       = NewFeedError(ErrorTypeRateLimit, "rate limited", nil)
	ErrQueryRejected     = NewFeedError(ErrorTypeQueryRejected, "query rejected by API", nil)
	ErrFatalAPI          = NewFeedError(ErrorTypeFatalAPI, "fatal API error", nil)
	ErrMalformedResponse = NewFeedError(ErrorTypeMalformedResponse, "malformed API response", nil)
	ErrRetryExhausted    = NewFeedError(ErrorTypeRetryExhausted, "transient retry budget exhausted", nil)
)

// IsTransient reports whether err classifies as a retryable transient failure
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsRateLimited reports whether err classifies as API rate limiting
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsRetryable reports whether err may be retried at all
func IsRetryable(err error) bool {
	return IsTransient(err) || IsRateLimited(err)
}
