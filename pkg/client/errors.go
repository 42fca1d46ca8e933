package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// HTTPError is returned when a backend keeps answering with a non-2xx status.
type HTTPError struct {
	StatusCode int
	ErrorClass ErrorClass
	Status     string
	URL        string
	Body       []byte
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("http %s error (status %d) from %s: %s",
			e.ErrorClass, e.StatusCode, e.URL, e.Status)
	}
	return fmt.Sprintf("http %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Status)
}

// ConfigurationError reports invalid caller input detected before any network
// activity (bad chunk size, missing query fields, malformed retry policy).
type ConfigurationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// NewConfigurationError builds a ConfigurationError for field.
func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that Retry returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// shouldRetry determines if an error should be retried based on its classification.
// Every non-2xx status is retried; identity backends answer transient overload
// with 4xx codes as well as 5xx.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient, ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
