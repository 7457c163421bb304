package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrMissingAPIKey is returned by New when no API key is configured.
	ErrMissingAPIKey = errors.New("census api key is required")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors (bad variable, bad geography, bad key).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors and truncated bodies.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents a 200 response whose body is not the expected JSON.
	ErrorClassDecode ErrorClass = "decode"
)

// APIError represents a failed Census API request with its classification.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("census %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("census %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the request that produced e may succeed if repeated.
func (e *APIError) Retryable() bool {
	return shouldRetry(e.ErrorClass)
}

// ClassOf returns the ErrorClass carried by err, or ErrorClassNetwork for
// errors that did not come from an HTTP response.
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	return ErrorClassNetwork
}

// classifyStatus maps an HTTP status code to an ErrorClass. Success codes return "".
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient, ErrorClassDecode:
		// Malformed queries fail the same way every time
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// isContextError reports whether err stems from ctx being done.
func isContextError(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
