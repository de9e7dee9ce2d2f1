package fx

import (
	"errors"
	"fmt"
)

// Common errors returned by the resolver and providers.
var (
	// ErrRateUnavailable is returned when every tier failed and no usable
	// static fallback is configured.
	ErrRateUnavailable = errors.New("fx rate unavailable")

	// ErrInvalidPair is returned when base or target is not a three-letter code.
	ErrInvalidPair = errors.New("invalid currency pair")

	// ErrInvalidRate is returned when a caller supplies a rate <= 0.
	ErrInvalidRate = errors.New("rate must be positive")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrCoolingDown is returned without a request while a provider is rate limited.
	ErrCoolingDown = errors.New("provider cooling down")
)

// ErrorClass represents a classification of provider errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors (bad key, unknown base).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassData represents a well-formed response without a usable rate.
	ErrorClassData ErrorClass = "data"
)

// ProviderError represents a failed provider lookup with additional context.
type ProviderError struct {
	Provider   string
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fx provider %s %s error (status %d): %s: %v",
			e.Provider, e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("fx provider %s %s error (status %d): %s",
		e.Provider, e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// classOf returns the class of err, or "" when err is not a ProviderError.
func classOf(err error) ErrorClass {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Class
	}
	return ""
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx errors will fail the same way again
		return false
	case ErrorClassServer:
		return true
	case ErrorClassRateLimit:
		return true
	case ErrorClassNetwork:
		return true
	case ErrorClassData:
		// The provider answered; it just has no rate for this pair
		return false
	default:
		return false
	}
}
