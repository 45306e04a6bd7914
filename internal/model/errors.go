package model

import (
	"errors"
	"fmt"
)

// ErrorCode classifies provider failures.
type ErrorCode string

const (
	ErrCodeAuthFailed         ErrorCode = "AUTH_FAILED"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"
	ErrCodeQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"
	ErrCodeNetworkError       ErrorCode = "NETWORK_ERROR"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrCodeMalformedResponse  ErrorCode = "MALFORMED_RESPONSE"
	ErrCodeUnknown            ErrorCode = "UNKNOWN"
)

// ProviderError is a structured error returned by generation clients.
type ProviderError struct {
	Code     ErrorCode
	Message  string
	Provider string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a ProviderError without an underlying cause.
func NewProviderError(provider string, code ErrorCode, message string) *ProviderError {
	return &ProviderError{Code: code, Message: message, Provider: provider}
}

// CodeOf returns the code of the first ProviderError in err's chain, or
// ErrCodeUnknown.
func CodeOf(err error) ErrorCode {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrCodeUnknown
}

// CodeForStatus maps an HTTP status from a generation API to an ErrorCode.
func CodeForStatus(status int) ErrorCode {
	switch {
	case status == 401 || status == 403:
		return ErrCodeAuthFailed
	case status == 429:
		return ErrCodeRateLimited
	case status == 408 || status == 504:
		return ErrCodeTimeout
	case status == 400 || status == 404:
		return ErrCodeInvalidRequest
	case status >= 500:
		return ErrCodeServiceUnavailable
	default:
		return ErrCodeUnknown
	}
}
