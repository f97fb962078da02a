package kabaw

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota

	// Connection lifecycle errors, surfaced through Client.Err
	ErrorConnectFailed
	ErrorConnection
	ErrorMaxReconnect

	// Caller-side errors
	ErrorInvalidConfig
	ErrorNotConnected
	ErrorEmptyMessage
	ErrorMessageTooLong
	ErrorSerialization
	ErrorClosed
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorConnectFailed:
		return "connect_failed"
	case ErrorConnection:
		return "connection_error"
	case ErrorMaxReconnect:
		return "max_reconnect_attempts"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorEmptyMessage:
		return "empty_message"
	case ErrorMessageTooLong:
		return "message_too_long"
	case ErrorSerialization:
		return "serialization_error"
	case ErrorClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// Messages surfaced to the consumer. They are meant to be shown as-is.
const (
	msgConnectFailed   = "Failed to connect to server"
	msgConnectionError = "Connection error occurred"
	msgMaxReconnect    = "Max reconnection attempts reached. Please refresh the page."
)

// KabawError is a structured error with code and context.
type KabawError struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *KabawError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *KabawError) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is interface for error comparison.
func (e *KabawError) Is(target error) bool {
	t, ok := target.(*KabawError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new KabawError with the given code and message.
func NewError(code ErrorCode, message string) *KabawError {
	return &KabawError{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with a KabawError.
func WrapError(code ErrorCode, message string, err error) *KabawError {
	return &KabawError{
		Code:    code,
		Message: message,
		Wrapped: err,
	}
}

// Sentinels for errors.Is comparisons. Only the code is compared.
var (
	ErrConnectFailed  = NewError(ErrorConnectFailed, msgConnectFailed)
	ErrConnection     = NewError(ErrorConnection, msgConnectionError)
	ErrMaxReconnect   = NewError(ErrorMaxReconnect, msgMaxReconnect)
	ErrInvalidConfig  = NewError(ErrorInvalidConfig, "invalid config")
	ErrNotConnected   = NewError(ErrorNotConnected, "not connected")
	ErrEmptyMessage   = NewError(ErrorEmptyMessage, "message is empty")
	ErrMessageTooLong = NewError(ErrorMessageTooLong, "message is too long")
	ErrClosed         = NewError(ErrorClosed, "client closed")
)

// CodeOf returns the ErrorCode carried by err, or ErrorUnknown.
func CodeOf(err error) ErrorCode {
	var ke *KabawError
	if !errors.As(err, &ke) {
		return ErrorUnknown
	}
	return ke.Code
}

// IsTerminal reports whether err means the client gave up reconnecting.
// Recovering from it requires a fresh Connect or a new Client.
func IsTerminal(err error) bool {
	return err != nil && CodeOf(err) == ErrorMaxReconnect
}

// IsConnectionError checks if an error is a connection-related error.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case ErrorConnectFailed, ErrorConnection, ErrorMaxReconnect:
		return true
	default:
		return false
	}
}

// UserMessage returns the human-readable part of err, suitable for a
// status line. Non-Kabaw errors fall back to err.Error().
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ke *KabawError
	if errors.As(err, &ke) {
		return ke.Message
	}
	return err.Error()
}
