package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType int

const (
	// ErrorTypeConnection indicates the transport failed to open or dropped
	ErrorTypeConnection ErrorType = iota
	// ErrorTypeProtocol indicates a malformed or unrecognized frame
	ErrorTypeProtocol
	// ErrorTypeHandler indicates a subscriber callback failed
	ErrorTypeHandler
	// ErrorTypeSend indicates an outbound frame could not be written
	ErrorTypeSend
	// ErrorTypeReconnectExhausted indicates automatic reconnection stopped
	ErrorTypeReconnectExhausted
	// ErrorTypeValidation indicates invalid input
	ErrorTypeValidation
	// ErrorTypeInternal indicates an internal error
	ErrorTypeInternal
	// ErrorTypeTimeout indicates a timeout error
	ErrorTypeTimeout
)

// String returns the snake_case name used in logs
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeConnection:
		return "connection"
	case ErrorTypeProtocol:
		return "protocol"
	case ErrorTypeHandler:
		return "handler"
	case ErrorTypeSend:
		return "send"
	case ErrorTypeReconnectExhausted:
		return "reconnect_exhausted"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeInternal:
		return "internal"
	case ErrorTypeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error represents a structured error with metadata
type Error struct {
	Type      ErrorType `json:"type"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		if e.Details != "" {
			return fmt.Sprintf("[%s] %s: %s (caused by: %v)", e.Code, e.Message, e.Details, e.Cause)
		}
		return fmt.Sprintf("[%s] %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type and code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// New creates a new error
func New(errorType ErrorType, code, message string) *Error {
	return &Error{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, errorType ErrorType, code, message string) *Error {
	return &Error{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now(),
	}
}

// WithDetails adds details to an error
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

// IsType reports whether err or anything it wraps is an *Error of type t
func IsType(err error, t ErrorType) bool {
	var e *Error
	if !stderrors.As(err, &e) {
		return false
	}
	return e.Type == t
}

// Sentinels for errors.Is comparisons. Only Type and Code take part in matching.
var (
	ErrNotConnected     = New(ErrorTypeSend, "NOT_CONNECTED", "not connected")
	ErrDialFailed       = New(ErrorTypeConnection, "DIAL_FAILED", "failed to open connection")
	ErrDialTimeout      = New(ErrorTypeTimeout, "DIAL_TIMEOUT", "timed out opening connection")
	ErrConnectionLost   = New(ErrorTypeConnection, "CONNECTION_LOST", "connection lost")
	ErrDisconnected     = New(ErrorTypeConnection, "DISCONNECTED", "connection closed by disconnect")
	ErrReconnectStopped = New(ErrorTypeReconnectExhausted, "RECONNECT_EXHAUSTED", "reconnect attempts exhausted")
	ErrMalformedFrame   = New(ErrorTypeProtocol, "MALFORMED_FRAME", "malformed frame")
	ErrUnhandledType    = New(ErrorTypeProtocol, "UNHANDLED_TYPE", "no subscriber for message type")
	ErrHandlerFailed    = New(ErrorTypeHandler, "HANDLER_FAILED", "subscriber failed")
	ErrHandlerPanic     = New(ErrorTypeHandler, "HANDLER_PANIC", "subscriber panicked")
)
