package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents internal error codes for bot operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeUnauthorized    ErrorCode = 1001
	ErrCodeUnknownCommand  ErrorCode = 1002

	// Server errors
	ErrCodeInternal           ErrorCode = 2000
	ErrCodeStorageWriteFailed ErrorCode = 2001
	ErrCodeStorageReadFailed  ErrorCode = 2002
	ErrCodeCorruptedData      ErrorCode = 2003
	ErrCodeUnknownNode        ErrorCode = 2004
	ErrCodeRenderFailed       ErrorCode = 2005
	ErrCodeDeliveryFailed     ErrorCode = 2006
	ErrCodeConfigInvalid      ErrorCode = 2007
)

// BotError represents a structured error with code and context
type BotError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *BotError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *BotError) Unwrap() error {
	return e.Cause
}

// NewBotError creates a new BotError
func NewBotError(code ErrorCode, message string, cause error) *BotError {
	return &BotError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *BotError) WithDetail(key string, value interface{}) *BotError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *BotError {
	return NewBotError(ErrCodeInvalidArgument, message, cause)
}

func Unauthorized(handle string) *BotError {
	return NewBotError(ErrCodeUnauthorized, fmt.Sprintf("caller %q is not the configured admin", handle), nil).
		WithDetail("handle", handle)
}

func UnknownCommand(name string) *BotError {
	return NewBotError(ErrCodeUnknownCommand, fmt.Sprintf("unknown command %q", name), nil).
		WithDetail("command", name)
}

// StorageWriteFailed is returned when the entitlement medium cannot be
// written. The in-memory state is left unchanged.
func StorageWriteFailed(path string, cause error) *BotError {
	return NewBotError(ErrCodeStorageWriteFailed, "failed to persist entitlements", cause).
		WithDetail("path", path)
}

func StorageReadFailed(path string, cause error) *BotError {
	return NewBotError(ErrCodeStorageReadFailed, "failed to read entitlements", cause).
		WithDetail("path", path)
}

func CorruptedData(message string, cause error) *BotError {
	return NewBotError(ErrCodeCorruptedData, message, cause)
}

func ChecksumMismatch(expected, actual uint32) *BotError {
	return NewBotError(ErrCodeCorruptedData, fmt.Sprintf("checksum validation failed: expected %d, got %d", expected, actual), nil).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

// UnknownNode means the catalog has no node with the given id. This is a
// configuration error, never a user error.
func UnknownNode(id string) *BotError {
	return NewBotError(ErrCodeUnknownNode, fmt.Sprintf("unknown menu node %q", id), nil).
		WithDetail("node_id", id)
}

func RenderFailed(nodeID string, cause error) *BotError {
	return NewBotError(ErrCodeRenderFailed, fmt.Sprintf("failed to render node %q", nodeID), cause).
		WithDetail("node_id", nodeID)
}

func DeliveryFailed(attempts int, cause error) *BotError {
	return NewBotError(ErrCodeDeliveryFailed, fmt.Sprintf("delivery failed after %d attempts", attempts), cause).
		WithDetail("attempts", attempts)
}

func ConfigInvalid(message string) *BotError {
	return NewBotError(ErrCodeConfigInvalid, message, nil)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var be *BotError
	if stderrors.As(err, &be) {
		return be.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code
func Is(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}
