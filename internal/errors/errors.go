// Package errors provides the error codes surfaced by the check-in core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code that callers can branch on.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrDuplicate  ErrorCode = "DUPLICATE"
	ErrPermission ErrorCode = "PERMISSION_DENIED"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Local persistence errors
	ErrStorage   ErrorCode = "STORAGE_FAULT"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Vault errors
	ErrCryptoFailed ErrorCode = "CRYPTO_FAILED"

	// Session errors
	ErrSessionExpired ErrorCode = "SESSION_EXPIRED"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"

	// Remote authority errors
	ErrNetwork ErrorCode = "NETWORK_ERROR"
	ErrRemote  ErrorCode = "REMOTE_ERROR"

	// Sync errors
	ErrApprovalRequired ErrorCode = "APPROVAL_REQUIRED"
	ErrApprovalPending  ErrorCode = "APPROVAL_PENDING"
	ErrSyncInProgress   ErrorCode = "SYNC_IN_PROGRESS"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any error in err's chain is an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain, or
// ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Retryable reports whether the caller may retry the operation later.
// Only transport-level failures qualify; nothing retries them automatically.
func Retryable(err error) bool {
	return Is(err, ErrNetwork)
}
