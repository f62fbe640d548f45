// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func allCodes() []ErrorCode {
	return []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound, ErrDuplicate, ErrPermission, ErrValidation,
		ErrStorage, ErrMigration,
		ErrCryptoFailed,
		ErrSessionExpired, ErrUnauthorized,
		ErrNetwork, ErrRemote,
		ErrApprovalRequired, ErrApprovalPending, ErrSyncInProgress,
	}
}

// TestErrorCodes_areUnique verifies all error codes are unique and uppercase.
func TestErrorCodes_areUnique(t *testing.T) {
	seen := make(map[ErrorCode]bool)
	for _, code := range allCodes() {
		if code == "" {
			t.Error("ErrorCode should not be empty")
		}
		if seen[code] {
			t.Errorf("ErrorCode %q is duplicated", code)
		}
		seen[code] = true

		str := string(code)
		if str != strings.ToUpper(str) {
			t.Errorf("ErrorCode %q should be uppercase", str)
		}
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrStorage, Message: "could not save locally", Err: errors.New("disk full")},
			want:     "[STORAGE_FAULT] could not save locally: disk full",
		},
		{
			name:     "session expired",
			appError: &AppError{Code: ErrSessionExpired, Message: "session expired"},
			want:     "[SESSION_EXPIRED] session expired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.appError.Error()
			if got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestWrap verifies error wrapping.
func TestWrap(t *testing.T) {
	underlyingErr := errors.New("underlying")

	err := Wrap(ErrStorage, "insert failed", underlyingErr)
	if err.Code != ErrStorage {
		t.Errorf("Wrap() code = %q, want %q", err.Code, ErrStorage)
	}
	if err.Message != "insert failed" {
		t.Errorf("Wrap() message = %q, want 'insert failed'", err.Message)
	}
	if !errors.Is(err, underlyingErr) {
		t.Error("errors.Is should find the underlying error")
	}
}

// TestNewf verifies formatted messages.
func TestNewf(t *testing.T) {
	err := Newf(ErrNotFound, "record %d not found", 42)
	if err.Message != "record 42 not found" {
		t.Errorf("Newf() message = %q", err.Message)
	}
}

// TestIs verifies error code checking through wrapping layers.
func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{
			name: "matching AppError",
			err:  &AppError{Code: ErrNotFound, Message: "not found"},
			code: ErrNotFound,
			want: true,
		},
		{
			name: "non-matching AppError",
			err:  &AppError{Code: ErrNotFound, Message: "not found"},
			code: ErrInternal,
			want: false,
		},
		{
			name: "fmt wrapped AppError",
			err:  fmt.Errorf("sync: %w", New(ErrNetwork, "unreachable")),
			code: ErrNetwork,
			want: true,
		},
		{
			name: "AppError wrapping AppError",
			err:  Wrap(ErrSessionExpired, "refresh failed", New(ErrUnauthorized, "401")),
			code: ErrUnauthorized,
			want: true,
		},
		{
			name: "non-AppError",
			err:  errors.New("standard error"),
			code: ErrInternal,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			code: ErrInternal,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Is(tt.err, tt.code)
			if got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCodeOf verifies the outermost code is reported.
func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap(ErrSessionExpired, "expired", New(ErrUnauthorized, "401")))
	if got := CodeOf(err); got != ErrSessionExpired {
		t.Errorf("CodeOf() = %q, want %q", got, ErrSessionExpired)
	}
	if got := CodeOf(errors.New("plain")); got != ErrInternal {
		t.Errorf("CodeOf(plain) = %q, want %q", got, ErrInternal)
	}
}

// TestRetryable verifies only network faults are retryable.
func TestRetryable(t *testing.T) {
	if !Retryable(New(ErrNetwork, "timeout")) {
		t.Error("network faults should be retryable")
	}
	for _, code := range []ErrorCode{ErrStorage, ErrSessionExpired, ErrCryptoFailed, ErrRemote} {
		if Retryable(New(code, "x")) {
			t.Errorf("%s should not be retryable", code)
		}
	}
}
