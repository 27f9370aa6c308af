// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"strings"
	"testing"
)

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
			appError: &AppError{Code: ErrDatabase, Message: "query failed", Err: errors.New("connection lost")},
			want:     "[DATABASE_ERROR] query failed: connection lost",
		},
		{
			name:     "record not found error",
			appError: &AppError{Code: ErrRecordNotFound, Message: "record not found"},
			want:     "[RECORD_NOT_FOUND] record not found",
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

// TestAppError_Unwrap verifies unwrapping of underlying error.
func TestAppError_Unwrap(t *testing.T) {
	underlyingErr := errors.New("underlying error")

	withErr := &AppError{Code: ErrInternal, Message: "failed", Err: underlyingErr}
	if withErr.Unwrap() != underlyingErr {
		t.Errorf("Unwrap() = %v, want %v", withErr.Unwrap(), underlyingErr)
	}

	withoutErr := &AppError{Code: ErrInternal, Message: "failed"}
	if withoutErr.Unwrap() != nil {
		t.Errorf("Unwrap() = %v, want nil", withoutErr.Unwrap())
	}
}

// TestNew verifies AppError creation.
func TestNew(t *testing.T) {
	err := New(ErrSyncOffline, "client is offline")
	if err.Code != ErrSyncOffline {
		t.Errorf("New() code = %q, want %q", err.Code, ErrSyncOffline)
	}
	if err.Message != "client is offline" {
		t.Errorf("New() message = %q", err.Message)
	}
	if err.Err != nil {
		t.Error("New() should not wrap an error")
	}
}

// TestWrap verifies error wrapping.
func TestWrap(t *testing.T) {
	underlyingErr := errors.New("underlying")

	err := Wrap(ErrRemoteFailed, "push failed", underlyingErr)
	if err.Code != ErrRemoteFailed {
		t.Errorf("Wrap() code = %q, want %q", err.Code, ErrRemoteFailed)
	}
	if err.Err != underlyingErr {
		t.Errorf("Wrap() underlying error = %v, want %v", err.Err, underlyingErr)
	}
	if !errors.Is(err, underlyingErr) {
		t.Error("errors.Is should reach the wrapped error")
	}
}

// TestIs verifies error code checking.
func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{
			name: "matching AppError",
			err:  &AppError{Code: ErrRecordNotFound, Message: "not found"},
			code: ErrRecordNotFound,
			want: true,
		},
		{
			name: "non-matching AppError",
			err:  &AppError{Code: ErrRecordNotFound, Message: "not found"},
			code: ErrInternal,
			want: false,
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

// TestErrorCodes_areUnique verifies all error codes are unique.
func TestErrorCodes_areUnique(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound, ErrValidation,
		ErrDatabase, ErrMigration, ErrConstraint,
		ErrRecordNotFound, ErrRecordInvalid, ErrMissingID,
		ErrQueueItemNotFound, ErrRetriesExhausted,
		ErrSyncFailed, ErrSyncInProgress, ErrSyncConflict, ErrSyncOffline,
		ErrRemoteFailed, ErrRemoteBadStatus,
		ErrConflictManual, ErrConflictInvalid, ErrBackgroundDenied,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		if code == "" {
			t.Error("found an empty error code")
		}
		if seen[code] {
			t.Errorf("ErrorCode %q is duplicated", code)
		}
		seen[code] = true
	}
}

// TestErrorCode_naming verifies error codes follow the naming convention.
func TestErrorCode_naming(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound, ErrValidation,
		ErrDatabase, ErrMigration, ErrConstraint,
		ErrRecordNotFound, ErrRecordInvalid, ErrMissingID,
		ErrQueueItemNotFound, ErrRetriesExhausted,
		ErrSyncFailed, ErrSyncInProgress, ErrSyncConflict, ErrSyncOffline,
		ErrRemoteFailed, ErrRemoteBadStatus,
		ErrConflictManual, ErrConflictInvalid, ErrBackgroundDenied,
	}

	for _, code := range codes {
		str := string(code)
		if str != strings.ToUpper(str) {
			t.Errorf("ErrorCode %q should be uppercase", str)
		}
	}
}

// TestError_formats verifies the error string carries code and message.
func TestError_formats(t *testing.T) {
	err := Wrap(ErrSyncConflict, "conflict while pushing booking", errors.New("version mismatch"))

	errStr := err.Error()
	if !strings.Contains(errStr, string(ErrSyncConflict)) {
		t.Errorf("Error() should contain code, got %q", errStr)
	}
	if !strings.Contains(errStr, "conflict while pushing booking") {
		t.Errorf("Error() should contain message, got %q", errStr)
	}
	if !strings.Contains(errStr, "version mismatch") {
		t.Errorf("Error() should contain cause, got %q", errStr)
	}
}
