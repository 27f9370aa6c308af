// Package errors provides error code definitions for the FixSync engine.
package errors

import "fmt"

// ErrorCode represents a unique error code surfaced across the API
// boundary.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Storage errors
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrMigration  ErrorCode = "MIGRATION_FAILED"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// Record errors
	ErrRecordNotFound ErrorCode = "RECORD_NOT_FOUND"
	ErrRecordInvalid  ErrorCode = "RECORD_INVALID"
	ErrMissingID      ErrorCode = "RECORD_MISSING_ID"

	// Queue errors
	ErrQueueItemNotFound ErrorCode = "QUEUE_ITEM_NOT_FOUND"
	ErrRetriesExhausted  ErrorCode = "RETRIES_EXHAUSTED"

	// Sync errors
	ErrSyncFailed       ErrorCode = "SYNC_FAILED"
	ErrSyncInProgress   ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncConflict     ErrorCode = "SYNC_CONFLICT"
	ErrSyncOffline      ErrorCode = "SYNC_OFFLINE"
	ErrRemoteFailed     ErrorCode = "REMOTE_FAILED"
	ErrRemoteBadStatus  ErrorCode = "REMOTE_BAD_STATUS"
	ErrConflictManual   ErrorCode = "CONFLICT_MANUAL"
	ErrConflictInvalid  ErrorCode = "CONFLICT_INVALID"
	ErrBackgroundDenied ErrorCode = "BACKGROUND_REGISTRATION_DENIED"
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

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error is of a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}
