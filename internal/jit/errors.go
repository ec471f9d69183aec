package jit

import (
	"errors"
	"fmt"
)

// CacheError represents a failure surfaced by the guard cache.
//
// Only ErrCodeGraphCopyFailed is a hard failure of FindOrCreateGuarded; the
// other codes describe conditions the cache degrades around (inert variants,
// cold restarts).
type CacheError struct {
	// Code identifies the error category.
	Code CacheErrorCode

	// Message is a human-readable description.
	Message string

	// PointID identifies the affected execution point (0 if none).
	PointID int64

	// Err is the underlying cause.
	Err error
}

// CacheErrorCode categorizes cache errors.
type CacheErrorCode string

const (
	// ErrCodeGraphCopyFailed indicates the slice template could not be deep-copied.
	ErrCodeGraphCopyFailed CacheErrorCode = "GRAPH_COPY_FAILED"

	// ErrCodeGuardLoadFailed indicates a guard payload was missing or failed to load.
	ErrCodeGuardLoadFailed CacheErrorCode = "GUARD_LOAD_FAILED"

	// ErrCodePersistenceFailed indicates on-disk cache state could not be read or written.
	ErrCodePersistenceFailed CacheErrorCode = "PERSISTENCE_FAILED"

	// ErrCodeUnknownPoint indicates an execution point id not present in the order.
	ErrCodeUnknownPoint CacheErrorCode = "UNKNOWN_POINT"
)

// Error implements the error interface.
func (e *CacheError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.PointID != 0 {
		msg = fmt.Sprintf("%s (ep=%d)", msg, e.PointID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code CacheErrorCode) bool {
	var ce *CacheError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsGraphCopyError returns true if the error is a graph copy failure.
// Uses errors.As to handle wrapped errors.
func IsGraphCopyError(err error) bool {
	return hasCode(err, ErrCodeGraphCopyFailed)
}

// IsGuardLoadError returns true if the error is a guard load failure.
func IsGuardLoadError(err error) bool {
	return hasCode(err, ErrCodeGuardLoadFailed)
}

// IsPersistenceError returns true if the error is a persistence failure.
func IsPersistenceError(err error) bool {
	return hasCode(err, ErrCodePersistenceFailed)
}

// NewPersistenceError creates a CacheError for on-disk state failures.
func NewPersistenceError(message string, err error) *CacheError {
	return &CacheError{
		Code:    ErrCodePersistenceFailed,
		Message: message,
		Err:     err,
	}
}

func newGraphCopyError(pointID int64, err error) *CacheError {
	return &CacheError{
		Code:    ErrCodeGraphCopyFailed,
		Message: "failed to copy sliced graph",
		PointID: pointID,
		Err:     err,
	}
}

func newGuardLoadError(pointID int64, err error) *CacheError {
	return &CacheError{
		Code:    ErrCodeGuardLoadFailed,
		Message: "failed to load guard",
		PointID: pointID,
		Err:     err,
	}
}
