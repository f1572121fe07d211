package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents a fault that stopped a sync pass.
//
// Command failures are not RuntimeErrors; they are recorded on the command
// and in Result.LastError. A RuntimeError means the pass itself could not
// continue.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// PassID identifies the affected pass.
	PassID string

	// CommandID is the command being processed, or 0.
	CommandID int64

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeReconcileFailed indicates identity reconciliation failed after a
	// successful remote insert.
	ErrCodeReconcileFailed RuntimeErrorCode = "RECONCILE_FAILED"

	// ErrCodeStorage indicates the command log could not be read or written.
	ErrCodeStorage RuntimeErrorCode = "STORAGE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.CommandID != 0 {
		msg = fmt.Sprintf("%s (pass=%s, command=%d)", msg, e.PassID, e.CommandID)
	} else if e.PassID != "" {
		msg = fmt.Sprintf("%s (pass=%s)", msg, e.PassID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// IsReconcileError returns true if the error is a reconciliation fault.
// Uses errors.As to handle wrapped errors.
func IsReconcileError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeReconcileFailed
	}
	return false
}

// IsStorageError returns true if the error is a command log storage fault.
func IsStorageError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeStorage
	}
	return false
}

func storageError(passID string, commandID int64, msg string, err error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeStorage,
		Message:   msg,
		PassID:    passID,
		CommandID: commandID,
		Err:       err,
	}
}
