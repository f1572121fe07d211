// Package remote defines the authoritative store that commands are replayed
// against. Implementations live in pgremote (PostgreSQL) and memremote
// (in-memory, for tests and the scenario harness).
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/roach88/bufsync/internal/ir"
)

// Operation names, used in errors, call logs and fault scripts.
const (
	OpCreateTable            = "CreateTable"
	OpDeleteTable            = "DeleteTable"
	OpInsert                 = "Insert"
	OpUpdate                 = "Update"
	OpDeleteByID             = "DeleteByID"
	OpLike                   = "Like"
	OpUnlike                 = "Unlike"
	OpEmpty                  = "Empty"
	OpAttachFileToItem       = "AttachFileToItem"
	OpRemoveFileFromItem     = "RemoveFileFromItem"
	OpAttachFileToLibrary    = "AttachFileToLibrary"
	OpRemoveFilesFromLibrary = "RemoveFilesFromLibrary"
)

// Store is the remote side of a sync pass.
//
// Insert returns the authoritative id for the record; every other operation
// addresses records by their authoritative id. Implementations classify
// their own failures through IsTransient.
type Store interface {
	CreateTable(ctx context.Context, typeName string) error
	DeleteTable(ctx context.Context, typeName string) error
	Insert(ctx context.Context, rec ir.Record) (int64, error)
	Update(ctx context.Context, rec ir.Record) error
	DeleteByID(ctx context.Context, typeName string, id int64) error
	Like(ctx context.Context, typeName string, id, actorID int64) error
	Unlike(ctx context.Context, typeName string, id, actorID int64) error
	Empty(ctx context.Context, typeName string) error
	AttachFileToItem(ctx context.Context, typeName string, id int64, filename string, r io.Reader) error
	RemoveFileFromItem(ctx context.Context, typeName string, id int64, filename string) error
	AttachFileToLibrary(ctx context.Context, library, folder, filename string, r io.Reader, snapshot ir.IRObject) error
	RemoveFilesFromLibrary(ctx context.Context, library, folder string, filenames []string) error

	// IsTransient reports whether err is worth retrying on a later pass.
	IsTransient(err error) bool
}

// Error is a failure reported by the remote side, carrying an HTTP-style
// status code.
type Error struct {
	Op      string
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("remote %s: status %d: %s", e.Op, e.Status, e.Message)
}

// Transient reports whether the status indicates a server-side or
// throttling fault.
func (e *Error) Transient() bool {
	return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

// NotFound builds a 404 error for op.
func NotFound(op, format string, args ...any) *Error {
	return &Error{Op: op, Status: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

// Unavailable builds a 503 error for op.
func Unavailable(op, format string, args ...any) *Error {
	return &Error{Op: op, Status: http.StatusServiceUnavailable, Message: fmt.Sprintf(format, args...)}
}

// IsTransient reports whether err wraps a transient *Error.
func IsTransient(err error) bool {
	var remoteErr *Error
	if errors.As(err, &remoteErr) {
		return remoteErr.Transient()
	}
	return false
}

// IsNotFound reports whether err wraps a 404 *Error.
func IsNotFound(err error) bool {
	var remoteErr *Error
	return errors.As(err, &remoteErr) && remoteErr.Status == http.StatusNotFound
}
