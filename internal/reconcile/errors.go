package reconcile

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes reconciliation failures.
type ErrorKind string

const (
	// KindRecordMissing means the inserted record was not in the local
	// store. The remote insert already happened, so local state is corrupt.
	KindRecordMissing ErrorKind = "RECORD_MISSING"

	// KindIDCollision means a different local record already holds the
	// remote id. Neither record is touched.
	KindIDCollision ErrorKind = "ID_COLLISION"

	// KindRewrite means a reference rewrite failed. Earlier steps are
	// rolled back with it.
	KindRewrite ErrorKind = "REWRITE"
)

// Error reports a failed reconciliation of (TypeName, OldID) to NewID.
type Error struct {
	Kind     ErrorKind
	TypeName string
	OldID    int64
	NewID    int64
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("reconcile %s %d->%d: %s: %v", e.TypeName, e.OldID, e.NewID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRecordMissing reports whether err is a KindRecordMissing *Error.
func IsRecordMissing(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindRecordMissing
}

// IsIDCollision reports whether err is a KindIDCollision *Error.
func IsIDCollision(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindIDCollision
}
