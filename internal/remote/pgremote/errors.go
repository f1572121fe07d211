package pgremote

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/roach88/bufsync/internal/remote"
)

// transientClasses are SQLSTATE classes worth retrying: connection
// exceptions, transaction rollbacks (serialization, deadlock),
// insufficient resources and operator intervention (admin shutdown).
var transientClasses = map[string]bool{
	"08": true,
	"40": true,
	"53": true,
	"57": true,
}

// IsTransient classifies errors from this package. Server errors with a
// permanent SQLSTATE (constraint violations, undefined tables) are not
// transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if remote.IsTransient(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return len(pgErr.Code) >= 2 && transientClasses[pgErr.Code[:2]]
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
