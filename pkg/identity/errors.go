package identity

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
)

// ErrNotFound is returned when no identity record matches the lookup key.
var ErrNotFound = errors.New("identity not found")

// TransientError marks a store failure that is safe to redeliver: the
// mutation is idempotent, so the delivery mechanism can simply try again.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a store failure that will never succeed on
// redelivery without a code or schema fix. These are application defects and
// are logged as such.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent store failure: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is classified as safe to redeliver.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is classified as a defect.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// classifyStoreError sorts a raw store error into the transient/permanent
// taxonomy so callers never inspect driver-specific codes. Connection-level
// trouble, resource exhaustion, serialization failures, and timeouts are
// transient; everything else is a defect.
func classifyStoreError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransientError{Err: err}
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return &TransientError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientError{Err: err}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", // connection exception
			"53", // insufficient resources
			"57", // operator intervention
			"58": // system error
			return &TransientError{Err: err}
		}
		switch pqErr.Code {
		case "40001", "40P01": // serialization failure, deadlock detected
			return &TransientError{Err: err}
		}
	}
	return &PermanentError{Err: err}
}
