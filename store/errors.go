package store

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict is matched (via errors.Is) by every commit-time conflict.
	ErrConflict = errors.New("conflict")

	ErrClosed          = errors.New("connection closed")
	ErrObjectNotFound  = errors.New("object not found")
	ErrNotAttached     = errors.New("object is not stored in a database yet")
	ErrInvalidKey      = errors.New("invalid key")
	ErrInvalidValue    = errors.New("invalid value")
	ErrStaleSavepoint  = errors.New("savepoint belongs to a finished transaction")
	ErrUnsupportedKind = errors.New("unsupported object kind")
)

// ConflictError describes a write that lost an optimistic concurrency race.
// Key is non-nil for tree entry conflicts.
type ConflictError struct {
	OID  OID
	Kind string
	Key  []byte
	Err  error
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("conflict on %s %v", e.Kind, e.OID)
	if e.Key != nil {
		msg += fmt.Sprintf(" key %x", e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}
