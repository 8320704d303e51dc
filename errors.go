package sheraf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andreyvit/sheraf/store"
)

// sentinel is an error kind. Every kind matches ErrSheraf and its parent
// kinds with errors.Is.
type sentinel struct {
	msg    string
	parent *sentinel
}

func (e *sentinel) Error() string {
	return e.msg
}

func (e *sentinel) Is(target error) bool {
	for p := e.parent; p != nil; p = p.parent {
		if target == p {
			return true
		}
	}
	return false
}

func errKind(parent *sentinel, msg string) *sentinel {
	return &sentinel{msg, parent}
}

var (
	errRoot           = &sentinel{msg: "sheraf"}
	errObjectNotFound = errKind(errRoot, "object not found")
)

var (
	ErrSheraf                  error = errRoot
	ErrObjectNotFound          error = errObjectNotFound
	ErrModelObjectNotFound     error = errKind(errObjectNotFound, "model object not found")
	ErrSameNameForTable        error = errKind(errRoot, "same name for table")
	ErrNotConnected            error = errKind(errRoot, "not connected")
	ErrInvalidFilter           error = errKind(errRoot, "invalid filter")
	ErrInvalidOrder            error = errKind(errRoot, "invalid order")
	ErrQuerySetUnpack          error = errKind(errRoot, "queryset does not hold exactly one instance")
	ErrInvalidIndex            error = errKind(errRoot, "invalid index")
	ErrUniqueIndex             error = errKind(errRoot, "unique index violation")
	ErrMultipleIndex           error = errKind(errRoot, "index is not unique")
	ErrPrimaryKey              error = errKind(errRoot, "primary key")
	ErrConnectionAlreadyOpened error = errKind(errRoot, "connection already opened")

	// ErrConflict is matched by errors returned from commits that lost
	// a concurrent race.
	ErrConflict = store.ErrConflict
)

// ModelError describes a failure related to a model, optionally narrowed
// down to an index and an index key.
type ModelError struct {
	Model *Model
	Index *Index
	Key   any
	Msg   string
	Err   error
}

func modelErrf(m *Model, idx *Index, key any, err error, format string, args ...any) error {
	return &ModelError{m, idx, key, fmt.Sprintf(format, args...), err}
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

func (e *ModelError) Error() string {
	var buf strings.Builder
	if e.Model != nil {
		buf.WriteString(e.Model.Table())
	}
	if e.Index != nil {
		buf.WriteByte('.')
		buf.WriteString(e.Index.Key())
	}
	if e.Key != nil {
		fmt.Fprintf(&buf, "[%v]", e.Key)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// IndexationWarning reports an automatic index that was skipped because its
// table does not exist yet in a database that already holds instances of the
// model. Such an index needs an explicit rebuild.
type IndexationWarning struct {
	Model *Model
	Index *Index
}

func (w IndexationWarning) String() string {
	return fmt.Sprintf("%s.%s: index table is missing on a populated model, skipping; rebuild the index", w.Model.Table(), w.Index.Key())
}

// IsConflict reports whether err was caused by a commit-time conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
