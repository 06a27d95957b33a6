package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrSelfRelationship   = errors.New("cannot connect a user with themselves")
	ErrRelationshipExists = errors.New("relationship already exists")
	ErrInvalidInput       = errors.New("invalid input")
)

// PartialWriteError reports a multi-document write that stopped half way.
// The written documents are left in place for reconciliation to repair.
type PartialWriteError struct {
	Written []string
	Missing []string
	Err     error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial write: wrote %s, missing %s: %v",
		strings.Join(e.Written, ","), strings.Join(e.Missing, ","), e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}

func transitionError(kind, op, status string) error {
	return fmt.Errorf("%w: cannot %s %s in status %q", ErrInvalidTransition, op, kind, status)
}

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
