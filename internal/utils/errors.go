package utils

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an AppError for transport mapping.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	// KindInvalid marks problems with caller-supplied data.
	KindInvalid
	// KindNotFound marks lookups of unknown records.
	KindNotFound
	// KindUnavailable marks a dependency that is not configured or reachable.
	KindUnavailable
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op   string
	Msg  string
	Kind ErrorKind
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an internal AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// InvalidError constructs an AppError for bad input.
func InvalidError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Kind: KindInvalid, Err: err}
}

// NotFoundError constructs an AppError for a missing record.
func NotFoundError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Kind: KindNotFound, Err: err}
}

// UnavailableError constructs an AppError for a missing dependency.
func UnavailableError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Kind: KindUnavailable, Err: err}
}

// KindOf returns the kind of the first AppError in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}
