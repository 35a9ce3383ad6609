package domain

import (
	"errors"
	"fmt"
)

// ErrKind classifies an error at a component boundary. The watcher and the
// daily jobs key their retry policy on the kind, not on where the error was
// caught: transient and persistence failures are retried on the next cycle,
// decode failures are logged and skipped, fatal failures abort startup.
type ErrKind int

const (
	// ErrTransient covers remote connect, list, and fetch failures.
	ErrTransient ErrKind = iota
	// ErrDecode covers malformed records, unknown extensions, and other
	// per-file decode problems.
	ErrDecode
	// ErrPersistence covers database batch commit failures.
	ErrPersistence
	// ErrFatal covers unrecoverable configuration errors at startup.
	ErrFatal
)

func (k ErrKind) String() string {
	switch k {
	case ErrTransient:
		return "transient"
	case ErrDecode:
		return "decode"
	case ErrPersistence:
		return "persistence"
	case ErrFatal:
		return "fatal"
	}
	return "unknown"
}

// Error wraps an underlying error with its boundary classification and the
// operation that produced it.
type Error struct {
	Kind ErrKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a transient remote failure.
func Transient(op string, err error) error {
	return &Error{Kind: ErrTransient, Op: op, Err: err}
}

// Decode wraps err as a decode failure.
func Decode(op string, err error) error {
	return &Error{Kind: ErrDecode, Op: op, Err: err}
}

// Persistence wraps err as a persistence failure.
func Persistence(op string, err error) error {
	return &Error{Kind: ErrPersistence, Op: op, Err: err}
}

// Fatal wraps err as an unrecoverable configuration failure.
func Fatal(op string, err error) error {
	return &Error{Kind: ErrFatal, Op: op, Err: err}
}

// KindOf returns the classification of err. Unclassified errors are treated
// as transient, which errs on the side of retrying.
func KindOf(err error) ErrKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ErrTransient
}

// IsPersistence reports whether err is a persistence failure.
func IsPersistence(err error) bool { return classified(err, ErrPersistence) }

// IsFatal reports whether err is an unrecoverable configuration failure.
func IsFatal(err error) bool { return classified(err, ErrFatal) }

func classified(err error, kind ErrKind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}
