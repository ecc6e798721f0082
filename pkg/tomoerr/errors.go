// Package tomoerr defines the error taxonomy shared by the ingestion,
// geometry and reconstruction packages.
//
// Every failure is fatal to the current request. Callers match the class
// of a failure with errors.Is against one of the sentinel values and read
// the context (offending key, filename or required state) from *Error.
package tomoerr

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrMetadata      = errors.New("metadata error")
	ErrDataNotFound  = errors.New("data not found")
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrPipelineState = errors.New("pipeline state error")
	ErrIO            = errors.New("io error")
)

// Error carries the class of a failure together with the context a caller
// needs to act on it.
type Error struct {
	// Kind is one of the sentinel errors above.
	Kind error

	// Op names the operation that failed, e.g. "ingest" or "region.resolve".
	Op string

	// Subject is the offending key, filename or required pipeline state.
	Subject string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Subject != "" {
		msg += " (" + e.Subject + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an *Error of the given kind.
func New(kind error, op, subject string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: cause}
}

func Configuration(op, subject, format string, args ...any) error {
	return New(ErrConfiguration, op, subject, fmt.Errorf(format, args...))
}

func Metadata(op, key string, cause error) error {
	return New(ErrMetadata, op, key, cause)
}

func DataNotFound(op, path string, cause error) error {
	return New(ErrDataNotFound, op, path, cause)
}

func ShapeMismatch(op string, got, want []int) error {
	return New(ErrShapeMismatch, op, "", fmt.Errorf("got shape %v, expected %v", got, want))
}

// PipelineState reports a stage invoked from the wrong state. required
// lists the states the stage may be invoked from.
func PipelineState(op, current string, required ...string) error {
	return New(ErrPipelineState, op, fmt.Sprintf("requires %v", required),
		fmt.Errorf("pipeline is in state %s", current))
}

func IO(op, filename string, cause error) error {
	return New(ErrIO, op, filename, cause)
}
