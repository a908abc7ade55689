// Package errs defines the error taxonomy shared by the engine, the
// monitoring subsystem and the output boundary.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure
type Kind string

const (
	KindConfiguration Kind = "ConfigurationError"
	KindExecution     Kind = "ExecutionError"
	KindStrategy      Kind = "StrategyError"
	KindMetrics       Kind = "MetricsError"
	KindOutput        Kind = "OutputError"
	KindTimeout       Kind = "TimeoutError"
)

// Kind sentinels for errors.Is
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrExecution     = &Error{Kind: KindExecution}
	ErrStrategy      = &Error{Kind: KindStrategy}
	ErrMetrics       = &Error{Kind: KindMetrics}
	ErrOutput        = &Error{Kind: KindOutput}
	ErrTimeout       = &Error{Kind: KindTimeout}
)

// Error is a classified failure with an optional cause
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	// Stack is the cause annotated with the call stack where it was wrapped
	Stack error
}

// New creates an error of the given kind
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Stack: errors.New(msg)}
}

// Newf creates an error of the given kind with a formatted message
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap classifies cause under kind, recording where it was wrapped
func Wrap(kind Kind, msg string, cause error) *Error {
	e := &Error{Kind: kind, Message: msg, Cause: cause}
	if cause != nil {
		e.Stack = errors.WithStack(cause)
	} else {
		e.Stack = errors.New(msg)
	}
	return e
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Formatted renders the kind, message and, when present, the cause with its stack
func (e *Error) Formatted() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Cause != nil {
		s += fmt.Sprintf("\nCaused by: %+v", e.Stack)
	}
	return s
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// SafeExecute runs fn and converts a panic into an execution error
func SafeExecute(fn func() error) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = Newf(KindExecution, "panic: %v", r)
		}
	}()

	if err := fn(); err != nil {
		return false, err
	}
	return true, nil
}
