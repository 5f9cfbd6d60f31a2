// Package schederr defines the typed errors returned by the scheduling core.
// Transport code maps a Kind to a response without inspecting messages.
package schederr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindForbidden            Kind = "forbidden"
	KindValidation           Kind = "validation"
	KindCircularDependency   Kind = "circular_dependency"
	KindMaxNestingExceeded   Kind = "max_nesting_exceeded"
	KindNestingLevelExceeded Kind = "nesting_level_exceeded"
	KindRecurrenceExhausted  Kind = "recurrence_exhausted"
	KindCacheMiss            Kind = "cache_miss"
)

// Error is a business-rule or validation failure. Field and IDs point at
// what the caller got wrong.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	IDs     []string
	Err     error
}

// Error implements the error interface.
func (e Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %s)", e.Field)
	}
	if len(e.IDs) > 0 {
		fmt.Fprintf(&b, " (ids %s)", strings.Join(e.IDs, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) Error {
	return Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) Error {
	return Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e Error) WithField(field string) Error {
	e.Field = field
	return e
}

func (e Error) WithIDs(ids ...string) Error {
	e.IDs = append(append([]string(nil), e.IDs...), ids...)
	return e
}

func (e Error) Wrap(err error) Error {
	e.Err = err
	return e
}

func NotFound(what, id string) Error {
	return Newf(KindNotFound, "%s not found", what).WithIDs(id)
}

func Forbidden(id string) Error {
	return New(KindForbidden, "ticket belongs to another owner").WithIDs(id)
}

func Validation(field, message string) Error {
	return New(KindValidation, message).WithField(field)
}

// As extracts an *Error from err's chain.
func As(err error) (Error, bool) {
	var e Error
	if errors.As(err, &e) {
		return e, true
	}
	var ep *Error
	if errors.As(err, &ep) && ep != nil {
		return *ep, true
	}
	return Error{}, false
}

// KindOf returns the Kind of err, or "" when err is not a scheduling error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
