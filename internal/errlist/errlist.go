// Package errlist aggregates multiple independent failures, such as parse
// errors from different source files, into a single error value.
package errlist

import (
	"errors"
	"fmt"
)

// ErrTooManyErrors replaces the tail of a list trimmed by Trim.
var ErrTooManyErrors = errors.New("too many errors")

// List wraps multiple errors as a single error.
type List []error

func (l List) Error() string {
	switch len(l) {
	case 0:
		return "<no errors>"
	case 1:
		return l[0].Error()
	default:
		return fmt.Sprintf("%s (and %d more errors)", l[0].Error(), len(l)-1)
	}
}

// ErrOrNil returns nil if the list is empty, or the list itself otherwise.
func (l List) ErrOrNil() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

// Append adds an error to the list and returns the updated list.
//
// Appending nil is a no-op, and appending another List concatenates the two,
// so call sites don't need their own nil or type checks:
//
//	errs = errs.Append(doStuff())
func (l List) Append(err error) List {
	if err == nil {
		return l
	}
	if err, ok := err.(List); ok {
		return append(l, err...)
	}
	return append(l, err)
}

// Trim caps the list at limit errors. A trimmed list carries
// ErrTooManyErrors as its final, limit+1-th entry.
func (l List) Trim(limit int) List {
	if len(l) <= limit {
		return l
	}
	return append(l[:limit], ErrTooManyErrors)
}
