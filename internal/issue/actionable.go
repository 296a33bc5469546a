// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"strconv"
	"strings"
)

// ActionableError is a failure the user can act on. It renders as
//
//	cannot <operation> <resource>: <cause>
//
// followed, in Format, by one hint per line.
type ActionableError struct {
	// Operation is a verb phrase such as "load configuration".
	Operation string
	// Resource is the file or entity involved; it may be empty.
	Resource string
	// Hints tell the user what to try next.
	Hints []string
	Cause error
}

// NewActionableError returns an ActionableError for operation on resource
// caused by cause. cause may be nil.
func NewActionableError(operation, resource string, cause error, hints ...string) *ActionableError {
	return &ActionableError{Operation: operation, Resource: resource, Hints: hints, Cause: cause}
}

func (e *ActionableError) Error() string {
	var b strings.Builder
	b.WriteString("cannot ")
	b.WriteString(e.Operation)
	if e.Resource != "" {
		b.WriteString(" " + strconv.Quote(e.Resource))
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the cause.
func (e *ActionableError) Unwrap() error { return e.Cause }

// HasHints reports whether the error carries hints.
func (e *ActionableError) HasHints() bool { return len(e.Hints) > 0 }

// Format renders the message and the hints. With verbose set, every error
// of the cause chain follows on its own numbered line.
func (e *ActionableError) Format(verbose bool) string {
	var b strings.Builder
	b.WriteString(e.Error())
	for _, hint := range e.Hints {
		b.WriteString("\n  hint: " + hint)
	}
	if !verbose || e.Cause == nil {
		return b.String()
	}
	b.WriteString("\n\ncaused by:")
	for i, err := 1, e.Cause; err != nil; i, err = i+1, errors.Unwrap(err) {
		b.WriteString("\n  " + strconv.Itoa(i) + ". " + err.Error())
	}
	return b.String()
}
