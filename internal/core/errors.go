package core

import (
	"errors"
	"fmt"
)

// Kind classifies where in the system an error originated. Handlers and
// the task worker branch on kinds, never on message text.
type Kind string

const (
	KindConfig    Kind = "config"
	KindFetch     Kind = "fetch"
	KindParse     Kind = "parse"
	KindChunking  Kind = "chunking"
	KindEmbedding Kind = "embedding"
	KindDatabase  Kind = "database"
	KindSearch    Kind = "search"
)

// Error is the typed error used across the pipeline and stores.
type Error struct {
	Kind    Kind
	Message string
	Details string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a typed error.
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Ef builds a typed error with a formatted detail string.
func Ef(kind Kind, message, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: message, Details: fmt.Sprintf(format, args...)}
}

// Wrap builds a typed error around a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// IsKind reports whether err (or anything it wraps) is a typed error of
// the given kind.
func IsKind(err error, kind Kind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}

// KindOf returns the kind of a typed error, or "" for untyped errors.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// FilingLimitError signals that the registry is at capacity. It aborts
// the whole ingestion task rather than a single filing.
type FilingLimitError struct {
	Current int
	Max     int
}

func (e *FilingLimitError) Error() string {
	return fmt.Sprintf("database: filing limit reached (%d/%d), remove filings before ingesting more", e.Current, e.Max)
}

// IsFilingLimit reports whether err is (or wraps) a FilingLimitError.
func IsFilingLimit(err error) bool {
	var le *FilingLimitError
	return errors.As(err, &le)
}
