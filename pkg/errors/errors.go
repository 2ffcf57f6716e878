// Package errors carries the typed error codes every layer returns and the
// HTTP metadata the API maps them to.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeIdempotency  Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit    Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal     Code = "INTERNAL_ERROR"
	CodeDependency   Code = "DEPENDENCY_ERROR"
)

// Metadata describes how a code is surfaced to API clients. Error messages
// and details are only echoed for codes where they are safe to show.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	ShowMessage    bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:   {http.StatusBadRequest, false, "validation failed", true, true},
	CodeUnauthorized: {http.StatusUnauthorized, false, "authentication required", false, true},
	CodeForbidden:    {http.StatusForbidden, false, "access denied", false, true},
	CodeNotFound:     {http.StatusNotFound, false, "resource not found", false, true},
	CodeConflict:     {http.StatusConflict, false, "conflict detected", true, true},
	CodeIdempotency:  {http.StatusConflict, false, "idempotency key reused", true, true},
	// Points caps reset at the day boundary.
	CodeRateLimit:  {http.StatusTooManyRequests, false, "daily limit reached, try again tomorrow", true, true},
	CodeInternal:   {http.StatusInternalServerError, true, "internal server error", false, false},
	CodeDependency: {http.StatusServiceUnavailable, true, "dependency unavailable", true, false},
}

// PublicMessage is what a client sees for err's code: the error's own
// message where the code allows it, the generic one otherwise.
func PublicMessage(err *Error) string {
	meta := MetadataFor(err.Code())
	if meta.ShowMessage && err.Message() != "" {
		return err.Message()
	}
	return meta.PublicMessage
}

// MetadataFor falls back to CodeInternal for codes it does not know.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

func (c Code) HTTPStatus() int { return MetadataFor(c).HTTPStatus }

// Error is a coded error with an optional client-visible details payload.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap keeps err reachable through errors.Is and errors.As. A nil err
// behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails replaces the details payload.
func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

// WithField adds one key to a map details payload, starting a new map when
// none is set. Non-map details are replaced.
func (e *Error) WithField(key string, value any) *Error {
	if e == nil {
		return nil
	}
	fields, ok := e.details.(map[string]any)
	if !ok {
		fields = map[string]any{}
	}
	fields[key] = value
	e.details = fields
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.code) + ": " + e.message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether the outermost *Error in err's chain has code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// Retryable reports whether a client may retry the failed call as is.
// Untyped errors count as internal and so retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if typed := As(err); typed != nil {
		return MetadataFor(typed.code).Retryable
	}
	return MetadataFor(CodeInternal).Retryable
}
