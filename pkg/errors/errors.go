// Package errors carries the typed error vocabulary shared by services and the HTTP layer.
package errors

import (
	stdErrors "errors"
	"fmt"
	"maps"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
	CodeTimeout       Code = "TIMEOUT"
	CodeRateLimit     Code = "RATE_LIMITED"
)

// Metadata is how a code surfaces to HTTP callers.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	// ExposeMessage replaces PublicMessage with the error's own message when one is set.
	ExposeMessage bool
}

type trait uint8

const (
	retryable trait = 1 << iota
	withDetails
	withMessage
)

func describe(status int, public string, traits trait) Metadata {
	return Metadata{
		HTTPStatus:     status,
		PublicMessage:  public,
		Retryable:      traits&retryable != 0,
		DetailsAllowed: traits&withDetails != 0,
		ExposeMessage:  traits&withMessage != 0,
	}
}

var codeTable = map[Code]Metadata{
	CodeValidation:    describe(http.StatusBadRequest, "validation failed", withDetails|withMessage),
	CodeNotFound:      describe(http.StatusNotFound, "resource not found", withMessage),
	CodeConflict:      describe(http.StatusConflict, "conflict detected", withMessage),
	CodeStateConflict: describe(http.StatusUnprocessableEntity, "state transition disallowed", withDetails|withMessage),
	CodeInternal:      describe(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:    describe(http.StatusServiceUnavailable, "dependency unavailable", retryable|withDetails|withMessage),
	CodeTimeout:       describe(http.StatusGatewayTimeout, "operation timed out", retryable|withDetails|withMessage),
	CodeRateLimit:     describe(http.StatusTooManyRequests, "rate limit exceeded", retryable),
}

// MetadataFor falls back to the internal error entry for codes it does not know.
func MetadataFor(code Code) Metadata {
	if m, ok := codeTable[code]; ok {
		return m
	}
	return codeTable[CodeInternal]
}

// Error is a coded failure with an optional cause and caller-visible details.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches cause to a new coded error. A nil cause behaves like New.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{code: code, message: message, cause: cause}
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

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

// WithStep tags the pipeline stage that failed. Map details are kept; any other details are replaced.
func (e *Error) WithStep(step string) *Error {
	if e == nil {
		return nil
	}
	next := map[string]any{"step": step}
	if prev, ok := e.details.(map[string]any); ok && prev != nil {
		next = maps.Clone(prev)
		next["step"] = step
	}
	e.details = next
	return e
}

func (e *Error) Step() string {
	details, _ := e.Details().(map[string]any)
	step, _ := details["step"].(string)
	return step
}

func (e *Error) Retryable() bool {
	return MetadataFor(e.Code()).Retryable
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.code) + ": " + e.message
	if e.cause == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.cause)
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
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

func IsCode(err error, code Code) bool {
	return As(err).codeIs(code)
}

func (e *Error) codeIs(code Code) bool {
	return e != nil && e.code == code
}
