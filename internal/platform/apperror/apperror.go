package apperror

import (
	"errors"
	"fmt"
)

// Code classifies an error into the API's failure taxonomy. Handlers map
// codes to HTTP statuses; repositories re-classify storage errors into codes
// so raw driver errors never cross the API boundary.
type Code string

const (
	CodeNotFound            Code = "not_found"
	CodeValidationFailed    Code = "validation_failed"
	CodeDuplicateKey        Code = "duplicate_key"
	CodeUnauthorized        Code = "unauthorized"
	CodeForbidden           Code = "forbidden"
	CodeInvalidTransition   Code = "invalid_transition"
	CodeFolioSpaceExhausted Code = "folio_space_exhausted"
	CodeInternal            Code = "internal"
)

// Error is a typed application error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...interface{}) *Error {
	return New(CodeNotFound, format, args...)
}

func ValidationFailed(format string, args ...interface{}) *Error {
	return New(CodeValidationFailed, format, args...)
}

func DuplicateKey(format string, args ...interface{}) *Error {
	return New(CodeDuplicateKey, format, args...)
}

func InvalidTransition(format string, args ...interface{}) *Error {
	return New(CodeInvalidTransition, format, args...)
}

// CodeOf extracts the taxonomy code from err, or CodeInternal if err is not
// an application error.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
