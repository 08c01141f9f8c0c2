package errors

import (
	"fmt"
	"github.com/pkg/errors"
	"net/http"
)

// StatusError is an error that carries the HTTP status code that should be sent back to the client.
type StatusError struct {
	Code  int
	msg   string
	cause error
}

func (se *StatusError) Error() string {
	if se.cause == nil {
		return se.msg
	}
	if se.msg == "" {
		return se.cause.Error()
	}
	return se.msg + ": " + se.cause.Error()
}

func (se *StatusError) Cause() error  { return se.cause }
func (se *StatusError) Unwrap() error { return se.cause }

// StatusErrorf creates a new StatusError with the given code and message.
func StatusErrorf(code int, format string, a ...any) error {
	return &StatusError{Code: code, msg: fmt.Sprintf(format, a...)}
}

// StatusWrap wraps err with a message and an HTTP status code. Wrapping a nil error returns nil.
func StatusWrap(code int, err error, message string) error {
	if err == nil {
		return nil
	}
	return &StatusError{Code: code, msg: message, cause: err}
}

// StatusWrapf is StatusWrap with a format string.
func StatusWrapf(code int, err error, format string, a ...any) error {
	return StatusWrap(code, err, fmt.Sprintf(format, a...))
}

// Status returns the HTTP status code for err. This is the code of the outermost StatusError in the chain, or
// http.StatusInternalServerError if there isn't one. A nil error is http.StatusOK.
func Status(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return http.StatusInternalServerError
}
