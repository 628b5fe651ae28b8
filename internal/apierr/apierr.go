// Package apierr defines the {error, code} envelope returned by the HTTP
// façade and the error-kind codes the core distinguishes.
package apierr

import (
	"errors"
	"net/http"
)

// Error is a code-carrying error the HTTP layer renders as the envelope
// {error: Message, code: Code}.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Error codes.
const (
	CodeSyncError        = "SYNC_ERROR"
	CodeFetchError       = "FETCH_ERROR"
	CodeModelFetchFailed = "MODEL_FETCH_FAILED"
	CodeQueueError       = "QUEUE_ERROR"
	CodeValidationError  = "VALIDATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeConfigError      = "CONFIG_ERROR"
	CodeInternalError    = "INTERNAL_ERROR"
)

// statusByCode maps each code to the HTTP status the envelope is served
// with.
var statusByCode = map[string]int{
	CodeSyncError:        http.StatusBadGateway,
	CodeFetchError:       http.StatusBadGateway,
	CodeModelFetchFailed: http.StatusUnprocessableEntity,
	CodeQueueError:       http.StatusInternalServerError,
	CodeValidationError:  http.StatusBadRequest,
	CodeNotFound:         http.StatusNotFound,
	CodeConfigError:      http.StatusInternalServerError,
	CodeInternalError:    http.StatusInternalServerError,
}

// StatusFor returns the HTTP status for a code, defaulting to 500 for an
// unrecognized or empty code.
func StatusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New builds an *Error with code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error from an existing error, preserving its message.
func Wrap(code string, err error) *Error {
	return &Error{Code: code, Message: err.Error()}
}

// As reports whether err is (or wraps) an *Error and returns it.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
