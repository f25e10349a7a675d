// Package apperr defines the error kinds shared by services and mapped to HTTP status by the API.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalid      = errors.New("invalid request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("already exists")
	ErrConflict     = errors.New("conflict")
)

// Invalid returns an ErrInvalid carrying a caller-facing message.
func Invalid(format string, args ...any) error {
	return &kindError{kind: ErrInvalid, msg: fmt.Sprintf(format, args...)}
}

// Forbidden returns an ErrForbidden carrying a caller-facing message.
func Forbidden(format string, args ...any) error {
	return &kindError{kind: ErrForbidden, msg: fmt.Sprintf(format, args...)}
}

// NotFound returns an ErrNotFound naming the missing thing.
func NotFound(what string) error {
	return &kindError{kind: ErrNotFound, msg: what + " not found"}
}

// Duplicate returns an ErrDuplicate carrying a caller-facing message.
func Duplicate(format string, args ...any) error {
	return &kindError{kind: ErrDuplicate, msg: fmt.Sprintf(format, args...)}
}

// Conflict returns an ErrConflict carrying a caller-facing message.
func Conflict(format string, args ...any) error {
	return &kindError{kind: ErrConflict, msg: fmt.Sprintf(format, args...)}
}

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// Status maps an error to the HTTP status its kind implies; 500 for unknown errors.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
