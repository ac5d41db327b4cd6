package domain

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies failures returned by the ratings core.
type Code string

const (
	CodeNotFound    Code = "not_found"
	CodeValidation  Code = "validation"
	CodeConflict    Code = "conflict"
	CodeRetryable   Code = "retryable"
	CodeUnavailable Code = "unavailable"
	// CodeCanceled means the caller's context ended before the call finished.
	CodeCanceled Code = "canceled"
	CodeInternal Code = "internal"
)

var (
	ErrAthleteNotFound = errors.New("athlete not found")
	ErrRatingNotFound  = errors.New("rating not found")
	ErrValidation      = errors.New("invalid input")
	// ErrConflict means another transaction changed the aggregate first.
	ErrConflict    = errors.New("transaction conflict")
	ErrUnavailable = errors.New("store unavailable")
)

// Error carries the failing operation and its classification.
type Error struct {
	Op   string
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap annotates err with op, keeping the code CodeOf would report for it.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Code: CodeOf(err), Err: err}
}

// CodeOf classifies err. An explicit *Error code wins over the sentinels it
// wraps.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	switch {
	case errors.Is(err, ErrAthleteNotFound), errors.Is(err, ErrRatingNotFound):
		return CodeNotFound
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	}
	return CodeInternal
}

// IsCode reports whether err is classified as code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether the caller may safely retry the whole call.
func IsRetryable(err error) bool {
	return IsCode(err, CodeRetryable)
}
