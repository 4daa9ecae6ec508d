package model

import (
    "errors"
    "fmt"
)

var (
    ErrNotFound              = errors.New("not found")
    ErrInvalidInput          = errors.New("invalid input")
    ErrConflict              = errors.New("transaction conflict")
    ErrPermissionUnavailable = errors.New("location permission unavailable")
)

// Invalidf returns an error wrapping ErrInvalidInput.
func Invalidf(format string, args ...any) error {
    return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// NotFoundf returns an error wrapping ErrNotFound.
func NotFoundf(format string, args ...any) error {
    return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
