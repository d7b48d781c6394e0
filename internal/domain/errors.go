package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrPermission   = errors.New("permission denied")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidCode  = errors.New("invalid code")
	ErrInternal     = errors.New("internal error")
)

// PermissionError is returned by role and confidentiality gates. Confidential
// marks denials caused by the Human Resources rule so clients can tell the
// user to contact a manager instead of showing a generic error.
type PermissionError struct {
	Reason       string
	Confidential bool
}

func (e *PermissionError) Error() string {
	if e.Reason == "" {
		return ErrPermission.Error()
	}
	return fmt.Sprintf("%s: %s", ErrPermission, e.Reason)
}

func (e *PermissionError) Is(target error) bool {
	return target == ErrPermission
}

// Invalid wraps ErrValidation with a message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsConfidential reports whether err is a confidentiality denial.
func IsConfidential(err error) bool {
	var perr *PermissionError
	return errors.As(err, &perr) && perr.Confidential
}
