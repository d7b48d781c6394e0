package auth

import (
	"fmt"

	"auditdesk.io/internal/domain"
)

var (
	errCodeExpired    = fmt.Errorf("%w: code is invalid or expired", domain.ErrExpired)
	errCodeMismatch   = fmt.Errorf("%w: code does not match", domain.ErrInvalidCode)
	errSessionInvalid = fmt.Errorf("%w: session is invalid or expired", domain.ErrUnauthorized)
)
