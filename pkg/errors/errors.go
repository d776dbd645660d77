package apperrors

import "errors"

// Standardized Order Management Errors
var (
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrTransient            = errors.New("transient storage error")
	ErrFatal                = errors.New("fatal storage error")
	ErrInvalidState         = errors.New("invalid order state")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrValidationFailed     = errors.New("validation failed")
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrUnavailable          = errors.New("service unavailable")
)
