package dispatch

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrAlreadyAssigned   = errors.New("order already assigned")
	ErrOrderUnavailable  = errors.New("order is not available for assignment")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDeliveryClosed    = errors.New("delivery is closed")
)
