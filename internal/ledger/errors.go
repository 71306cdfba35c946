package ledger

import (
	"errors"
	"fmt"
)

// Validation failures. They are terminal: callers render the message and
// never retry. Anything else returned by the ledger is an infrastructure error.
var (
	ErrInvalidPoints      = errors.New("invalid points amount")
	ErrInvalidCourseType  = errors.New("invalid course type")
	ErrAccountNotFound    = errors.New("points account not found")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrCouponNotFound     = errors.New("coupon not found")
	ErrCouponUsed         = errors.New("coupon already used")
	ErrCouponNotOwned     = errors.New("coupon belongs to another account")
	ErrOperationKeyInUse  = errors.New("operation key used by another account")
)

// ValidationError carries the user-facing message for a validation failure.
type ValidationError struct {
	Err     error
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(kind error, format string, args ...any) error {
	return &ValidationError{Err: kind, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a terminal validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Message returns the user-facing message of a validation error, or "" otherwise.
func Message(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	return ""
}
