package booking

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrResourceUnavailable     = errors.New("resource unavailable")
	ErrConfiguration           = errors.New("configuration error")
	ErrPaymentInitiationFailed = errors.New("payment initiation failed")
	ErrReconciliationConflict  = errors.New("reconciliation conflict")
	ErrValidation              = errors.New("validation error")
	ErrNotFound                = errors.New("not found")
	ErrForbidden               = errors.New("forbidden")
)

// Error is a domain failure with a message safe to show callers. Kind is
// one of the sentinels above; Err keeps the internal cause for logs.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func Unavailable(message string) error {
	return newError(ErrResourceUnavailable, message, nil)
}

func Invalid(message string) error {
	return newError(ErrValidation, message, nil)
}

func NotFound(message string) error {
	return newError(ErrNotFound, message, nil)
}

func Forbidden(message string) error {
	return newError(ErrForbidden, message, nil)
}

func Misconfigured(cause error) error {
	return newError(ErrConfiguration, "service is temporarily unavailable", cause)
}

func PaymentFailed(cause error) error {
	return newError(ErrPaymentInitiationFailed, "payment could not be started, please try again", cause)
}

func Conflict(message string) error {
	return newError(ErrReconciliationConflict, message, nil)
}

// HTTPStatus maps a domain error to a response status.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrResourceUnavailable):
		return http.StatusConflict
	case errors.Is(err, ErrPaymentInitiationFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrReconciliationConflict):
		return http.StatusOK
	}
	return http.StatusInternalServerError
}

// PublicMessage never leaks persistence or provider detail.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
