package billing

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v81"
)

// Kind classifies a billing error for the HTTP layer
type Kind int

const (
	// KindBadRequest is caller error detected before any provider call
	KindBadRequest Kind = iota
	// KindProviderRejected is a request the provider refused; Message carries
	// the provider's own explanation and is safe to show the caller
	KindProviderRejected
	// KindUnavailable is a transport or provider-infrastructure failure
	KindUnavailable
)

// Error is the error type returned by all Client operations
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("billing: %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("billing: %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts a *billing.Error from an error chain
func AsError(err error) (*Error, bool) {
	var be *Error
	ok := errors.As(err, &be)
	return be, ok
}

// badRequest reports caller error without touching the provider
func badRequest(op, message string) *Error {
	return &Error{Kind: KindBadRequest, Op: op, Message: message}
}

// wrapErr maps an SDK error onto a billing error kind. A *stripe.Error means
// the provider understood and refused the request; anything else is treated
// as unavailability.
func wrapErr(op string, err error) *Error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		msg := serr.Msg
		if msg == "" {
			msg = string(serr.Code)
		}
		return &Error{Kind: KindProviderRejected, Op: op, Message: msg, Err: err}
	}
	return &Error{Kind: KindUnavailable, Op: op, Message: "billing provider unavailable", Err: err}
}
