package checkout

import (
	"errors"
	"fmt"
)

// ValidationError rejects a checkout before any external call is made.
// Field names the offending input so the UI can surface it in place.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// PersistenceError means the order row could not be written. The attempt
// is over, but the cart is kept so the customer can retry.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return "failed to place order: " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

var (
	// ErrIntentPending means an unconfirmed payment intent already exists
	// for the order; a second one must not be requested.
	ErrIntentPending = errors.New("a payment intent is already pending for this order")

	ErrOrderNotFound = errors.New("order not found")
)
