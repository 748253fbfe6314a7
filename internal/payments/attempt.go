// Package payments holds the two payment rails: the M-Pesa push flow and
// the card intent flow. Both rails share one attempt state machine so the
// checkout flow can treat them uniformly once a terminal state is reached.
package payments

import (
	"errors"
	"time"

	"github.com/adili-jewels/storefront/internal/domain"
)

type AttemptState string

const (
	AttemptStateIdle                AttemptState = "idle"
	AttemptStateInitiating          AttemptState = "initiating"
	AttemptStatePendingConfirmation AttemptState = "pending_confirmation"
	AttemptStateSucceeded           AttemptState = "succeeded"
	AttemptStateFailed              AttemptState = "failed"
)

// ErrIllegalTransition guards the attempt lattice: succeeded is terminal,
// failed may only restart from idle.
var ErrIllegalTransition = errors.New("illegal payment attempt transition")

var attemptTransitions = map[AttemptState][]AttemptState{
	AttemptStateIdle:                {AttemptStateInitiating},
	AttemptStateInitiating:          {AttemptStatePendingConfirmation, AttemptStateFailed},
	AttemptStatePendingConfirmation: {AttemptStateSucceeded, AttemptStateFailed},
	AttemptStateFailed:              {AttemptStateIdle},
}

func (s AttemptState) CanTransitionTo(next AttemptState) bool {
	for _, allowed := range attemptTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s AttemptState) IsTerminal() bool {
	return s == AttemptStateSucceeded || s == AttemptStateFailed
}

// Attempt tracks one authorization attempt for a checkout session. At most
// one attempt per session is ever in flight.
type Attempt struct {
	SessionID string               `json:"session_id"`
	Method    domain.PaymentMethod `json:"method"`
	State     AttemptState         `json:"state"`
	Amount    int64                `json:"amount"`
	Phone     string               `json:"phone,omitempty"`
	Reference string               `json:"reference,omitempty"`
	Reason    string               `json:"reason,omitempty"`
	UpdatedAt time.Time            `json:"updated_at"`
}

func (a *Attempt) transition(next AttemptState) error {
	if !a.State.CanTransitionTo(next) {
		return ErrIllegalTransition
	}
	a.State = next
	a.UpdatedAt = time.Now().UTC()
	return nil
}
