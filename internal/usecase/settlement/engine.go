// Package settlement holds the decision logic that turns a request and its
// credited total into settle, wait or refund. Nothing here performs I/O.
package settlement

import (
	"fmt"
	"time"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

// Action is what the caller should do with a request.
type Action string

const (
	// ActionNone means the request is not in a state the decision applies to.
	ActionNone Action = "NONE"
	// ActionWait keeps the request pending.
	ActionWait Action = "WAIT"
	// ActionPartialEligible keeps the request pending and lets the payer
	// accept the credited total.
	ActionPartialEligible Action = "PARTIAL_ELIGIBLE"
	// ActionSettle moves the request to SETTLED with Decision.Amount.
	ActionSettle Action = "SETTLE"
	// ActionRefund moves the request to REFUNDING for Decision.Amount.
	ActionRefund Action = "REFUND"
)

// Kind labels why a request settled.
type Kind string

const (
	KindFull    Kind = "full"
	KindPartial Kind = "partial"
	KindExpiry  Kind = "expiry"
)

// Decision is the outcome of evaluating a request.
type Decision struct {
	Action Action
	Kind   Kind
	Amount domain.Amount // settled or refunded amount
	Excess domain.Amount // credited beyond target, returned to the payer
}

// Evaluate decides what a new contribution means for a pending request.
// Overshoot settles at target and reports the difference as excess.
func Evaluate(req *domain.AggregationRequest) Decision {
	if req.Status != domain.StatusPending {
		return Decision{Action: ActionNone}
	}

	if req.TotalCredited >= req.TargetAmount {
		return Decision{
			Action: ActionSettle,
			Kind:   KindFull,
			Amount: req.TargetAmount,
			Excess: req.TotalCredited - req.TargetAmount,
		}
	}

	if req.IsPartialEligible() {
		return Decision{Action: ActionPartialEligible}
	}

	return Decision{Action: ActionWait}
}

// EvaluateExpiry decides what happens to a pending request at now. Before
// the deadline it returns ActionNone.
func EvaluateExpiry(req *domain.AggregationRequest, now time.Time) Decision {
	if req.Status != domain.StatusPending || !req.IsExpired(now) {
		return Decision{Action: ActionNone}
	}

	d := Evaluate(req)
	switch d.Action {
	case ActionSettle:
		d.Kind = KindExpiry
		return d
	case ActionPartialEligible:
		// payer consent is required to settle short of target
		return d
	}

	return Decision{Action: ActionRefund, Amount: req.TotalCredited}
}

// CheckAcceptPartial validates a payer's acceptance of the credited total and
// returns the amount to settle.
func CheckAcceptPartial(req *domain.AggregationRequest, caller domain.Address) (domain.Amount, error) {
	if caller != req.Payer {
		return 0, fmt.Errorf("%w: only the payer may accept a partial payment", domain.ErrUnauthorized)
	}
	if req.Status != domain.StatusPending {
		return 0, fmt.Errorf("%w: request is %s", domain.ErrNotEligible, req.Status)
	}
	if req.TotalCredited < req.ThresholdAmount() {
		return 0, fmt.Errorf("%w: credited %d is below the threshold %d",
			domain.ErrNotEligible, req.TotalCredited, req.ThresholdAmount())
	}

	amount := req.TotalCredited
	if amount > req.TargetAmount {
		amount = req.TargetAmount
	}
	return amount, nil
}

// CheckRefund validates a payer's refund request. A request already
// refunding passes so the call can be retried.
func CheckRefund(req *domain.AggregationRequest, caller domain.Address, now time.Time) error {
	if caller != req.Payer {
		return fmt.Errorf("%w: only the payer may request a refund", domain.ErrUnauthorized)
	}

	switch req.Status {
	case domain.StatusRefunding:
		return nil
	case domain.StatusSettled, domain.StatusRefunded:
		return fmt.Errorf("%w: request is %s", domain.ErrAlreadyTerminal, req.Status)
	}

	// a funded request settles, even past its deadline
	if req.TotalCredited >= req.TargetAmount {
		return fmt.Errorf("%w: request is fully funded", domain.ErrNotEligible)
	}
	if req.IsExpired(now) || req.TotalCredited < req.ThresholdAmount() {
		return nil
	}
	return fmt.Errorf("%w: request has reached its threshold and the deadline has not passed", domain.ErrNotEligible)
}
