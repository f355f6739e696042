package domain

import (
	"fmt"
	"math"
	"time"
)

// Amount is an integer quantity of the settlement asset in its smallest unit.
type Amount int64

// MaxAmount bounds any single amount so percentage arithmetic cannot overflow.
const MaxAmount Amount = math.MaxInt64 / 100

// Status is the lifecycle state of an aggregation request.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSettled   Status = "SETTLED"
	StatusRefunding Status = "REFUNDING"
	StatusRefunded  Status = "REFUNDED"
)

// View is the payer-facing rendering of a request's state.
type View string

const (
	ViewWaiting         View = "waiting"
	ViewPartialEligible View = "partial-eligible"
	ViewSettled         View = "settled"
	ViewRefunding       View = "refunding"
	ViewRefunded        View = "refunded"
)

// BudgetState tracks the refund budget reserved at creation.
type BudgetState string

const (
	BudgetReserved BudgetState = "RESERVED"
	BudgetReleased BudgetState = "RELEASED"
	BudgetConsumed BudgetState = "CONSUMED"
)

// AggregationRequest is one payment attempt funded by contributions from
// any number of source domains.
type AggregationRequest struct {
	ID                  RequestID
	Payer               Address
	Payee               Address
	TargetAmount        Amount
	MinimumThresholdPct int
	TotalCredited       Amount // sum of the contribution ledger, filled on read
	SettledAmount       Amount
	DestinationDomain   string
	RefundDomain        string
	Deadline            time.Time
	RefundBudget        Amount
	BudgetState         BudgetState
	Status              Status
	CreatedAt           time.Time
	UpdatedAt           time.Time
	SettledAt           *time.Time
	ExpiryHandledAt     *time.Time // set once the reaper has seen the request past deadline
	Version             int64
}

// Validate ensures the request parameters are acceptable at creation time.
// All failures wrap ErrInvalidRequest.
func (r *AggregationRequest) Validate(minRefundBudget Amount, now time.Time) error {
	if err := r.Payer.Validate(); err != nil {
		return fmt.Errorf("%w: payer: %v", ErrInvalidRequest, err)
	}
	if err := r.Payee.Validate(); err != nil {
		return fmt.Errorf("%w: payee: %v", ErrInvalidRequest, err)
	}
	if r.TargetAmount <= 0 {
		return fmt.Errorf("%w: target amount must be positive", ErrInvalidRequest)
	}
	if r.TargetAmount > MaxAmount {
		return fmt.Errorf("%w: target amount exceeds %d", ErrInvalidRequest, MaxAmount)
	}
	if r.MinimumThresholdPct < 1 || r.MinimumThresholdPct > 100 {
		return fmt.Errorf("%w: minimum threshold must be between 1 and 100 percent", ErrInvalidRequest)
	}
	if r.DestinationDomain == "" {
		return fmt.Errorf("%w: destination domain is required", ErrInvalidRequest)
	}
	if r.RefundDomain == "" {
		return fmt.Errorf("%w: refund domain is required", ErrInvalidRequest)
	}
	if !r.Deadline.After(now) {
		return fmt.Errorf("%w: deadline must be in the future", ErrInvalidRequest)
	}
	if r.RefundBudget < minRefundBudget {
		return fmt.Errorf("%w: refund budget %d is below the minimum %d", ErrInvalidRequest, r.RefundBudget, minRefundBudget)
	}
	return nil
}

// SameParameters reports whether other describes the same payment as r.
// Used to make creation with a caller-supplied id idempotent.
func (r *AggregationRequest) SameParameters(other *AggregationRequest) bool {
	return r.ID == other.ID &&
		r.Payer == other.Payer &&
		r.Payee == other.Payee &&
		r.TargetAmount == other.TargetAmount &&
		r.MinimumThresholdPct == other.MinimumThresholdPct &&
		r.DestinationDomain == other.DestinationDomain &&
		r.RefundDomain == other.RefundDomain &&
		r.Deadline.Equal(other.Deadline) &&
		r.RefundBudget == other.RefundBudget
}

// ThresholdAmount is the smallest credited total that makes the request
// eligible for partial acceptance: ceil(target * pct / 100).
func (r *AggregationRequest) ThresholdAmount() Amount {
	return (r.TargetAmount*Amount(r.MinimumThresholdPct) + 99) / 100
}

// IsTerminal reports whether the request has reached SETTLED or REFUNDED.
func (r *AggregationRequest) IsTerminal() bool {
	return r.Status == StatusSettled || r.Status == StatusRefunded
}

// IsPartialEligible reports whether the payer may accept the credited total
// as final payment.
func (r *AggregationRequest) IsPartialEligible() bool {
	return r.Status == StatusPending &&
		r.MinimumThresholdPct < 100 &&
		r.TotalCredited < r.TargetAmount &&
		r.TotalCredited >= r.ThresholdAmount()
}

// IsExpired reports whether the deadline has passed at now.
func (r *AggregationRequest) IsExpired(now time.Time) bool {
	return !r.Deadline.After(now)
}

// View renders the payer-facing state.
func (r *AggregationRequest) View() View {
	switch r.Status {
	case StatusSettled:
		return ViewSettled
	case StatusRefunding:
		return ViewRefunding
	case StatusRefunded:
		return ViewRefunded
	}
	if r.IsPartialEligible() {
		return ViewPartialEligible
	}
	return ViewWaiting
}

// Excess is the credited amount beyond what was settled to the payee. It is
// returned to the payer.
func (r *AggregationRequest) Excess() Amount {
	if r.Status != StatusSettled || r.TotalCredited <= r.SettledAmount {
		return 0
	}
	return r.TotalCredited - r.SettledAmount
}

// RefundableAmount is what a refund returns to the payer: the excess of a
// settled request, otherwise everything credited.
func (r *AggregationRequest) RefundableAmount() Amount {
	if r.Status == StatusSettled {
		return r.Excess()
	}
	return r.TotalCredited
}

// CanTransition reports whether moving from the current status to next is a
// legal forward step.
func (r *AggregationRequest) CanTransition(next Status) bool {
	switch r.Status {
	case StatusPending:
		return next == StatusSettled || next == StatusRefunding
	case StatusRefunding:
		return next == StatusRefunded
	default:
		return false
	}
}

// Settle moves a pending request to SETTLED with the given amount. The
// amount is set exactly once.
func (r *AggregationRequest) Settle(amount Amount, now time.Time) error {
	if !r.CanTransition(StatusSettled) {
		return fmt.Errorf("%w: cannot settle a %s request", ErrAlreadyTerminal, r.Status)
	}
	if amount <= 0 || amount > r.TotalCredited {
		return fmt.Errorf("%w: settlement amount %d outside credited total %d", ErrNotEligible, amount, r.TotalCredited)
	}
	r.Status = StatusSettled
	r.SettledAmount = amount
	r.SettledAt = &now
	r.UpdatedAt = now
	return nil
}

// BeginRefund moves a pending request to REFUNDING.
func (r *AggregationRequest) BeginRefund(now time.Time) error {
	if !r.CanTransition(StatusRefunding) {
		return fmt.Errorf("%w: cannot refund a %s request", ErrAlreadyTerminal, r.Status)
	}
	r.Status = StatusRefunding
	r.UpdatedAt = now
	return nil
}

// CompleteRefund moves a refunding request to REFUNDED.
func (r *AggregationRequest) CompleteRefund(now time.Time) error {
	if !r.CanTransition(StatusRefunded) {
		return fmt.Errorf("%w: cannot complete refund of a %s request", ErrAlreadyTerminal, r.Status)
	}
	r.Status = StatusRefunded
	r.UpdatedAt = now
	return nil
}

// ResolveBudget records what happened to the refund budget. It is a no-op
// once the budget has left RESERVED.
func (r *AggregationRequest) ResolveBudget(consumed bool, now time.Time) bool {
	if r.BudgetState != BudgetReserved {
		return false
	}
	if consumed {
		r.BudgetState = BudgetConsumed
	} else {
		r.BudgetState = BudgetReleased
	}
	r.UpdatedAt = now
	return true
}
