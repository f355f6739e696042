package domain

import "time"

// Phase2State tracks the non-critical redistribution after payment.
type Phase2State string

const (
	Phase2Pending Phase2State = "PENDING"
	Phase2Done    Phase2State = "DONE"
	Phase2Skipped Phase2State = "SKIPPED" // payee has nothing to redistribute
)

// Settlement is the durable journal of a settled request's execution. Its
// existence is the "phase 1 committed" marker; phase 2 fields are bookkeeping
// for retries.
type Settlement struct {
	RequestID           RequestID
	Phase1CommittedAt   time.Time
	Phase1Handle        TransferHandle
	Phase2State         Phase2State
	Phase2Attempts      int
	Phase2NextAttemptAt time.Time
	Phase2LastError     string
	UpdatedAt           time.Time
}

// LegRecord journals one dispatch leg of phase 2. The full plan is saved
// before any leg is sent so retries replay the same legs.
type LegRecord struct {
	RequestID   RequestID
	Index       int
	Domain      string
	Account     string
	Amount      Amount
	Mode        TransportMode
	Handle      TransferHandle
	SentAt      *time.Time
	ConfirmedAt *time.Time
}

// Sent reports whether the leg has been handed to its transport.
func (l *LegRecord) Sent() bool {
	return l.SentAt != nil
}

// Leg converts the record back to a plan leg.
func (l *LegRecord) Leg() DispatchLeg {
	return DispatchLeg{
		Index:   l.Index,
		Domain:  l.Domain,
		Account: l.Account,
		Amount:  l.Amount,
		Mode:    l.Mode,
	}
}

// RefundKind separates a full refund of a failed request from the return of
// overshoot on a settled one.
type RefundKind string

const (
	RefundFull   RefundKind = "FULL"
	RefundExcess RefundKind = "EXCESS"
)

// RefundState is the dispatch progress of a refund.
type RefundState string

const (
	RefundPending   RefundState = "PENDING"
	RefundSent      RefundState = "SENT"
	RefundConfirmed RefundState = "CONFIRMED"
)

// Refund is the journal of returning funds to the payer.
type Refund struct {
	RequestID     RequestID
	Kind          RefundKind
	Amount        Amount
	Domain        string
	Handle        TransferHandle
	State         RefundState
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Due reports whether a pending refund may be attempted at now.
func (r *Refund) Due(now time.Time) bool {
	return r.State == RefundPending && !r.NextAttemptAt.After(now)
}
