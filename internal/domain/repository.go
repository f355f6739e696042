package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RequestRepository defines persistence for aggregation requests.
// Implementations fill TotalCredited from the contribution ledger on every
// read; the request row never stores its own copy.
type RequestRepository interface {
	// Create inserts a new request. Returns ErrDuplicate if the id exists.
	Create(ctx context.Context, req *AggregationRequest) error

	// GetByID retrieves a request. Returns ErrNotFound if unknown.
	GetByID(ctx context.Context, id RequestID) (*AggregationRequest, error)

	// Update writes status, settled amount, budget state and timestamps,
	// guarded by req.Version. Returns ErrConflict if the stored version moved
	// on, and bumps req.Version on success.
	Update(ctx context.Context, req *AggregationRequest) error

	// ListExpired returns PENDING requests with deadline <= now that the
	// reaper has not yet handled, oldest deadline first.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*AggregationRequest, error)

	// ListByStatus returns requests in the given status, oldest first.
	ListByStatus(ctx context.Context, status Status, limit int) ([]*AggregationRequest, error)
}

// ContributionRepository is the append-only contribution ledger.
type ContributionRepository interface {
	// Append stores a record. Returns ErrDuplicate if the confirmation key
	// was already applied to the request.
	Append(ctx context.Context, rec *ContributionRecord) error

	// GetByKey returns the record for a confirmation key, or ErrNotFound.
	GetByKey(ctx context.Context, requestID RequestID, confirmationKey string) (*ContributionRecord, error)

	// ListByRequest returns a request's records in arrival order.
	ListByRequest(ctx context.Context, requestID RequestID) ([]*ContributionRecord, error)

	// Total sums a request's records.
	Total(ctx context.Context, requestID RequestID) (Amount, error)
}

// SettlementRepository persists the two-phase execution journal.
type SettlementRepository interface {
	// Get returns the settlement journal, or ErrNotFound before phase 1.
	Get(ctx context.Context, requestID RequestID) (*Settlement, error)

	// CommitPhase1 writes the phase 1 marker together with its event.
	// Returns ErrDuplicate if phase 1 was already committed.
	CommitPhase1(ctx context.Context, s *Settlement, event *Event) error

	// UpdatePhase2 writes the phase 2 fields. When event is non-nil it is
	// appended to the outbox in the same write.
	UpdatePhase2(ctx context.Context, s *Settlement, event *Event) error

	// ListUncommitted returns SETTLED requests that have no phase 1 marker.
	ListUncommitted(ctx context.Context, limit int) ([]RequestID, error)

	// ListPhase2Due returns PENDING phase 2 journals due at now.
	ListPhase2Due(ctx context.Context, now time.Time, limit int) ([]*Settlement, error)

	// SaveLegs stores the full plan of a request. Returns ErrDuplicate if a
	// plan was already saved.
	SaveLegs(ctx context.Context, legs []*LegRecord) error

	// ListLegs returns saved legs ordered by index.
	ListLegs(ctx context.Context, requestID RequestID) ([]*LegRecord, error)

	// MarkLegSent records the transport handle of a leg.
	MarkLegSent(ctx context.Context, requestID RequestID, index int, handle TransferHandle, at time.Time) error

	// ConfirmLeg marks the leg with the given handle confirmed. Reports
	// whether a leg matched.
	ConfirmLeg(ctx context.Context, handle TransferHandle, at time.Time) (bool, error)
}

// RefundRepository persists refund dispatch journals.
type RefundRepository interface {
	// Create stores a refund. Returns ErrDuplicate if one of the same kind
	// exists for the request.
	Create(ctx context.Context, r *Refund) error

	// Get returns a refund, or ErrNotFound.
	Get(ctx context.Context, requestID RequestID, kind RefundKind) (*Refund, error)

	// ListByRequest returns every refund of a request.
	ListByRequest(ctx context.Context, requestID RequestID) ([]*Refund, error)

	// Update writes dispatch progress. When event is non-nil it is appended
	// to the outbox in the same write.
	Update(ctx context.Context, r *Refund, event *Event) error

	// ListDue returns PENDING refunds due at now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Refund, error)

	// Confirm marks the refund with the given handle confirmed. Reports
	// whether a refund matched.
	Confirm(ctx context.Context, handle TransferHandle, at time.Time) (bool, error)
}

// PayeeRepository persists payee destination preferences.
type PayeeRepository interface {
	// Upsert creates or replaces a payee's configuration.
	Upsert(ctx context.Context, cfg *PayeeConfig) error

	// GetByPayee returns the configuration, or ErrNotFound.
	GetByPayee(ctx context.Context, payee Address) (*PayeeConfig, error)
}

// OutboxRepository stores durable events until they are published.
type OutboxRepository interface {
	// Append stores an event.
	Append(ctx context.Context, event *Event) error

	// ListUnpublished returns events not yet published, oldest first.
	ListUnpublished(ctx context.Context, limit int) ([]*Event, error)

	// MarkPublished records a successful publish.
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
}
