package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

type settlementRepository struct {
	s *Store
}

// NewSettlementRepository creates the two-phase journal over s.
func NewSettlementRepository(s *Store) domain.SettlementRepository {
	return &settlementRepository{s: s}
}

func (r *settlementRepository) Get(_ context.Context, requestID domain.RequestID) (*domain.Settlement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stored, ok := r.s.settlements[requestID]
	if !ok {
		return nil, fmt.Errorf("settlement %s: %w", requestID, domain.ErrNotFound)
	}
	out := *stored
	return &out, nil
}

func (r *settlementRepository) CommitPhase1(_ context.Context, st *domain.Settlement, event *domain.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.settlements[st.RequestID]; ok {
		return fmt.Errorf("settlement %s: %w", st.RequestID, domain.ErrDuplicate)
	}
	stored := *st
	r.s.settlements[st.RequestID] = &stored
	r.s.appendEvent(event)
	return nil
}

func (r *settlementRepository) UpdatePhase2(_ context.Context, st *domain.Settlement, event *domain.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.settlements[st.RequestID]
	if !ok {
		return fmt.Errorf("settlement %s: %w", st.RequestID, domain.ErrNotFound)
	}
	stored.Phase2State = st.Phase2State
	stored.Phase2Attempts = st.Phase2Attempts
	stored.Phase2NextAttemptAt = st.Phase2NextAttemptAt
	stored.Phase2LastError = st.Phase2LastError
	stored.UpdatedAt = st.UpdatedAt
	r.s.appendEvent(event)
	return nil
}

func (r *settlementRepository) ListUncommitted(_ context.Context, limit int) ([]domain.RequestID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var pending []*domain.AggregationRequest
	for id, req := range r.s.requests {
		if req.Status != domain.StatusSettled {
			continue
		}
		if _, ok := r.s.settlements[id]; !ok {
			pending = append(pending, req)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].UpdatedAt.Before(pending[j].UpdatedAt)
	})

	pending = truncate(pending, limit)
	ids := make([]domain.RequestID, len(pending))
	for i, req := range pending {
		ids[i] = req.ID
	}
	return ids, nil
}

func (r *settlementRepository) ListPhase2Due(_ context.Context, now time.Time, limit int) ([]*domain.Settlement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.Settlement
	for _, st := range r.s.settlements {
		if st.Phase2State == domain.Phase2Pending && !st.Phase2NextAttemptAt.After(now) {
			c := *st
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Phase2NextAttemptAt.Before(out[j].Phase2NextAttemptAt)
	})
	return truncate(out, limit), nil
}

func (r *settlementRepository) SaveLegs(_ context.Context, legs []*domain.LegRecord) error {
	if len(legs) == 0 {
		return nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id := legs[0].RequestID
	if len(r.s.legs[id]) > 0 {
		return fmt.Errorf("dispatch plan %s: %w", id, domain.ErrDuplicate)
	}
	stored := make([]*domain.LegRecord, len(legs))
	for i, leg := range legs {
		c := *leg
		stored[i] = &c
	}
	r.s.legs[id] = stored
	return nil
}

func (r *settlementRepository) ListLegs(_ context.Context, requestID domain.RequestID) ([]*domain.LegRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stored := r.s.legs[requestID]
	out := make([]*domain.LegRecord, len(stored))
	for i, leg := range stored {
		c := *leg
		out[i] = &c
	}
	return out, nil
}

func (r *settlementRepository) MarkLegSent(_ context.Context, requestID domain.RequestID, index int, handle domain.TransferHandle, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, leg := range r.s.legs[requestID] {
		if leg.Index == index {
			leg.Handle = handle
			leg.SentAt = &at
			return nil
		}
	}
	return fmt.Errorf("dispatch leg %s/%d: %w", requestID, index, domain.ErrNotFound)
}

func (r *settlementRepository) ConfirmLeg(_ context.Context, handle domain.TransferHandle, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, legs := range r.s.legs {
		for _, leg := range legs {
			if leg.Handle != handle {
				continue
			}
			if leg.ConfirmedAt == nil {
				leg.ConfirmedAt = &at
			}
			return true, nil
		}
	}
	return false, nil
}

type refundRepository struct {
	s *Store
}

// NewRefundRepository creates the refund journal over s.
func NewRefundRepository(s *Store) domain.RefundRepository {
	return &refundRepository{s: s}
}

func (r *refundRepository) Create(_ context.Context, rf *domain.Refund) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	k := refundKey{requestID: rf.RequestID, kind: rf.Kind}
	if _, ok := r.s.refunds[k]; ok {
		return fmt.Errorf("%s refund %s: %w", rf.Kind, rf.RequestID, domain.ErrDuplicate)
	}
	stored := *rf
	r.s.refunds[k] = &stored
	return nil
}

func (r *refundRepository) Get(_ context.Context, requestID domain.RequestID, kind domain.RefundKind) (*domain.Refund, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stored, ok := r.s.refunds[refundKey{requestID: requestID, kind: kind}]
	if !ok {
		return nil, fmt.Errorf("%s refund %s: %w", kind, requestID, domain.ErrNotFound)
	}
	out := *stored
	return &out, nil
}

func (r *refundRepository) ListByRequest(_ context.Context, requestID domain.RequestID) ([]*domain.Refund, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.Refund
	for _, kind := range []domain.RefundKind{domain.RefundFull, domain.RefundExcess} {
		if stored, ok := r.s.refunds[refundKey{requestID: requestID, kind: kind}]; ok {
			c := *stored
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *refundRepository) Update(_ context.Context, rf *domain.Refund, event *domain.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.refunds[refundKey{requestID: rf.RequestID, kind: rf.Kind}]
	if !ok {
		return fmt.Errorf("%s refund %s: %w", rf.Kind, rf.RequestID, domain.ErrNotFound)
	}
	stored.Handle = rf.Handle
	stored.State = rf.State
	stored.Attempts = rf.Attempts
	stored.NextAttemptAt = rf.NextAttemptAt
	stored.LastError = rf.LastError
	stored.UpdatedAt = rf.UpdatedAt
	r.s.appendEvent(event)
	return nil
}

func (r *refundRepository) ListDue(_ context.Context, now time.Time, limit int) ([]*domain.Refund, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.Refund
	for _, rf := range r.s.refunds {
		if rf.Due(now) {
			c := *rf
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextAttemptAt.Before(out[j].NextAttemptAt)
	})
	return truncate(out, limit), nil
}

func (r *refundRepository) Confirm(_ context.Context, handle domain.TransferHandle, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, rf := range r.s.refunds {
		if rf.Handle == handle && rf.State != domain.RefundPending {
			rf.State = domain.RefundConfirmed
			rf.UpdatedAt = at
			return true, nil
		}
	}
	return false, nil
}

type payeeRepository struct {
	s *Store
}

// NewPayeeRepository creates a payee configuration repository over s.
func NewPayeeRepository(s *Store) domain.PayeeRepository {
	return &payeeRepository{s: s}
}

func (r *payeeRepository) Upsert(_ context.Context, cfg *domain.PayeeConfig) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored := *cfg
	stored.Domains = append([]domain.PayeeDomain(nil), cfg.Domains...)
	r.s.payees[cfg.Payee] = &stored
	return nil
}

func (r *payeeRepository) GetByPayee(_ context.Context, payee domain.Address) (*domain.PayeeConfig, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stored, ok := r.s.payees[payee]
	if !ok {
		return nil, fmt.Errorf("payee %s: %w", payee, domain.ErrNotFound)
	}
	out := *stored
	out.Domains = append([]domain.PayeeDomain(nil), stored.Domains...)
	return &out, nil
}

type outboxRepository struct {
	s *Store
}

// NewOutboxRepository creates the event outbox over s.
func NewOutboxRepository(s *Store) domain.OutboxRepository {
	return &outboxRepository{s: s}
}

func (r *outboxRepository) Append(_ context.Context, event *domain.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.appendEvent(event)
	return nil
}

func (r *outboxRepository) ListUnpublished(_ context.Context, limit int) ([]*domain.Event, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.Event
	for _, e := range r.s.outbox {
		if e.PublishedAt == nil {
			c := *e
			out = append(out, &c)
		}
	}
	return truncate(out, limit), nil
}

func (r *outboxRepository) MarkPublished(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	i, ok := r.s.outboxIndex[id]
	if !ok {
		return fmt.Errorf("event %s: %w", id, domain.ErrNotFound)
	}
	r.s.outbox[i].PublishedAt = &at
	return nil
}
