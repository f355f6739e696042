package memory

import (
	"context"
	"fmt"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

type contributionRepository struct {
	s *Store
}

// NewContributionRepository creates the append-only contribution ledger over s.
func NewContributionRepository(s *Store) domain.ContributionRepository {
	return &contributionRepository{s: s}
}

func (r *contributionRepository) Append(_ context.Context, rec *domain.ContributionRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	req, ok := r.s.requests[rec.RequestID]
	if !ok {
		return fmt.Errorf("request %s: %w", rec.RequestID, domain.ErrNotFound)
	}
	if req.Status != domain.StatusPending {
		return fmt.Errorf("request %s is %s: %w", rec.RequestID, req.Status, domain.ErrAlreadyTerminal)
	}
	k := contributionKey{requestID: rec.RequestID, key: rec.ConfirmationKey}
	if _, ok := r.s.byKey[k]; ok {
		return fmt.Errorf("confirmation %s: %w", rec.ConfirmationKey, domain.ErrDuplicate)
	}

	stored := *rec
	r.s.byKey[k] = &stored
	r.s.contributions[rec.RequestID] = append(r.s.contributions[rec.RequestID], &stored)
	return nil
}

func (r *contributionRepository) GetByKey(_ context.Context, requestID domain.RequestID, confirmationKey string) (*domain.ContributionRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stored, ok := r.s.byKey[contributionKey{requestID: requestID, key: confirmationKey}]
	if !ok {
		return nil, fmt.Errorf("confirmation %s: %w", confirmationKey, domain.ErrNotFound)
	}
	rec := *stored
	return &rec, nil
}

func (r *contributionRepository) ListByRequest(_ context.Context, requestID domain.RequestID) ([]*domain.ContributionRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stored := r.s.contributions[requestID]
	out := make([]*domain.ContributionRecord, len(stored))
	for i, rec := range stored {
		c := *rec
		out[i] = &c
	}
	return out, nil
}

func (r *contributionRepository) Total(_ context.Context, requestID domain.RequestID) (domain.Amount, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.total(requestID), nil
}
