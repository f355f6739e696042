package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

type requestRepository struct {
	s *Store
}

// NewRequestRepository creates a request repository over s.
func NewRequestRepository(s *Store) domain.RequestRepository {
	return &requestRepository{s: s}
}

func (r *requestRepository) Create(_ context.Context, req *domain.AggregationRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.requests[req.ID]; ok {
		return fmt.Errorf("request %s: %w", req.ID, domain.ErrDuplicate)
	}
	stored := *req
	stored.TotalCredited = 0
	r.s.requests[req.ID] = &stored
	return nil
}

func (r *requestRepository) GetByID(_ context.Context, id domain.RequestID) (*domain.AggregationRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stored, ok := r.s.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
	}
	return r.read(stored), nil
}

func (r *requestRepository) Update(_ context.Context, req *domain.AggregationRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.requests[req.ID]
	if !ok {
		return fmt.Errorf("request %s: %w", req.ID, domain.ErrNotFound)
	}
	if stored.Version != req.Version {
		return fmt.Errorf("request %s version %d: %w", req.ID, req.Version, domain.ErrConflict)
	}

	// Only the mutable columns change
	stored.Status = req.Status
	stored.SettledAmount = req.SettledAmount
	stored.BudgetState = req.BudgetState
	stored.SettledAt = req.SettledAt
	stored.ExpiryHandledAt = req.ExpiryHandledAt
	stored.UpdatedAt = req.UpdatedAt
	stored.Version++

	req.Version = stored.Version
	return nil
}

func (r *requestRepository) ListExpired(_ context.Context, now time.Time, limit int) ([]*domain.AggregationRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.AggregationRequest
	for _, stored := range r.s.requests {
		if stored.Status == domain.StatusPending && stored.ExpiryHandledAt == nil && !stored.Deadline.After(now) {
			out = append(out, r.read(stored))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Deadline.Equal(out[j].Deadline) {
			return out[i].Deadline.Before(out[j].Deadline)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return truncate(out, limit), nil
}

func (r *requestRepository) ListByStatus(_ context.Context, status domain.Status, limit int) ([]*domain.AggregationRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.AggregationRequest
	for _, stored := range r.s.requests {
		if stored.Status == status {
			out = append(out, r.read(stored))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return truncate(out, limit), nil
}

// read copies a stored row and fills the credited total from the ledger.
func (r *requestRepository) read(stored *domain.AggregationRequest) *domain.AggregationRequest {
	req := *stored
	req.TotalCredited = r.s.total(stored.ID)
	return &req
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
