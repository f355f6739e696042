// Package registry opens aggregation requests and serves their state.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/simaogato/fundpool-backend/internal/domain"
	"github.com/simaogato/fundpool-backend/internal/logger"
	"github.com/simaogato/fundpool-backend/internal/metrics"
)

// CreateInput represents the parameters of a new request. ID is optional;
// when set, creation is idempotent for identical parameters.
type CreateInput struct {
	ID                  *domain.RequestID
	Payer               domain.Address
	Payee               domain.Address
	TargetAmount        domain.Amount
	MinimumThresholdPct int
	DestinationDomain   string
	RefundDomain        string
	Deadline            time.Time
	RefundBudget        domain.Amount
}

// StatusView is everything a payer or auditor needs about one request.
type StatusView struct {
	Request         *domain.AggregationRequest
	View            domain.View
	ThresholdAmount domain.Amount
	Contributions   []*domain.ContributionRecord
	Settlement      *domain.Settlement // nil before phase 1
	Legs            []*domain.LegRecord
	Refunds         []*domain.Refund
}

// RegistryService handles request creation and lookup
type RegistryService struct {
	RequestRepo      domain.RequestRepository
	ContributionRepo domain.ContributionRepository
	SettlementRepo   domain.SettlementRepository
	RefundRepo       domain.RefundRepository
	MinRefundBudget  domain.Amount
	Metrics          *metrics.Metrics
	Logger           *logger.Logger
	Now              func() time.Time
}

// NewRegistryService creates a new RegistryService instance
func NewRegistryService(
	requestRepo domain.RequestRepository,
	contributionRepo domain.ContributionRepository,
	settlementRepo domain.SettlementRepository,
	refundRepo domain.RefundRepository,
	minRefundBudget domain.Amount,
	m *metrics.Metrics,
	log *logger.Logger,
) *RegistryService {
	return &RegistryService{
		RequestRepo:      requestRepo,
		ContributionRepo: contributionRepo,
		SettlementRepo:   settlementRepo,
		RefundRepo:       refundRepo,
		MinRefundBudget:  minRefundBudget,
		Metrics:          metrics.OrNop(m),
		Logger:           logger.OrNop(log),
		Now:              func() time.Time { return time.Now().UTC() },
	}
}

// Create validates and stores a new pending request, reserving its refund
// budget in the same write.
func (s *RegistryService) Create(ctx context.Context, input CreateInput) (domain.RequestID, error) {
	now := s.Now()

	req := &domain.AggregationRequest{
		Payer:               input.Payer,
		Payee:               input.Payee,
		TargetAmount:        input.TargetAmount,
		MinimumThresholdPct: input.MinimumThresholdPct,
		DestinationDomain:   input.DestinationDomain,
		RefundDomain:        input.RefundDomain,
		Deadline:            input.Deadline.UTC(),
		RefundBudget:        input.RefundBudget,
		BudgetState:         domain.BudgetReserved,
		Status:              domain.StatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if input.ID != nil {
		if input.ID.IsZero() {
			return domain.RequestID{}, fmt.Errorf("%w: request id cannot be zero", domain.ErrInvalidRequest)
		}
		req.ID = *input.ID
	} else {
		req.ID = domain.NewRequestID(input.Payer, input.Payee, input.TargetAmount, now)
	}

	if err := req.Validate(s.MinRefundBudget, now); err != nil {
		return domain.RequestID{}, err
	}

	err := s.RequestRepo.Create(ctx, req)
	if errors.Is(err, domain.ErrDuplicate) {
		return s.resolveExisting(ctx, req)
	}
	if err != nil {
		return domain.RequestID{}, fmt.Errorf("create request: %w", err)
	}

	s.Metrics.RequestsCreated.Inc()
	s.Logger.Info("request created",
		"request_id", req.ID.String(),
		"payee", req.Payee.String(),
		"target_amount", req.TargetAmount,
		"threshold_pct", req.MinimumThresholdPct,
		"deadline", req.Deadline)
	return req.ID, nil
}

// resolveExisting makes a retried create with the same id and parameters
// succeed, and rejects an id reused for a different payment.
func (s *RegistryService) resolveExisting(ctx context.Context, req *domain.AggregationRequest) (domain.RequestID, error) {
	existing, err := s.RequestRepo.GetByID(ctx, req.ID)
	if err != nil {
		return domain.RequestID{}, fmt.Errorf("load existing request: %w", err)
	}
	if !existing.SameParameters(req) {
		return domain.RequestID{}, fmt.Errorf("%w: request id %s is already in use", domain.ErrInvalidRequest, req.ID)
	}
	return existing.ID, nil
}

// Get returns a request with its credited total.
func (s *RegistryService) Get(ctx context.Context, id domain.RequestID) (*domain.AggregationRequest, error) {
	req, err := s.RequestRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Status assembles the request, its ledger and its execution journal.
func (s *RegistryService) Status(ctx context.Context, id domain.RequestID) (*StatusView, error) {
	req, err := s.RequestRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		Request:         req,
		View:            req.View(),
		ThresholdAmount: req.ThresholdAmount(),
	}

	if view.Contributions, err = s.ContributionRepo.ListByRequest(ctx, id); err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}

	if s.SettlementRepo != nil {
		st, err := s.SettlementRepo.Get(ctx, id)
		switch {
		case err == nil:
			view.Settlement = st
		case !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("load settlement: %w", err)
		}
		if view.Legs, err = s.SettlementRepo.ListLegs(ctx, id); err != nil {
			return nil, fmt.Errorf("list dispatch legs: %w", err)
		}
	}

	if s.RefundRepo != nil {
		if view.Refunds, err = s.RefundRepo.ListByRequest(ctx, id); err != nil {
			return nil, fmt.Errorf("list refunds: %w", err)
		}
	}

	return view, nil
}
