// Package ledger applies contributions and payer actions to aggregation
// requests. Every mutation of a request runs inside that request's critical
// section; transport I/O happens afterwards through the SettlementListener.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/simaogato/fundpool-backend/internal/domain"
	"github.com/simaogato/fundpool-backend/internal/logger"
	"github.com/simaogato/fundpool-backend/internal/metrics"
	"github.com/simaogato/fundpool-backend/internal/usecase/settlement"
)

// maxCASAttempts bounds re-reads when another writer moved a request on.
const maxCASAttempts = 3

// SettlementListener is told about status transitions after the request's
// lock is released. Implementations must not block for long.
type SettlementListener interface {
	OnSettled(ctx context.Context, req *domain.AggregationRequest)
	OnRefunding(ctx context.Context, req *domain.AggregationRequest)
}

// CreditInput represents one confirmed contribution, already expressed in the
// settlement asset.
type CreditInput struct {
	RequestID       domain.RequestID
	SourceDomain    string
	Amount          domain.Amount
	ConfirmationKey string
	TransferHandle  string
	Asset           string
	OriginalAmount  domain.Amount
}

// CreditResult reports what a credit did.
type CreditResult struct {
	Request   *domain.AggregationRequest
	Duplicate bool
	Decision  settlement.Decision
}

// Settled reports whether this credit moved the request to SETTLED.
func (r *CreditResult) Settled() bool {
	return r.Decision.Action == settlement.ActionSettle
}

// LedgerService owns request state transitions.
type LedgerService struct {
	RequestRepo      domain.RequestRepository
	ContributionRepo domain.ContributionRepository
	OutboxRepo       domain.OutboxRepository
	Locks            *KeyedMutex
	Listener         SettlementListener
	Metrics          *metrics.Metrics
	Logger           *logger.Logger
	Now              func() time.Time
}

// NewLedgerService creates a new LedgerService instance
func NewLedgerService(
	requestRepo domain.RequestRepository,
	contributionRepo domain.ContributionRepository,
	outboxRepo domain.OutboxRepository,
	locks *KeyedMutex,
	m *metrics.Metrics,
	log *logger.Logger,
) *LedgerService {
	if locks == nil {
		locks = NewKeyedMutex(0)
	}
	return &LedgerService{
		RequestRepo:      requestRepo,
		ContributionRepo: contributionRepo,
		OutboxRepo:       outboxRepo,
		Locks:            locks,
		Metrics:          metrics.OrNop(m),
		Logger:           logger.OrNop(log),
		Now:              func() time.Time { return time.Now().UTC() },
	}
}

// SetListener registers the component notified of settlements and refunds.
func (s *LedgerService) SetListener(l SettlementListener) {
	s.Listener = l
}

// Credit records a contribution and re-evaluates the request.
// Logic:
//  1. Validate the input
//  2. Under the request lock: load, reject terminal requests, append the
//     record (a repeated confirmation key adds nothing), re-sum the ledger
//     and apply the settlement decision with a guarded write
//  3. After the lock: hand a settled request to the listener
func (s *LedgerService) Credit(ctx context.Context, input CreditInput) (*CreditResult, error) {
	// 1. Validate
	rec := &domain.ContributionRecord{
		ID:              uuid.New(),
		RequestID:       input.RequestID,
		SourceDomain:    input.SourceDomain,
		Amount:          input.Amount,
		ConfirmationKey: input.ConfirmationKey,
		TransferHandle:  input.TransferHandle,
		Asset:           input.Asset,
		OriginalAmount:  input.OriginalAmount,
	}
	if err := rec.Validate(); err != nil {
		s.Metrics.Contributions.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}

	log := s.Logger.With("request_id", input.RequestID.String(), "confirmation_key", input.ConfirmationKey)
	result := &CreditResult{}

	// 2. Critical section
	err := s.Locks.WithLock(ctx, input.RequestID, func(ctx context.Context) error {
		req, err := s.RequestRepo.GetByID(ctx, input.RequestID)
		if err != nil {
			return err
		}

		if req.Status != domain.StatusPending {
			if _, err := s.ContributionRepo.GetByKey(ctx, req.ID, input.ConfirmationKey); err == nil {
				result.Request = req
				result.Duplicate = true
				return nil
			}
			log.Warn("credit arrived after terminal resolution",
				"status", req.Status, "amount", input.Amount, "source_domain", input.SourceDomain,
				"operator_action", "required")
			return fmt.Errorf("%w: request is %s", domain.ErrAlreadyTerminal, req.Status)
		}

		now := s.Now()
		rec.RecordedAt = now
		if err := s.ContributionRepo.Append(ctx, rec); err != nil {
			if !errors.Is(err, domain.ErrDuplicate) {
				return fmt.Errorf("append contribution: %w", err)
			}
			// A redelivery still evaluates: the first delivery may have
			// recorded the contribution and failed before the status write.
			result.Duplicate = true
		}

		wasEligible := req.IsPartialEligible()
		req, err = s.applyDecision(ctx, req, func(req *domain.AggregationRequest) (bool, error) {
			result.Decision = settlement.Evaluate(req)
			if result.Decision.Action != settlement.ActionSettle {
				return false, nil
			}
			return true, req.Settle(result.Decision.Amount, now)
		})
		if err != nil {
			return err
		}
		result.Request = req

		if result.Decision.Action == settlement.ActionPartialEligible && !wasEligible {
			s.appendEvent(ctx, domain.EventPartialEligible, req, req.TotalCredited, now)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyTerminal) || errors.Is(err, domain.ErrNotFound) {
			s.Metrics.Contributions.WithLabelValues("rejected").Inc()
		}
		return nil, err
	}

	if result.Duplicate {
		s.Metrics.Contributions.WithLabelValues("duplicate").Inc()
		if !result.Settled() {
			log.Debug("duplicate confirmation ignored")
			return result, nil
		}
		log.Warn("redelivered confirmation completed an interrupted settlement")
	} else {
		s.Metrics.Contributions.WithLabelValues("applied").Inc()
	}

	// 3. Outside the lock
	if result.Settled() {
		s.Metrics.Settlements.WithLabelValues(string(result.Decision.Kind)).Inc()
		log.Info("request settled", "settled_amount", result.Request.SettledAmount,
			"total_credited", result.Request.TotalCredited)
		s.notifySettled(ctx, result.Request)
	}

	return result, nil
}

// AcceptPartial settles a partial-eligible request at its credited total.
// Only the payer may call it.
func (s *LedgerService) AcceptPartial(ctx context.Context, id domain.RequestID, caller domain.Address) (*domain.AggregationRequest, error) {
	var settled *domain.AggregationRequest

	err := s.Locks.WithLock(ctx, id, func(ctx context.Context) error {
		req, err := s.RequestRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}

		settled, err = s.applyDecision(ctx, req, func(req *domain.AggregationRequest) (bool, error) {
			amount, err := settlement.CheckAcceptPartial(req, caller)
			if err != nil {
				return false, err
			}
			return true, req.Settle(amount, s.Now())
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Metrics.Settlements.WithLabelValues(string(settlement.KindPartial)).Inc()
	s.Logger.Info("partial payment accepted", "request_id", id.String(), "settled_amount", settled.SettledAmount)
	s.notifySettled(ctx, settled)
	return settled, nil
}

// RequestRefund moves a pending request to REFUNDING. Only the payer may call
// it. A request already refunding is returned unchanged.
func (s *LedgerService) RequestRefund(ctx context.Context, id domain.RequestID, caller domain.Address) (*domain.AggregationRequest, error) {
	var (
		out     *domain.AggregationRequest
		started bool
	)

	err := s.Locks.WithLock(ctx, id, func(ctx context.Context) error {
		req, err := s.RequestRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}

		out, err = s.applyDecision(ctx, req, func(req *domain.AggregationRequest) (bool, error) {
			if err := settlement.CheckRefund(req, caller, s.Now()); err != nil {
				return false, err
			}
			if req.Status == domain.StatusRefunding {
				return false, nil
			}
			started = true
			return true, req.BeginRefund(s.Now())
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if started {
		s.Logger.Info("refund requested by payer", "request_id", id.String(), "total_credited", out.TotalCredited)
		s.notifyRefunding(ctx, out)
	}
	return out, nil
}

// Expire applies deadline handling to one request. It is safe to call from
// several reaper instances: every path goes through the same guards as the
// payer-facing operations.
func (s *LedgerService) Expire(ctx context.Context, id domain.RequestID, now time.Time) (settlement.Decision, error) {
	var (
		decision settlement.Decision
		out      *domain.AggregationRequest
	)

	err := s.Locks.WithLock(ctx, id, func(ctx context.Context) error {
		req, err := s.RequestRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}

		out, err = s.applyDecision(ctx, req, func(req *domain.AggregationRequest) (bool, error) {
			decision = settlement.EvaluateExpiry(req, now)
			switch decision.Action {
			case settlement.ActionSettle:
				req.ExpiryHandledAt = &now
				return true, req.Settle(decision.Amount, now)
			case settlement.ActionRefund:
				req.ExpiryHandledAt = &now
				return true, req.BeginRefund(now)
			case settlement.ActionPartialEligible:
				if req.ExpiryHandledAt != nil {
					return false, nil
				}
				// stays pending, waiting for the payer to accept or refund
				req.ExpiryHandledAt = &now
				req.UpdatedAt = now
				return true, nil
			}
			return false, nil
		})
		return err
	})
	if err != nil {
		return settlement.Decision{}, err
	}

	log := s.Logger.With("request_id", id.String())
	switch decision.Action {
	case settlement.ActionSettle:
		s.Metrics.Settlements.WithLabelValues(string(settlement.KindExpiry)).Inc()
		log.Info("expired request settled at target", "settled_amount", out.SettledAmount)
		s.notifySettled(ctx, out)
	case settlement.ActionRefund:
		log.Info("expired request refunding", "refund_amount", decision.Amount)
		s.notifyRefunding(ctx, out)
	case settlement.ActionPartialEligible:
		log.Info("expired request awaits payer decision", "total_credited", out.TotalCredited)
	}
	return decision, nil
}

// applyDecision runs mutate on the request and writes it when mutate reports
// a change. A lost compare-and-swap re-reads the request and tries again.
func (s *LedgerService) applyDecision(
	ctx context.Context,
	req *domain.AggregationRequest,
	mutate func(req *domain.AggregationRequest) (bool, error),
) (*domain.AggregationRequest, error) {
	for attempt := 1; ; attempt++ {
		total, err := s.ContributionRepo.Total(ctx, req.ID)
		if err != nil {
			return nil, fmt.Errorf("sum contributions: %w", err)
		}
		req.TotalCredited = total

		changed, err := mutate(req)
		if err != nil {
			return nil, err
		}
		if !changed {
			return req, nil
		}

		err = s.RequestRepo.Update(ctx, req)
		if err == nil {
			return req, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt == maxCASAttempts {
			return nil, fmt.Errorf("update request %s: %w", req.ID, err)
		}

		s.Logger.Debug("request changed concurrently, retrying", "request_id", req.ID.String(), "attempt", attempt)
		if req, err = s.RequestRepo.GetByID(ctx, req.ID); err != nil {
			return nil, err
		}
	}
}

func (s *LedgerService) appendEvent(ctx context.Context, kind domain.EventKind, req *domain.AggregationRequest, amount domain.Amount, now time.Time) {
	if s.OutboxRepo == nil {
		return
	}
	event, err := domain.NewEvent(kind, domain.EventPayload{
		RequestID: req.ID,
		Payee:     req.Payee.String(),
		Amount:    amount,
	}, now)
	if err == nil {
		err = s.OutboxRepo.Append(ctx, event)
	}
	if err != nil {
		s.Logger.Warn("failed to record event", "request_id", req.ID.String(), "kind", kind, "error", err)
	}
}

func (s *LedgerService) notifySettled(ctx context.Context, req *domain.AggregationRequest) {
	if s.Listener != nil {
		s.Listener.OnSettled(ctx, req)
	}
}

func (s *LedgerService) notifyRefunding(ctx context.Context, req *domain.AggregationRequest) {
	if s.Listener != nil {
		s.Listener.OnRefunding(ctx, req)
	}
}
