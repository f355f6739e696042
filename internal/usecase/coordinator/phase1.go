package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

// phase1Tag is deterministic so the transport can drop a repeated send after
// a crash between sending and committing the marker.
func phase1Tag(id domain.RequestID) string {
	return domain.OutboundTagPrefix + "p1:" + id.String()
}

// CommitPayment runs phase 1 for a settled request. It is idempotent on the
// durable marker: once committed, later calls return nil without I/O.
// Logic:
//  1. Skip if the marker exists
//  2. Journal the excess refund, or release the budget when there is none
//  3. Deliver the settled amount from custody to the destination domain
//  4. Write the marker together with the payment.confirmed event
//
// A failure is an operational emergency: it is logged for the operator,
// counted, and retried by the recovery sweep.
func (c *Coordinator) CommitPayment(ctx context.Context, id domain.RequestID) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.CommitPayment")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", id.String()))

	var excess bool
	ran, err := c.exclusive("p1:"+id.String(), func() error {
		var err error
		excess, err = c.commitPayment(ctx, id)
		return err
	})
	if !ran {
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "phase 1 failed")
		c.Metrics.Phase1Failures.Inc()
		c.Logger.Error("payment commit failed",
			"request_id", id.String(), "error", err, "operator_action", "required")
		return err
	}

	if excess {
		// the excess refund was journaled before the marker
		c.spawn(func(ctx context.Context) {
			c.refundWithRetry(ctx, id, domain.RefundExcess)
		})
	}
	return nil
}

// commitPayment reports whether this call wrote the marker of a request
// that has excess to return.
func (c *Coordinator) commitPayment(ctx context.Context, id domain.RequestID) (bool, error) {
	// 1. Idempotency on the marker
	if _, err := c.SettlementRepo.Get(ctx, id); err == nil {
		return false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return false, fmt.Errorf("load settlement: %w", err)
	}

	req, err := c.RequestRepo.GetByID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("load request: %w", err)
	}
	if req.Status != domain.StatusSettled {
		return false, fmt.Errorf("request %s is %s, not settled", id, req.Status)
	}

	// 2. Excess or budget
	if err := c.prepareExcess(ctx, req); err != nil {
		return false, err
	}

	// 3. Deliver to the destination domain
	cfg, err := c.payeeConfig(ctx, req.Payee)
	if err != nil {
		return false, fmt.Errorf("load payee config: %w", err)
	}

	order := domain.TransferOrder{
		Tag:               phase1Tag(id),
		Amount:            req.SettledAmount,
		SourceDomain:      c.Config.CustodyDomain,
		DestinationDomain: req.DestinationDomain,
		Sender:            c.Config.CustodyAccount,
		Recipient:         payeeAccount(req, cfg),
		Mode:              crossMode(c.Config.CustodyDomain, req.DestinationDomain),
	}
	handle, err := c.Strategies.Execute(ctx, c.Gateway, order)
	if err != nil {
		return false, fmt.Errorf("deliver payment: %w", err)
	}

	// 4. Marker and event in one write
	now := c.Now()
	st := &domain.Settlement{
		RequestID:           id,
		Phase1CommittedAt:   now,
		Phase1Handle:        handle,
		Phase2State:         domain.Phase2Pending,
		Phase2NextAttemptAt: now,
		UpdatedAt:           now,
	}
	if c.Planner == nil {
		st.Phase2State = domain.Phase2Skipped
	}

	event, err := domain.NewEvent(domain.EventPaymentConfirmed, domain.EventPayload{
		RequestID: id,
		Payee:     req.Payee.String(),
		Domain:    req.DestinationDomain,
		Amount:    req.SettledAmount,
		Handle:    handle,
	}, now)
	if err != nil {
		return false, err
	}

	if err := c.SettlementRepo.CommitPhase1(ctx, st, event); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return false, nil
		}
		return false, fmt.Errorf("commit phase 1 marker: %w", err)
	}

	c.Logger.Info("payment committed",
		"request_id", id.String(),
		"destination_domain", req.DestinationDomain,
		"amount", req.SettledAmount,
		"handle", handle)
	return req.Excess() > 0, nil
}

// prepareExcess journals the refund of overshoot, or releases the budget
// when nothing will ever need refunding.
func (c *Coordinator) prepareExcess(ctx context.Context, req *domain.AggregationRequest) error {
	excess := req.Excess()
	if excess > 0 {
		now := c.Now()
		err := c.RefundRepo.Create(ctx, &domain.Refund{
			RequestID:     req.ID,
			Kind:          domain.RefundExcess,
			Amount:        excess,
			Domain:        req.RefundDomain,
			State:         domain.RefundPending,
			NextAttemptAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if err != nil && !errors.Is(err, domain.ErrDuplicate) {
			return fmt.Errorf("journal excess refund: %w", err)
		}
		return nil
	}

	return c.resolveBudget(ctx, req.ID, false)
}

// resolveBudget moves the refund budget out of RESERVED and records it.
func (c *Coordinator) resolveBudget(ctx context.Context, id domain.RequestID, consumed bool) error {
	var resolved bool
	req, err := c.updateRequest(ctx, id, func(req *domain.AggregationRequest) bool {
		resolved = req.ResolveBudget(consumed, c.Now())
		return resolved
	})
	if err != nil {
		return fmt.Errorf("resolve refund budget: %w", err)
	}
	if !resolved {
		return nil
	}

	kind := domain.EventBudgetReleased
	if consumed {
		kind = domain.EventBudgetConsumed
	}
	c.recordEvent(ctx, kind, domain.EventPayload{RequestID: id, Amount: req.RefundBudget})
	return nil
}
