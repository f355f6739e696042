package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

func refundTag(id domain.RequestID, kind domain.RefundKind) string {
	return fmt.Sprintf("%srefund:%s:%s", domain.OutboundTagPrefix, strings.ToLower(string(kind)), id)
}

// DispatchRefund returns funds to the payer's refund domain. FULL refunds a
// REFUNDING request's credited total and completes it as REFUNDED once the
// transfer is accepted; EXCESS returns overshoot of a settled request. Both
// resolve the refund budget. Safe to call repeatedly.
func (c *Coordinator) DispatchRefund(ctx context.Context, id domain.RequestID, kind domain.RefundKind) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.DispatchRefund")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", id.String()), attribute.String("kind", string(kind)))

	_, err := c.exclusive("rf:"+string(kind)+":"+id.String(), func() error {
		return c.dispatchRefund(ctx, id, kind)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refund dispatch failed")
	}
	return err
}

func (c *Coordinator) dispatchRefund(ctx context.Context, id domain.RequestID, kind domain.RefundKind) error {
	req, err := c.RequestRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load request: %w", err)
	}

	rf, err := c.loadOrCreateRefund(ctx, req, kind)
	if err != nil {
		return err
	}

	if rf.State == domain.RefundPending {
		if rf.Amount > 0 {
			if err := c.sendRefund(ctx, req, rf); err != nil {
				return err
			}
		} else {
			// nothing arrived, nothing to move
			rf.State = domain.RefundConfirmed
			rf.UpdatedAt = c.Now()
			if err := c.RefundRepo.Update(ctx, rf, nil); err != nil {
				return fmt.Errorf("close empty refund: %w", err)
			}
		}
	}

	return c.finishRefund(ctx, req, rf)
}

func (c *Coordinator) loadOrCreateRefund(ctx context.Context, req *domain.AggregationRequest, kind domain.RefundKind) (*domain.Refund, error) {
	rf, err := c.RefundRepo.Get(ctx, req.ID, kind)
	if err == nil {
		return rf, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load refund: %w", err)
	}

	var amount domain.Amount
	switch kind {
	case domain.RefundFull:
		if req.Status != domain.StatusRefunding && req.Status != domain.StatusRefunded {
			return nil, fmt.Errorf("full refund of a %s request", req.Status)
		}
		amount = req.TotalCredited
	case domain.RefundExcess:
		if req.Status != domain.StatusSettled {
			return nil, fmt.Errorf("excess refund of a %s request", req.Status)
		}
		amount = req.Excess()
	default:
		return nil, fmt.Errorf("unknown refund kind %q", kind)
	}

	now := c.Now()
	rf = &domain.Refund{
		RequestID:     req.ID,
		Kind:          kind,
		Amount:        amount,
		Domain:        req.RefundDomain,
		State:         domain.RefundPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.RefundRepo.Create(ctx, rf); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return c.RefundRepo.Get(ctx, req.ID, kind)
		}
		return nil, fmt.Errorf("journal refund: %w", err)
	}
	return rf, nil
}

func (c *Coordinator) sendRefund(ctx context.Context, req *domain.AggregationRequest, rf *domain.Refund) error {
	order := domain.TransferOrder{
		Tag:               refundTag(req.ID, rf.Kind),
		Amount:            rf.Amount,
		SourceDomain:      c.Config.CustodyDomain,
		DestinationDomain: rf.Domain,
		Sender:            c.Config.CustodyAccount,
		Recipient:         req.Payer.Account,
		Mode:              crossMode(c.Config.CustodyDomain, rf.Domain),
	}

	handle, err := c.Strategies.Execute(ctx, c.Gateway, order)
	now := c.Now()
	rf.Attempts++
	rf.UpdatedAt = now

	if err != nil {
		rf.LastError = err.Error()
		rf.NextAttemptAt = now.Add(c.Config.Retry.Backoff(rf.Attempts))
		if uerr := c.RefundRepo.Update(ctx, rf, nil); uerr != nil {
			c.Logger.Warn("failed to journal refund attempt", "request_id", req.ID.String(), "error", uerr)
		}
		c.Logger.Warn("refund dispatch failed, will retry",
			"request_id", req.ID.String(),
			"kind", rf.Kind,
			"attempts", rf.Attempts,
			"next_attempt_at", rf.NextAttemptAt,
			"error", err)
		return fmt.Errorf("%s refund: %w", rf.Kind, err)
	}

	rf.Handle = handle
	rf.State = domain.RefundSent
	rf.LastError = ""

	event, err := domain.NewEvent(domain.EventRefundDispatched, domain.EventPayload{
		RequestID: req.ID,
		Domain:    rf.Domain,
		Amount:    rf.Amount,
		Handle:    handle,
		Detail:    string(rf.Kind),
	}, now)
	if err != nil {
		return err
	}
	if err := c.RefundRepo.Update(ctx, rf, event); err != nil {
		return fmt.Errorf("journal refund dispatch: %w", err)
	}

	c.Metrics.RefundsDispatched.WithLabelValues(strings.ToLower(string(rf.Kind))).Inc()
	c.Logger.Info("refund dispatched",
		"request_id", req.ID.String(), "kind", rf.Kind, "amount", rf.Amount,
		"refund_domain", rf.Domain, "handle", handle)
	return nil
}

// finishRefund completes a full refund's request and resolves the budget.
// The budget is consumed when the refund had to cross domains.
func (c *Coordinator) finishRefund(ctx context.Context, req *domain.AggregationRequest, rf *domain.Refund) error {
	if rf.Kind == domain.RefundFull {
		_, err := c.updateRequest(ctx, req.ID, func(req *domain.AggregationRequest) bool {
			if req.Status != domain.StatusRefunding {
				return false
			}
			return req.CompleteRefund(c.Now()) == nil
		})
		if err != nil {
			return fmt.Errorf("complete refund: %w", err)
		}
	}

	consumed := rf.Amount > 0 && rf.Domain != c.Config.CustodyDomain
	return c.resolveBudget(ctx, req.ID, consumed)
}

// refundWithRetry retries a refund in process before leaving it to the
// recovery sweep.
func (c *Coordinator) refundWithRetry(ctx context.Context, id domain.RequestID, kind domain.RefundKind) {
	_ = c.Config.Retry.retry(ctx, func(ctx context.Context) error {
		return c.DispatchRefund(ctx, id, kind)
	})
}
