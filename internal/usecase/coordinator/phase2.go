package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

func phase2Tag(id domain.RequestID, index int) string {
	return fmt.Sprintf("%sp2:%s:%d", domain.OutboundTagPrefix, id, index)
}

// ErrPhase1Pending is returned by Redistribute before the payment commit.
var ErrPhase1Pending = errors.New("phase 1 not committed")

// Redistribute runs phase 2 for a request whose payment is committed. It is
// re-entrant: the plan is journaled before any leg is sent, and legs already
// sent are never sent again.
// Logic:
//  1. Require the phase 1 marker; stop if phase 2 already finished
//  2. Without a planner or payee configuration, mark phase 2 skipped
//  3. Load the journaled plan, or plan and journal it
//  4. Send the legs not yet sent through the strategy table
//  5. Mark done with dispatch.completed, or schedule the next attempt
func (c *Coordinator) Redistribute(ctx context.Context, id domain.RequestID) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.Redistribute")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", id.String()))

	_, err := c.exclusive("p2:"+id.String(), func() error {
		return c.redistribute(ctx, id)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "phase 2 failed")
	}
	return err
}

func (c *Coordinator) redistribute(ctx context.Context, id domain.RequestID) error {
	// 1. Marker
	st, err := c.SettlementRepo.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redistribute %s: %w", id, ErrPhase1Pending)
	}
	if err != nil {
		return fmt.Errorf("load settlement: %w", err)
	}
	if st.Phase2State != domain.Phase2Pending {
		return nil
	}

	req, err := c.RequestRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load request: %w", err)
	}

	// 2. Nothing configured
	cfg, err := c.payeeConfig(ctx, req.Payee)
	if err != nil {
		return c.phase2Failed(ctx, st, fmt.Errorf("load payee config: %w", err))
	}
	if c.Planner == nil || cfg == nil {
		st.Phase2State = domain.Phase2Skipped
		st.UpdatedAt = c.Now()
		c.Metrics.Phase2Attempts.WithLabelValues("skipped").Inc()
		return c.SettlementRepo.UpdatePhase2(ctx, st, nil)
	}

	// 3. Plan once
	legs, err := c.loadOrPlan(ctx, req, cfg)
	if err != nil {
		return c.phase2Failed(ctx, st, err)
	}

	// 4. Send what is left
	sender := payeeAccount(req, cfg)
	for _, leg := range legs {
		if leg.Sent() {
			continue
		}
		order := domain.TransferOrder{
			Tag:               phase2Tag(id, leg.Index),
			Amount:            leg.Amount,
			SourceDomain:      req.DestinationDomain,
			DestinationDomain: leg.Domain,
			Sender:            sender,
			Recipient:         leg.Account,
			Mode:              leg.Mode,
		}
		handle, err := c.Strategies.Execute(ctx, c.Gateway, order)
		if err != nil {
			return c.phase2Failed(ctx, st, fmt.Errorf("leg %d to %s: %w", leg.Index, leg.Domain, err))
		}
		if err := c.SettlementRepo.MarkLegSent(ctx, id, leg.Index, handle, c.Now()); err != nil {
			return c.phase2Failed(ctx, st, fmt.Errorf("journal leg %d: %w", leg.Index, err))
		}
	}

	// 5. Done
	now := c.Now()
	st.Phase2State = domain.Phase2Done
	st.Phase2Attempts++
	st.Phase2LastError = ""
	st.UpdatedAt = now

	event, err := domain.NewEvent(domain.EventDispatchCompleted, domain.EventPayload{
		RequestID: id,
		Payee:     req.Payee.String(),
		Amount:    req.SettledAmount,
		Detail:    fmt.Sprintf("%d legs", len(legs)),
	}, now)
	if err != nil {
		return err
	}
	if err := c.SettlementRepo.UpdatePhase2(ctx, st, event); err != nil {
		return fmt.Errorf("mark phase 2 done: %w", err)
	}

	c.Metrics.Phase2Attempts.WithLabelValues("done").Inc()
	c.Logger.Info("redistribution completed", "request_id", id.String(), "legs", len(legs))
	return nil
}

// loadOrPlan returns the journaled legs, planning and saving them first when
// none exist.
func (c *Coordinator) loadOrPlan(ctx context.Context, req *domain.AggregationRequest, cfg *domain.PayeeConfig) ([]*domain.LegRecord, error) {
	legs, err := c.SettlementRepo.ListLegs(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("load dispatch legs: %w", err)
	}
	if len(legs) > 0 {
		return legs, nil
	}

	plan, err := c.Planner.Plan(ctx, req.ID, cfg, req.SettledAmount, req.DestinationDomain)
	if err != nil {
		return nil, fmt.Errorf("plan dispatch: %w", err)
	}

	legs = make([]*domain.LegRecord, len(plan.Legs))
	for i, leg := range plan.Legs {
		legs[i] = &domain.LegRecord{
			RequestID: req.ID,
			Index:     leg.Index,
			Domain:    leg.Domain,
			Account:   leg.Account,
			Amount:    leg.Amount,
			Mode:      leg.Mode,
		}
	}

	if err := c.SettlementRepo.SaveLegs(ctx, legs); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return c.SettlementRepo.ListLegs(ctx, req.ID)
		}
		return nil, fmt.Errorf("journal dispatch plan: %w", err)
	}
	return legs, nil
}

// phase2Failed schedules the next attempt and returns cause. Phase 1 stays
// committed whatever happens here.
func (c *Coordinator) phase2Failed(ctx context.Context, st *domain.Settlement, cause error) error {
	now := c.Now()
	st.Phase2Attempts++
	st.Phase2LastError = cause.Error()
	st.Phase2NextAttemptAt = now.Add(c.Config.Retry.Backoff(st.Phase2Attempts))
	st.UpdatedAt = now

	if err := c.SettlementRepo.UpdatePhase2(ctx, st, nil); err != nil {
		c.Logger.Warn("failed to journal phase 2 attempt", "request_id", st.RequestID.String(), "error", err)
	}

	c.Metrics.Phase2Attempts.WithLabelValues("failed").Inc()
	c.Logger.Warn("redistribution failed, will retry",
		"request_id", st.RequestID.String(),
		"attempts", st.Phase2Attempts,
		"next_attempt_at", st.Phase2NextAttemptAt,
		"error", cause)
	return cause
}

// redistributeWithRetry retries phase 2 in process before leaving it to the
// recovery sweep.
func (c *Coordinator) redistributeWithRetry(ctx context.Context, id domain.RequestID) {
	_ = c.Config.Retry.retry(ctx, func(ctx context.Context) error {
		return c.Redistribute(ctx, id)
	})
}
