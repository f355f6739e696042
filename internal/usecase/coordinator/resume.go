package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

// ResumeReport counts what a recovery sweep did.
type ResumeReport struct {
	Committed    int
	Redistribute int
	Refunded     int
	Failed       int
}

// Resume picks up journaled work that is due: settled requests without a
// phase 1 marker, phase 2 attempts whose backoff elapsed, refunds pending
// dispatch and refunding requests with no refund journaled yet. Individual
// failures are logged and counted, not returned.
func (c *Coordinator) Resume(ctx context.Context, now time.Time) (ResumeReport, error) {
	var report ResumeReport
	batch := c.Config.SweepBatch

	// 1. Phase 1 never committed
	ids, err := c.SettlementRepo.ListUncommitted(ctx, batch)
	if err != nil {
		return report, fmt.Errorf("list uncommitted settlements: %w", err)
	}
	for _, id := range ids {
		if err := c.CommitPayment(ctx, id); err != nil {
			report.Failed++
			continue
		}
		report.Committed++
	}

	// 2. Phase 2 due
	due, err := c.SettlementRepo.ListPhase2Due(ctx, now, batch)
	if err != nil {
		return report, fmt.Errorf("list due redistributions: %w", err)
	}
	for _, st := range due {
		if err := c.Redistribute(ctx, st.RequestID); err != nil {
			report.Failed++
			continue
		}
		report.Redistribute++
	}

	// 3. Refunds due
	refunds, err := c.RefundRepo.ListDue(ctx, now, batch)
	if err != nil {
		return report, fmt.Errorf("list due refunds: %w", err)
	}
	for _, rf := range refunds {
		if err := c.DispatchRefund(ctx, rf.RequestID, rf.Kind); err != nil {
			report.Failed++
			continue
		}
		report.Refunded++
	}

	// 4. Refunding requests whose journal is missing or unfinished
	refunding, err := c.RequestRepo.ListByStatus(ctx, domain.StatusRefunding, batch)
	if err != nil {
		return report, fmt.Errorf("list refunding requests: %w", err)
	}
	for _, req := range refunding {
		rf, err := c.RefundRepo.Get(ctx, req.ID, domain.RefundFull)
		if err == nil && rf.State == domain.RefundPending {
			// handled by step 3 once due
			continue
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			report.Failed++
			continue
		}
		if err := c.DispatchRefund(ctx, req.ID, domain.RefundFull); err != nil {
			report.Failed++
			continue
		}
		report.Refunded++
	}

	if report.Committed+report.Redistribute+report.Refunded+report.Failed > 0 {
		c.Logger.Info("recovery sweep finished",
			"committed", report.Committed,
			"redistributed", report.Redistribute,
			"refunded", report.Refunded,
			"failed", report.Failed)
	}
	return report, nil
}
