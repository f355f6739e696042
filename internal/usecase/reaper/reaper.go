// Package reaper resolves requests whose deadline passed and drives the
// coordinator's recovery sweep. Several instances may run; a lease keeps
// sweeps from overlapping, and every state change goes through the ledger's
// guards anyway.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/simaogato/fundpool-backend/internal/domain"
	"github.com/simaogato/fundpool-backend/internal/logger"
	"github.com/simaogato/fundpool-backend/internal/metrics"
	"github.com/simaogato/fundpool-backend/internal/usecase/coordinator"
	"github.com/simaogato/fundpool-backend/internal/usecase/settlement"
)

const leaseKey = "fundpool:reaper"

// Expirer applies deadline handling to one request.
type Expirer interface {
	Expire(ctx context.Context, id domain.RequestID, now time.Time) (settlement.Decision, error)
}

// Resumer picks up journaled coordinator work.
type Resumer interface {
	Resume(ctx context.Context, now time.Time) (coordinator.ResumeReport, error)
}

// Config schedules the reaper.
type Config struct {
	Interval  time.Duration
	BatchSize int
	LeaseTTL  time.Duration
}

// Report summarizes one sweep.
type Report struct {
	Skipped  bool // another instance held the lease
	Scanned  int
	Settled  int
	Refunded int
	Partial  int
	Failed   int
	Resume   coordinator.ResumeReport
}

// Reaper sweeps expired requests.
type Reaper struct {
	Requests domain.RequestRepository
	Ledger   Expirer
	Resumer  Resumer
	Locker   Locker
	Config   Config
	Metrics  *metrics.Metrics
	Logger   *logger.Logger
	Now      func() time.Time

	cron *cron.Cron
}

// NewReaper creates a new Reaper instance. A nil locker uses a local one;
// a nil resumer only handles expiry.
func NewReaper(
	requests domain.RequestRepository,
	expirer Expirer,
	resumer Resumer,
	locker Locker,
	cfg Config,
	m *metrics.Metrics,
	log *logger.Logger,
) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * cfg.Interval
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Reaper{
		Requests: requests,
		Ledger:   expirer,
		Resumer:  resumer,
		Locker:   locker,
		Config:   cfg,
		Metrics:  metrics.OrNop(m),
		Logger:   logger.OrNop(log),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules sweeps every Config.Interval. A tick that fires while the
// previous sweep still runs is skipped.
func (r *Reaper) Start(ctx context.Context) error {
	r.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := r.cron.AddFunc(fmt.Sprintf("@every %s", r.Config.Interval), func() {
		if _, err := r.Sweep(ctx); err != nil {
			r.Logger.Error("reaper sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reaper: %w", err)
	}
	r.cron.Start()
	r.Logger.Info("reaper started", "interval", r.Config.Interval, "batch_size", r.Config.BatchSize)
	return nil
}

// Stop halts scheduling and waits for a running sweep to return.
func (r *Reaper) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

// Sweep runs one pass.
// Logic:
//  1. Take the lease, or report the sweep skipped
//  2. Page through PENDING requests past their deadline and expire each;
//     a failing request is logged and left for the next sweep
//  3. Resume journaled coordinator work
func (r *Reaper) Sweep(ctx context.Context) (Report, error) {
	var report Report
	start := time.Now()
	defer func() {
		r.Metrics.ReaperSweepDuration.Observe(time.Since(start).Seconds())
	}()

	// 1. Lease
	release, ok, err := r.Locker.Acquire(ctx, leaseKey, r.Config.LeaseTTL)
	if err != nil {
		return report, fmt.Errorf("acquire reaper lease: %w", err)
	}
	if !ok {
		report.Skipped = true
		return report, nil
	}
	defer release()

	now := r.Now()

	// 2. Expiry
	seen := make(map[domain.RequestID]bool)
	for {
		batch, err := r.Requests.ListExpired(ctx, now, r.Config.BatchSize)
		if err != nil {
			return report, fmt.Errorf("list expired requests: %w", err)
		}

		fresh := 0
		for _, req := range batch {
			if seen[req.ID] {
				continue
			}
			seen[req.ID] = true
			fresh++
			report.Scanned++

			decision, err := r.Ledger.Expire(ctx, req.ID, now)
			if err != nil {
				report.Failed++
				r.Logger.Warn("failed to expire request", "request_id", req.ID.String(), "error", err)
				continue
			}
			switch decision.Action {
			case settlement.ActionSettle:
				report.Settled++
			case settlement.ActionRefund:
				report.Refunded++
			case settlement.ActionPartialEligible:
				report.Partial++
			}
		}

		// a short page, or one made only of requests that keep failing, ends the pass
		if len(batch) < r.Config.BatchSize || fresh == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
	}

	// 3. Recovery
	if r.Resumer != nil {
		report.Resume, err = r.Resumer.Resume(ctx, now)
		if err != nil {
			return report, fmt.Errorf("resume coordinator work: %w", err)
		}
	}

	if report.Scanned > 0 {
		r.Logger.Info("reaper sweep finished",
			"scanned", report.Scanned,
			"settled", report.Settled,
			"refunded", report.Refunded,
			"partial_eligible", report.Partial,
			"failed", report.Failed)
	}
	return report, nil
}
