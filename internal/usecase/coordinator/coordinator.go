// Package coordinator executes settlements in two phases joined by a durable
// marker. Phase 1 delivers the settled amount to the payee's destination
// domain and must not be lost; phase 2 redistributes across the payee's other
// domains, is retried until it succeeds and never touches request status.
// Refunds and the return of overshoot run through the same journaled path.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/simaogato/fundpool-backend/internal/domain"
	"github.com/simaogato/fundpool-backend/internal/logger"
	"github.com/simaogato/fundpool-backend/internal/metrics"
	"github.com/simaogato/fundpool-backend/internal/usecase/ledger"
	"github.com/simaogato/fundpool-backend/internal/usecase/planner"
)

const (
	defaultMaxInFlight = 32
	defaultSweepBatch  = 100
	maxCASAttempts     = 3
)

// Config holds the coordinator's policies.
type Config struct {
	CustodyDomain  string // where contributions are held until settlement
	CustodyAccount string
	Retry          RetryPolicy
	MaxInFlight    int
	SweepBatch     int
}

// Coordinator implements ledger.SettlementListener.
type Coordinator struct {
	RequestRepo    domain.RequestRepository
	SettlementRepo domain.SettlementRepository
	RefundRepo     domain.RefundRepository
	PayeeRepo      domain.PayeeRepository
	OutboxRepo     domain.OutboxRepository
	Gateway        domain.TransportGateway
	Planner        *planner.Planner // nil leaves phase 1 final
	Strategies     planner.StrategyTable
	Locks          *ledger.KeyedMutex
	Config         Config
	Metrics        *metrics.Metrics
	Logger         *logger.Logger
	Now            func() time.Time

	tracer   trace.Tracer
	sem      chan struct{}
	wg       sync.WaitGroup
	inflight sync.Map
	root     context.Context
	cancel   context.CancelFunc
}

// Repositories groups the stores the coordinator journals into.
type Repositories struct {
	Requests    domain.RequestRepository
	Settlements domain.SettlementRepository
	Refunds     domain.RefundRepository
	Payees      domain.PayeeRepository
	Outbox      domain.OutboxRepository
}

// NewCoordinator creates a new Coordinator instance
func NewCoordinator(
	repos Repositories,
	gateway domain.TransportGateway,
	plan *planner.Planner,
	locks *ledger.KeyedMutex,
	cfg Config,
	m *metrics.Metrics,
	log *logger.Logger,
) *Coordinator {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = defaultMaxInFlight
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = defaultSweepBatch
	}
	if locks == nil {
		locks = ledger.NewKeyedMutex(0)
	}

	root, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		RequestRepo:    repos.Requests,
		SettlementRepo: repos.Settlements,
		RefundRepo:     repos.Refunds,
		PayeeRepo:      repos.Payees,
		OutboxRepo:     repos.Outbox,
		Gateway:        gateway,
		Planner:        plan,
		Strategies:     planner.DefaultStrategies(),
		Locks:          locks,
		Config:         cfg,
		Metrics:        metrics.OrNop(m),
		Logger:         logger.OrNop(log),
		Now:            func() time.Time { return time.Now().UTC() },
		tracer:         otel.Tracer("github.com/simaogato/fundpool-backend/coordinator"),
		sem:            make(chan struct{}, cfg.MaxInFlight),
		root:           root,
		cancel:         cancel,
	}
}

// OnSettled commits payment and then redistributes, in the background.
func (c *Coordinator) OnSettled(_ context.Context, req *domain.AggregationRequest) {
	id := req.ID
	c.spawn(func(ctx context.Context) {
		if err := c.CommitPayment(ctx, id); err != nil {
			// logged and counted by CommitPayment; the recovery sweep retries
			return
		}
		c.redistributeWithRetry(ctx, id)
	})
}

// OnRefunding dispatches the full refund in the background.
func (c *Coordinator) OnRefunding(_ context.Context, req *domain.AggregationRequest) {
	id := req.ID
	c.spawn(func(ctx context.Context) {
		c.refundWithRetry(ctx, id, domain.RefundFull)
	})
}

// OnTransferConfirmed records the confirmation of an engine-initiated
// transfer against the dispatch leg or refund that produced it.
func (c *Coordinator) OnTransferConfirmed(ctx context.Context, conf domain.Confirmation) error {
	now := c.Now()

	matched, err := c.SettlementRepo.ConfirmLeg(ctx, conf.Handle, now)
	if err != nil {
		return fmt.Errorf("confirm dispatch leg: %w", err)
	}
	if matched {
		c.Logger.Debug("dispatch leg confirmed", "handle", conf.Handle, "request_id", conf.RequestID.String())
		return nil
	}

	matched, err = c.RefundRepo.Confirm(ctx, conf.Handle, now)
	if err != nil {
		return fmt.Errorf("confirm refund: %w", err)
	}
	if matched {
		c.Logger.Info("refund confirmed", "handle", conf.Handle, "request_id", conf.RequestID.String())
		return nil
	}

	c.Logger.Debug("outbound confirmation matched nothing", "handle", conf.Handle, "tag", conf.Tag)
	return nil
}

// Wait blocks until background work has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Stop cancels background work and waits for it to return. Interrupted work
// is journaled and resumed by the next recovery sweep.
func (c *Coordinator) Stop() {
	c.cancel()
	c.wg.Wait()
}

// spawn runs fn on the bounded worker set.
func (c *Coordinator) spawn(fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case c.sem <- struct{}{}:
		case <-c.root.Done():
			return
		}
		defer func() { <-c.sem }()
		fn(c.root)
	}()
}

// exclusive runs fn unless work under the same key is already running in
// this process. Reports whether fn ran.
func (c *Coordinator) exclusive(key string, fn func() error) (bool, error) {
	if _, busy := c.inflight.LoadOrStore(key, struct{}{}); busy {
		return false, nil
	}
	defer c.inflight.Delete(key)
	return true, fn()
}

// updateRequest applies mutate to a fresh copy of the request under its lock
// and writes it when mutate reports a change.
func (c *Coordinator) updateRequest(ctx context.Context, id domain.RequestID, mutate func(req *domain.AggregationRequest) bool) (*domain.AggregationRequest, error) {
	var out *domain.AggregationRequest
	err := c.Locks.WithLock(ctx, id, func(ctx context.Context) error {
		for attempt := 1; ; attempt++ {
			req, err := c.RequestRepo.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if !mutate(req) {
				out = req
				return nil
			}
			err = c.RequestRepo.Update(ctx, req)
			if err == nil {
				out = req
				return nil
			}
			if !errors.Is(err, domain.ErrConflict) || attempt == maxCASAttempts {
				return fmt.Errorf("update request %s: %w", id, err)
			}
		}
	})
	return out, err
}

// recordEvent appends an event outside any journal write.
func (c *Coordinator) recordEvent(ctx context.Context, kind domain.EventKind, payload domain.EventPayload) {
	if c.OutboxRepo == nil {
		return
	}
	event, err := domain.NewEvent(kind, payload, c.Now())
	if err == nil {
		err = c.OutboxRepo.Append(ctx, event)
	}
	if err != nil {
		c.Logger.Warn("failed to record event", "request_id", payload.RequestID.String(), "kind", kind, "error", err)
	}
}

// payeeConfig returns the payee's configuration, or nil when none is stored.
func (c *Coordinator) payeeConfig(ctx context.Context, payee domain.Address) (*domain.PayeeConfig, error) {
	if c.PayeeRepo == nil {
		return nil, nil
	}
	cfg, err := c.PayeeRepo.GetByPayee(ctx, payee)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// payeeAccount is the account phase 1 delivers to on the destination domain.
func payeeAccount(req *domain.AggregationRequest, cfg *domain.PayeeConfig) string {
	if cfg != nil {
		return cfg.AccountOn(req.DestinationDomain)
	}
	return req.Payee.Account
}

// crossMode picks the transport for a single custody transfer.
func crossMode(source, dest string) domain.TransportMode {
	if source == dest {
		return domain.ModeDirect
	}
	return domain.ModeNative
}
