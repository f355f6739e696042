// Package planner computes how a settled amount is spread over a payee's
// destination domains and which transport each leg uses.
package planner

import (
	"context"
	"errors"
	"fmt"

	"github.com/simaogato/fundpool-backend/internal/domain"
	"github.com/simaogato/fundpool-backend/internal/logger"
)

// Policy allocates an amount across the domains of a payee configuration.
// The returned slice is index-aligned with cfg.Domains and sums to amount.
type Policy interface {
	Allocate(ctx context.Context, cfg *domain.PayeeConfig, amount domain.Amount) ([]domain.Amount, error)
}

// Planner builds dispatch plans.
type Planner struct {
	Policies map[domain.DispatchPolicy]Policy
	Modes    ModeSelector
	Logger   *logger.Logger
}

// NewPlanner creates a planner with the equal policy and, when balances is
// non-nil, the deficit policy.
func NewPlanner(balances domain.BalanceQuery, fastThreshold domain.Amount, log *logger.Logger) *Planner {
	log = logger.OrNop(log)

	policies := map[domain.DispatchPolicy]Policy{
		domain.PolicyEqual: EqualPolicy{},
	}
	if balances != nil {
		policies[domain.PolicyDeficit] = &DeficitPolicy{Balances: balances, Logger: log}
	}

	return &Planner{
		Policies: policies,
		Modes:    ModeSelector{FastThreshold: fastThreshold},
		Logger:   log,
	}
}

// Plan distributes amount over cfg's domains, sending from source.
// Plans are deterministic for identical inputs. Domains allocated nothing
// are left out of the plan.
func (p *Planner) Plan(ctx context.Context, requestID domain.RequestID, cfg *domain.PayeeConfig, amount domain.Amount, source string) (*domain.DispatchPlan, error) {
	if amount <= 0 {
		return nil, errors.New("plan amount must be positive")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("payee config: %w", err)
	}

	// 1. Allocate, falling back to equal division for unknown policies
	policy, ok := p.Policies[cfg.Policy]
	if !ok {
		p.Logger.Warn("dispatch policy unavailable, using equal division",
			"policy", cfg.Policy, "payee", cfg.Payee.String())
		policy = EqualPolicy{}
	}

	shares, err := policy.Allocate(ctx, cfg, amount)
	if err != nil {
		return nil, fmt.Errorf("allocate: %w", err)
	}
	if len(shares) != len(cfg.Domains) {
		return nil, fmt.Errorf("policy returned %d shares for %d domains", len(shares), len(cfg.Domains))
	}

	// 2. Build legs in configuration order
	plan := &domain.DispatchPlan{RequestID: requestID, SourceDomain: source}
	for i, share := range shares {
		if share <= 0 {
			continue
		}
		d := cfg.Domains[i]
		plan.Legs = append(plan.Legs, domain.DispatchLeg{
			Index:   len(plan.Legs),
			Domain:  d.Domain,
			Account: d.Account,
			Amount:  share,
			Mode:    p.Modes.Select(source, d.Domain, share),
		})
	}

	// 3. Safety check: the legs must add up to the settled amount exactly
	if err := plan.Validate(amount); err != nil {
		return nil, err
	}
	return plan, nil
}

// EqualPolicy divides evenly, giving the remainder one unit at a time to the
// lowest-indexed domains.
type EqualPolicy struct{}

// Allocate implements Policy.
func (EqualPolicy) Allocate(_ context.Context, cfg *domain.PayeeConfig, amount domain.Amount) ([]domain.Amount, error) {
	return EqualSplit(amount, len(cfg.Domains)), nil
}

// EqualSplit divides amount into n shares that differ by at most one unit.
func EqualSplit(amount domain.Amount, n int) []domain.Amount {
	if n <= 0 {
		return nil
	}
	shares := make([]domain.Amount, n)
	base := amount / domain.Amount(n)
	rem := int(amount % domain.Amount(n))
	for i := range shares {
		shares[i] = base
		if i < rem {
			shares[i]++
		}
	}
	return shares
}
