package seeder

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/simaogato/fundpool-backend/internal/domain"
	"github.com/simaogato/fundpool-backend/internal/logger"
)

// PayeeSeeder loads payee destination preferences from configuration
type PayeeSeeder struct {
	repo   domain.PayeeRepository
	logger *logger.Logger
}

// NewPayeeSeeder creates a new PayeeSeeder instance
func NewPayeeSeeder(repo domain.PayeeRepository, log *logger.Logger) *PayeeSeeder {
	return &PayeeSeeder{
		repo:   repo,
		logger: logger.OrNop(log),
	}
}

// Seed ensures every configured payee is stored as given.
// Entries that already match are left alone; changed ones are replaced.
// Returns how many were written.
func (s *PayeeSeeder) Seed(ctx context.Context, payees []*domain.PayeeConfig) (int, error) {
	written := 0
	for _, cfg := range payees {
		// Validate before touching the store
		if err := cfg.Validate(); err != nil {
			return written, fmt.Errorf("payee %s: %w", cfg.Payee, err)
		}

		existing, err := s.repo.GetByPayee(ctx, cfg.Payee)
		switch {
		case err == nil && reflect.DeepEqual(existing, cfg):
			continue
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return written, fmt.Errorf("load payee %s: %w", cfg.Payee, err)
		}

		if err := s.repo.Upsert(ctx, cfg); err != nil {
			return written, fmt.Errorf("store payee %s: %w", cfg.Payee, err)
		}
		written++
		s.logger.Info("payee configuration seeded",
			"payee", cfg.Payee.String(), "policy", cfg.Policy, "domains", len(cfg.Domains))
	}

	return written, nil
}
