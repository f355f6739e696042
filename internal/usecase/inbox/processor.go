package inbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/simaogato/fundpool-backend/internal/domain"
	"github.com/simaogato/fundpool-backend/internal/logger"
	"github.com/simaogato/fundpool-backend/internal/usecase/ledger"
)

// Crediter applies a contribution to the ledger.
type Crediter interface {
	Credit(ctx context.Context, input ledger.CreditInput) (*ledger.CreditResult, error)
}

// Normalizer expresses a contribution in the settlement asset.
type Normalizer interface {
	IsSettlementAsset(asset string) bool
	Normalize(ctx context.Context, asset string, amount, minOut domain.Amount) (domain.Amount, error)
}

// OutboundHandler receives confirmations of transfers the engine initiated.
type OutboundHandler interface {
	OnTransferConfirmed(ctx context.Context, conf domain.Confirmation) error
}

// Processor handles one confirmation at a time. The inbox guarantees no two
// confirmations for the same request are processed concurrently.
type Processor struct {
	Ledger        Crediter
	Conversion    Normalizer
	Outbound      OutboundHandler
	Contributions domain.ContributionRepository
	Logger        *logger.Logger
}

// NewProcessor creates a new Processor instance
func NewProcessor(
	crediter Crediter,
	conversion Normalizer,
	outbound OutboundHandler,
	contributions domain.ContributionRepository,
	log *logger.Logger,
) *Processor {
	return &Processor{
		Ledger:        crediter,
		Conversion:    conversion,
		Outbound:      outbound,
		Contributions: contributions,
		Logger:        logger.OrNop(log),
	}
}

// Process routes a confirmation.
// Logic:
//  1. Outbound tags go to the coordinator
//  2. A confirmation key already in the ledger is replayed as a duplicate
//     without converting again
//  3. Other assets are converted into the settlement asset
//  4. The credit is applied
func (p *Processor) Process(ctx context.Context, conf domain.Confirmation) (*ledger.CreditResult, error) {
	// 1. Engine-initiated transfer
	if conf.Outbound() {
		if p.Outbound == nil {
			return nil, nil
		}
		return nil, p.Outbound.OnTransferConfirmed(ctx, conf)
	}

	input := ledger.CreditInput{
		RequestID:       conf.RequestID,
		SourceDomain:    conf.SourceDomain,
		Amount:          conf.Amount,
		ConfirmationKey: conf.ConfirmationKey,
		TransferHandle:  string(conf.Handle),
		Asset:           conf.Asset,
		OriginalAmount:  conf.Amount,
	}

	// 2. Replay
	if p.Contributions != nil && conf.ConfirmationKey != "" {
		rec, err := p.Contributions.GetByKey(ctx, conf.RequestID, conf.ConfirmationKey)
		switch {
		case err == nil:
			input.Amount = rec.Amount
			return p.Ledger.Credit(ctx, input)
		case !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("look up confirmation key: %w", err)
		}
	}

	// 3. Conversion
	if p.Conversion != nil && !p.Conversion.IsSettlementAsset(conf.Asset) {
		out, err := p.Conversion.Normalize(ctx, conf.Asset, conf.Amount, conf.MinAmountOut)
		if err != nil {
			return nil, err
		}
		input.Amount = out
	}

	// 4. Credit
	return p.Ledger.Credit(ctx, input)
}

// Retryable reports whether a processing error may succeed on redelivery.
// Only errors that no retry can change are permanent; store and transport
// failures are retried so the confirmation is not lost.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrAlreadyTerminal),
		errors.Is(err, domain.ErrNotEligible),
		errors.Is(err, domain.ErrUnauthorized):
		return false
	}
	return true
}
