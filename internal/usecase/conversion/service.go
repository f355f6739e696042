// Package conversion turns contributions in other assets into the settlement
// asset before they reach the ledger.
package conversion

import (
	"context"
	"fmt"
	"strings"

	"github.com/simaogato/fundpool-backend/internal/domain"
	"github.com/simaogato/fundpool-backend/internal/logger"
)

// ConversionService normalizes amounts into the settlement asset
type ConversionService struct {
	Converter       domain.AssetConverter
	SettlementAsset string
	Logger          *logger.Logger
}

// NewConversionService creates a new ConversionService instance
func NewConversionService(converter domain.AssetConverter, settlementAsset string, log *logger.Logger) *ConversionService {
	return &ConversionService{
		Converter:       converter,
		SettlementAsset: settlementAsset,
		Logger:          logger.OrNop(log),
	}
}

// IsSettlementAsset reports whether asset needs no conversion. An empty asset
// means the settlement asset.
func (s *ConversionService) IsSettlementAsset(asset string) bool {
	return asset == "" || strings.EqualFold(asset, s.SettlementAsset)
}

// Normalize returns amount expressed in the settlement asset.
// Logic:
//  1. Settlement asset passes through unchanged
//  2. Otherwise ask the converter; a failure is a transport failure
//  3. Reject output below minOut (zero disables the guard)
func (s *ConversionService) Normalize(ctx context.Context, asset string, amount, minOut domain.Amount) (domain.Amount, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: conversion amount must be positive", domain.ErrInvalidRequest)
	}

	// 1. Pass through
	if s.IsSettlementAsset(asset) {
		return amount, nil
	}

	if s.Converter == nil {
		return 0, fmt.Errorf("%w: no converter for %s", domain.ErrTransportFailure, asset)
	}

	// 2. Convert
	out, err := s.Converter.Convert(ctx, amount, asset, s.SettlementAsset)
	if err != nil {
		return 0, fmt.Errorf("%w: convert %d %s: %v", domain.ErrTransportFailure, amount, asset, err)
	}

	// 3. Minimum output guard
	if minOut > 0 && out < minOut {
		s.Logger.Warn("conversion output below minimum",
			"asset", asset, "amount_in", amount, "amount_out", out, "min_out", minOut)
		return 0, fmt.Errorf("%w: converted %d is below the minimum %d", domain.ErrNotEligible, out, minOut)
	}
	if out <= 0 {
		return 0, fmt.Errorf("%w: conversion of %d %s produced nothing", domain.ErrNotEligible, amount, asset)
	}

	return out, nil
}
