package planner

import (
	"context"
	"fmt"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

// ModeSelector chooses a transport per leg. Same-domain legs are direct
// credits; cross-domain legs below FastThreshold use the fast transport and
// the rest the native one.
type ModeSelector struct {
	FastThreshold domain.Amount
}

// Select returns the transport mode for moving amount from source to dest.
func (s ModeSelector) Select(source, dest string, amount domain.Amount) domain.TransportMode {
	switch {
	case source == dest:
		return domain.ModeDirect
	case amount < s.FastThreshold:
		return domain.ModeFast
	default:
		return domain.ModeNative
	}
}

// Executor carries out one transfer order.
type Executor func(ctx context.Context, gw domain.TransportGateway, order domain.TransferOrder) (domain.TransferHandle, error)

// StrategyTable maps each transport mode to its executor.
type StrategyTable map[domain.TransportMode]Executor

// DirectHandlePrefix marks handles of direct credits that needed no transfer.
const DirectHandlePrefix = "direct:"

// DefaultStrategies returns the executors for every known mode.
func DefaultStrategies() StrategyTable {
	return StrategyTable{
		domain.ModeDirect: executeDirect,
		domain.ModeFast:   executeTransport,
		domain.ModeNative: executeTransport,
	}
}

// Execute runs order through the executor for its mode.
func (t StrategyTable) Execute(ctx context.Context, gw domain.TransportGateway, order domain.TransferOrder) (domain.TransferHandle, error) {
	exec, ok := t[order.Mode]
	if !ok {
		return "", fmt.Errorf("no executor for transport mode %q", order.Mode)
	}
	return exec(ctx, gw, order)
}

// executeDirect credits in place. When the funds already sit in the
// recipient account nothing has to move.
func executeDirect(ctx context.Context, gw domain.TransportGateway, order domain.TransferOrder) (domain.TransferHandle, error) {
	if order.SourceDomain == order.DestinationDomain && order.Sender == order.Recipient {
		return domain.TransferHandle(DirectHandlePrefix + order.Tag), nil
	}
	return executeTransport(ctx, gw, order)
}

func executeTransport(ctx context.Context, gw domain.TransportGateway, order domain.TransferOrder) (domain.TransferHandle, error) {
	handle, err := gw.Send(ctx, order)
	if err != nil {
		return "", fmt.Errorf("%w: %s transfer to %s: %v", domain.ErrTransportFailure, order.Mode, order.DestinationDomain, err)
	}
	return handle, nil
}
