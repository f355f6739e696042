package domain

import (
	"context"
	"strings"
)

// TransferHandle identifies a transfer accepted by the transport gateway.
type TransferHandle string

// OutboundTagPrefix marks transfers the engine itself initiated, so their
// confirmations are routed to the coordinator rather than the ledger.
const OutboundTagPrefix = "out:"

// TransferOrder asks the transport gateway to move value.
type TransferOrder struct {
	Tag               string // deterministic per operation, lets the gateway drop repeats
	Amount            Amount
	SourceDomain      string
	DestinationDomain string
	Sender            string // account on the source domain
	Recipient         string // account on the destination domain
	Mode              TransportMode
}

// Confirmation is delivered by the transport gateway at least once, in no
// particular order relative to other transfers.
type Confirmation struct {
	Handle          TransferHandle
	RequestID       RequestID
	SourceDomain    string
	Amount          Amount
	Asset           string
	MinAmountOut    Amount // lower bound after conversion, zero disables the check
	ConfirmationKey string
	Tag             string
}

// Outbound reports whether the confirmation acknowledges an engine-initiated
// transfer.
func (c Confirmation) Outbound() bool {
	return strings.HasPrefix(c.Tag, OutboundTagPrefix)
}

// TransportGateway moves value between domains. Send returns once the
// transfer is accepted; completion is reported through Confirmation.
type TransportGateway interface {
	Send(ctx context.Context, order TransferOrder) (TransferHandle, error)
}

// AssetConverter swaps a non-settlement asset into the settlement asset.
type AssetConverter interface {
	Convert(ctx context.Context, amount Amount, assetIn, assetOut string) (Amount, error)
}

// BalanceQuery reads an account's standing balance on a domain.
type BalanceQuery interface {
	BalanceOf(ctx context.Context, domainName, account string) (Amount, error)
}

// EventPublisher delivers outbox events to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}
