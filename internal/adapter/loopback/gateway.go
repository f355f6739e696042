// Package loopback provides in-process stand-ins for the transport gateway
// and event bus, used when no brokers are configured.
package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/simaogato/fundpool-backend/internal/domain"
	"github.com/simaogato/fundpool-backend/internal/logger"
)

var handleNamespace = uuid.MustParse("0b8f4a57-2c1e-4d6b-8e9a-5a4c3d2e1f70")

// DeliverFunc hands a confirmation back to the engine.
type DeliverFunc func(ctx context.Context, conf domain.Confirmation) error

// Gateway accepts every order and confirms it back through deliver.
type Gateway struct {
	deliver DeliverFunc
	queue   chan domain.Confirmation
	logger  *logger.Logger

	mu   sync.Mutex
	sent []domain.TransferOrder
}

// NewGateway creates a loopback gateway with room for depth unconfirmed
// orders.
func NewGateway(deliver DeliverFunc, depth int, log *logger.Logger) *Gateway {
	if depth <= 0 {
		depth = 256
	}
	return &Gateway{
		deliver: deliver,
		queue:   make(chan domain.Confirmation, depth),
		logger:  logger.OrNop(log),
	}
}

// Send implements domain.TransportGateway.
func (g *Gateway) Send(ctx context.Context, order domain.TransferOrder) (domain.TransferHandle, error) {
	handle := domain.TransferHandle(uuid.NewSHA1(handleNamespace, []byte(order.Tag)).String())

	conf := domain.Confirmation{
		Handle:          handle,
		SourceDomain:    order.SourceDomain,
		Amount:          order.Amount,
		ConfirmationKey: "loopback:" + order.Tag,
		Tag:             order.Tag,
	}
	select {
	case g.queue <- conf:
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", domain.ErrTransportFailure, ctx.Err())
	default:
		return "", fmt.Errorf("%w: loopback queue full", domain.ErrTransportFailure)
	}

	g.mu.Lock()
	g.sent = append(g.sent, order)
	g.mu.Unlock()

	g.logger.Debug("loopback transfer accepted",
		"tag", order.Tag, "amount", order.Amount, "from", order.SourceDomain, "to", order.DestinationDomain)
	return handle, nil
}

// Sent returns the orders accepted so far.
func (g *Gateway) Sent() []domain.TransferOrder {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.TransferOrder(nil), g.sent...)
}

// Run delivers confirmations until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case conf := <-g.queue:
			if err := g.deliver(ctx, conf); err != nil {
				g.logger.Warn("loopback confirmation not delivered", "tag", conf.Tag, "error", err)
			}
		}
	}
}

// Publisher logs events instead of publishing them.
type Publisher struct {
	logger *logger.Logger
}

// NewPublisher creates a logging event publisher.
func NewPublisher(log *logger.Logger) *Publisher {
	return &Publisher{logger: logger.OrNop(log)}
}

// Publish implements domain.EventPublisher.
func (p *Publisher) Publish(_ context.Context, event *domain.Event) error {
	p.logger.Info("event", "id", event.ID, "kind", event.Kind, "request_id", event.RequestID)
	return nil
}
