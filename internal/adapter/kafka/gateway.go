package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/time/rate"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

// Producer is the subset of *kgo.Client used to write records.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// handleNamespace scopes transfer handles derived from order tags.
var handleNamespace = uuid.MustParse("6f1c0e2a-4b7d-4c55-9a57-3f7d1e0b8c21")

// HandleFor returns the transfer handle of an order tag. The same tag always
// yields the same handle, so a resent order is recognisable downstream.
func HandleFor(tag string) domain.TransferHandle {
	return domain.TransferHandle(uuid.NewSHA1(handleNamespace, []byte(tag)).String())
}

// Gateway implements domain.TransportGateway by publishing orders to the
// orders topic. Sends are paced per source domain.
type Gateway struct {
	producer Producer
	topic    string
	limit    rate.Limit
	burst    int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewGateway creates a gateway. A non-positive perDomain rate disables pacing.
func NewGateway(producer Producer, topic string, perDomain float64, burst int) *Gateway {
	limit := rate.Limit(perDomain)
	if perDomain <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Gateway{
		producer: producer,
		topic:    topic,
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (g *Gateway) limiter(domainName string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.limiters[domainName]
	if !ok {
		l = rate.NewLimiter(g.limit, g.burst)
		g.limiters[domainName] = l
	}
	return l
}

// Send implements domain.TransportGateway.
func (g *Gateway) Send(ctx context.Context, order domain.TransferOrder) (domain.TransferHandle, error) {
	if err := g.limiter(order.SourceDomain).Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: pacing %s: %v", domain.ErrTransportFailure, order.SourceDomain, err)
	}

	handle := HandleFor(order.Tag)
	value, err := json.Marshal(orderMessage{
		Handle:            handle,
		Tag:               order.Tag,
		Amount:            int64(order.Amount),
		SourceDomain:      order.SourceDomain,
		DestinationDomain: order.DestinationDomain,
		Sender:            order.Sender,
		Recipient:         order.Recipient,
		Mode:              order.Mode,
	})
	if err != nil {
		return "", fmt.Errorf("encode transfer order: %w", err)
	}

	record := &kgo.Record{
		Topic: g.topic,
		Key:   []byte(order.Tag),
		Value: value,
	}
	if err := g.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return "", fmt.Errorf("%w: produce order %s: %v", domain.ErrTransportFailure, order.Tag, err)
	}
	return handle, nil
}
