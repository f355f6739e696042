// Package outbox publishes journaled events to subscribers. Delivery is at
// least once: an event is marked published only after the publisher accepted
// it, so a crash in between republishes it.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/simaogato/fundpool-backend/internal/domain"
	"github.com/simaogato/fundpool-backend/internal/logger"
	"github.com/simaogato/fundpool-backend/internal/metrics"
)

// Relay moves events from the outbox to an EventPublisher.
type Relay struct {
	Outbox    domain.OutboxRepository
	Publisher domain.EventPublisher
	Interval  time.Duration
	BatchSize int
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
	Now       func() time.Time
}

// NewRelay creates a new Relay instance
func NewRelay(outbox domain.OutboxRepository, publisher domain.EventPublisher, interval time.Duration, batchSize int, m *metrics.Metrics, log *logger.Logger) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		Outbox:    outbox,
		Publisher: publisher,
		Interval:  interval,
		BatchSize: batchSize,
		Metrics:   metrics.OrNop(m),
		Logger:    logger.OrNop(log),
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run flushes on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil {
				r.Logger.Warn("outbox flush failed", "error", err)
			}
		}
	}
}

// Flush publishes one batch in order and returns how many were delivered. It
// stops at the first publish failure so events of a request keep their order.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.Outbox.ListUnpublished(ctx, r.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list unpublished events: %w", err)
	}

	published := 0
	for _, event := range events {
		if err := r.Publisher.Publish(ctx, event); err != nil {
			return published, fmt.Errorf("publish %s event %s: %w", event.Kind, event.ID, err)
		}
		if err := r.Outbox.MarkPublished(ctx, event.ID, r.Now()); err != nil {
			return published, fmt.Errorf("mark event %s published: %w", event.ID, err)
		}
		published++
		r.Metrics.EventsPublished.Inc()
	}

	if published > 0 {
		r.Logger.Debug("outbox flushed", "published", published)
	}
	return published, nil
}
