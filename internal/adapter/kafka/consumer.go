package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/simaogato/fundpool-backend/internal/domain"
	"github.com/simaogato/fundpool-backend/internal/logger"
)

// Fetcher is the subset of *kgo.Client used to consume confirmations.
type Fetcher interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
}

// HandleFunc applies one confirmation.
type HandleFunc func(ctx context.Context, conf domain.Confirmation) error

// Consumer feeds the confirmations topic into a handler. Offsets are
// committed only after every record of a poll has been handled, so delivery
// to the handler is at least once.
type Consumer struct {
	fetcher   Fetcher
	handle    HandleFunc
	retryable func(error) bool
	backoff   func(attempt int) time.Duration
	logger    *logger.Logger
}

// NewConsumer creates a consumer. Errors for which retryable reports true
// are retried with backoff until they succeed or ctx ends; others are logged
// and the record is skipped.
func NewConsumer(fetcher Fetcher, handle HandleFunc, retryable func(error) bool, backoff func(int) time.Duration, log *logger.Logger) *Consumer {
	if retryable == nil {
		retryable = func(error) bool { return false }
	}
	if backoff == nil {
		backoff = func(int) time.Duration { return time.Second }
	}
	return &Consumer{
		fetcher:   fetcher,
		handle:    handle,
		retryable: retryable,
		backoff:   backoff,
		logger:    logger.OrNop(log),
	}
}

// Run polls until ctx is cancelled or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.fetcher.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Warn("fetch failed", "topic", topic, "partition", partition, "error", err)
		})

		var handled []*kgo.Record
		var stopped error
		fetches.EachRecord(func(rec *kgo.Record) {
			if stopped != nil {
				return
			}
			if err := c.process(ctx, rec); err != nil {
				stopped = err
				return
			}
			handled = append(handled, rec)
		})

		if len(handled) > 0 {
			if err := c.fetcher.CommitRecords(ctx, handled...); err != nil && ctx.Err() == nil {
				c.logger.Warn("failed to commit confirmation offsets", "error", err)
			}
		}
		if stopped != nil {
			return nil
		}
	}
}

// process returns an error only when ctx ended before the record was handled.
func (c *Consumer) process(ctx context.Context, rec *kgo.Record) error {
	conf, err := decodeConfirmation(rec.Value)
	if err != nil {
		c.logger.Warn("dropping malformed confirmation",
			"partition", rec.Partition, "offset", rec.Offset, "error", err)
		return nil
	}

	for attempt := 1; ; attempt++ {
		err := c.handle(ctx, conf)
		if err == nil {
			return nil
		}
		if !c.retryable(err) {
			c.logger.Warn("confirmation rejected",
				"handle", conf.Handle, "key", conf.ConfirmationKey, "error", err)
			return nil
		}

		c.logger.Debug("retrying confirmation", "handle", conf.Handle, "attempt", attempt, "error", err)
		timer := time.NewTimer(c.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func decodeConfirmation(value []byte) (domain.Confirmation, error) {
	var msg confirmationMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return domain.Confirmation{}, fmt.Errorf("decode confirmation: %w", err)
	}
	if msg.ConfirmationKey == "" && msg.Tag == "" {
		return domain.Confirmation{}, errors.New("confirmation has neither key nor tag")
	}
	return msg.toDomain()
}
