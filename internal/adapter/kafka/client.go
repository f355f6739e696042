// Package kafka carries transfer orders, transfer confirmations and outbox
// events over Kafka topics.
package kafka

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/simaogato/fundpool-backend/internal/config"
)

// NewClient connects a client that produces to any topic and, when a
// consumer group is configured, consumes the confirmations topic.
func NewClient(ctx context.Context, cfg config.KafkaConfig) (*kgo.Client, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.ConsumerGroup != "" {
		opts = append(opts,
			kgo.ConsumerGroup(cfg.ConsumerGroup),
			kgo.ConsumeTopics(cfg.ConfirmationsTopic),
			kgo.DisableAutoCommit(),
		)
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka ping failed: %w", err)
	}
	return client, nil
}
