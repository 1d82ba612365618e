package repository

import (
	"context"
	"fmt"

	"StructPulse/internal/domain/models"
	pkgkafka "StructPulse/pkg/kafka"
)

// KafkaEventPublisher implements EventPublisher on a Kafka producer. Cycle
// results are keyed by instrument so per-instrument ordering is preserved
// under the hash balancer.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

// Publish sends one completed cycle result downstream.
func (p *KafkaEventPublisher) Publish(ctx context.Context, res *models.CycleResult) error {
	if err := p.producer.Publish(ctx, p.topic, []byte(res.Instrument), res); err != nil {
		return fmt.Errorf("publish cycle %s/%d: %w", res.Instrument, res.Seq, err)
	}
	return nil
}

// PublishMessage satisfies logger.Publisher so the same producer can carry
// aggregated log batches.
func (p *KafkaEventPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

// Close closes the underlying producer.
func (p *KafkaEventPublisher) Close() error {
	return p.producer.Close()
}
