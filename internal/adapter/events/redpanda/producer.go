// Package redpanda publishes job lifecycle events to a Redpanda/Kafka topic.
//
// The event stream is an audit surface: delivery is fire-and-forget and a
// broker outage never blocks scheduling or job execution.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
)

// Producer wraps a Kafka producer and implements domain.EventPublisher.
type Producer struct {
	client *kgo.Client
	topic  string
}

// NewProducer constructs a Producer for the given brokers and topic.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.NewProducer: no seed brokers provided")
	}
	slog.Info("creating job event producer", slog.Any("brokers", brokers), slog.String("topic", topic))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(5),
		kgo.ProducerBatchMaxBytes(1000000),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewProducer: %w", err)
	}
	return &Producer{client: client, topic: topic}, nil
}

var _ domain.EventPublisher = (*Producer)(nil)

// Publish emits one event keyed by job id so a partition preserves the
// event order of each job. Delivery is asynchronous; produce errors are
// logged by the callback and otherwise dropped.
func (p *Producer) Publish(ctx context.Context, ev domain.JobEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("op=redpanda.Producer.Publish: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.JobID),
		Value: payload,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			slog.Warn("job event delivery failed",
				slog.String("job_id", ev.JobID),
				slog.String("type", ev.Type),
				slog.Any("error", err))
		}
	})
	return nil
}

// Close flushes buffered records and releases the client.
func (p *Producer) Close() error {
	if err := p.client.Flush(context.Background()); err != nil {
		return fmt.Errorf("op=redpanda.Producer.Close: %w", err)
	}
	p.client.Close()
	return nil
}
