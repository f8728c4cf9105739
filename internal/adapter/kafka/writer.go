package kafka

import (
	"context"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/kzaleski/signalmap/internal/config"
)

// Producer publishes submitted measurements to the measurement topic.
// The API service uses it to hand records off to the ingest worker.
type Producer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewProducer creates a Kafka producer for the configured measurement topic.
func NewProducer(cfg *config.Config, logger *slog.Logger) *Producer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Producer{writer: w, logger: logger}
}

// Enqueue publishes one measurement payload. The key carries the client's
// idempotency token so duplicate submissions of the same record land on the
// same partition and stay adjacent for downstream inspection.
func (p *Producer) Enqueue(ctx context.Context, key string, payload []byte) error {
	msg := kafkago.Message{
		Key:   []byte(key),
		Value: payload,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("enqueue measurement: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
