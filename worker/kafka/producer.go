package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"imgbatch/internal/counter"
)

const DefaultTopic = "imgbatch.counter.increments"

// Producer reports batch totals as increment events. It only writes: reads
// and resets go to counterd directly.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

func NewProducer(brokers []string, topic string, logger *zap.Logger) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewProducerFrom(p, topic, logger), nil
}

// NewProducerFrom wraps an existing sync producer.
func NewProducerFrom(p sarama.SyncProducer, topic string, logger *zap.Logger) *Producer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Producer{producer: p, topic: topic, logger: logger}
}

// Publish sends one event keyed by its source so events from one client stay ordered.
func (p *Producer) Publish(ctx context.Context, event counter.IncrementEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.Source),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send increment event: %w", err)
	}
	p.logger.Debug("Increment event sent",
		zap.String("event_id", event.EventID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// Counter adapts the producer to counter.Counter, stamping events with source.
func (p *Producer) Counter(source string) counter.Counter {
	return &eventCounter{producer: p, source: source}
}

func (p *Producer) Close() error {
	return p.producer.Close()
}

type eventCounter struct {
	producer *Producer
	source   string
}

func (c *eventCounter) Get(context.Context) (counter.Counts, error) {
	return counter.Counts{}, counter.ErrUnsupported
}

// Increment returns only the delta it sent, the global totals are not known here.
func (c *eventCounter) Increment(ctx context.Context, files, sizeBytes int64) (counter.Counts, error) {
	event := counter.IncrementEvent{
		EventID:        uuid.NewString(),
		Source:         c.source,
		FilesProcessed: files,
		TotalSizeBytes: sizeBytes,
		OccurredAt:     time.Now().UTC(),
	}
	if err := c.producer.Publish(ctx, event); err != nil {
		return counter.Counts{}, err
	}
	return counter.Counts{TotalFiles: files, TotalSizeBytes: sizeBytes, LastUpdated: event.OccurredAt}, nil
}

func (c *eventCounter) Reset(context.Context) (counter.Counts, error) {
	return counter.Counts{}, counter.ErrUnsupported
}
