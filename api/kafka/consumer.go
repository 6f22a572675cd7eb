package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"imgbatch/internal/counter"
)

// MessageHandler applies one increment event.
type MessageHandler func(ctx context.Context, event counter.IncrementEvent) error

type Consumer struct {
	consumer sarama.ConsumerGroup
	topic    string
	logger   *zap.Logger
}

func NewConsumer(brokers []string, groupID, topic string, logger *zap.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	c, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return &Consumer{consumer: c, topic: topic, logger: logger}, nil
}

type consumerHandler struct {
	fn     MessageHandler
	logger *zap.Logger
}

func (h *consumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		h.handle(session.Context(), msg)
		session.MarkMessage(msg, "")
	}
	return nil
}

// handle never fails the claim. Malformed events are dropped, and failed
// applies are logged.
func (h *consumerHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) {
	var event counter.IncrementEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil || event.EventID == "" {
		h.logger.Warn("Dropping malformed increment event",
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return
	}
	if err := h.fn(ctx, event); err != nil {
		h.logger.Error("Failed to apply increment event",
			zap.String("event_id", event.EventID),
			zap.String("source", event.Source),
			zap.Error(err),
		)
	}
}

// Run consumes until ctx is done, rejoining the group after every rebalance.
func (c *Consumer) Run(ctx context.Context, handler MessageHandler) error {
	h := &consumerHandler{fn: handler, logger: c.logger}
	for {
		if err := c.consumer.Consume(ctx, []string{c.topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consume %s: %w", c.topic, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	return c.consumer.Close()
}
