package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/orcha-dev/orcha/pkg/ports"
)

const streamKeyPrefix = "orcha:events:"

// StreamsBus implements EventBus on Redis Streams with consumer groups,
// so multiple engine instances can share the same event feed.
type StreamsBus struct {
	client        *redis.Client
	logger        *zap.Logger
	consumerGroup string
	consumerName  string
}

// NewStreamsBus creates a Redis Streams event bus. The consumer group and
// name identify this instance within a shared deployment.
func NewStreamsBus(client *redis.Client, consumerGroup, consumerName string, logger *zap.Logger) *StreamsBus {
	return &StreamsBus{
		client:        client,
		logger:        logger,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
	}
}

// Publish appends the event to the topic's stream.
func (b *StreamsBus) Publish(ctx context.Context, topic string, event ports.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	streamKey := streamKeyPrefix + topic
	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	b.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("stream", streamKey))

	return nil
}

// Subscribe creates the consumer group if needed and starts a reader
// goroutine that runs until ctx is cancelled.
func (b *StreamsBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	streamKey := streamKeyPrefix + topic

	err := b.client.XGroupCreateMkStream(ctx, streamKey, b.consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	b.logger.Info("subscribed to event stream",
		zap.String("stream", streamKey),
		zap.String("consumer_group", b.consumerGroup),
		zap.String("consumer", b.consumerName))

	go b.readStream(ctx, streamKey, handler)

	return nil
}

func (b *StreamsBus) readStream(ctx context.Context, streamKey string, handler ports.EventHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.consumerGroup,
			Consumer: b.consumerName,
			Streams:  []string{streamKey, ">"},
			Count:    10,
			Block:    time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			b.logger.Error("failed to read from stream",
				zap.String("stream", streamKey),
				zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				b.handleMessage(ctx, streamKey, message, handler)
			}
		}
	}
}

func (b *StreamsBus) handleMessage(ctx context.Context, streamKey string, message redis.XMessage, handler ports.EventHandler) {
	data, ok := message.Values["data"].(string)
	if !ok {
		b.logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		return
	}

	var event ports.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		b.logger.Error("failed to unmarshal event",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := handler(ctx, event); err != nil {
		b.logger.Error("handler error",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := b.client.XAck(ctx, streamKey, b.consumerGroup, message.ID).Err(); err != nil {
		b.logger.Error("failed to acknowledge message",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
}

// Unsubscribe is a no-op for streams consumers. Readers stop when the
// context passed to Subscribe is cancelled.
func (b *StreamsBus) Unsubscribe(ctx context.Context, topic string) error {
	return nil
}

// Close is a no-op. The Redis client is owned by the caller.
func (b *StreamsBus) Close() error {
	return nil
}
