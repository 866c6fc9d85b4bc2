package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "orcha:state:"

// Store implements ports.StateStore using Redis.
type Store struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewStore creates a new Redis state store. Records expire after ttl.
func NewStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Save persists a record for an execution id with the configured TTL.
func (s *Store) Save(ctx context.Context, executionID string, data []byte) error {
	key := stateKey(executionID)

	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	s.logger.Debug("state saved",
		zap.String("execution_id", executionID),
		zap.Int("bytes", len(data)))
	return nil
}

// Load retrieves the record for an execution id, or nil when absent.
func (s *Store) Load(ctx context.Context, executionID string) ([]byte, error) {
	key := stateKey(executionID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	return data, nil
}

// Delete removes the record for an execution id.
func (s *Store) Delete(ctx context.Context, executionID string) error {
	key := stateKey(executionID)

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}

	s.logger.Debug("state deleted",
		zap.String("execution_id", executionID))
	return nil
}

// List returns all execution ids that have stored records.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	executionIDs := make([]string, 0, len(keys))
	for _, key := range keys {
		if len(key) > len(keyPrefix) {
			executionIDs = append(executionIDs, key[len(keyPrefix):])
		}
	}
	return executionIDs, nil
}

func stateKey(executionID string) string {
	return keyPrefix + executionID
}
