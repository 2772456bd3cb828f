package progress

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisKey is the hash holding source id -> last offset.
const redisKey = "ingest:progress"

// RedisStore keeps cursors in a Redis hash. It exists for deployments that
// already run Redis and want progress visible to operational tooling; it is
// still a single-writer store, not a coordination mechanism.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisStore creates a store using the given client.
func NewRedisStore(client *redis.Client, logger zerolog.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisStore{
		client: client,
		logger: logger.With().Str("component", "progress").Str("backend", "redis").Logger(),
	}, nil
}

// Load reads the whole hash, recovering to empty when unreadable. Fields
// that do not parse as integers are skipped.
func (s *RedisStore) Load(ctx context.Context) map[string]int64 {
	cursors := make(map[string]int64)

	fields, err := s.client.HGetAll(ctx, redisKey).Result()
	if err != nil {
		progressRecoveriesTotal.WithLabelValues("redis").Inc()
		s.logger.Warn().Err(err).Msg("Progress hash unreadable, starting from scratch")
		return cursors
	}

	for id, v := range fields {
		offset, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			progressRecoveriesTotal.WithLabelValues("redis").Inc()
			s.logger.Warn().
				Str("source", id).
				Str("value", v).
				Msg("Malformed cursor value, treating source as fresh")
			continue
		}
		cursors[id] = offset
	}
	return cursors
}

// Get returns the stored cursor or 0 if unknown or unreadable.
func (s *RedisStore) Get(ctx context.Context, sourceID string) int64 {
	v, err := s.client.HGet(ctx, redisKey, sourceID).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn().Err(err).Str("source", sourceID).Msg("Cursor lookup failed, assuming 0")
		}
		return 0
	}

	offset, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return offset
}

// Save writes the cursor field synchronously.
func (s *RedisStore) Save(ctx context.Context, sourceID string, cursor int64) error {
	if err := s.client.HSet(ctx, redisKey, sourceID, cursor).Err(); err != nil {
		progressSaveErrorsTotal.WithLabelValues("redis").Inc()
		return fmt.Errorf("save cursor: %w", err)
	}

	progressSavesTotal.WithLabelValues("redis").Inc()
	s.logger.Debug().
		Str("source", sourceID).
		Int64("cursor", cursor).
		Msg("Progress saved")

	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
