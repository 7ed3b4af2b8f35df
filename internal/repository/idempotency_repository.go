package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Staycoo10/mini-airbnb/internal/domain"
	"github.com/Staycoo10/mini-airbnb/internal/infrastructure/redis"
)

// RedisIdempotencyRepository implements domain.IdempotencyStore using Redis.
// Entries are JSON records and expire after the configured TTL.
type RedisIdempotencyRepository struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisIdempotencyRepository creates a new idempotency repository
func NewRedisIdempotencyRepository(redisClient *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisIdempotencyRepository {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyRepository{
		redis:  redisClient,
		ttl:    ttl,
		logger: logger,
	}
}

func idempotencyKey(actorID int64, key string) string {
	return "idem:" + strconv.FormatInt(actorID, 10) + ":" + key
}

// Lookup returns the record stored under key for the actor
func (r *RedisIdempotencyRepository) Lookup(ctx context.Context, actorID int64, key string) (domain.IdempotencyRecord, bool, error) {
	raw, found, err := r.redis.Get(ctx, idempotencyKey(actorID, key))
	if err != nil {
		return domain.IdempotencyRecord{}, false, fmt.Errorf("failed to get idempotency key: %w", err)
	}
	if !found {
		return domain.IdempotencyRecord{}, false, nil
	}

	var rec domain.IdempotencyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.ReservationID <= 0 {
		r.logger.Warn("discarding malformed idempotency entry", slog.Int64("actor_id", actorID))
		return domain.IdempotencyRecord{}, false, nil
	}
	return rec, true, nil
}

// Remember stores rec under key. The first writer wins.
func (r *RedisIdempotencyRepository) Remember(ctx context.Context, actorID int64, key string, rec domain.IdempotencyRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency record: %w", err)
	}
	stored, err := r.redis.SetNX(ctx, idempotencyKey(actorID, key), string(payload), r.ttl)
	if err != nil {
		return fmt.Errorf("failed to store idempotency key: %w", err)
	}
	if !stored {
		r.logger.Debug("idempotency key already present", slog.Int64("reservation_id", rec.ReservationID))
	}
	return nil
}
