package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"goldsynth/internal/domain"
)

const latestPriceKey = "goldsynth:price:latest"

// Redis stores the latest price in Redis with an in-memory fallback for
// when Redis is unavailable.
type Redis struct {
	rdb    *redis.Client
	mem    *Memory
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedis creates the cache and pings Redis to ensure it is reachable.
func NewRedis(ctx context.Context, addr, password string, db int, ttl time.Duration, logger zerolog.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{
		rdb:    rdb,
		mem:    NewMemory(ttl, nil),
		ttl:    ttl,
		logger: logger.With().Str("component", "price_cache").Logger(),
	}, nil
}

// Close shuts down the Redis client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// SetLatest writes the latest price. Always mirrors into the memory cache so
// reads survive a Redis outage.
func (r *Redis) SetLatest(ctx context.Context, point domain.PricePoint) error {
	_ = r.mem.SetLatest(ctx, point)

	b, err := json.Marshal(encodePoint(point))
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, latestPriceKey, b, r.ttl).Err(); err != nil {
		r.logger.Warn().Err(err).Msg("redis set failed, memory cache only")
		return nil
	}
	return nil
}

// Latest reads the latest price from Redis, falling back to memory.
func (r *Redis) Latest(ctx context.Context) (domain.PricePoint, error) {
	b, err := r.rdb.Get(ctx, latestPriceKey).Bytes()
	if err != nil {
		return r.mem.Latest(ctx)
	}

	var cached cachedPrice
	if err := json.Unmarshal(b, &cached); err != nil {
		return r.mem.Latest(ctx)
	}
	return cached.decode()
}

// Health checks the Redis connection.
func (r *Redis) Health(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

var _ PriceCache = (*Redis)(nil)
