package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisDeduplicator implements UpdateDeduplicator with Redis SETNX, so
// several bot instances behind one webhook share the seen set
type RedisDeduplicator struct {
	client *redis.Client
	config *DedupConfig
	logger *zap.Logger
}

// RedisOptions holds Redis connection settings
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisDeduplicator connects to Redis
func NewRedisDeduplicator(opts RedisOptions, cfg *DedupConfig, logger *zap.Logger) (*RedisDeduplicator, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisDeduplicator{
		client: client,
		config: cfg,
		logger: logger,
	}, nil
}

// Seen marks updateID as seen and reports whether it already was
func (d *RedisDeduplicator) Seen(ctx context.Context, updateID int64) (bool, error) {
	key := d.config.KeyPrefix + strconv.FormatInt(updateID, 10)

	set, err := d.client.SetNX(ctx, key, 1, d.config.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record update %d: %w", updateID, err)
	}
	return !set, nil
}

// Ping checks the Redis connection
func (d *RedisDeduplicator) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (d *RedisDeduplicator) Close() error {
	return d.client.Close()
}
