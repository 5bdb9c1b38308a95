package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dyike/TradingAgentsGo/config"
	"github.com/dyike/TradingAgentsGo/models"
)

const redisKeyPrefix = "tradingagents:cache:"

// RedisStore is the shared hot tier. Entries expire with their category TTL.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisClient creates a client and verifies connectivity.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (r *RedisStore) Name() string { return "redis" }

func (r *RedisStore) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, err
	}
	var e models.CacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode redis entry: %w", err)
	}
	return &e, nil
}

// Put stores the entry until its expiry. Already expired entries are skipped.
func (r *RedisStore) Put(ctx context.Context, entry *models.CacheEntry) error {
	ttl := entry.ExpiresAt().Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisKeyPrefix+entry.Key, data, ttl).Err()
}

func (r *RedisStore) scan(ctx context.Context, fn func(key string) error) error {
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (r *RedisStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	var n int64
	err := r.scan(ctx, func(key string) error {
		data, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			return nil
		}
		var e models.CacheEntry
		if json.Unmarshal(data, &e) != nil || e.CreatedAt.Before(olderThan) {
			if r.client.Del(ctx, key).Err() == nil {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *RedisStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.scan(ctx, func(string) error {
		n++
		return nil
	})
	return n, err
}
