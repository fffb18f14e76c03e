package kvstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neuralcache/semcache/pkg/observability/logging"
)

// RedisConfig holds connection settings for the Redis-backed store.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password,omitempty"`
	Database int    `yaml:"database,omitempty"`
	// Timeout bounds connection checks, in seconds (0 = no bound)
	Timeout int `yaml:"timeout,omitempty"`
}

// RedisStore implements Store on a Redis server. Entry values are stored as
// plain string keys, bookkeeping in native sorted sets.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.Database,
	})

	ctx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Timeout)*time.Second)
		defer cancel()
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection check failed: %w", err)
	}

	logging.Debugf("RedisStore: connected to %s (db=%d)", cfg.Address, cfg.Database)
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	var expiry time.Duration
	if ttlSeconds > 0 {
		expiry = time.Duration(ttlSeconds) * time.Second
	}
	if err := s.client.Set(ctx, key, value, expiry).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	removed, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del failed: %w", err)
	}
	return int(removed), nil
}

func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", 256).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan failed: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (s *RedisStore) ZAdd(ctx context.Context, set, member string, score float64) error {
	if err := s.client.ZAdd(ctx, set, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("redis zadd failed: %w", err)
	}
	return nil
}

func (s *RedisStore) ZRem(ctx context.Context, set string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.ZRem(ctx, set, args...).Err(); err != nil {
		return fmt.Errorf("redis zrem failed: %w", err)
	}
	return nil
}

func (s *RedisStore) ZRangeByScore(ctx context.Context, set string, min, max float64, limit int) ([]string, error) {
	rangeBy := &redis.ZRangeBy{
		Min: strconv.FormatFloat(min, 'f', -1, 64),
		Max: strconv.FormatFloat(max, 'f', -1, 64),
	}
	if limit > 0 {
		rangeBy.Count = int64(limit)
	}
	members, err := s.client.ZRangeByScore(ctx, set, rangeBy).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore failed: %w", err)
	}
	return members, nil
}

func (s *RedisStore) ZRangeWithScores(ctx context.Context, set string) ([]ScoredMember, error) {
	zs, err := s.client.ZRangeWithScores(ctx, set, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange failed: %w", err)
	}
	out := make([]ScoredMember, len(zs))
	for i, z := range zs {
		out[i] = ScoredMember{Member: fmt.Sprint(z.Member), Score: z.Score}
	}
	return out, nil
}

func (s *RedisStore) ZScore(ctx context.Context, set, member string) (float64, bool, error) {
	score, err := s.client.ZScore(ctx, set, member).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis zscore failed: %w", err)
	}
	return score, true, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
