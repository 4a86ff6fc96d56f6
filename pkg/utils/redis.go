package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
type RedisConfig struct {
	Addr string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// GetJSON loads key into dst. It returns (false, nil) on a cache miss.
func GetJSON(ctx context.Context, rdb redis.Cmdable, key string, dst any) (bool, error) {
	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	raw, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v under key with ttl.
func SetJSON(ctx context.Context, rdb redis.Cmdable, key string, v any, ttl time.Duration) error {
	if rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be > 0")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, key, raw, ttl).Err()
}

// generationKey counts invalidations of key.
func generationKey(key string) string { return key + ":gen" }

var setIfGenerationScript = redis.NewScript(`
-- KEYS[1] = value key
-- KEYS[2] = generation key
-- ARGV[1] = generation observed before loading ('' when absent)
-- ARGV[2] = payload
-- ARGV[3] = ttl_ms
--
-- Returns:
--  1 if stored
--  0 if the key was invalidated since ARGV[1] was read
local current = redis.call('GET', KEYS[2])
if not current then
  current = ''
end
if current ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

var invalidateScript = redis.NewScript(`
-- KEYS = value key, generation key pairs
-- ARGV[1] = generation ttl_ms
for i = 1, #KEYS, 2 do
  redis.call('INCR', KEYS[i + 1])
  redis.call('PEXPIRE', KEYS[i + 1], ARGV[1])
  redis.call('DEL', KEYS[i])
end
return 1
`)

// CacheGeneration returns the current generation of key, or "" if it was never invalidated.
// Read it before loading the value passed to SetJSONIfGeneration.
func CacheGeneration(ctx context.Context, rdb redis.Cmdable, key string) (string, error) {
	if rdb == nil {
		return "", fmt.Errorf("redis client is nil")
	}
	gen, err := rdb.Get(ctx, generationKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return gen, err
}

// SetJSONIfGeneration stores v under key only if no InvalidateJSON ran since gen was read.
func SetJSONIfGeneration(ctx context.Context, rdb redis.Cmdable, key, gen string, v any, ttl time.Duration) (bool, error) {
	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be > 0")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	res, err := setIfGenerationScript.Run(ctx, rdb, []string{key, generationKey(key)}, gen, raw, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// InvalidateJSON deletes keys and advances their generations atomically.
// genTTL must outlive any in-flight load of these keys.
func InvalidateJSON(ctx context.Context, rdb redis.Cmdable, genTTL time.Duration, keys ...string) error {
	if rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	if genTTL <= 0 {
		return fmt.Errorf("ttl must be > 0")
	}
	if len(keys) == 0 {
		return nil
	}
	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, k, generationKey(k))
	}
	return invalidateScript.Run(ctx, rdb, pairs, genTTL.Milliseconds()).Err()
}
