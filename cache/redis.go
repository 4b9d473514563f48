package cache

import (
	"context"
	"errors"
	"time"

	"nendo/core/audio"
	"nendo/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const signalKeyPrefix = "nendo:signal:"

// RedisSignalCache puts a shared redis tier behind an in-process LRU.
// Signals are stored WAV encoded with a TTL. Redis failures are logged and
// treated as misses.
type RedisSignalCache struct {
	local  *LRUSignalCache
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSignalCache wraps local with the given redis client.
func NewRedisSignalCache(local *LRUSignalCache, client *redis.Client, ttl time.Duration) *RedisSignalCache {
	return &RedisSignalCache{local: local, client: client, ttl: ttl}
}

func signalKey(trackID uuid.UUID) string {
	return signalKeyPrefix + trackID.String()
}

func (c *RedisSignalCache) Get(trackID uuid.UUID) (*audio.Signal, bool) {
	if sig, ok := c.local.Get(trackID); ok {
		return sig, true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := signalKey(trackID)
	maxRetries := 2
	retryDelay := 100 * time.Millisecond
	for attempt := 0; attempt < maxRetries; attempt++ {
		data, err := c.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, false
		}
		if err != nil {
			if attempt < maxRetries-1 {
				logger.Warn("[Cache] Reading cached signal failed, retrying",
					logger.String("key", key),
					logger.Int("attempt", attempt+1),
					logger.ErrorField(err))
				time.Sleep(retryDelay)
				retryDelay *= 2
				continue
			}
			logger.Error("[Cache] Reading cached signal failed", logger.String("key", key), logger.ErrorField(err))
			return nil, false
		}
		sig, err := audio.SignalFromWAVBytes(data)
		if err != nil {
			logger.Warn("[Cache] Dropping undecodable cached signal", logger.String("key", key), logger.ErrorField(err))
			c.client.Del(ctx, key)
			return nil, false
		}
		c.local.Set(trackID, sig)
		return sig, true
	}
	return nil, false
}

func (c *RedisSignalCache) Set(trackID uuid.UUID, sig *audio.Signal) {
	c.local.Set(trackID, sig)

	data, err := audio.WAVBytes(sig)
	if err != nil {
		logger.Warn("[Cache] Encoding signal for cache failed", logger.String("track_id", trackID.String()), logger.ErrorField(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.client.Set(ctx, signalKey(trackID), data, c.ttl).Err(); err != nil {
		logger.Error("[Cache] Caching signal failed",
			logger.String("track_id", trackID.String()),
			logger.Int("dataSize", len(data)),
			logger.ErrorField(err))
		return
	}
	logger.Debug("[Cache] Cached signal",
		logger.String("track_id", trackID.String()),
		logger.Int("dataSize", len(data)),
		logger.Duration("expiration", c.ttl))
}

func (c *RedisSignalCache) Remove(trackID uuid.UUID) {
	c.local.Remove(trackID)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.client.Del(ctx, signalKey(trackID)).Err(); err != nil {
		logger.Error("[Cache] Removing cached signal failed", logger.String("track_id", trackID.String()), logger.ErrorField(err))
	}
}

// Len counts the in-process entries only.
func (c *RedisSignalCache) Len() int {
	return c.local.Len()
}

// FlushSignals deletes every cached signal from redis and returns how many
// keys were removed.
func FlushSignals(ctx context.Context, client *redis.Client) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := client.Scan(ctx, cursor, signalKeyPrefix+"*", 100).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			if err := client.Del(ctx, keys...).Err(); err != nil {
				return removed, err
			}
			removed += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	logger.Info("[Cache] Flushed cached signals", logger.Int("deletedCount", removed))
	return removed, nil
}
