package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"conviction-lab/internal/observability"
)

// DefaultRedisPrefix namespaces every key written by Redis.
const DefaultRedisPrefix = "conviction:"

// Redis is a Cache shared across processes. Redis failures degrade to a
// direct fetch; they never fail the caller.
type Redis struct {
	client  redis.Cmdable
	prefix  string
	group   singleflight.Group
	timeout time.Duration
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// RedisOptions configures Redis.
type RedisOptions struct {
	Prefix string
	// FlightTimeout bounds each shared fetch. Zero means DefaultFlightTimeout.
	FlightTimeout time.Duration
	Logger        zerolog.Logger
	Metrics       *observability.Metrics
}

// NewRedis wraps an existing client.
func NewRedis(client redis.Cmdable, opts RedisOptions) *Redis {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	timeout := opts.FlightTimeout
	if timeout <= 0 {
		timeout = DefaultFlightTimeout
	}
	return &Redis{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

var _ Cache = (*Redis)(nil)

// GetOrCompute implements Cache.
func (r *Redis) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) ([]byte, error) {
	fullKey := r.prefix + key

	v, err := r.client.Get(ctx, fullKey).Bytes()
	switch {
	case err == nil:
		r.metrics.RecordCache("redis", true)
		return v, nil
	case errors.Is(err, redis.Nil):
	default:
		r.logger.Warn().Err(err).Str("key", fullKey).Msg("redis get failed")
	}
	r.metrics.RecordCache("redis", false)

	return flight(ctx, &r.group, fullKey, r.timeout, func(ctx context.Context) ([]byte, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if ttl > 0 {
			if err := r.client.Set(ctx, fullKey, v, ttl).Err(); err != nil {
				r.logger.Warn().Err(err).Str("key", fullKey).Msg("redis set failed")
			}
		}
		return v, nil
	})
}
