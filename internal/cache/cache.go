// Package cache provides the read-through cache shared by concurrent
// analyses: token metadata, current prices and price history windows.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultFlightTimeout bounds a coalesced fetch. The fetch is shared by every
// waiter on the key, so it does not inherit any one caller's cancellation.
const DefaultFlightTimeout = time.Minute

// FetchFunc loads the value for a missing key.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Cache is a read-through cache. A value is stored only after fetch succeeds;
// fetch errors are returned to the caller and nothing is cached.
type Cache interface {
	GetOrCompute(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) ([]byte, error)
}

// GetOrCompute is the typed form of Cache.GetOrCompute. Values are stored
// as JSON so every backend holds the same representation.
func GetOrCompute[T any](ctx context.Context, c Cache, key string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if c == nil {
		return fetch(ctx)
	}

	data, err := c.GetOrCompute(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return out, nil
}

// flight runs fn once per key across concurrent callers. Each caller stops
// waiting when its own ctx is done; the fetch itself only stops at timeout.
// Every caller gets its own copy of the value.
func flight(ctx context.Context, group *singleflight.Group, key string, timeout time.Duration, fn FetchFunc) ([]byte, error) {
	ch := group.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return fn(fctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return copyBytes(res.Val.([]byte)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
