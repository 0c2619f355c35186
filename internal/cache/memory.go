package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"conviction-lab/internal/observability"
)

// DefaultPurgeInterval is how often Run drops expired entries.
const DefaultPurgeInterval = time.Minute

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process Cache. Concurrent misses on one key share a
// single fetch; misses on other keys proceed independently.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	group   singleflight.Group
	now     func() time.Time
	timeout time.Duration
	metrics *observability.Metrics
}

// MemoryOption configures Memory.
type MemoryOption func(*Memory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// WithFlightTimeout bounds each shared fetch.
func WithFlightTimeout(d time.Duration) MemoryOption {
	return func(m *Memory) {
		m.timeout = d
	}
}

// WithMemoryMetrics records hits and misses.
func WithMemoryMetrics(metrics *observability.Metrics) MemoryOption {
	return func(m *Memory) {
		m.metrics = metrics
	}
}

// NewMemory creates an empty in-memory cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
		timeout: DefaultFlightTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ Cache = (*Memory)(nil)

// GetOrCompute implements Cache.
func (m *Memory) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) ([]byte, error) {
	if v, ok := m.get(key); ok {
		m.metrics.RecordCache("memory", true)
		return v, nil
	}
	m.metrics.RecordCache("memory", false)

	return flight(ctx, &m.group, key, m.timeout, func(ctx context.Context) ([]byte, error) {
		// A concurrent flight may have filled the key.
		if v, ok := m.get(key); ok {
			return v, nil
		}
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		m.set(key, v, ttl)
		return v, nil
	})
}

// Len returns the number of unexpired entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	n := 0
	for _, e := range m.entries {
		if now.Before(e.expires) {
			n++
		}
	}
	return n
}

// Purge removes expired entries.
func (m *Memory) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
}

// Run purges expired entries every interval until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Purge()
		}
	}
}

func (m *Memory) get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || !m.now().Before(e.expires) {
		return nil, false
	}
	return copyBytes(e.value), true
}

func (m *Memory) set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{value: copyBytes(value), expires: m.now().Add(ttl)}
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
