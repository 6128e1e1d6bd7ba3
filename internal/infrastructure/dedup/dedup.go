// Package dedup remembers which source items have already been ingested so
// that a message seen twice is processed once.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/docintake/internal/infrastructure/resilience"
)

const (
	DefaultTTL = 24 * time.Hour

	keyPrefix = "docintake:seen:"
)

// RedisFilter shares dedup state across processes.
type RedisFilter struct {
	rdb      redis.Cmdable
	ttl      time.Duration
	executor *resilience.Executor
}

func NewRedisFilter(rdb redis.Cmdable, ttl time.Duration) *RedisFilter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisFilter{rdb: rdb, ttl: ttl}
}

// WithExecutor retries transient redis failures through the executor.
func (f *RedisFilter) WithExecutor(executor *resilience.Executor) *RedisFilter {
	f.executor = executor
	return f
}

// IsNew marks key as seen and reports whether it was unseen before.
func (f *RedisFilter) IsNew(ctx context.Context, key string) (bool, error) {
	call := func(ctx context.Context) (bool, error) {
		set, err := f.rdb.SetNX(ctx, keyPrefix+key, 1, f.ttl).Result()
		if err != nil {
			return false, fmt.Errorf("dedup SETNX: %w", err)
		}
		return set, nil
	}
	if f.executor == nil {
		return call(ctx)
	}
	return resilience.Do(ctx, f.executor, "redis.dedup", call, classifyRedisError)
}

func classifyRedisError(err error) resilience.ErrorClassification {
	var netErr net.Error
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err), errors.Is(err, redis.ErrClosed), errors.As(err, &netErr):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

// MemoryFilter keeps dedup state in process memory.
type MemoryFilter struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryFilter(ttl time.Duration) *MemoryFilter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryFilter{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

func (f *MemoryFilter) IsNew(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if expires, ok := f.seen[key]; ok && now.Before(expires) {
		return false, nil
	}
	f.seen[key] = now.Add(f.ttl)

	for k, expires := range f.seen {
		if !now.Before(expires) {
			delete(f.seen, k)
		}
	}
	return true, nil
}
