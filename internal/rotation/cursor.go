package rotation

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisCursor stores the round-robin position as a shared Redis counter,
// so rotation stays exact across stateless instances and restarts.
type RedisCursor struct {
	client *redis.Client
}

// NewRedisCursor creates a cursor backed by the given Redis client.
func NewRedisCursor(client *redis.Client) *RedisCursor {
	return &RedisCursor{client: client}
}

func (c *RedisCursor) Next(ctx context.Context, productID string, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("cursor size must be positive")
	}
	val, err := c.client.Incr(ctx, "rotation:rr:"+productID).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to advance cursor: %w", err)
	}
	return int((val - 1) % int64(n)), nil
}

// MemoryCursor keeps per-product cursors in process memory. Fallback for
// single-instance deployments without Redis, and for tests.
type MemoryCursor struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemoryCursor creates an empty in-process cursor.
func NewMemoryCursor() *MemoryCursor {
	return &MemoryCursor{counters: make(map[string]int64)}
}

func (c *MemoryCursor) Next(ctx context.Context, productID string, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("cursor size must be positive")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	val := c.counters[productID]
	c.counters[productID] = val + 1
	return int(val % int64(n)), nil
}
