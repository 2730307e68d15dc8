package resource

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation cannot be granted.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds resource limits. Zero values mean unlimited.
type Config struct {
	// MemoryLimitBytes caps off-heap memory reserved through AcquireMemory.
	MemoryLimitBytes int64
	// OpsPerSec caps rebuild throughput in records per second.
	OpsPerSec int64
}

// Controller enforces a memory budget and an operation rate. A nil
// *Controller grants everything.
type Controller struct {
	limit int64
	mem   *semaphore.Weighted
	used  atomic.Int64
	ops   *rate.Limiter
}

// NewController returns a Controller for cfg.
func NewController(cfg Config) *Controller {
	c := &Controller{limit: max(cfg.MemoryLimitBytes, 0)}
	if c.limit > 0 {
		c.mem = semaphore.NewWeighted(c.limit)
	}
	if cfg.OpsPerSec > 0 {
		c.ops = rate.NewLimiter(rate.Limit(cfg.OpsPerSec), int(cfg.OpsPerSec))
	}
	return c
}

// AcquireMemory reserves n bytes, waiting for releases until ctx is done.
// A request above the whole limit fails at once.
func (c *Controller) AcquireMemory(ctx context.Context, n int64) error {
	if c == nil || n <= 0 {
		return nil
	}
	if c.mem != nil {
		if n > c.limit {
			return fmt.Errorf("%w: request %d > limit %d", ErrMemoryLimitExceeded, n, c.limit)
		}
		if err := c.mem.Acquire(ctx, n); err != nil {
			return fmt.Errorf("%w: %w", ErrMemoryLimitExceeded, err)
		}
	}
	c.used.Add(n)
	return nil
}

// ReleaseMemory returns n bytes reserved by AcquireMemory.
func (c *Controller) ReleaseMemory(n int64) {
	if c == nil || n <= 0 {
		return
	}
	if c.mem != nil {
		c.mem.Release(n)
	}
	c.used.Add(-n)
}

// MemoryUsage is the number of bytes currently reserved.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.used.Load()
}

// AcquireOps waits until n operations fit the rate limit.
func (c *Controller) AcquireOps(ctx context.Context, n int) error {
	if c == nil || c.ops == nil {
		return nil
	}
	return c.ops.WaitN(ctx, n)
}
