// Package resource throttles dataset maintenance work.
//
// Compaction, index builds and merges are long-running and
// uninterruptible from the adapter's perspective; the controller keeps
// them from starving foreground traffic by capping their concurrency
// and their IO throughput.
package resource

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds maintenance limits.
type Config struct {
	// MaxMaintenanceJobs is the maximum number of concurrent
	// compaction/build jobs. If 0, defaults to 1.
	MaxMaintenanceJobs int64

	// IOLimitBytesPerSec is the maximum IO throughput for maintenance
	// writes. If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller serializes maintenance jobs and rate-limits their IO.
// A nil Controller is valid and imposes no limits.
type Controller struct {
	jobSem    *semaphore.Weighted
	ioLimiter *rate.Limiter
}

// NewController creates a controller from cfg.
func NewController(cfg Config) *Controller {
	if cfg.MaxMaintenanceJobs <= 0 {
		cfg.MaxMaintenanceJobs = 1
	}
	c := &Controller{
		jobSem: semaphore.NewWeighted(cfg.MaxMaintenanceJobs),
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// AcquireJob reserves a maintenance slot, blocking until one is free or
// ctx is canceled.
func (c *Controller) AcquireJob(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.jobSem.Acquire(ctx, 1)
}

// TryAcquireJob reserves a maintenance slot without blocking.
func (c *Controller) TryAcquireJob() bool {
	if c == nil {
		return true
	}
	return c.jobSem.TryAcquire(1)
}

// ReleaseJob releases a maintenance slot.
func (c *Controller) ReleaseJob() {
	if c == nil {
		return
	}
	c.jobSem.Release(1)
}

// AcquireIO waits until the IO limit allows the specified number of
// bytes. Requests larger than the limiter's burst are split into
// burst-sized waits; WaitN rejects anything above the burst outright.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := bytes
		if n > burst {
			n = burst
		}
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
