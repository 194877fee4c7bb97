// Package tasks coordinates background work behind the turn loop. The
// coordinator gives each logical task a key and guarantees at most one
// in-flight run per key for the life of the process; a duplicate request
// while a run is in flight is skipped silently. Task failures are logged
// and never surfaced to the player.
package tasks

import (
	"context"
	"sync"

	"taleweaver/internal/logging"
)

// Coordinator enforces per-key mutual exclusion for background jobs.
type Coordinator struct {
	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{inflight: make(map[string]struct{})}
}

// RunExclusive runs job on its own goroutine unless a job with the same key
// is already in flight, in which case it is skipped. Returns whether the
// job was started. The key is removed when the job settles, success or not.
func (c *Coordinator) RunExclusive(ctx context.Context, key string, job func(context.Context) error) bool {
	c.mu.Lock()
	if _, busy := c.inflight[key]; busy {
		c.mu.Unlock()
		logging.TasksDebug("skip %q: already in flight", key)
		return false
	}
	c.inflight[key] = struct{}{}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.inflight, key)
			c.mu.Unlock()
			c.wg.Done()
		}()

		if ctx.Err() != nil {
			logging.TasksDebug("drop %q: context cancelled before start", key)
			return
		}
		logging.TasksDebug("start %q", key)
		if err := job(ctx); err != nil {
			logging.Tasks("task %q failed: %v", key, err)
			return
		}
		logging.TasksDebug("done %q", key)
	}()
	return true
}

// InFlight reports whether a job with the given key is currently running.
func (c *Coordinator) InFlight(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.inflight[key]
	return busy
}

// Wait blocks until every started job has settled. Used on shutdown and in
// tests.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
