package coordinator

import (
	"context"
	"time"
)

// Shutdown implements spec.md §4.1.3: stop accepting new dispatch, persist
// the queue, best-effort cancel every in-flight job (clearing any pending
// replacement so a requeue-chain can't loop), then wait for BusyNodes to
// drain up to MaxShutdownTime. The cancel RPCs fire after the lock is
// released, matching assign.go's dispatch: the coordinator lock must never
// be held across a bus.Call.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.mu.Lock()
	c.active = false
	c.persistQueueLocked(ctx)

	var toCancel []*TrackedJob
	for _, job := range c.q {
		if job.AssignedNode == "" {
			continue
		}
		job.Replacement = nil
		job.Logger.Info("cancelling for coordinator shutdown")
		toCancel = append(toCancel, job)
	}

	drained := make(chan struct{})
	if len(c.busyNodes) == 0 {
		close(drained)
	} else {
		c.drainWait = append(c.drainWait, drained)
	}
	c.mu.Unlock()

	for _, job := range toCancel {
		go c.requestCancel(ctx, job)
	}

	select {
	case <-drained:
	case <-time.After(MaxShutdownTime):
		c.log.Warn("forced shutdown after %s: BusyNodes did not drain", MaxShutdownTime)
	case <-ctx.Done():
	}
}
