package coordinator

import (
	"context"
	"encoding/json"
	"time"
)

// persistQueueLocked writes the current queue as its savable projection
// plus the schema version. Must be called with c.mu held.
func (c *Coordinator) persistQueueLocked(ctx context.Context) {
	envelope := buildQueueEnvelope{Version: schemaVersion}
	for _, job := range c.q {
		envelope.SaveQueue = append(envelope.SaveQueue, job.Savable())
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		c.log.Error("marshal build queue: %v", err)
		return
	}
	if err := c.bus.SaveBuildQueue(ctx, payload); err != nil {
		c.log.Error("persist build queue: %v", err)
	}
}

// Restore reads a persisted queue snapshot, discarding it if its version
// doesn't match this build's schema version (spec.md §4.1.2). Every
// restored job gets a fresh timestamp and a freshly bound logger.
func (c *Coordinator) Restore(ctx context.Context) error {
	payload, ok, err := c.bus.LoadBuildQueue(ctx)
	if err != nil || !ok {
		return err
	}

	var envelope buildQueueEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		c.log.Warn("discarding unreadable build queue snapshot: %v", err)
		return nil
	}
	if envelope.Version != schemaVersion {
		c.log.Warn("discarding build queue snapshot at version %d (want %d)", envelope.Version, schemaVersion)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, saved := range envelope.SaveQueue {
		ts := nowMS()
		job := &TrackedJob{
			SavableJob: saved,
			Timestamp:  ts,
			Logger:     c.jobLogger(saved.Pkgbase, ts),
		}
		job.Logger.Info("Restored job %s at %s", saved.Pkgbase, time.UnixMilli(ts).Format(time.RFC3339))
		c.setDefault(ctx, job)
		c.q[job.Key()] = job
	}
	return nil
}

// Start rehydrates the persisted queue, waits for the node-presence
// subsystem, marks the coordinator active, and runs an initial assignment
// pass (spec.md §4.1.2).
func (c *Coordinator) Start(ctx context.Context, waitForPresence func(context.Context) error) error {
	if err := c.Restore(ctx); err != nil {
		return err
	}
	if waitForPresence != nil {
		if err := waitForPresence(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.active = true
	c.mu.Unlock()

	c.AssignJobs(ctx)
	return nil
}
