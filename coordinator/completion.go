package coordinator

import (
	"context"
	"time"

	"github.com/chaotic-cx/chaotic-manager-sub000/internal/buildproto"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/registry"
)

// handleCompletion runs the finally-style chain from spec.md §4.1.1: post
// notifications, end the log, swap in a replacement or free the slot,
// release the node, reassign. It always runs to completion even when err
// is non-nil (an RPC-level failure, normalized to SOFTWARE_FAILURE).
func (c *Coordinator) handleCompletion(ctx context.Context, node string, job *TrackedJob, result buildproto.BuildStatusReturn, rpcErr error) {
	c.mu.Lock()
	shuttingDown := !c.active

	status := result.Status
	if rpcErr != nil {
		status = StatusSoftwareFailure
	}
	// Open question (b), resolved per spec.md §9: a CANCELED outcome
	// observed while the coordinator is shutting down is treated as
	// requeue-worthy even if the builder never returns CANCELED_REQUEUE
	// itself.
	if status == StatusCanceled && shuttingDown {
		status = StatusCanceledRequeue
	}

	c.applyStatusPolicy(ctx, job, status, result)

	c.endLog(ctx, job)

	key := job.Key()
	replaced := job.Replacement != nil
	if replaced {
		c.q[key] = job.Replacement
	} else {
		delete(c.q, key)
	}
	delete(c.busyNodes, node)

	drained := len(c.busyNodes) == 0
	var waiters []chan struct{}
	if drained {
		waiters = c.drainWait
		c.drainWait = nil
	}
	c.mu.Unlock()

	if drained {
		for _, ch := range waiters {
			close(ch)
		}
	}

	// A cancellation's replacement isn't dispatched immediately: the
	// builder that just got CancelBuild needs a moment to actually tear
	// its container down before it can be handed the next job (spec.md
	// §5). A plain completion (no replacement in play) reassigns at once.
	cancellationReplacement := replaced && (status == StatusCanceled || status == StatusCanceledRequeue)
	if cancellationReplacement {
		go func() {
			time.Sleep(replaceDispatchDelay)
			c.AssignJobs(ctx)
		}()
		return
	}

	c.AssignJobs(ctx)
}

// applyStatusPolicy implements the per-status table in spec.md §4.1.1.
// Must be called with c.mu held (it only touches job/log/notify state, not
// c.q/c.busyNodes).
func (c *Coordinator) applyStatusPolicy(ctx context.Context, job *TrackedJob, status BuildStatus, result buildproto.BuildStatusReturn) {
	tags := func(extra map[string]string) map[string]string {
		m := map[string]string{"target_repo": job.TargetRepo, "arch": job.Arch}
		for k, v := range extra {
			m[k] = v
		}
		return m
	}
	count := func(name string) {
		if c.metricsSc == nil {
			return
		}
		c.metricsSc.With(tags(nil)).Count(name, 1)
		c.metricsSc.With(tags(nil)).Count("builds.total", 1)
	}

	switch status {
	case StatusSuccess:
		job.Logger.Info("finished at %s", nowString())
		c.notifySource(ctx, job, registry.StateSuccess, "build succeeded")
		_ = c.deployment.DeploymentSuccess(ctx, job.Pkgbase, job.AssignedNode, job.Commit, result.Packages)
		count("builds.success")

	case StatusAlreadyBuilt:
		job.Logger.Info("skipped — already built")
		c.notifySource(ctx, job, registry.StateCanceled, "already built")
		count("builds.alreadyBuilt")

	case StatusSkipped:
		job.Logger.Info("skipped via build tools")
		c.notifySource(ctx, job, registry.StateCanceled, "skipped")
		count("builds.skipped")

	case StatusFailed:
		job.Logger.Info("failed")
		c.notifySource(ctx, job, registry.StateFailed, "build failed")
		_ = c.deployment.DeploymentFailure(ctx, job.Pkgbase, job.AssignedNode, "build failed")
		count("builds.failed.build")

	case StatusTimedOut:
		job.Logger.Info("timeout during build")
		c.notifySource(ctx, job, registry.StateFailed, "timed out")
		_ = c.deployment.DeploymentFailure(ctx, job.Pkgbase, job.AssignedNode, "timed out")
		count("builds.failed.timeout")

	case StatusCanceled:
		// handleCompletion always promotes a CANCELED outcome observed
		// while shutting down to CANCELED_REQUEUE before this is reached,
		// so shuttingDown is never true here.
		replaced := job.Replacement != nil
		if replaced {
			job.Logger.Info("canceled and replaced")
		} else {
			job.Logger.Info("canceled")
		}
		c.notifySource(ctx, job, registry.StateCanceled, "canceled")
		if c.metricsSc != nil {
			c.metricsSc.With(tags(map[string]string{"replaced": boolString(replaced)})).Count("builds.cancelled", 1)
		}

	case StatusCanceledRequeue:
		job.Logger.Info("canceled and re-queued")
		c.notifySource(ctx, job, registry.StateCanceled, "canceled (shutdown requeue)")
		// Force a fresh attempt after restart: the completion handler's
		// replacement swap (below, in handleCompletion) will persist this
		// clone instead of dropping the key from the queue.
		clone := *job
		job.Replacement = &clone
		if c.metricsSc != nil {
			c.metricsSc.With(tags(map[string]string{"replaced": "true"})).Count("builds.cancelled", 1)
		}

	case StatusSoftwareFailure:
		job.Logger.Info("failed")
		c.notifySource(ctx, job, registry.StateFailed, "software failure")
		_ = c.deployment.SoftwareFailure(ctx, job.Pkgbase, job.AssignedNode, "unexpected rpc failure")
		count("builds.failed.software")
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
