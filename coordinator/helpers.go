package coordinator

import (
	"context"
	"time"

	"github.com/chaotic-cx/chaotic-manager-sub000/internal/logsink"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/registry"
)

func nowString() string {
	return time.Now().Format(time.RFC3339)
}

// requestCancel issues a best-effort CancelBuild on the node currently
// running job. Failures are swallowed: the coordinator proceeds with the
// replacement regardless (spec.md §4.1: "request CancelBuild … best-effort,
// ignore failure").
func (c *Coordinator) requestCancel(ctx context.Context, job *TrackedJob) {
	node := job.AssignedNode
	if node == "" {
		return
	}
	if err := c.bus.Call(ctx, "builder."+node, "CancelBuild", struct{}{}, nil); err != nil {
		c.log.Warn("best-effort CancelBuild on %s for %s failed: %v", node, job.Pkgbase, err)
	}
}

func (c *Coordinator) endLog(ctx context.Context, job *TrackedJob) {
	if err := logsink.End(ctx, c.bus, job.Pkgbase, job.Timestamp); err != nil {
		c.log.Warn("ending log for %s@%d: %v", job.Pkgbase, job.Timestamp, err)
	}
}

func (c *Coordinator) setDefault(ctx context.Context, job *TrackedJob) {
	if err := logsink.SetDefault(ctx, c.bus, job.Pkgbase, job.Timestamp); err != nil {
		c.log.Warn("setting default for %s: %v", job.Pkgbase, err)
	}
}

// notifySource posts a commit-status update for job's source repo. Absence
// of a configured notifier, or a lookup failure, is silent — per spec.md
// §4.5/§9 a notifier is a null-object, never a hard dependency of the
// scheduling path.
func (c *Coordinator) notifySource(ctx context.Context, job *TrackedJob, state registry.State, description string) {
	repo, err := c.registry.GetRepo(job.SourceRepo)
	if err != nil {
		return
	}
	notifier := repo.Notifier
	if notifier == nil {
		notifier = registry.NoNotifier
	}
	if err := notifier.Notify(ctx, job.Pkgbase, job.Commit, state, description); err != nil {
		c.log.Warn("notify %s for %s: %v", job.SourceRepo, job.Pkgbase, err)
	}
}
