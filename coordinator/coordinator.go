// Package coordinator implements the central scheduler: job admission,
// the dependency-aware assignment algorithm, completion handling, and
// queue persistence across restarts (spec.md §4.1).
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chaotic-cx/chaotic-manager-sub000/internal/bus"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/buildproto"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/logsink"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/notify"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/presence"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/registry"
	"github.com/chaotic-cx/chaotic-manager-sub000/logger"
	"github.com/chaotic-cx/chaotic-manager-sub000/metrics"
)

// schemaVersion is the monotone version stamped on every persisted queue
// snapshot and compared against a builder's advertised metadata.version;
// a mismatch on either side means "stay paused" / "discard snapshot".
const schemaVersion = 1

// MaxShutdownTime bounds how long shutdown waits for BusyNodes to drain
// before forcing the process to exit anyway (spec.md §4.1.3).
const MaxShutdownTime = 30 * time.Second

const pendingNotifyStagger = 200 * time.Millisecond
const replaceDispatchDelay = 1 * time.Second

type Coordinator struct {
	mu        sync.Mutex
	q         map[string]*TrackedJob
	busyNodes map[string]*TrackedJob // nodeID -> job
	active    bool
	drainWait []chan struct{}

	bus         *bus.Bus
	registry    *registry.Registry
	presence    *presence.Registry
	metricsSc   *metrics.Scope
	deployment  notify.Deployment
	log         logger.Logger
	logsBaseURL string

	fallbackPrinter logger.Printer
}

type Config struct {
	Bus             *bus.Bus
	Registry        *registry.Registry
	Presence        *presence.Registry
	Metrics         *metrics.Collector
	Deployment      notify.Deployment
	Logger          logger.Logger
	FallbackPrinter logger.Printer

	// LogsBaseURL is the web verb's externally-reachable base address
	// (e.g. https://logs.example.org); when set, GetQueue populates each
	// job's LiveLogURL. Left empty, LiveLogURL is omitted.
	LogsBaseURL string
}

func New(cfg Config) *Coordinator {
	deployment := cfg.Deployment
	if deployment == nil {
		deployment = notify.NoDeployment
	}
	var scope *metrics.Scope
	if cfg.Metrics != nil {
		scope = cfg.Metrics.Scope(metrics.Tags{})
	}
	return &Coordinator{
		q:               map[string]*TrackedJob{},
		busyNodes:       map[string]*TrackedJob{},
		bus:             cfg.Bus,
		registry:        cfg.Registry,
		presence:        cfg.Presence,
		metricsSc:       scope,
		deployment:      deployment,
		log:             cfg.Logger,
		logsBaseURL:     strings.TrimSuffix(cfg.LogsBaseURL, "/"),
		fallbackPrinter: cfg.FallbackPrinter,
	}
}

func nowMS() int64 { return time.Now().UnixMilli() }

// PackageInput is one element of an AddJobsToQueue batch.
type PackageInput struct {
	Pkgbase      string
	BuildClass   BuildClass
	Pkgnames     []string
	Dependencies []string
}

// AddJobsToQueue admits a batch of jobs sharing one timestamp (spec.md
// §4.1). Per-package validation failures are logged and skipped; the call
// as a whole only fails for a malformed request.
func (c *Coordinator) AddJobsToQueue(ctx context.Context, targetRepo, sourceRepo, arch, commit string, packages []PackageInput) error {
	if targetRepo == "" || sourceRepo == "" || arch == "" {
		return fmt.Errorf("%w: target_repo, source_repo and arch are required", ErrInvalidArgument)
	}
	if len(packages) == 0 {
		return fmt.Errorf("%w: empty package list", ErrInvalidArgument)
	}

	ts := nowMS()

	// Pending-state notifications are staggered (spec.md §5) so a large
	// batch doesn't hammer a source repo's status API; that stagger runs
	// after the lock is released so admission itself stays atomic and
	// doesn't hold the coordinator-global mutex for the batch's duration.
	var toNotifyPending []*TrackedJob
	var toCancel []*TrackedJob

	c.mu.Lock()
	for _, pkg := range packages {
		if !ValidPkgbase(pkg.Pkgbase) {
			c.log.Warn("rejecting invalid pkgbase %q for %s/%s", pkg.Pkgbase, targetRepo, arch)
			continue
		}

		newJob := &TrackedJob{
			SavableJob: SavableJob{
				Pkgbase:      pkg.Pkgbase,
				TargetRepo:   targetRepo,
				SourceRepo:   sourceRepo,
				Arch:         arch,
				BuildClass:   pkg.BuildClass,
				Pkgnames:     pkg.Pkgnames,
				Dependencies: pkg.Dependencies,
				Commit:       commit,
			},
			Timestamp: ts,
			Logger:    c.jobLogger(pkg.Pkgbase, ts),
		}
		key := newJob.Key()

		if existing, ok := c.q[key]; ok {
			if existing.AssignedNode != "" {
				toCancel = append(toCancel, existing)
				existing.Replacement = newJob
				existing.Logger.Info("cancellation requested, replacement enqueued")
			} else {
				existing.Logger.Info("canceled and replaced before execution")
				c.endLog(ctx, existing)
				c.notifySource(ctx, existing, registry.StateCanceled, "replaced before execution")
				c.q[key] = newJob
			}
		} else {
			c.q[key] = newJob
		}

		newJob.Logger.Info("Added to build queue at %s", time.UnixMilli(ts).Format(time.RFC3339))
		c.setDefault(ctx, newJob)
		toNotifyPending = append(toNotifyPending, newJob)
	}
	c.mu.Unlock()

	// Best-effort cancellation RPCs fire after the lock is released, same
	// as the fire-and-forget dispatch in assign.go: the coordinator lock
	// must never be held across a bus.Call.
	for _, job := range toCancel {
		go c.requestCancel(ctx, job)
	}

	for i, job := range toNotifyPending {
		if i > 0 {
			time.Sleep(pendingNotifyStagger)
		}
		c.notifySource(ctx, job, registry.StatePending, "queued")
	}

	c.AssignJobs(ctx)
	return nil
}

// AutoRepoRemove forwards a removal request to the database component.
func (c *Coordinator) AutoRepoRemove(ctx context.Context, arch, repo string, pkgbases []string, builderImage string) error {
	if len(pkgbases) == 0 {
		return fmt.Errorf("%w: empty pkgbases", ErrInvalidArgument)
	}
	var result buildproto.AutoRepoRemoveResult
	err := c.bus.Call(ctx, "database", "AutoRepoRemove", buildproto.AutoRepoRemoveParams{
		Pkgbases: pkgbases, Arch: arch, Repo: repo, BuilderImage: builderImage,
	}, &result)
	if err != nil || !result.Success {
		c.deployment.SoftwareFailure(ctx, repo, "", "auto-repo-remove rejected")
		return fmt.Errorf("%w: auto-repo-remove for %s/%s", ErrUpstream, repo, arch)
	}
	return nil
}

// JobExists reports whether (pkgbase, timestamp) is still an exact match
// in the queue — used by the log HTTP endpoint to decide when to close a
// stream.
func (c *Coordinator) JobExists(pkgbase string, timestamp int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, job := range c.q {
		if job.Pkgbase == pkgbase && job.Timestamp == timestamp {
			return true
		}
	}
	return false
}

// GetQueue returns a snapshot projection of every queued/active job.
func (c *Coordinator) GetQueue() []QueueStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]QueueStatus, 0, len(c.q))
	for _, job := range c.q {
		status := "queued"
		if job.AssignedNode != "" {
			status = "active"
		}
		var liveLogURL string
		if c.logsBaseURL != "" {
			liveLogURL = fmt.Sprintf("%s/api/logs/%s/%d", c.logsBaseURL, job.Pkgbase, job.Timestamp)
		}
		out = append(out, QueueStatus{
			Status:     status,
			Node:       job.AssignedNode,
			BuildClass: job.BuildClass,
			Job:        job.SavableJob,
			LiveLogURL: liveLogURL,
		})
	}
	return out
}

// GetAvailableNodes returns registered, present, version-compatible
// builders not currently busy.
func (c *Coordinator) GetAvailableNodes(ctx context.Context) ([]BrokerNode, error) {
	nodes, err := c.presence.List(ctx, "builder")
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []BrokerNode
	for _, n := range nodes {
		if _, busy := c.busyNodes[n.ID]; busy {
			continue
		}
		if n.Metadata["version"] != fmt.Sprintf("%d", schemaVersion) {
			continue
		}
		tier := 0
		fmt.Sscanf(n.Metadata["build_class"], "%d", &tier)
		out = append(out, BrokerNode{
			ID:       n.ID,
			PureName: n.PureName,
			Tier:     tier,
			Metadata: n.Metadata,
		})
	}
	return out, nil
}

func (c *Coordinator) jobLogger(pkgbase string, ts int64) logger.Logger {
	return logsink.NewLogger(c.bus, pkgbase, ts, c.fallbackPrinter)
}
