package coordinator

import (
	"context"
	"sort"

	"github.com/chaotic-cx/chaotic-manager-sub000/internal/buildproto"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/depgraph"
)

func builderService(nodeID string) string { return "builder." + nodeID }

// AssignJobs is the scheduling pass: for every available builder, find the
// highest-priority runnable job via PossibleJobs and dispatch it. Job
// selection and the queue/BusyNodes updates are serialized by the
// coordinator-global lock; the node listing and the FetchUploadInfo call
// run before it is taken (spec.md §4.1, Scheduling algorithm).
func (c *Coordinator) AssignJobs(ctx context.Context) {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if !active {
		return
	}

	nodes, err := c.GetAvailableNodes(ctx)
	if err != nil {
		c.log.Error("listing available nodes: %v", err)
		return
	}
	if len(nodes) == 0 {
		return
	}

	uploadInfo, err := c.fetchUploadInfo(ctx)
	if err != nil {
		c.log.Warn("fetching upload info: %v", err)
	}

	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	g := c.buildDependencyGraph()

	type dispatch struct {
		node string
		job  *TrackedJob
	}
	var toDispatch []dispatch

	for _, node := range nodes {
		if _, busy := c.busyNodes[node.ID]; busy {
			continue
		}
		possible := c.possibleJobs(g, node)
		for _, key := range possible {
			job, ok := c.q[key]
			if !ok || job.AssignedNode != "" {
				continue
			}
			job.AssignedNode = node.ID
			c.busyNodes[node.ID] = job
			job.Logger.Info("running")
			toDispatch = append(toDispatch, dispatch{node: node.ID, job: job})
			break
		}
	}
	c.mu.Unlock()

	for _, d := range toDispatch {
		go c.dispatch(ctx, d.node, d.job, uploadInfo)
	}

	c.mu.Lock()
	c.persistQueueLocked(ctx)
	c.mu.Unlock()
}

// buildDependencyGraph builds the directed, possibly-cyclic graph over
// every queued job (including in-flight ones, since a running job may
// still satisfy others' dependencies). Must be called with c.mu held.
func (c *Coordinator) buildDependencyGraph() *depgraph.Graph {
	g := depgraph.New()
	pkgnameToKey := map[string]string{}

	// Nodes are added oldest admission first, ties broken by key, so the
	// graph's overall order is the same for the same queue contents.
	keys := make([]string, 0, len(c.q))
	for key := range c.q {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.q[keys[i]], c.q[keys[j]]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return keys[i] < keys[j]
	})
	for _, key := range keys {
		job := c.q[key]
		g.AddNode(key)
		for _, name := range job.Pkgnames {
			pkgnameToKey[name] = key
		}
	}
	for key, job := range c.q {
		for _, dep := range job.Dependencies {
			if depKey, ok := pkgnameToKey[dep]; ok {
				g.AddDependency(key, depKey)
			}
		}
	}
	return g
}

// possibleJobs implements PossibleJobs from spec.md §4.1: walk the graph
// in its overall (insertion) order, tracking an "unresolvable" set so
// cycles terminate without aborting the traversal. Must be called with
// c.mu held.
func (c *Coordinator) possibleJobs(g *depgraph.Graph, node BrokerNode) []string {
	unresolvable := map[string]bool{}
	var possible []string

	markUnresolvable := func(key string) {
		for _, d := range g.DependantsOf(key) {
			unresolvable[d] = true
		}
	}

	for _, key := range g.OverallOrder() {
		job, ok := c.q[key]
		if !ok {
			continue
		}
		if job.AssignedNode != "" {
			markUnresolvable(key)
			continue
		}
		if unresolvable[key] {
			continue
		}
		if job.BuildClass.CanRun(node.Tier, node.PureName) {
			possible = append(possible, key)
			markUnresolvable(key)
		}
	}
	return possible
}

func (c *Coordinator) fetchUploadInfo(ctx context.Context) (buildproto.UploadInfo, error) {
	var info buildproto.UploadInfo
	err := c.bus.Call(ctx, "database", "FetchUploadInfo", struct{}{}, &info)
	return info, err
}

// dispatch calls builder.BuildPackage on node for job and routes the
// result to the completion handler. It must never be called with the
// coordinator lock held: the RPC may block for the duration of the build.
func (c *Coordinator) dispatch(ctx context.Context, node string, job *TrackedJob, uploadInfo buildproto.UploadInfo) {
	targetRepo, err := c.registry.GetTargetRepo(job.TargetRepo)
	if err != nil {
		c.handleCompletion(ctx, node, job, buildproto.BuildStatusReturn{Status: StatusSoftwareFailure}, err)
		return
	}

	params := buildproto.BuildParams{
		Pkgbase:             job.Pkgbase,
		TargetRepo:          job.TargetRepo,
		SourceRepo:          job.SourceRepo,
		Arch:                job.Arch,
		Timestamp:           job.Timestamp,
		Commit:              job.Commit,
		ExtraPacmanRepos:    targetRepo.RepoToString(),
		ExtraPacmanKeyrings: targetRepo.KeyringsToBashArray(),
		Upload:              uploadInfo,
	}

	var result buildproto.BuildStatusReturn
	err = c.bus.Call(ctx, builderService(node), "BuildPackage", params, &result)
	if err != nil {
		c.handleCompletion(ctx, node, job, buildproto.BuildStatusReturn{Status: StatusSoftwareFailure}, err)
		return
	}
	c.handleCompletion(ctx, node, job, result, nil)
}
