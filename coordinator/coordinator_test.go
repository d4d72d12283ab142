package coordinator

import (
	"context"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/chaotic-cx/chaotic-manager-sub000/internal/bus"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/presence"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/registry"
	"github.com/chaotic-cx/chaotic-manager-sub000/logger"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b := bus.NewFromClient(client)

	buf := logger.NewBuffer()
	reg := registry.New(map[string]registry.RepoEntry{}, map[string]registry.TargetRepoEntry{})

	return New(Config{
		Bus:             b,
		Registry:        reg,
		Presence:        presence.NewRegistry(b),
		Logger:          buf,
		FallbackPrinter: logger.NewTextPrinter(io.Discard),
	})
}

func pkg(name string, deps ...string) PackageInput {
	return PackageInput{Pkgbase: name, Dependencies: deps, BuildClass: BuildClass{Numeric: true, Tier: ClassSmall}}
}

func TestAddJobsToQueueAdmitsValidPackages(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	err := c.AddJobsToQueue(ctx, "target", "source", "x86_64", "deadbeef", []PackageInput{pkg("foo"), pkg("bar")})
	require.NoError(t, err)

	queue := c.GetQueue()
	require.Len(t, queue, 2)

	var pkgbases []string
	for _, q := range queue {
		require.Equal(t, "queued", q.Status)
		pkgbases = append(pkgbases, q.Job.Pkgbase)
	}
	require.ElementsMatch(t, []string{"foo", "bar"}, pkgbases)

	require.False(t, c.JobExists("foo", 0))
}

func TestAddJobsToQueueRejectsInvalidPkgbase(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	err := c.AddJobsToQueue(ctx, "target", "source", "x86_64", "deadbeef", []PackageInput{
		pkg("good"),
		pkg("bad name with spaces"),
	})
	require.NoError(t, err)

	queue := c.GetQueue()
	require.Len(t, queue, 1)
	require.Equal(t, "good", queue[0].Job.Pkgbase)
}

func TestAddJobsToQueueRequiresTargetSourceArch(t *testing.T) {
	c := newTestCoordinator(t)
	err := c.AddJobsToQueue(context.Background(), "", "source", "x86_64", "", []PackageInput{pkg("foo")})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAddJobsToQueueRejectsEmptyBatch(t *testing.T) {
	c := newTestCoordinator(t)
	err := c.AddJobsToQueue(context.Background(), "target", "source", "x86_64", "", nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAddJobsToQueueReplacesUnassignedDuplicate(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.AddJobsToQueue(ctx, "target", "source", "x86_64", "commit1", []PackageInput{pkg("foo")}))
	first := c.GetQueue()
	require.Len(t, first, 1)
	require.Equal(t, "commit1", first[0].Job.Commit)

	require.NoError(t, c.AddJobsToQueue(ctx, "target", "source", "x86_64", "commit2", []PackageInput{pkg("foo")}))
	second := c.GetQueue()
	require.Len(t, second, 1)
	require.Equal(t, "commit2", second[0].Job.Commit)
}

func TestGetAvailableNodesEmptyWithNoPresence(t *testing.T) {
	c := newTestCoordinator(t)
	nodes, err := c.GetAvailableNodes(context.Background())
	require.NoError(t, err)
	require.Empty(t, nodes)
}
