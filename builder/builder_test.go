package builder

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/chaotic-cx/chaotic-manager-sub000/internal/bus"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/buildproto"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/container"
	"github.com/chaotic-cx/chaotic-manager-sub000/logger"
)

// fakeContainer/fakeRuntime stand in for the real Docker/Podman engines so
// these tests exercise BuildPackage's own logic, not an actual daemon.
type fakeContainer struct{ id string }

func (f *fakeContainer) ID() string { return f.id }

type fakeRuntime struct {
	exitCode    int
	exitErr     error
	noArtifacts bool // exit 0 without writing any artifact into pkgout
	lastSpec    container.Spec
	killed      []string
}

func (f *fakeRuntime) PullImage(context.Context, string) error          { return nil }
func (f *fakeRuntime) GetImage(_ context.Context, n string) (string, error) { return n, nil }
func (f *fakeRuntime) ScheduledPull(context.Context, string)            {}

func (f *fakeRuntime) Create(_ context.Context, spec container.Spec) (container.Container, error) {
	f.lastSpec = spec
	return &fakeContainer{id: "fake-1"}, nil
}

func (f *fakeRuntime) Start(_ context.Context, c container.Container, sink io.Writer) (container.ExitResult, error) {
	_, _ = sink.Write([]byte("building...\n"))
	// Simulate the build placing artifacts into the pkgout bind.
	for _, b := range f.lastSpec.Binds {
		if b.Target != "/pkgout" {
			continue
		}
		if f.exitCode == 0 && !f.noArtifacts {
			_ = os.WriteFile(filepath.Join(b.Source, "foo-1.0-1-x86_64.pkg.tar.zst"), []byte("pkgdata"), 0o644)
		}
	}
	return container.ExitResult{ExitCode: f.exitCode}, f.exitErr
}

func (f *fakeRuntime) Kill(_ context.Context, c container.Container) error {
	f.killed = append(f.killed, c.ID())
	return nil
}

func (f *fakeRuntime) Run(ctx context.Context, spec container.Spec, sink io.Writer) (container.ExitResult, error) {
	c, _ := f.Create(ctx, spec)
	defer f.Kill(ctx, c)
	return f.Start(ctx, c, sink)
}

type fakeUploader struct {
	uploaded []string
	err      error
}

func (u *fakeUploader) Upload(_ buildproto.SSHTarget, _ string, _ string, files []string) error {
	u.uploaded = files
	return u.err
}

// newTestBus stands up a bus backed by miniredis plus a fake "database"
// service answering GenerateDestFillerFiles/AddToDb so BuildPackage's RPC
// calls have something to talk to.
func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := bus.NewFromClient(client)

	srv := bus.NewServer(b, "database")
	srv.Handle("GenerateDestFillerFiles", func(context.Context, json.RawMessage) (any, error) {
		return []string{"foo-0.9-1-x86_64.pkg.tar.zst"}, nil
	})
	srv.Handle("AddToDb", func(context.Context, json.RawMessage) (any, error) {
		return buildproto.AddToDbResult{Success: true}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)
	time.Sleep(20 * time.Millisecond) // let the subscription establish

	return b
}

func newTestConfig(t *testing.T) Config {
	t.Helper()
	root := t.TempDir()
	for _, d := range []string{"pkgout", "srcdest/chaotic-aur", "pkgbuilds"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
	return Config{
		Hostname:     "test-builder",
		Timeout:      time.Hour,
		CiCodeSkip:   123,
		BuilderImage: "chaotic/builder:latest",
		SharedPath:   root,
	}
}

func testParams() BuildParams {
	return BuildParams{
		Pkgbase:    "foo",
		TargetRepo: "chaotic-aur",
		SourceRepo: "chaotic-aur-src",
		Arch:       "x86_64",
		Timestamp:  time.Now().UnixMilli(),
	}
}

func TestBuildPackageSuccess(t *testing.T) {
	b := New(newTestBus(t), newTestConfig(t), &fakeRuntime{exitCode: 0}, &fakeUploader{}, logger.Discard, nil)

	result, err := b.BuildPackage(context.Background(), testParams())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, []string{"foo-1.0-1-x86_64.pkg.tar.zst"}, result.Packages)
	require.NotNil(t, result.Duration)
}

func TestBuildPackageFillerFilesExcluded(t *testing.T) {
	rt := &fakeRuntime{exitCode: 0}
	cfg := newTestConfig(t)
	b := New(newTestBus(t), cfg, rt, &fakeUploader{}, logger.Discard, nil)

	result, err := b.BuildPackage(context.Background(), testParams())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)

	// The filler file GenerateDestFillerFiles planted must never surface as
	// a built artifact.
	for _, f := range result.Packages {
		require.NotEqual(t, "foo-0.9-1-x86_64.pkg.tar.zst", f)
	}
	entries, err := os.ReadDir(cfg.pkgoutDir())
	require.NoError(t, err)
	require.Empty(t, entries) // step 11: pkgout cleared on the way out
}

func TestBuildPackageExitClassification(t *testing.T) {
	cases := []struct {
		name        string
		exit        int
		noArtifacts bool
		expect      BuildStatus
	}{
		{"already built", 13, false, StatusAlreadyBuilt},
		{"timed out", 124, false, StatusTimedOut},
		{"ci skip", 123, false, StatusSkipped},
		{"zero with no files", 0, true, StatusFailed},
		{"other nonzero", 7, false, StatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := New(newTestBus(t), newTestConfig(t), &fakeRuntime{exitCode: tc.exit, noArtifacts: tc.noArtifacts}, &fakeUploader{}, logger.Discard, nil)
			result, err := b.BuildPackage(context.Background(), testParams())
			require.NoError(t, err)
			require.Equal(t, tc.expect, result.Status)
		})
	}
}

func TestBuildPackageBusyFailsFast(t *testing.T) {
	rt := &fakeRuntime{exitCode: 0}
	b := New(newTestBus(t), newTestConfig(t), rt, &fakeUploader{}, logger.Discard, nil)

	b.busy = true // simulate a build already in flight without racing a real one
	_, err := b.BuildPackage(context.Background(), testParams())
	require.Error(t, err)
}

func TestCancelBuildIdempotent(t *testing.T) {
	b := New(newTestBus(t), newTestConfig(t), &fakeRuntime{}, &fakeUploader{}, logger.Discard, nil)

	// Nothing in flight: must not block or error.
	require.NoError(t, b.CancelBuild(context.Background()))

	require.True(t, b.tryAcquire())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, b.CancelBuild(context.Background()))
	}()
	time.Sleep(10 * time.Millisecond)
	require.True(t, b.isCancelled())
	b.release()
	wg.Wait()
}
