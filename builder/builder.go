package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/chaotic-cx/chaotic-manager-sub000/internal/bus"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/buildproto"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/container"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/logsink"
	"github.com/chaotic-cx/chaotic-manager-sub000/logger"
)

const (
	exitAlreadyBuilt = 13
	exitTimedOut     = 124
	srcCacheMaxAge   = 30 * 24 * time.Hour
)

// Config is the builder agent's own process-local configuration, drawn
// from the BUILDER_*/CI_CODE_SKIP/SHARED_PATH environment inputs (spec.md
// §6) rather than from the per-call BuildParams: a builder owns its own
// hostname, timeout, skip sentinel and image pin regardless of who is
// dispatching to it.
type Config struct {
	Hostname     string
	Timeout      time.Duration
	CiCodeSkip   int
	BuilderImage string

	SharedPath string // parent of pkgout/, srcdest/, pkgbuilds/
}

func (c Config) pkgoutDir() string    { return filepath.Join(c.SharedPath, "pkgout") }
func (c Config) pkgbuildsDir() string { return filepath.Join(c.SharedPath, "pkgbuilds") }
func (c Config) srcdestDir(targetRepo string) string {
	return filepath.Join(c.SharedPath, "srcdest", targetRepo)
}

// Build is the one-at-a-time worker agent. Its try-acquire mutex enforces
// the at-most-one-build invariant: a second concurrent BuildPackage call
// fails fast rather than queuing (spec.md §4.2, §5).
type Build struct {
	bus    *bus.Bus
	cfg    Config
	rt     container.Runtime
	upload Uploader
	log    logger.Logger

	fallbackPrinter logger.Printer

	mu        sync.Mutex
	busy      bool
	cancelled bool
	container container.Container
	done      chan struct{}
}

func New(b *bus.Bus, cfg Config, rt container.Runtime, upload Uploader, l logger.Logger, fallback logger.Printer) *Build {
	return &Build{bus: b, cfg: cfg, rt: rt, upload: upload, log: l, fallbackPrinter: fallback}
}

func (b *Build) tryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.busy {
		return false
	}
	b.busy = true
	b.cancelled = false
	b.container = nil
	b.done = make(chan struct{})
	return true
}

func (b *Build) release() {
	b.mu.Lock()
	b.busy = false
	b.container = nil
	done := b.done
	b.done = nil
	b.mu.Unlock()
	if done != nil {
		close(done)
	}
}

func (b *Build) isCancelled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled
}

func (b *Build) attachContainer(c container.Container) {
	b.mu.Lock()
	b.container = c
	b.mu.Unlock()
}

// CancelBuild is the idempotent, atomic cancellation entry point (spec.md
// §4.2): it marks cancelled, force-removes any attached container, and
// waits for the in-flight BuildPackage call to actually release its slot
// before returning, so a caller queuing a replacement observes the
// cancellation as already honored.
func (b *Build) CancelBuild(ctx context.Context) error {
	b.mu.Lock()
	b.cancelled = true
	c := b.container
	done := b.done
	b.mu.Unlock()

	if done == nil {
		return nil
	}
	if c != nil {
		if err := b.rt.Kill(ctx, c); err != nil {
			b.log.Warn("force-removing container during cancel: %v", err)
		}
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
	return nil
}

// BuildPackage runs the eleven steps of spec.md §4.2. It never surfaces a
// Go error for a build-domain failure across the RPC boundary — every
// outcome short of "busy" is normalized into a BuildStatusReturn (spec.md
// §7). A concurrent call while busy is the one case that fails fast,
// signaling a coordinator bug rather than queuing.
func (b *Build) BuildPackage(ctx context.Context, params BuildParams) (BuildStatusReturn, error) {
	if !b.tryAcquire() {
		return BuildStatusReturn{}, errors.New("builder busy: a build is already in flight")
	}
	defer b.release()

	start := time.Now()
	status, packages := b.runBuild(ctx, params)
	d := time.Since(start).Seconds()
	return BuildStatusReturn{Status: status, Packages: packages, Duration: &d}, nil
}

func (b *Build) runBuild(ctx context.Context, params BuildParams) (BuildStatus, []string) {
	ts := params.Timestamp
	jobLog := logsink.NewLogger(b.bus, params.Pkgbase, ts, b.fallbackPrinter)

	// Step 1: open the per-job log with its required opening line.
	_ = logsink.Line(ctx, b.bus, params.Pkgbase, ts, "Processing build job at %s", time.Now().Format(time.RFC3339))

	// Step 2: the shared pkgout mount is exclusively owned by this build.
	pkgout := b.cfg.pkgoutDir()
	if err := resetDir(pkgout); err != nil {
		jobLog.Error("resetting pkgout: %v", err)
		return StatusFailed, nil
	}
	defer clearDir(pkgout)

	// Step 3: placeholder files for artifacts already in the target repo,
	// so the builder image skips re-building them.
	var existing []string
	if err := b.bus.Call(ctx, "database", "GenerateDestFillerFiles", buildproto.GenerateDestFillerFilesParams{
		TargetRepo: params.TargetRepo, Arch: params.Arch,
	}, &existing); err != nil {
		jobLog.Warn("fetching repo_files list: %v", err)
	}
	for _, name := range existing {
		if err := touchEmpty(filepath.Join(pkgout, name)); err != nil {
			jobLog.Warn("creating filler file %s: %v", name, err)
		}
	}

	// Step 4: prune stale source cache entries for this target repo.
	srcdest := b.cfg.srcdestDir(params.TargetRepo)
	pruneSrcCache(srcdest, jobLog)

	// Step 5: create the container.
	if b.isCancelled() {
		jobLog.Info("canceled before start")
		return StatusCanceled, nil
	}

	builderImage := params.BuilderImage
	if builderImage == "" {
		builderImage = b.cfg.BuilderImage
	}
	ciCodeSkip := params.CiCodeSkip
	if ciCodeSkip == 0 {
		ciCodeSkip = b.cfg.CiCodeSkip
	}

	spec := container.Spec{
		Image: builderImage,
		Cmd:   []string{"build", params.Pkgbase},
		Binds: []container.Bind{
			{Source: srcdest, Target: "/home/builder/.cache/paru/clone"},
			{Source: pkgout, Target: "/pkgout"},
			{Source: b.cfg.pkgbuildsDir(), Target: "/pkgbuilds", ReadOnly: true},
		},
		Env: map[string]string{
			"BUILDER_HOSTNAME":      b.cfg.Hostname,
			"BUILDER_TIMEOUT":       fmt.Sprintf("%d", int(b.cfg.Timeout.Seconds())),
			"CI_CODE_SKIP":          fmt.Sprintf("%d", ciCodeSkip),
			"EXTRA_PACMAN_REPOS":    params.ExtraPacmanRepos,
			"EXTRA_PACMAN_KEYRINGS": params.ExtraPacmanKeyrings,
			"PACKAGE_REPO_ID":       params.SourceRepo,
			"PACKAGE_REPO_URL":      params.TargetRepo,
		},
	}

	c, err := b.rt.Create(ctx, spec)
	if err != nil {
		jobLog.Error("creating build container: %v", err)
		return StatusFailed, nil
	}
	b.attachContainer(c)

	if b.isCancelled() {
		_ = b.rt.Kill(ctx, c)
		jobLog.Info("canceled before start")
		return StatusCanceled, nil
	}

	// Step 6: start and stream.
	result, err := b.rt.Start(ctx, c, logsink.NewPrinterWriter(b.bus, params.Pkgbase, ts))
	if b.isCancelled() {
		jobLog.Info("canceled during build")
		return StatusCanceled, nil
	}
	if err != nil {
		jobLog.Error("running build container: %v", err)
		return StatusFailed, nil
	}

	// Step 7: keep only real (non-placeholder) artifact files.
	files, err := realFiles(pkgout)
	if err != nil {
		jobLog.Error("reading pkgout: %v", err)
		return StatusFailed, nil
	}

	// Step 8: classify the exit code.
	switch {
	case result.ExitCode == 0 && len(files) > 0:
		// fall through to the success branch below.
	case result.ExitCode == 0:
		jobLog.Error("build exited 0 but produced no artifacts")
		return StatusFailed, nil
	case result.ExitCode == exitAlreadyBuilt:
		return StatusAlreadyBuilt, nil
	case result.ExitCode == ciCodeSkip:
		return StatusSkipped, nil
	case result.ExitCode == exitTimedOut:
		return StatusTimedOut, nil
	default:
		jobLog.Error("build exited %d", result.ExitCode)
		return StatusFailed, nil
	}

	// Step 9: upload.
	jobLog.Info("uploading %d package(s), %s total", len(files), humanize.Bytes(uint64(totalSize(pkgout, files))))
	if err := b.upload.Upload(params.Upload.Database.SSH, params.Upload.Database.LandingZone, pkgout, files); err != nil {
		jobLog.Error("uploading artifacts: %v", err)
		return StatusFailed, nil
	}

	// Step 10: index.
	var addResult buildproto.AddToDbResult
	err = b.bus.Call(ctx, "database", "AddToDb", buildproto.AddToDbParams{
		Pkgbase:      params.Pkgbase,
		TargetRepo:   params.TargetRepo,
		SourceRepo:   params.SourceRepo,
		Arch:         params.Arch,
		Pkgfiles:     files,
		BuilderImage: builderImage,
		Timestamp:    ts,
	}, &addResult)
	if err != nil || !addResult.Success {
		jobLog.Error("AddToDb rejected the build")
		return StatusFailed, nil
	}

	jobLog.Info("finished at %s", time.Now().Format(time.RFC3339))
	return StatusSuccess, files
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

func clearDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		_ = os.RemoveAll(filepath.Join(dir, e.Name()))
	}
}

func touchEmpty(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return f.Close()
}

// realFiles returns the non-empty entries of dir, sorted for determinism —
// zero-byte entries are the filler files step 3 planted and must never be
// reported as built artifacts (spec.md testable property 8).
func realFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// totalSize sums the size of files within dir, for the human-readable
// upload log line above; a stat failure contributes zero rather than
// aborting the build over a logging detail.
func totalSize(dir string, files []string) int64 {
	var total int64
	for _, name := range files {
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil {
			total += info.Size()
		}
	}
	return total
}

// pruneSrcCache removes any subdirectory of dir whose .timestamp marker is
// older than srcCacheMaxAge, or missing entirely (spec.md §4.2 step 4).
func pruneSrcCache(dir string, l logger.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-srcCacheMaxAge)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		stampPath := filepath.Join(path, ".timestamp")
		info, err := os.Stat(stampPath)
		if err != nil || info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(path); err != nil {
				l.Warn("pruning stale source cache %s: %v", path, err)
			}
		}
	}
}
