package container

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chaotic-cx/chaotic-manager-sub000/logger"
)

// PodmanRuntime shells out to the podman CLI, the same way the teacher's
// Runner shelled out to docker — podman has no first-party Go client SDK
// in this corpus, so exec.CommandContext is the grounded approach rather
// than a hand-rolled REST client against podman's Unix socket.
type PodmanRuntime struct {
	logger    logger.Logger
	pullMu    sync.Mutex
	scheduler *pullScheduler

	mu      sync.Mutex
	pending map[string]Spec
}

type podmanContainer struct{ name string }

func (c podmanContainer) ID() string { return c.name }

func NewPodmanRuntime(l logger.Logger) *PodmanRuntime {
	r := &PodmanRuntime{logger: l, pending: map[string]Spec{}}
	r.scheduler = newPullScheduler(l, r.pullImageOnce)
	return r
}

func (r *PodmanRuntime) PullImage(ctx context.Context, name string) error {
	return r.pullImageOnce(ctx, name)
}

func (r *PodmanRuntime) pullImageOnce(ctx context.Context, name string) error {
	r.pullMu.Lock()
	defer r.pullMu.Unlock()

	r.logger.Info("Pulling image %s (podman)", name)
	cmd := exec.CommandContext(ctx, "podman", "pull", name)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("podman pull %s: %w: %s", name, err, out)
	}
	return nil
}

func (r *PodmanRuntime) GetImage(ctx context.Context, name string) (string, error) {
	cmd := exec.CommandContext(ctx, "podman", "image", "exists", name)
	if err := cmd.Run(); err == nil {
		return name, nil
	}
	if err := r.PullImage(ctx, name); err != nil {
		return "", err
	}
	return name, nil
}

func (r *PodmanRuntime) ScheduledPull(ctx context.Context, name string) {
	r.scheduler.schedule(ctx, name)
}

// Create does not actually allocate the podman container yet: podman run
// is a single blocking command (no separate create/start the way the
// Docker SDK offers), so Create just captures the spec and Start performs
// the create+run+wait in one step.
func (r *PodmanRuntime) Create(_ context.Context, spec Spec) (Container, error) {
	name := fmt.Sprintf("chaotic-build-%d", time.Now().UnixNano())
	r.mu.Lock()
	r.pending[name] = spec
	r.mu.Unlock()
	return podmanContainer{name: name}, nil
}

func (r *PodmanRuntime) Start(ctx context.Context, c Container, lineSink io.Writer) (ExitResult, error) {
	name := c.ID()
	r.mu.Lock()
	spec, ok := r.pending[name]
	delete(r.pending, name)
	r.mu.Unlock()
	if !ok {
		return ExitResult{}, fmt.Errorf("podman: no pending spec for %s", name)
	}

	args := []string{
		"run", "--name", name, "--rm",
	}
	for _, b := range spec.Binds {
		mode := "rshared"
		if b.ReadOnly {
			mode = "ro"
		}
		args = append(args, "-v", fmt.Sprintf("%s:%s:%s", b.Source, b.Target, mode))
	}
	for k, v := range spec.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, spec.Image)
	args = append(args, spec.Cmd...)

	r.logger.Debug("Running podman %s", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, "podman", args...)
	cmd.Stdout = lineSink
	cmd.Stderr = lineSink

	err := cmd.Run()
	if err == nil {
		return ExitResult{ExitCode: 0}, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return ExitResult{ExitCode: exitErr.ExitCode()}, nil
	}
	return ExitResult{}, fmt.Errorf("podman run: %w", err)
}

func (r *PodmanRuntime) Kill(ctx context.Context, c Container) error {
	cmd := exec.CommandContext(ctx, "podman", "rm", "--force", c.ID())
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("podman rm: %w: %s", err, out)
	}
	return nil
}

func (r *PodmanRuntime) Run(ctx context.Context, spec Spec, lineSink io.Writer) (ExitResult, error) {
	c, err := r.Create(ctx, spec)
	if err != nil {
		return ExitResult{}, err
	}
	return r.Start(ctx, c, lineSink)
}
