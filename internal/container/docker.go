package container

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/chaotic-cx/chaotic-manager-sub000/logger"
)

// DockerRuntime runs builds via the Docker Engine API (spec.md §4.3,
// grounded on the teacher's internal/container/runner.go which shelled out
// to the docker CLI — this rewrites the same operations against the real
// SDK client instead of exec.Command).
type DockerRuntime struct {
	cli       *client.Client
	logger    logger.Logger
	pullMu    sync.Mutex
	scheduler *pullScheduler
}

type dockerContainer struct{ id string }

func (c dockerContainer) ID() string { return c.id }

func NewDockerRuntime(l logger.Logger) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	r := &DockerRuntime{cli: cli, logger: l}
	r.scheduler = newPullScheduler(l, r.pullImageOnce)
	return r, nil
}

func (r *DockerRuntime) PullImage(ctx context.Context, name string) error {
	return r.pullImageOnce(ctx, name)
}

func (r *DockerRuntime) pullImageOnce(ctx context.Context, name string) error {
	r.pullMu.Lock()
	defer r.pullMu.Unlock()

	r.logger.Info("Pulling image %s", name)
	rc, err := r.cli.ImagePull(ctx, name, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("docker pull %s: %w", name, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("docker pull %s: reading progress: %w", name, err)
	}
	return nil
}

func (r *DockerRuntime) GetImage(ctx context.Context, name string) (string, error) {
	if _, _, err := r.cli.ImageInspectWithRaw(ctx, name); err == nil {
		return name, nil
	}
	if err := r.PullImage(ctx, name); err != nil {
		return "", err
	}
	return name, nil
}

func (r *DockerRuntime) ScheduledPull(ctx context.Context, name string) {
	r.scheduler.schedule(ctx, name)
}

func (r *DockerRuntime) Create(ctx context.Context, spec Spec) (Container, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	binds := make([]string, 0, len(spec.Binds))
	for _, b := range spec.Binds {
		flag := "rw"
		if b.ReadOnly {
			flag = "ro"
		}
		binds = append(binds, fmt.Sprintf("%s:%s:%s", b.Source, b.Target, flag))
	}

	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image: spec.Image,
		Cmd:   spec.Cmd,
		Env:   env,
		Tty:   true,
	}, &container.HostConfig{
		Binds:      binds,
		CapAdd:     []string{"SYS_ADMIN"},
		AutoRemove: true,
		Resources: container.Resources{
			Ulimits: []*unitUlimit{
				{Name: "nofile", Soft: 1024, Hard: 1048576},
			},
		},
	}, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("docker create: %w", err)
	}
	return dockerContainer{id: resp.ID}, nil
}

// unitUlimit matches docker's container.Ulimit shape; aliased locally so
// the struct literal above stays readable without importing the
// underlying go-units type directly in two places.
type unitUlimit = container.Ulimit

func (r *DockerRuntime) Start(ctx context.Context, c Container, lineSink io.Writer) (ExitResult, error) {
	id := c.ID()

	attach, attachErr := r.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true, Stdout: true, Stderr: true,
	})
	if attachErr == nil {
		go func() {
			defer attach.Close()
			// Containers are created with Tty, so the attach stream is the
			// raw terminal output rather than a multiplexed stdout/stderr.
			_, _ = io.Copy(lineSink, attach.Reader)
		}()
	}

	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		if attachErr == nil {
			attach.Close()
		}
		return ExitResult{}, fmt.Errorf("docker start: %w", err)
	}

	statusCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionRemoved)
	select {
	case err := <-errCh:
		if err != nil {
			return ExitResult{}, fmt.Errorf("docker wait: %w", err)
		}
		return ExitResult{}, nil
	case status := <-statusCh:
		return ExitResult{ExitCode: int(status.StatusCode)}, nil
	case <-ctx.Done():
		return ExitResult{}, ctx.Err()
	}
}

func (r *DockerRuntime) Kill(ctx context.Context, c Container) error {
	return r.cli.ContainerRemove(ctx, c.ID(), container.RemoveOptions{Force: true})
}

func (r *DockerRuntime) Run(ctx context.Context, spec Spec, lineSink io.Writer) (ExitResult, error) {
	c, err := r.Create(ctx, spec)
	if err != nil {
		return ExitResult{}, err
	}
	defer r.Kill(context.Background(), c)
	return r.Start(ctx, c, lineSink)
}
