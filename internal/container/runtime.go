// Package container abstracts the two container engines builders may run
// under — Docker and Podman — behind one Runtime interface. Only the
// operations the builder agent needs are exposed: pull-with-refresh,
// create, start-and-stream, kill, and a non-cancellable convenience Run
// used by the database component's repo-add/auto-repo-remove invocations.
package container

import (
	"context"
	"io"
)

// Bind is a host-directory-to-container-path mount.
type Bind struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Spec describes a container to create.
type Spec struct {
	Image string
	Cmd   []string
	Binds []Bind
	Env   map[string]string
}

// Container is an opaque handle returned by Create.
type Container interface {
	ID() string
}

// ExitResult is what Start/Run report once the container terminates.
type ExitResult struct {
	ExitCode int
}

// Runtime is implemented by the Docker and Podman engines.
type Runtime interface {
	// PullImage pulls name, synchronized under an exclusive mutex so
	// concurrent pulls run one after another. Every call pulls; there is
	// no development mode that skips it.
	PullImage(ctx context.Context, name string) error

	// GetImage returns name if present locally, else pulls it first.
	GetImage(ctx context.Context, name string) (string, error)

	// ScheduledPull cancels any previous refresh timer, pulls name (or the
	// last pinned name if name is empty) immediately, then arms a
	// recurring 2-hour timer that repeats the pull in the background.
	ScheduledPull(ctx context.Context, name string)

	// Create makes a container from spec without starting it.
	Create(ctx context.Context, spec Spec) (Container, error)

	// Start attaches stdout+stderr to lineSink, starts the container, and
	// blocks until it terminates.
	Start(ctx context.Context, c Container, lineSink io.Writer) (ExitResult, error)

	// Kill forcibly removes a container, regardless of its run state.
	Kill(ctx context.Context, c Container) error

	// Run is Create+Start+Kill-on-done folded into one call, for
	// non-cancellable invocations (e.g. the database component's
	// repo-add/auto-repo-remove containers).
	Run(ctx context.Context, spec Spec, lineSink io.Writer) (ExitResult, error)
}
