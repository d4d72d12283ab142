package container

import (
	"fmt"

	"github.com/chaotic-cx/chaotic-manager-sub000/logger"
)

// Engine selects which Runtime implementation CONTAINER_ENGINE requests.
type Engine string

const (
	EngineDocker Engine = "docker"
	EnginePodman Engine = "podman"
)

// New builds the Runtime for the requested engine.
func New(engine Engine, l logger.Logger) (Runtime, error) {
	switch engine {
	case EngineDocker, "":
		return NewDockerRuntime(l)
	case EnginePodman:
		return NewPodmanRuntime(l), nil
	default:
		return nil, fmt.Errorf("unknown container engine %q", engine)
	}
}
