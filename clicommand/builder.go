package clicommand

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/chaotic-cx/chaotic-manager-sub000/builder"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/config"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/container"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/presence"
	"github.com/chaotic-cx/chaotic-manager-sub000/logger"
	"golang.org/x/crypto/ssh"
)

const schemaVersion = 1

// BuilderCommand runs a builder agent: it serves BuildPackage/CancelBuild
// over the bus, heartbeats its presence, and runs builds under the
// configured container engine (spec.md §4.2/§4.3).
var BuilderCommand = &cli.Command{
	Name:  "builder",
	Usage: "run a builder agent",
	Flags: append(busFlags,
		&cli.StringFlag{Name: "hostname", EnvVars: []string{"BUILDER_HOSTNAME"}, Required: true},
		&cli.IntFlag{Name: "timeout", EnvVars: []string{"BUILDER_TIMEOUT"}, Value: 3600},
		&cli.StringFlag{Name: "class", EnvVars: []string{"BUILDER_CLASS"}, Value: "1"},
		&cli.IntFlag{Name: "ci-code-skip", EnvVars: []string{"CI_CODE_SKIP"}, Value: 123},
		&cli.StringFlag{Name: "container-engine", EnvVars: []string{"CONTAINER_ENGINE"}, Value: "docker"},
		&cli.StringFlag{Name: "builder-image", EnvVars: []string{"BUILDER_IMAGE"}, Required: true},
		&cli.StringFlag{Name: "shared-path", EnvVars: []string{"SHARED_PATH"}, Required: true},
		&cli.StringFlag{Name: "ssh-key-path", EnvVars: []string{"BUILDER_SSH_KEY_PATH"}},
	),
	Action: func(c *cli.Context) error {
		log := logger.NewConsoleLogger(logger.NewTextPrinter(os.Stdout), os.Exit)

		b := newBus(c)
		defer b.Close()
		if err := b.Ping(c.Context); err != nil {
			return cli.Exit(fmt.Sprintf("cannot reach bus: %v", err), 1)
		}

		rt, err := container.New(container.Engine(c.String("container-engine")), log)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}

		uploader, err := newUploader(c.String("ssh-key-path"))
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}

		cls := config.ParseBuildClass(c.String("class"))
		tier := 0
		if cls.Numeric {
			tier = cls.Tier
		}
		pureName := cls.Name
		if pureName == "" {
			pureName = c.String("hostname")
		}

		agent := builder.New(b, builder.Config{
			Hostname:     c.String("hostname"),
			Timeout:      time.Duration(c.Int("timeout")) * time.Second,
			CiCodeSkip:   c.Int("ci-code-skip"),
			BuilderImage: c.String("builder-image"),
			SharedPath:   c.String("shared-path"),
		}, rt, uploader, log, logger.NewTextPrinter(os.Stdout))

		ctx, cancel := context.WithCancel(c.Context)
		defer cancel()

		reg := presence.NewRegistry(b)
		go agent.Heartbeat(ctx, reg, c.String("hostname"), pureName, tier, schemaVersion)

		log.Info("builder %s (class=%s) serving", c.String("hostname"), c.String("class"))
		go func() {
			if err := agent.Serve(ctx, c.String("hostname")); err != nil && ctx.Err() == nil {
				log.Error("rpc server stopped: %v", err)
			}
		}()

		waitForSignal(ctx, cancel)
		log.Info("shutting down")
		return nil
	},
}

// newUploader loads the SSH signer used to authenticate artifact uploads.
// An empty path means uploads are disabled (development mode); the build
// path still runs, only the upload step will fail loudly.
func newUploader(keyPath string) (builder.Uploader, error) {
	if keyPath == "" {
		return &builder.SSHUploader{}, nil
	}
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading ssh key %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing ssh key %s: %w", keyPath, err)
	}
	return builder.NewSSHUploader(signer), nil
}
