package clicommand

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/chaotic-cx/chaotic-manager-sub000/internal/bus"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/container"
	"github.com/chaotic-cx/chaotic-manager-sub000/logger"
)

// DatabaseCommand runs the database component's bus RPC surface: it is the
// builder/coordinator's upload+index target. spec.md treats its internals
// as an opaque out-of-scope collaborator (only the four RPC contracts are
// specified); this is a minimal local stand-in sufficient to exercise
// those contracts end-to-end, not a reimplementation of real repo
// management (signing, repo-add invocation details, GC) — see DESIGN.md.
var DatabaseCommand = &cli.Command{
	Name:  "database",
	Usage: "run the database component (landing zone + repo index)",
	Flags: append(busFlags,
		&cli.StringFlag{Name: "database-host", EnvVars: []string{"DATABASE_HOST"}, Value: "localhost"},
		&cli.IntFlag{Name: "database-port", EnvVars: []string{"DATABASE_PORT"}, Value: 22},
		&cli.StringFlag{Name: "database-user", EnvVars: []string{"DATABASE_USER"}, Value: "builder"},
		&cli.StringFlag{Name: "landing-zone-path", EnvVars: []string{"LANDING_ZONE_PATH"}, Required: true},
		&cli.StringFlag{Name: "repo-path", EnvVars: []string{"REPO_PATH"}, Required: true},
		&cli.StringFlag{Name: "container-engine", EnvVars: []string{"CONTAINER_ENGINE"}, Value: "docker"},
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

		d := &databaseServer{
			host:        c.String("database-host"),
			port:        c.Int("database-port"),
			user:        c.String("database-user"),
			landingZone: c.String("landing-zone-path"),
			repoPath:    c.String("repo-path"),
			rt:          rt,
			log:         log,
		}

		ctx, cancel := context.WithCancel(c.Context)
		defer cancel()

		srv := bus.NewServer(b, "database")
		srv.Handle("FetchUploadInfo", d.fetchUploadInfo)
		srv.Handle("GenerateDestFillerFiles", d.generateDestFillerFiles)
		srv.Handle("AddToDb", d.addToDb)
		srv.Handle("AutoRepoRemove", d.autoRepoRemove)

		log.Info("database component serving")
		go srv.Serve(ctx)

		waitForSignal(ctx, cancel)
		log.Info("shutting down")
		return nil
	},
}

type databaseServer struct {
	host, user  string
	port        int
	landingZone string
	repoPath    string
	rt          container.Runtime
	log         logger.Logger
}

func (d *databaseServer) fetchUploadInfo(ctx context.Context, _ json.RawMessage) (any, error) {
	return map[string]any{
		"database": map[string]any{
			"ssh":          map[string]any{"host": d.host, "port": d.port, "user": d.user},
			"landing_zone": d.landingZone,
		},
	}, nil
}

// generateDestFillerFiles lists the pkgbase-derived artifact names already
// present in a target repo's pacman database, so the builder can skip
// rebuilding them. A plain directory listing of repoPath/arch stands in
// for a real pacman-db read.
func (d *databaseServer) generateDestFillerFiles(ctx context.Context, raw json.RawMessage) (any, error) {
	var params struct {
		TargetRepo string `json:"target_repo"`
		Arch       string `json:"arch"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}
	dir := filepath.Join(d.repoPath, params.TargetRepo, params.Arch)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{}, nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// addToDb shells out to the builder image's repo-add entrypoint against
// the uploaded files in the landing zone (spec.md: "the repo-add/
// auto-repo-remove container invocations" are an opaque side effect with a
// numeric exit code).
func (d *databaseServer) addToDb(ctx context.Context, raw json.RawMessage) (any, error) {
	var params struct {
		Pkgbase      string   `json:"pkgbase"`
		TargetRepo   string   `json:"target_repo"`
		Arch         string   `json:"arch"`
		Pkgfiles     []string `json:"pkgfiles"`
		BuilderImage string   `json:"builder_image"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}

	result, err := d.rt.Run(ctx, container.Spec{
		Image: params.BuilderImage,
		Cmd:   append([]string{"repo-add", params.TargetRepo, params.Arch}, params.Pkgfiles...),
		Binds: []container.Bind{
			{Source: d.landingZone, Target: "/landing_zone", ReadOnly: true},
			{Source: d.repoPath, Target: "/repo"},
		},
	}, os.Stderr)
	if err != nil || result.ExitCode != 0 {
		d.log.Error("repo-add for %s failed: %v (exit %d)", params.Pkgbase, err, result.ExitCode)
		return map[string]bool{"success": false}, nil
	}
	return map[string]bool{"success": true}, nil
}

func (d *databaseServer) autoRepoRemove(ctx context.Context, raw json.RawMessage) (any, error) {
	var params struct {
		Pkgbases     []string `json:"pkgbases"`
		Arch         string   `json:"arch"`
		Repo         string   `json:"repo"`
		BuilderImage string   `json:"builder_image"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}

	result, err := d.rt.Run(ctx, container.Spec{
		Image: params.BuilderImage,
		Cmd:   append([]string{"auto-repo-remove", params.Repo, params.Arch}, params.Pkgbases...),
		Binds: []container.Bind{
			{Source: d.repoPath, Target: "/repo"},
		},
	}, os.Stderr)
	if err != nil || result.ExitCode != 0 {
		d.log.Error("auto-repo-remove for %s failed: %v (exit %d)", params.Repo, err, result.ExitCode)
		return map[string]bool{"success": false}, nil
	}
	return map[string]bool{"success": true}, nil
}
