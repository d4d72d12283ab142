// Package clicommand wires the urfave/cli verbs onto the coordinator,
// builder, database, and log-server components, each reading its
// configuration from the environment inputs of spec.md §6.
package clicommand

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/chaotic-cx/chaotic-manager-sub000/coordinator"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/bus"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/config"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/notify"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/presence"
	"github.com/chaotic-cx/chaotic-manager-sub000/logger"
	"github.com/chaotic-cx/chaotic-manager-sub000/metrics"
)

var busFlags = []cli.Flag{
	&cli.StringFlag{Name: "redis-host", EnvVars: []string{"REDIS_HOST"}, Value: "localhost"},
	&cli.StringFlag{Name: "redis-port", EnvVars: []string{"REDIS_PORT"}, Value: "6379"},
	&cli.StringFlag{Name: "redis-password", EnvVars: []string{"REDIS_PASSWORD"}},
}

var repoFlags = []cli.Flag{
	&cli.StringFlag{Name: "package-repos", EnvVars: []string{"PACKAGE_REPOS"}},
	&cli.StringFlag{Name: "package-target-repos", EnvVars: []string{"PACKAGE_TARGET_REPOS"}},
	&cli.StringFlag{Name: "package-repos-notifiers", EnvVars: []string{"PACKAGE_REPOS_NOTIFIERS"}},
}

func newBus(c *cli.Context) *bus.Bus {
	return bus.New(bus.Config{
		Host:     c.String("redis-host"),
		Port:     c.String("redis-port"),
		Password: c.String("redis-password"),
	})
}

func newDeployment(c *cli.Context) notify.Deployment {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	chatID := os.Getenv("TELEGRAM_CHAT_ID")
	if token == "" || chatID == "" {
		return notify.NoDeployment
	}
	return &notify.Telegram{Client: httpClient(), BotToken: token, ChatID: chatID}
}

// waitForSignal blocks until SIGINT/SIGTERM, then cancels ctx — the
// standard shutdown trigger for every long-running verb.
func waitForSignal(ctx context.Context, cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
		cancel()
	case <-ctx.Done():
	}
}

// ScheduleCommand runs the coordinator daemon: it restores the persisted
// queue, serves coordinator.* RPCs (AddJobsToQueue, AutoRepoRemove,
// JobExists, GetQueue, GetAvailableNodes) for "schedule" CLI clients and
// the web verb, and drives scheduling until shutdown.
var ScheduleCommand = &cli.Command{
	Name:  "schedule",
	Usage: "run the coordinator: scheduling, dispatch, and persistence",
	Flags: append(append(busFlags, repoFlags...),
		&cli.IntFlag{Name: "schema-version", Value: 1, Hidden: true},
		&cli.StringFlag{Name: "logs-base-url", EnvVars: []string{"LOGS_BASE_URL"}, Usage: "externally-reachable base URL of the web verb, used to build QueueStatus.LiveLogURL"},
	),
	Action: func(c *cli.Context) error {
		log := logger.NewConsoleLogger(logger.NewTextPrinter(os.Stdout), os.Exit)

		b := newBus(c)
		defer b.Close()
		if err := b.Ping(c.Context); err != nil {
			return cli.Exit(fmt.Sprintf("cannot reach bus: %v", err), 1)
		}

		reg, err := config.ParseRepos(c.String("package-repos"), c.String("package-target-repos"), c.String("package-repos-notifiers"))
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}

		collector := metrics.NewCollector(log, metrics.CollectorConfig{Namespace: "chaotic_manager"})

		coord := coordinator.New(coordinator.Config{
			Bus:             b,
			Registry:        reg,
			Presence:        presence.NewRegistry(b),
			Metrics:         collector,
			Deployment:      newDeployment(c),
			Logger:          log,
			FallbackPrinter: logger.NewTextPrinter(os.Stdout),
			LogsBaseURL:     c.String("logs-base-url"),
		})

		ctx, cancel := context.WithCancel(c.Context)
		defer cancel()

		if err := coord.Start(ctx, nil); err != nil {
			return cli.Exit(err.Error(), 1)
		}
		log.Info("coordinator started")

		srv := bus.NewServer(b, "coordinator")
		registerCoordinatorRPCs(srv, coord)
		go srv.Serve(ctx)

		waitForSignal(ctx, cancel)
		log.Info("shutting down")
		coord.Shutdown(context.Background())
		return nil
	},
}
