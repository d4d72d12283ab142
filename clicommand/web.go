package clicommand

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/chaotic-cx/chaotic-manager-sub000/internal/bus"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/logserver"
	"github.com/chaotic-cx/chaotic-manager-sub000/logger"
	"github.com/chaotic-cx/chaotic-manager-sub000/metrics"
)

// WebCommand runs the log server: a read-only HTTP front door over the
// bus's log storage and the coordinator's queue RPCs (spec.md §4.6).
var WebCommand = &cli.Command{
	Name:  "web",
	Usage: "run the log streaming and queue status HTTP server",
	Flags: append(busFlags,
		&cli.StringFlag{Name: "listen", EnvVars: []string{"LOGS_LISTEN_ADDR"}, Value: ":8080"},
	),
	Action: func(c *cli.Context) error {
		log := logger.NewConsoleLogger(logger.NewTextPrinter(os.Stdout), os.Exit)

		b := newBus(c)
		defer b.Close()
		if err := b.Ping(c.Context); err != nil {
			return cli.Exit(fmt.Sprintf("cannot reach bus: %v", err), 1)
		}

		collector := metrics.NewCollector(log, metrics.CollectorConfig{Namespace: "chaotic_manager_web"})

		srv := logserver.New(b, &coordinatorClient{bus: b}, collector, log)

		httpServer := &http.Server{
			Addr:    c.String("listen"),
			Handler: srv.Router(),
		}

		ctx, cancel := context.WithCancel(c.Context)
		defer cancel()

		go func() {
			<-ctx.Done()
			_ = httpServer.Close()
		}()

		log.Info("log server listening on %s", c.String("listen"))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return cli.Exit(err.Error(), 1)
		}
		return nil
	},
}

// coordinatorClient reaches the coordinator's RPC surface over the bus,
// satisfying logserver.Coordinator without either package importing the
// other directly.
type coordinatorClient struct {
	bus *bus.Bus
}

func (cl *coordinatorClient) JobExistsRPC(ctx context.Context, pkgbase string, ts int64) (bool, error) {
	var exists bool
	err := cl.bus.Call(ctx, "coordinator", "JobExists", map[string]any{
		"pkgbase":   pkgbase,
		"timestamp": ts,
	}, &exists)
	return exists, err
}

func (cl *coordinatorClient) GetQueueRPC(ctx context.Context) (json.RawMessage, error) {
	var result json.RawMessage
	err := cl.bus.Call(ctx, "coordinator", "GetQueue", map[string]any{}, &result)
	return result, err
}

func (cl *coordinatorClient) GetAvailableNodesRPC(ctx context.Context) (json.RawMessage, error) {
	var result json.RawMessage
	err := cl.bus.Call(ctx, "coordinator", "GetAvailableNodes", map[string]any{}, &result)
	return result, err
}
