package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chaotic-cx/chaotic-manager-sub000/internal/bus"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/presence"
)

const heartbeatInterval = 10 * time.Second

// ServerName is this node's RPC service name, the destination
// AssignJobs/requestCancel dispatch to as "builder.<nodeID>".
func ServerName(nodeID string) string { return "builder." + nodeID }

// Serve registers BuildPackage/CancelBuild as bus RPC handlers for nodeID
// and blocks until ctx is canceled.
func (b *Build) Serve(ctx context.Context, nodeID string) error {
	srv := bus.NewServer(b.bus, ServerName(nodeID))

	srv.Handle("BuildPackage", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params BuildParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, fmt.Errorf("unmarshal BuildParams: %w", err)
		}
		return b.BuildPackage(ctx, params)
	})

	srv.Handle("CancelBuild", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return nil, b.CancelBuild(ctx)
	})

	return srv.Serve(ctx)
}

// Heartbeat advertises this node's presence (tier, pure name, schema
// version) every heartbeatInterval until ctx is canceled, so the
// coordinator's GetAvailableNodes sees it (spec.md §4.1, internal/presence).
func (b *Build) Heartbeat(ctx context.Context, reg *presence.Registry, nodeID, pureName string, tier int, schemaVersion int) {
	beat := func() {
		n := presence.Node{
			ID:       nodeID,
			Service:  "builder",
			PureName: pureName,
			Metadata: map[string]string{
				"build_class": fmt.Sprintf("%d", tier),
				"version":     fmt.Sprintf("%d", schemaVersion),
			},
		}
		if err := reg.Heartbeat(ctx, n, time.Now().UnixMilli()); err != nil {
			b.log.Warn("presence heartbeat failed: %v", err)
		}
	}

	beat()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat()
		}
	}
}
