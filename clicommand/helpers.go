package clicommand

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/chaotic-cx/chaotic-manager-sub000/coordinator"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/bus"
)

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// registerCoordinatorRPCs exposes the coordinator's public operations as
// bus RPC methods, the transport spec.md §6 calls for between the
// "schedule"/"auto-repo-remove"/"web" verbs and the long-running
// coordinator daemon.
func registerCoordinatorRPCs(srv *bus.Server, coord *coordinator.Coordinator) {
	type addJobsParams struct {
		TargetRepo string                     `json:"target_repo"`
		SourceRepo string                     `json:"source_repo"`
		Arch       string                     `json:"arch"`
		Commit     string                     `json:"commit"`
		Packages   []coordinator.PackageInput `json:"packages"`
	}
	srv.Handle("AddJobsToQueue", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p addJobsParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return nil, coord.AddJobsToQueue(ctx, p.TargetRepo, p.SourceRepo, p.Arch, p.Commit, p.Packages)
	})

	type autoRepoRemoveParams struct {
		Arch         string   `json:"arch"`
		Repo         string   `json:"repo"`
		Pkgbases     []string `json:"pkgbases"`
		BuilderImage string   `json:"builder_image"`
	}
	srv.Handle("AutoRepoRemove", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p autoRepoRemoveParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return nil, coord.AutoRepoRemove(ctx, p.Arch, p.Repo, p.Pkgbases, p.BuilderImage)
	})

	type jobExistsParams struct {
		Pkgbase   string `json:"pkgbase"`
		Timestamp int64  `json:"timestamp"`
	}
	srv.Handle("JobExists", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p jobExistsParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return coord.JobExists(p.Pkgbase, p.Timestamp), nil
	})

	srv.Handle("GetQueue", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return coord.GetQueue(), nil
	})

	srv.Handle("GetAvailableNodes", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return coord.GetAvailableNodes(ctx)
	})
}
