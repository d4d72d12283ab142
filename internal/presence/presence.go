// Package presence tracks which builder nodes are currently reachable over
// the bus. GetAvailableNodes and AssignJobs both consult it to decide which
// builders are eligible for dispatch.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chaotic-cx/chaotic-manager-sub000/internal/bus"
)

// heartbeatTTL bounds how long a node is considered present after its last
// heartbeat; a builder that stops heartbeating (crash, network partition)
// drops out of presence once its key expires.
const heartbeatTTL = 30 * time.Second

// Node describes a builder as advertised by its own heartbeat.
type Node struct {
	ID        string            `json:"id"`
	Service   string            `json:"service"`
	PureName  string            `json:"pure_name"`
	Metadata  map[string]string `json:"metadata"`
	UpdatedAt int64             `json:"updated_at"`
}

// Registry is a bus-backed presence table.
type Registry struct {
	bus *bus.Bus
}

func NewRegistry(b *bus.Bus) *Registry {
	return &Registry{bus: b}
}

func presenceKey(nodeID string) string {
	return fmt.Sprintf("presence:%s", nodeID)
}

// Heartbeat is called periodically by a builder to announce it is alive.
// nowMS is injected by the caller (builders stamp their own clock) so this
// package stays free of wall-clock reads.
func (r *Registry) Heartbeat(ctx context.Context, n Node, nowMS int64) error {
	n.UpdatedAt = nowMS
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return r.bus.Set(ctx, presenceKey(n.ID), string(payload), heartbeatTTL)
}

// Get returns the last heartbeat for a node, if still within its TTL.
func (r *Registry) Get(ctx context.Context, nodeID string) (Node, bool, error) {
	val, ok, err := r.bus.Get(ctx, presenceKey(nodeID))
	if err != nil || !ok {
		return Node{}, ok, err
	}
	var n Node
	if err := json.Unmarshal([]byte(val), &n); err != nil {
		return Node{}, false, err
	}
	return n, true, nil
}

// List scans for all currently present nodes of the given service class.
// It is O(n) over presence keys, acceptable at builder-fleet scale.
func (r *Registry) List(ctx context.Context, service string) ([]Node, error) {
	var nodes []Node
	iter := r.bus.Client().Scan(ctx, 0, presenceKey("*"), 0).Iterator()
	for iter.Next(ctx) {
		val, err := r.bus.Client().Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		var n Node
		if err := json.Unmarshal([]byte(val), &n); err != nil {
			continue
		}
		if n.Service == service {
			nodes = append(nodes, n)
		}
	}
	return nodes, iter.Err()
}
