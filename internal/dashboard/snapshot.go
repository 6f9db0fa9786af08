// Package dashboard exposes the swarm's live state as JSON and a
// WebSocket metrics feed, adapted from the teacher's
// control_plane/ws_hub.go and api_dashboard.go. It is observability
// tooling only (SPEC_FULL.md §4): no UI beyond JSON/WS telemetry, no
// per-tenant scoping -- the swarm this core coordinates is a single
// logical deployment, not a multi-tenant control plane.
package dashboard

import (
	"time"

	"github.com/swarmlayer/corerun/internal/coordination"
	"github.com/swarmlayer/corerun/internal/scheduler"
)

// Snapshot is the dashboard's point-in-time view, generalized from the
// teacher's DashboardMetrics (scheduler + leadership + store sections)
// down to the fields this core actually tracks.
type Snapshot struct {
	QueueDepth  int     `json:"queue_depth"`
	AgentCount  int     `json:"agent_count"`

	IsLeader     bool   `json:"is_leader"`
	CurrentEpoch int64  `json:"current_epoch"`
	Transitions  int64  `json:"leader_transitions"`
	NodeID       string `json:"node_id"`

	Topology      string  `json:"topology"`
	ConsensusRate float64 `json:"consensus_rate"`

	Timestamp int64 `json:"timestamp"`
}

// Collector produces a Snapshot on demand.
type Collector func() Snapshot

// NewCollector builds a Collector reading live state from sched and coord.
func NewCollector(sched *scheduler.Scheduler, coord *coordination.Coordinator) Collector {
	return func() Snapshot {
		leader := coord.LeaderState()
		return Snapshot{
			QueueDepth:    sched.QueueDepth(),
			AgentCount:    len(coord.OnlineAgents()),
			IsLeader:      leader.IsLeader,
			CurrentEpoch:  leader.CurrentEpoch,
			Transitions:   leader.Transitions,
			NodeID:        leader.NodeID,
			Topology:      string(coord.GetTopology()),
			ConsensusRate: coord.GetConsensusRate(),
			Timestamp:     time.Now().Unix(),
		}
	}
}
