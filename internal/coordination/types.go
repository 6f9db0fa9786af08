// Package coordination implements the coordinator contract from §4.3:
// agent registry and heartbeats, an inter-agent message log, quorum
// consensus proposals, topology management, and fenced leader election.
// It generalizes the teacher's control_plane/coordination package, which
// already had the leader-election and lock-janitor halves of this; the
// message log, proposal log, and topology pieces are new, built in the
// same idiom (mutex-guarded in-process state, context-driven loops,
// structured log.Printf, promauto metrics).
package coordination

import "time"

// Topology is the inter-agent communication pattern from §3/§6.
type Topology string

const (
	TopologyMesh         Topology = "MESH"
	TopologyStar         Topology = "STAR"
	TopologyRing         Topology = "RING"
	TopologyHierarchical Topology = "HIERARCHICAL"
	TopologyAdaptive     Topology = "ADAPTIVE"
)

// AgentInfo is the coordinator's view of one connected agent.
type AgentInfo struct {
	ID            string
	Capabilities  []string
	Status        string // "online" or "offline"
	LastHeartbeat time.Time
	Connections   []string // peer ids this agent is wired to under the current topology
}

// Message is one entry in the coordinator's message log (§4.3
// sendMessage/broadcast/getMessages). It is eligible for garbage
// collection once now - Timestamp > TTL (§3 Coordination Message).
type Message struct {
	ID        string
	From      string
	To        string // "" for a broadcast
	Type      string
	Payload   interface{}
	Timestamp time.Time
	TTL       time.Duration
}

// ProposalStatus is the lifecycle state of a consensus proposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
)

// Proposal is one entry in the coordinator's consensus log (§4.3
// proposeConsensus/vote). Quorum is the number of approving votes
// required to accept; decision is made as soon as acceptance or
// rejection becomes mathematically certain given the remaining voters.
type Proposal struct {
	ID        string
	Proposer  string
	Data      interface{}
	Quorum    int
	Eligible  int // number of agents entitled to vote when the proposal opened
	Votes     map[string]bool
	Status    ProposalStatus
	CreatedAt time.Time
	DecidedAt time.Time
}
