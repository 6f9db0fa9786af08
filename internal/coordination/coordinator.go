package coordination

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/swarmlayer/corerun/internal/events"
	"github.com/swarmlayer/corerun/internal/store"
)

// ErrUnknownAgent is returned by operations addressed to an agent id the
// registry has no record of.
var ErrUnknownAgent = errors.New("coordination: unknown agent")

// Config holds the coordinator tunables named in §6 ("coordination":
// {protocol, quorumSize, heartbeatInterval, electionTimeout, maxMessageAge}).
type Config struct {
	NodeID            string
	Protocol          string // nominal only (§9 open question 6); "leader-election+quorum-voting"
	LeaseTTL          time.Duration
	JanitorInterval   time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	DefaultQuorum     int
	MaxMessageAge     time.Duration
	Topology          Topology
}

// DefaultConfig returns the defaults named in §4.3/§6.
func DefaultConfig(nodeID string) Config {
	return Config{
		NodeID:            nodeID,
		Protocol:          "leader-election+quorum-voting",
		LeaseTTL:          10 * time.Second,
		JanitorInterval:   5 * time.Second,
		HeartbeatInterval: 2 * time.Second,
		HeartbeatTimeout:  6 * time.Second,
		DefaultQuorum:     2,
		MaxMessageAge:     5 * time.Minute,
		Topology:          TopologyMesh,
	}
}

// Coordinator is the façade described in §4.3: agent registry and
// heartbeats, a message log, quorum consensus, topology management, and
// fenced leader election, all composed from the package's smaller pieces.
type Coordinator struct {
	cfg Config
	bus *events.Bus

	reg        *registry
	monitor    *AgentMonitor
	messages   *messageLog
	consensus  *consensusLog
	topology   *topologyManager
	elector    *LeaderElector
	janitor    *LockJanitor
	hubPicker  func([]AgentInfo) string
}

// New wires a Coordinator. storeCoord backs the distributed lock/lease
// primitives; epochs backs the durable fencing-token counter.
func New(cfg Config, storeCoord store.Coordinator, epochs store.DurableEpochStore, bus *events.Bus) *Coordinator {
	reg := newRegistry()
	c := &Coordinator{
		cfg:       cfg,
		bus:       bus,
		reg:       reg,
		monitor:   newAgentMonitor(reg, bus, cfg.HeartbeatInterval, cfg.HeartbeatTimeout),
		messages:  newMessageLog(10000, cfg.MaxMessageAge),
		consensus: newConsensusLog(),
		topology:  newTopologyManager(),
		elector:   NewLeaderElector(storeCoord, epochs, cfg.NodeID, cfg.LeaseTTL),
		janitor:   NewLockJanitor(storeCoord, epochs, cfg.JanitorInterval),
		hubPicker: firstAgentID,
	}
	c.topology.set(cfg.Topology)
	c.elector.SetCallbacks(
		func(ctx context.Context) { bus.Emit(events.LeaderElected, cfg.NodeID, ctx) },
		func() {},
	)
	return c
}

func firstAgentID(agents []AgentInfo) string {
	if len(agents) == 0 {
		return ""
	}
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	sort.Strings(ids)
	return ids[0]
}

// Start begins the elector, janitor, heartbeat monitor, and message-GC loops.
func (c *Coordinator) Start(ctx context.Context) {
	c.elector.Start(ctx)
	c.janitor.Start(ctx)
	c.monitor.Start(ctx)
	go c.gcLoop(ctx)
}

// gcLoop periodically purges expired messages from the log, on the same
// cadence as the heartbeat timer (§4.3 "GC of the message map removes
// entries older than their TTL").
func (c *Coordinator) gcLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.messages.gc()
		}
	}
}

// Stop releases leadership if held; the background loops exit when ctx is
// cancelled by the caller.
func (c *Coordinator) Stop() {
	c.elector.Stop()
}

// RegisterAgent adds agentID to the connection registry. Peer lists are
// not recomputed here; they change only on UpdateTopology.
func (c *Coordinator) RegisterAgent(agentID string, capabilities []string) {
	c.reg.register(agentID, capabilities)
}

// UnregisterAgent removes agentID from the registry.
func (c *Coordinator) UnregisterAgent(agentID string) {
	c.reg.unregister(agentID)
}

// Heartbeat records a liveness signal for agentID and broadcasts a
// HEARTBEAT message carrying this node's election state (§4.3: "the
// coordinator then broadcasts a HEARTBEAT message carrying {term,
// isLeader}"). The message is informational: leadership is decided by the
// LeaderElector's lease, and nothing in this package reads it back.
func (c *Coordinator) Heartbeat(agentID string) error {
	if !c.reg.heartbeat(agentID) {
		return ErrUnknownAgent
	}
	leader := c.elector.GetState()
	c.messages.append(agentID, "", "HEARTBEAT", map[string]interface{}{
		"term":      leader.CurrentEpoch,
		"is_leader": leader.IsLeader,
	}, c.cfg.MaxMessageAge)
	return nil
}

// SendMessage appends a point-to-point message to the log. ttl <= 0 uses
// the coordinator's configured default (§6 maxMessageAge).
func (c *Coordinator) SendMessage(from, to, typ string, payload interface{}, ttl time.Duration) Message {
	return c.messages.append(from, to, typ, payload, ttl)
}

// Broadcast appends a message addressed to every connected agent.
func (c *Coordinator) Broadcast(from, typ string, payload interface{}, ttl time.Duration) Message {
	return c.messages.append(from, "", typ, payload, ttl)
}

// GetMessages returns every message addressed to agentID (or broadcast)
// since the given point in time.
func (c *Coordinator) GetMessages(agentID string, since time.Time) []Message {
	return c.messages.forAgent(agentID, since)
}

// ProposeConsensus opens a new proposal. Quorum defaults to cfg.DefaultQuorum
// when quorum <= 0.
func (c *Coordinator) ProposeConsensus(proposer string, data interface{}, quorum int) *Proposal {
	if quorum <= 0 {
		quorum = c.cfg.DefaultQuorum
	}
	eligible := len(c.reg.connections())
	p := c.consensus.propose(proposer, data, eligible, quorum)
	c.bus.Emit(events.ConsensusProposed, proposer, p.ID)
	return p
}

// Vote records voter's ballot on proposalID and returns its (possibly
// just-decided) status.
func (c *Coordinator) Vote(proposalID, voter string, approve bool) (ProposalStatus, error) {
	status, err := c.consensus.vote(proposalID, voter, approve)
	if err != nil {
		return status, err
	}
	c.bus.Emit(events.VoteRecorded, voter, proposalID)
	switch status {
	case ProposalAccepted:
		c.bus.Emit(events.ConsensusReached, voter, proposalID)
	case ProposalRejected:
		c.bus.Emit(events.ConsensusRejected, voter, proposalID)
	}
	return status, nil
}

// GetProposal returns the current state of a proposal.
func (c *Coordinator) GetProposal(id string) (Proposal, bool) {
	return c.consensus.get(id)
}

// GetConsensusRate returns the fraction of decided proposals accepted.
func (c *Coordinator) GetConsensusRate() float64 {
	return c.consensus.rate()
}

// UpdateTopology switches the swarm's communication pattern and recomputes
// every agent's peer-connection list.
func (c *Coordinator) UpdateTopology(topo Topology) map[string][]string {
	c.topology.set(topo)
	agents := c.reg.snapshot()
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	hub := c.hubPicker(agents)
	conns := c.topology.recompute(agents, hub)

	c.reg.mu.Lock()
	for id, peers := range conns {
		if a, ok := c.reg.agents[id]; ok {
			a.Connections = peers
		}
	}
	c.reg.mu.Unlock()

	c.bus.Emit(events.TopologyUpdated, c.cfg.NodeID, topo)
	return conns
}

// GetTopology returns the swarm's currently configured pattern.
func (c *Coordinator) GetTopology() Topology {
	return c.topology.get()
}

// GetConnections returns the peer ids agentID is wired to under the
// swarm's current topology (§4.3 "getConnections(id)"), i.e. the
// per-agent neighbor set from the §3 Topology data model.
func (c *Coordinator) GetConnections(agentID string) []string {
	return c.reg.neighbors(agentID)
}

// OnlineAgents returns every agent id currently considered online.
func (c *Coordinator) OnlineAgents() []string {
	return c.reg.connections()
}

// IsLeader reports whether this node currently holds leadership.
func (c *Coordinator) IsLeader() bool {
	return c.elector.IsLeader()
}

// FencedContext returns a context valid only while this node is leader.
func (c *Coordinator) FencedContext() context.Context {
	return c.elector.FencedContext()
}

// LeaderState returns this node's view of the election.
func (c *Coordinator) LeaderState() LeaderState {
	return c.elector.GetState()
}
