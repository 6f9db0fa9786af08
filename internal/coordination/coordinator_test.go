package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/swarmlayer/corerun/internal/events"
	"github.com/swarmlayer/corerun/internal/store"
)

func newTestCoordinator() *Coordinator {
	adapter := store.NewMemoryAdapter()
	cfg := DefaultConfig("node-1")
	cfg.LeaseTTL = 50 * time.Millisecond
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.HeartbeatTimeout = 60 * time.Millisecond
	return New(cfg, adapter, adapter, events.New())
}

func TestBroadcastReachesEveryAgent(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterAgent("a1", nil)
	c.RegisterAgent("a2", nil)

	start := time.Now().Add(-time.Second)
	c.Broadcast("a1", "ping", "hello", 0)

	for _, id := range []string{"a1", "a2"} {
		msgs := c.GetMessages(id, start)
		if len(msgs) != 1 || msgs[0].Type != "ping" {
			t.Fatalf("expected a1/a2 to receive the broadcast, got %+v", msgs)
		}
	}
}

func TestSendMessageIsPointToPoint(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterAgent("a1", nil)
	c.RegisterAgent("a2", nil)

	start := time.Now().Add(-time.Second)
	c.SendMessage("a1", "a2", "task.offer", 42, 0)

	if msgs := c.GetMessages("a2", start); len(msgs) != 1 {
		t.Fatalf("expected a2 to receive its message, got %+v", msgs)
	}
	if msgs := c.GetMessages("a1", start); len(msgs) != 0 {
		t.Fatalf("a1 should not receive a message addressed to a2, got %+v", msgs)
	}
}

func TestConsensusAcceptsAtQuorum(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterAgent("a1", nil)
	c.RegisterAgent("a2", nil)
	c.RegisterAgent("a3", nil)

	p := c.ProposeConsensus("a1", "scale-up", 2)

	status, err := c.Vote(p.ID, "a1", true)
	if err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if status != ProposalPending {
		t.Fatalf("expected pending after 1/2 votes, got %s", status)
	}

	status, err = c.Vote(p.ID, "a2", true)
	if err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if status != ProposalAccepted {
		t.Fatalf("expected accepted once quorum reached, got %s", status)
	}
}

func TestConsensusRejectsWhenQuorumBecomesUnreachable(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterAgent("a1", nil)
	c.RegisterAgent("a2", nil)
	c.RegisterAgent("a3", nil)

	p := c.ProposeConsensus("a1", "scale-down", 2)

	c.Vote(p.ID, "a1", false)
	status, err := c.Vote(p.ID, "a2", false)
	if err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if status != ProposalRejected {
		t.Fatalf("expected rejection once quorum of 2 is unreachable with 2 no votes and 1 remaining, got %s", status)
	}
}

func TestVoteTwiceIsRejected(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterAgent("a1", nil)
	c.RegisterAgent("a2", nil)
	p := c.ProposeConsensus("a1", "x", 2)

	if _, err := c.Vote(p.ID, "a1", true); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	if _, err := c.Vote(p.ID, "a1", false); err != ErrAlreadyVoted {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}
}

func TestVoteOnDecidedProposalIsRejected(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterAgent("a1", nil)
	c.RegisterAgent("a2", nil)
	p := c.ProposeConsensus("a1", "x", 1)

	status, err := c.Vote(p.ID, "a1", true)
	if err != nil || status != ProposalAccepted {
		t.Fatalf("expected accepted after reaching quorum, got status=%s err=%v", status, err)
	}

	status, err = c.Vote(p.ID, "a2", false)
	if err != ErrTerminalProposal {
		t.Fatalf("expected ErrTerminalProposal for a vote on a decided proposal, got %v", err)
	}
	if status != ProposalAccepted {
		t.Fatalf("expected status to remain accepted, got %s", status)
	}

	decided, _ := c.GetProposal(p.ID)
	if _, voted := decided.Votes["a2"]; voted {
		t.Fatalf("expected a2's vote to not be recorded on a terminal proposal, got %+v", decided.Votes)
	}
}

func TestUpdateTopologyStar(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterAgent("a1", nil)
	c.RegisterAgent("a2", nil)
	c.RegisterAgent("a3", nil)

	conns := c.UpdateTopology(TopologyStar)
	if len(conns["a1"]) != 2 {
		t.Fatalf("expected hub a1 connected to both others, got %+v", conns["a1"])
	}
	if len(conns["a2"]) != 1 || conns["a2"][0] != "a1" {
		t.Fatalf("expected spoke a2 connected only to hub, got %+v", conns["a2"])
	}
}

func TestGetConnectionsReturnsPerAgentNeighbors(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterAgent("a1", nil)
	c.RegisterAgent("a2", nil)
	c.RegisterAgent("a3", nil)

	c.UpdateTopology(TopologyStar)

	hub := c.GetConnections("a1")
	if len(hub) != 2 {
		t.Fatalf("expected hub a1 connected to both others, got %+v", hub)
	}

	spoke := c.GetConnections("a2")
	if len(spoke) != 1 || spoke[0] != "a1" {
		t.Fatalf("expected spoke a2 connected only to hub, got %+v", spoke)
	}

	if unknown := c.GetConnections("nope"); unknown != nil {
		t.Fatalf("expected nil neighbors for an unknown agent, got %+v", unknown)
	}
}

func TestAgentMonitorMarksStaleAgentsOffline(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterAgent("a1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.monitor.Start(ctx)

	time.Sleep(150 * time.Millisecond)

	if conns := c.OnlineAgents(); len(conns) != 0 {
		t.Fatalf("expected stale agent to be dropped from connections, got %+v", conns)
	}
}

func TestLeaderElectionSingleNodeBecomesLeader(t *testing.T) {
	c := newTestCoordinator()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx)
	defer c.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.IsLeader() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the sole node to become leader within a second")
}
