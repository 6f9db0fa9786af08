package coordination

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmlayer/corerun/internal/observability"
)

// ErrUnknownProposal is returned by Vote for an id that doesn't exist.
// Decided proposals are kept, so a vote on one gets ErrTerminalProposal.
var ErrUnknownProposal = errors.New("coordination: unknown proposal")

// ErrAlreadyVoted is returned when an agent votes twice on the same
// proposal; the first vote stands.
var ErrAlreadyVoted = errors.New("coordination: agent already voted")

// ErrTerminalProposal is returned by Vote once a proposal has already
// reached accepted or rejected (§4.3, §7 "Terminal proposal"); the vote
// is not recorded and the proposal's state is unchanged.
var ErrTerminalProposal = errors.New("coordination: proposal already decided")

// consensusLog tracks quorum-based proposals (§4.3 proposeConsensus/vote).
// A proposal is accepted as soon as enough approving votes are in to reach
// quorum, and rejected as soon as rejection is mathematically certain
// (too few remaining eligible voters could still reach quorum) -- it does
// not wait for every eligible voter before deciding.
type consensusLog struct {
	mu        sync.Mutex
	proposals map[string]*Proposal
}

func newConsensusLog() *consensusLog {
	return &consensusLog{proposals: make(map[string]*Proposal)}
}

func (c *consensusLog) propose(proposer string, data interface{}, eligible, quorum int) *Proposal {
	p := &Proposal{
		ID:        uuid.NewString(),
		Proposer:  proposer,
		Data:      data,
		Quorum:    quorum,
		Eligible:  eligible,
		Votes:     make(map[string]bool),
		Status:    ProposalPending,
		CreatedAt: time.Now(),
	}
	c.mu.Lock()
	c.proposals[p.ID] = p
	c.mu.Unlock()
	return p
}

// vote records voter's ballot and returns the proposal's status after
// applying it. A vote cast after the proposal is already decided
// (accepted or rejected) is rejected with ErrTerminalProposal and never
// recorded (§4.3, §7 "Terminal proposal").
func (c *consensusLog) vote(proposalID, voter string, approve bool) (ProposalStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.proposals[proposalID]
	if !ok {
		return "", ErrUnknownProposal
	}
	if p.Status != ProposalPending {
		return p.Status, ErrTerminalProposal
	}
	if _, already := p.Votes[voter]; already {
		return p.Status, ErrAlreadyVoted
	}
	p.Votes[voter] = approve

	approvals, rejections := 0, 0
	for _, v := range p.Votes {
		if v {
			approvals++
		} else {
			rejections++
		}
	}

	remaining := p.Eligible - len(p.Votes)
	switch {
	case approvals >= p.Quorum:
		p.Status = ProposalAccepted
	case approvals+remaining < p.Quorum:
		p.Status = ProposalRejected
	}

	if p.Status != ProposalPending {
		p.DecidedAt = time.Now()
		label := "accepted"
		if p.Status == ProposalRejected {
			label = "rejected"
		}
		observability.ConsensusProposals.WithLabelValues(label).Inc()
	}
	return p.Status, nil
}

func (c *consensusLog) get(proposalID string) (Proposal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.proposals[proposalID]
	if !ok {
		return Proposal{}, false
	}
	return *p, true
}

// rate returns the fraction of decided proposals that were accepted, used
// by getConsensusRate (§4.3).
func (c *consensusLog) rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	decided, accepted := 0, 0
	for _, p := range c.proposals {
		if p.Status == ProposalPending {
			continue
		}
		decided++
		if p.Status == ProposalAccepted {
			accepted++
		}
	}
	if decided == 0 {
		return 0
	}
	return float64(accepted) / float64(decided)
}
