// Package observability exposes the swarm's internal state as Prometheus
// metrics, generalized from the teacher's control_plane/observability
// package: the same promauto vector style, renamed from reconciliation
// concerns (queue depth, circuit state, leader epoch) to the swarm's
// generic task/agent/consensus concerns.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks pending tasks per priority band (§4.1).
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "swarm_queue_depth",
		Help: "Current number of tasks queued, by priority band",
	}, []string{"priority", "scope"}) // scope: "global" or an agent id

	// QueueOldestTaskAge tracks how long the oldest queued task has waited.
	QueueOldestTaskAge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "swarm_queue_oldest_task_age_seconds",
		Help: "Age of the oldest task in the global queue",
	}, []string{"priority"})

	// SchedulerDecisions counts scheduling decisions (dispatch, retry,
	// steal, reject) the way the teacher's logDecision did.
	SchedulerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_scheduler_decisions_total",
		Help: "Total number of scheduling decisions made",
	}, []string{"decision", "reason"})

	// SchedulerRejections counts admission-control rejections.
	SchedulerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_scheduler_rejections_total",
		Help: "Tasks rejected by scheduler admission control",
	}, []string{"reason"}) // queue_full, circuit_open

	// CircuitState tracks the scheduler's circuit breaker state.
	CircuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_scheduler_circuit_state",
		Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
	})

	// TaskRetries counts total retry attempts across all tasks.
	TaskRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swarm_task_retries_total",
		Help: "Total number of task retry attempts",
	})

	// TaskTerminal counts tasks reaching each terminal status.
	TaskTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_task_terminal_total",
		Help: "Tasks reaching a terminal status",
	}, []string{"status"}) // completed, failed, cancelled

	// TaskLatencySeconds is the per-agent latency histogram backing the
	// p50/p95/p99 sliding window described in §2 (Metrics Collector).
	TaskLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "swarm_task_latency_seconds",
		Help:    "Task execution latency observed by the agent that ran it",
		Buckets: prometheus.DefBuckets,
	}, []string{"agent_id", "task_type"})

	// StealEvents counts successful work-stealing migrations.
	StealEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_steal_events_total",
		Help: "Total number of tasks migrated via work stealing",
	}, []string{"victim", "target"})

	// AgentUtilization tracks each agent's reported utilization (0-1).
	AgentUtilization = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "swarm_agent_utilization",
		Help: "Agent utilization ratio (active/maxConcurrent)",
	}, []string{"agent_id"})

	// ConnectedAgents tracks the number of agents considered live.
	ConnectedAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_connected_agents",
		Help: "Number of agents with a recent heartbeat",
	})

	// LeadershipEpoch tracks the current fencing epoch.
	LeadershipEpoch = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "swarm_leader_epoch",
		Help: "Current fencing epoch of the leader",
	}, []string{"node_id"})

	// LeadershipTransitions counts leadership acquisition/loss events.
	LeadershipTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_leader_transitions_total",
		Help: "Total number of leadership transitions",
	}, []string{"node_id", "event"}) // event: acquired, lost

	// LeaderStatus is 1 while this node believes itself the leader, else 0.
	LeaderStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_leader_status",
		Help: "1 if this node currently holds leadership, else 0",
	})

	// LeadershipTransitionDuration measures how long a node spent outside
	// leadership before re-acquiring it.
	LeadershipTransitionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "swarm_leader_transition_duration_seconds",
		Help:    "Time spent between losing and re-acquiring leadership",
		Buckets: prometheus.DefBuckets,
	})

	// ConsensusProposals counts proposals reaching each terminal status.
	ConsensusProposals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_consensus_proposals_total",
		Help: "Total number of consensus proposals by outcome",
	}, []string{"status"}) // accepted, rejected

	// TopologyChanges counts topology recomputation/switch events.
	TopologyChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_topology_changes_total",
		Help: "Total number of topology changes",
	}, []string{"kind"})

	// AutoScaleEvents counts spawn/despawn decisions made by auto-scaling.
	AutoScaleEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_autoscale_events_total",
		Help: "Total number of auto-scaling spawn/despawn operations",
	}, []string{"direction"}) // up, down
)
