// Package config assembles the orchestrator's tunable tree from the
// environment, generalizing the teacher's control_plane/main.go env
// parsing (REDIS_ADDR, POD_INDEX/POD_COUNT, SCHEDULER_CONCURRENCY,
// CIRCUIT_BREAKER_THRESHOLD) from a fixed set of ad hoc os.Getenv calls
// into the structured {topology, minAgents, maxAgents, scheduler,
// coordination, scaling} tree named in §6.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/swarmlayer/corerun/internal/coordination"
	"github.com/swarmlayer/corerun/internal/scheduler"
)

// SchedulingConfig mirrors §6's "scheduler" tunable group.
type SchedulingConfig = scheduler.Config

// CoordinationConfig mirrors §6's "coordination" tunable group.
type CoordinationConfig = coordination.Config

// ScalingConfig mirrors §6's "scaling" tunable group.
type ScalingConfig struct {
	AutoScale         bool
	ScaleUpThreshold  float64
	ScaleDownThreshold float64
	CooldownPeriod    time.Duration
}

// Config is the orchestrator-level configuration enumerated in §6:
// {topology, minAgents, maxAgents, scheduler, coordination, scaling}, plus
// the process settings that follow (store connections, sharding, and the
// rest).
type Config struct {
	Topology    coordination.Topology
	MinAgents   int
	MaxAgents   int
	Scheduler   SchedulingConfig
	Coordination CoordinationConfig
	Scaling     ScalingConfig

	// RedisAddr and PostgresDSN are connection settings for the optional
	// external store backends (§6 "Store Adapter"); empty selects the
	// in-memory default, which is fully sufficient (spec Non-goals: no
	// durable log of its own).
	RedisAddr   string
	PostgresDSN string

	// ShardIndex/ShardCount mirror the teacher's POD_INDEX/POD_COUNT
	// sharding knobs, carried through as the node identity used to key
	// this process's coordination NodeID.
	ShardIndex int
	ShardCount int

	// DashboardAddr is the listen address for the observability HTTP/WS
	// surface (§4 "Live metrics dashboard"); empty disables it.
	DashboardAddr string
}

// Default returns the defaults named across §4.2/§4.3/§4.5/§6, before any
// environment overrides are applied.
func Default(nodeID string) Config {
	return Config{
		Topology:     coordination.TopologyAdaptive,
		MinAgents:    4,
		MaxAgents:    64,
		Scheduler:    scheduler.DefaultConfig(),
		Coordination: coordination.DefaultConfig(nodeID),
		Scaling: ScalingConfig{
			AutoScale:          true,
			ScaleUpThreshold:   0.8,
			ScaleDownThreshold: 0.2,
			CooldownPeriod:     30 * time.Second,
		},
		RedisAddr:     "localhost:6379",
		DashboardAddr: ":8090",
	}
}

// Load builds a Config from Default plus environment overrides, exactly
// as the teacher's main() composed schedConfig/reconcileInterval/shard
// settings from os.Getenv, generalized to the full tunable tree.
func Load(nodeID string) Config {
	cfg := Default(nodeID)

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("DASHBOARD_ADDR"); v != "" {
		cfg.DashboardAddr = v
	}

	cfg.ShardIndex = envInt("POD_INDEX", 0)
	cfg.ShardCount = envInt("POD_COUNT", 1)

	cfg.MinAgents = envInt("MIN_AGENTS", cfg.MinAgents)
	cfg.MaxAgents = envInt("MAX_AGENTS", cfg.MaxAgents)

	if v := os.Getenv("TOPOLOGY"); v != "" {
		cfg.Topology = coordination.Topology(v)
	}

	if v := envInt("SCHEDULER_MAX_QUEUE_SIZE", 0); v > 0 {
		cfg.Scheduler.MaxQueueSize = v
	}
	if v := envInt("SCHEDULER_MAX_RETRIES", -1); v >= 0 {
		cfg.Scheduler.MaxRetries = v
	}
	if v := os.Getenv("WORK_STEALING_ENABLED"); v != "" {
		cfg.Scheduler.WorkStealingEnabled = v != "false"
	}

	if v := envDuration("HEARTBEAT_INTERVAL", 0); v > 0 {
		cfg.Coordination.HeartbeatInterval = v
		cfg.Coordination.HeartbeatTimeout = 3 * v
	}
	if v := envDuration("ELECTION_LEASE_TTL", 0); v > 0 {
		cfg.Coordination.LeaseTTL = v
	}
	if v := envInt("QUORUM_SIZE", 0); v > 0 {
		cfg.Coordination.DefaultQuorum = v
	}

	if v := os.Getenv("AUTO_SCALE"); v != "" {
		cfg.Scaling.AutoScale = v != "false"
	}
	if v := envDuration("SCALING_COOLDOWN", 0); v > 0 {
		cfg.Scaling.CooldownPeriod = v
	}

	return cfg
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// NodeID generates a process-unique coordination node id from the
// hostname and shard index, replacing the teacher's acknowledged stub
// (`generateNodeID` in control_plane/main.go, which appended the literal
// string "uuid" rather than a real one).
func NodeID(shardIndex int) string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "node"
	}
	return fmt.Sprintf("%s-%d", hostname, shardIndex)
}
