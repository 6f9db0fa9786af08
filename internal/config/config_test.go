package config

import (
	"os"
	"testing"
	"time"

	"github.com/swarmlayer/corerun/internal/coordination"
)

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	cfg := Default("node-1")

	if cfg.Topology != coordination.TopologyAdaptive {
		t.Fatalf("expected adaptive topology by default, got %s", cfg.Topology)
	}
	if cfg.MinAgents != 4 || cfg.MaxAgents != 64 {
		t.Fatalf("expected min=4 max=64, got min=%d max=%d", cfg.MinAgents, cfg.MaxAgents)
	}
	if !cfg.Scaling.AutoScale {
		t.Fatal("expected auto-scaling enabled by default")
	}
	if cfg.Coordination.NodeID != "node-1" {
		t.Fatalf("expected coordination config to carry the node id, got %q", cfg.Coordination.NodeID)
	}
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	for _, kv := range [][2]string{
		{"REDIS_ADDR", "redis.internal:6380"},
		{"MIN_AGENTS", "10"},
		{"MAX_AGENTS", "20"},
		{"TOPOLOGY", "MESH"},
		{"WORK_STEALING_ENABLED", "false"},
		{"AUTO_SCALE", "false"},
		{"SCALING_COOLDOWN", "45s"},
	} {
		os.Setenv(kv[0], kv[1])
		t.Cleanup(func(name string) func() {
			return func() { os.Unsetenv(name) }
		}(kv[0]))
	}

	cfg := Load("node-2")

	if cfg.RedisAddr != "redis.internal:6380" {
		t.Fatalf("expected REDIS_ADDR override, got %q", cfg.RedisAddr)
	}
	if cfg.MinAgents != 10 || cfg.MaxAgents != 20 {
		t.Fatalf("expected min=10 max=20, got min=%d max=%d", cfg.MinAgents, cfg.MaxAgents)
	}
	if cfg.Topology != coordination.TopologyMesh {
		t.Fatalf("expected mesh topology override, got %s", cfg.Topology)
	}
	if cfg.Scheduler.WorkStealingEnabled {
		t.Fatal("expected WORK_STEALING_ENABLED=false to disable work stealing")
	}
	if cfg.Scaling.AutoScale {
		t.Fatal("expected AUTO_SCALE=false to disable auto-scaling")
	}
	if cfg.Scaling.CooldownPeriod != 45*time.Second {
		t.Fatalf("expected cooldown override of 45s, got %s", cfg.Scaling.CooldownPeriod)
	}
}

func TestLoadIgnoresMalformedOverrides(t *testing.T) {
	os.Setenv("MIN_AGENTS", "not-a-number")
	t.Cleanup(func() { os.Unsetenv("MIN_AGENTS") })

	cfg := Load("node-3")
	if cfg.MinAgents != Default("node-3").MinAgents {
		t.Fatalf("expected a malformed MIN_AGENTS to fall back to the default, got %d", cfg.MinAgents)
	}
}

func TestNodeIDIsStableAndShardQualified(t *testing.T) {
	id0 := NodeID(0)
	id1 := NodeID(1)
	if id0 == id1 {
		t.Fatalf("expected distinct shard indices to produce distinct node ids, got %q twice", id0)
	}
	if NodeID(0) != id0 {
		t.Fatal("expected NodeID to be deterministic for a fixed shard index")
	}
}
