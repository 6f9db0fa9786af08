package coordination

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/swarmlayer/corerun/internal/events"
	"github.com/swarmlayer/corerun/internal/observability"
)

// registry tracks connected agents and their heartbeats. It is the
// in-process equivalent of the teacher's AgentMonitor, which scanned a
// durable agent table; here the registry is authoritative and the
// monitor's only job is to notice staleness.
type registry struct {
	mu     sync.RWMutex
	agents map[string]*AgentInfo
}

func newRegistry() *registry {
	return &registry{agents: make(map[string]*AgentInfo)}
}

func (r *registry) register(id string, capabilities []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[id] = &AgentInfo{
		ID:            id,
		Capabilities:  capabilities,
		Status:        "online",
		LastHeartbeat: time.Now(),
	}
}

func (r *registry) unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
}

func (r *registry) heartbeat(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return false
	}
	a.LastHeartbeat = time.Now()
	a.Status = "online"
	return true
}

func (r *registry) connections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id, a := range r.agents {
		if a.Status == "online" {
			ids = append(ids, id)
		}
	}
	return ids
}

// neighbors returns the peer ids id is wired to under the currently
// configured topology (AgentInfo.Connections, written by
// Coordinator.UpdateTopology), or nil if id is unknown.
func (r *registry) neighbors(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil
	}
	return append([]string(nil), a.Connections...)
}

func (r *registry) snapshot() []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentInfo, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, *a)
	}
	return out
}

// AgentMonitor periodically marks agents with an expired heartbeat
// offline, adapted from control_plane/coordination/agent_monitor.go: the
// teacher polled a durable agent table, this polls the in-process
// registry instead.
type AgentMonitor struct {
	reg       *registry
	bus       *events.Bus
	interval  time.Duration
	threshold time.Duration
}

func newAgentMonitor(reg *registry, bus *events.Bus, interval, threshold time.Duration) *AgentMonitor {
	return &AgentMonitor{reg: reg, bus: bus, interval: interval, threshold: threshold}
}

func (m *AgentMonitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

func (m *AgentMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkLiveness()
		}
	}
}

func (m *AgentMonitor) checkLiveness() {
	m.reg.mu.Lock()
	now := time.Now()
	active := 0
	var failed []string
	for _, a := range m.reg.agents {
		if a.Status == "offline" {
			continue
		}
		if now.Sub(a.LastHeartbeat) > m.threshold {
			log.Printf("coordination: agent %s heartbeat expired (last %s), marking offline", a.ID, a.LastHeartbeat)
			a.Status = "offline"
			failed = append(failed, a.ID)
			continue
		}
		active++
	}
	m.reg.mu.Unlock()

	for _, id := range failed {
		m.bus.Emit(events.AgentFailed, id, nil)
	}
	observability.ConnectedAgents.Set(float64(active))
}
