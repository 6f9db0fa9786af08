package orchestrator

import (
	"context"
	"math"
	"time"

	"github.com/swarmlayer/corerun/internal/agent"
	"github.com/swarmlayer/corerun/internal/agent/builtin"
	"github.com/swarmlayer/corerun/internal/coordination"
	"github.com/swarmlayer/corerun/internal/events"
	"github.com/swarmlayer/corerun/internal/observability"
)

// monitorLoop drives the §4.5 monitoring tick every heartbeatInterval:
// pull stats, run auto-scaling, optionally optimize topology, emit a
// metrics event.
func (o *Orchestrator) monitorLoop(ctx context.Context) {
	defer o.monWG.Done()
	interval := o.cfg.Coordination.HeartbeatInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context) {
	metrics := o.GetPerformanceMetrics()
	for _, s := range metrics.Agents {
		observability.AgentUtilization.WithLabelValues(s.ID).Set(s.Utilization)
	}

	o.autoScale(ctx, metrics)

	if o.topology == coordination.TopologyAdaptive {
		o.optimizeTopology(metrics)
	}

	o.bus.Emit(events.MetricsSnapshot, "orchestrator", metrics)

	if metrics.AvgUtilization > 0.9 {
		o.bus.Emit(events.BottleneckDetected, "orchestrator", metrics)
	}
}

// autoScale implements §4.5's scaling algorithm.
func (o *Orchestrator) autoScale(ctx context.Context, metrics PerformanceMetrics) {
	if !o.cfg.Scaling.AutoScale {
		return
	}

	o.mu.Lock()
	sinceLast := time.Since(o.lastScaling)
	current := len(o.agents)
	o.mu.Unlock()

	if sinceLast < o.cfg.Scaling.CooldownPeriod {
		return
	}

	util := metrics.AvgUtilization

	switch {
	case util > o.cfg.Scaling.ScaleUpThreshold && current < o.cfg.MaxAgents:
		remaining := o.cfg.MaxAgents - current
		n := int(math.Ceil(math.Min(0.25*float64(current), float64(remaining))))
		if n < 1 {
			n = 1
		}
		o.scaleUp(ctx, n)
	case util < o.cfg.Scaling.ScaleDownThreshold && current > o.cfg.MinAgents:
		n := int(math.Ceil(math.Min(0.20*float64(current), float64(current-o.cfg.MinAgents))))
		if n < 1 {
			n = 1
		}
		o.scaleDown(n)
	default:
		return
	}

	o.mu.Lock()
	o.lastScaling = time.Now()
	o.mu.Unlock()
}

func (o *Orchestrator) scaleUp(ctx context.Context, n int) {
	o.mu.Lock()
	start := o.nextTypeIdx
	o.nextTypeIdx += n
	o.mu.Unlock()

	for i := 0; i < n; i++ {
		typ := builtin.All[(start+i)%len(builtin.All)]
		if _, err := o.SpawnAgent(ctx, typ, agent.Config{}); err != nil {
			break
		}
	}
	observability.AutoScaleEvents.WithLabelValues("up").Add(float64(n))
}

func (o *Orchestrator) scaleDown(n int) {
	victims := o.leastUtilized(n)
	for _, id := range victims {
		o.DespawnAgent(id)
	}
	observability.AutoScaleEvents.WithLabelValues("down").Add(float64(len(victims)))
}

// leastUtilized returns up to n agent ids sorted by ascending utilization.
func (o *Orchestrator) leastUtilized(n int) []string {
	o.mu.RLock()
	type pair struct {
		id   string
		util float64
	}
	pairs := make([]pair, 0, len(o.agents))
	for id, a := range o.agents {
		pairs = append(pairs, pair{id: id, util: a.Utilization()})
	}
	o.mu.RUnlock()

	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && pairs[j].util < pairs[j-1].util; j-- {
			pairs[j], pairs[j-1] = pairs[j-1], pairs[j]
		}
	}
	if n > len(pairs) {
		n = len(pairs)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = pairs[i].id
	}
	return out
}

// optimizeTopology implements the §4.5 ADAPTIVE heuristics. Only
// meaningful when o.topology is ADAPTIVE -- it recomputes which concrete
// pattern backs it without changing o.topology itself, so the swarm can
// be switched back to manual control at any time.
func (o *Orchestrator) optimizeTopology(metrics PerformanceMetrics) {
	o.mu.RLock()
	agentCount := len(o.agents)
	o.mu.RUnlock()

	// GetConsensusRate returns the accepted/decided fraction (0-1), not a
	// per-second rate; §4.5's "> 10/s" threshold has no direct analogue
	// against a fraction, so a high acceptance fraction (>0.5, i.e. most
	// decided proposals were accepted) stands in for it
	// -- documented as an explicit open-question resolution.
	var selected coordination.Topology
	switch {
	case metrics.ThroughputPerSec > 100 && agentCount > 20:
		selected = coordination.TopologyMesh
	case metrics.AvgLatency > 10*time.Millisecond && metrics.TaskCompletionRate < 0.7:
		selected = coordination.TopologyHierarchical
	case o.coord.GetConsensusRate() > 0.5:
		selected = coordination.TopologyRing
	default:
		selected = coordination.TopologyStar
	}

	o.coord.UpdateTopology(selected)
}
