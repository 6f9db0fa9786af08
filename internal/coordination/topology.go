package coordination

import (
	"sync"

	"github.com/swarmlayer/corerun/internal/observability"
)

// topologyManager computes each agent's peer-connection list for the
// swarm's current communication pattern (§4.3 updateTopology). MESH
// connects every agent to every other; STAR connects every agent to a
// single hub (the agent with the lexicographically lowest id; the current
// leader is not taken into account); RING connects each agent to its
// successor in id order; HIERARCHICAL arranges agents in id order as a
// binary tree (parent (i-1)/2, children 2i+1 and 2i+2); ADAPTIVE
// recomputes MESH below a size threshold and HIERARCHICAL above it,
// trading connectivity for
// message fan-out as the swarm grows.
type topologyManager struct {
	mu      sync.RWMutex
	current Topology
}

func newTopologyManager() *topologyManager {
	return &topologyManager{current: TopologyMesh}
}

func (t *topologyManager) set(topo Topology) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == topo {
		return
	}
	t.current = topo
	observability.TopologyChanges.WithLabelValues(string(topo)).Inc()
}

func (t *topologyManager) get() Topology {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// recompute returns each agent's connection list keyed by agent id, given
// a deterministic ordering (by id) of the currently connected agents; it
// does not modify the AgentInfo values.
func (t *topologyManager) recompute(agents []AgentInfo, hub string) map[string][]string {
	topo := t.get()
	if topo == TopologyAdaptive {
		if len(agents) > 12 {
			topo = TopologyHierarchical
		} else {
			topo = TopologyMesh
		}
	}

	out := make(map[string][]string, len(agents))
	switch topo {
	case TopologyStar:
		for _, a := range agents {
			if a.ID == hub {
				peers := make([]string, 0, len(agents)-1)
				for _, other := range agents {
					if other.ID != hub {
						peers = append(peers, other.ID)
					}
				}
				out[a.ID] = peers
			} else {
				out[a.ID] = []string{hub}
			}
		}
	case TopologyRing:
		n := len(agents)
		for i, a := range agents {
			out[a.ID] = []string{agents[(i+1)%n].ID}
		}
	case TopologyHierarchical:
		// Binary heap layout (§3 Topology invariant): parent of index i is
		// floor((i-1)/2); children are 2i+1 and 2i+2. Every node has at
		// most one parent and at most two children, rooted at index 0.
		total := len(agents)
		for i, a := range agents {
			var peers []string
			if i > 0 {
				peers = append(peers, agents[(i-1)/2].ID)
			}
			if c := 2*i + 1; c < total {
				peers = append(peers, agents[c].ID)
			}
			if c := 2*i + 2; c < total {
				peers = append(peers, agents[c].ID)
			}
			out[a.ID] = peers
		}
	default: // MESH
		for _, a := range agents {
			var peers []string
			for _, other := range agents {
				if other.ID != a.ID {
					peers = append(peers, other.ID)
				}
			}
			out[a.ID] = peers
		}
	}
	return out
}
