// Package events implements the typed event bus called for in the design
// notes (§9): "replace [event emitters] with typed channels or a small
// event-bus struct with subscriber callbacks registered at construction.
// Do not use reflection." It generalizes the teacher's streaming package
// (Publisher/Subscriber/LogPublisher) from a single best-effort audit sink
// into the core's one shared observability hook, used by the scheduler,
// coordinator, and orchestrator to emit the event classes listed in §6.
package events

import (
	"sync"
	"time"
)

// Type identifies one of the emitted-event classes from §6. These are
// observability hooks only, never part of correctness.
type Type string

const (
	TaskSubmitted  Type = "task.submitted"
	TaskCompleted  Type = "task.completed"
	TaskFailed     Type = "task.failed"
	TaskCancelled  Type = "task.cancelled"
	TaskStolen     Type = "task.stolen"
	TaskRetrying   Type = "task.retrying"

	AgentSpawned   Type = "agent.spawned"
	AgentDespawned Type = "agent.despawned"
	AgentFailed    Type = "agent.failed"

	ConsensusProposed Type = "consensus.proposed"
	VoteRecorded      Type = "consensus.vote_recorded"
	ConsensusReached  Type = "consensus.reached"
	ConsensusRejected Type = "consensus.rejected"

	LeaderElected    Type = "coordination.leader_elected"
	TopologyUpdated  Type = "coordination.topology_updated"

	MetricsSnapshot    Type = "observability.metrics_snapshot"
	BottleneckDetected Type = "observability.bottleneck_detected"

	OrchestratorStarted Type = "orchestrator.started"
	OrchestratorStopped Type = "orchestrator.stopped"
)

// Event is a single observability notification. Payload is whatever the
// emitting component finds useful to attach (a task id, an agent snapshot,
// a proposal) -- subscribers type-assert it themselves.
type Event struct {
	Type      Type
	Source    string
	Timestamp time.Time
	Payload   interface{}
}

// Sink receives every event published to a Bus, best-effort. It mirrors
// the teacher's streaming.Publisher contract, generalized from a single
// topic string to the richer Event struct.
type Sink interface {
	Publish(e Event)
}

// Subscription lets a caller detach a previously registered handler.
type Subscription interface {
	Unsubscribe()
}

type subscriber struct {
	id      uint64
	handler func(Event)
}

type subscription struct {
	bus  *Bus
	typ  Type
	id   uint64
}

func (s *subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subs[s.typ]
	for i, sub := range subs {
		if sub.id == s.id {
			s.bus.subs[s.typ] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Bus is a small in-process pub/sub hub. It never uses reflection:
// dispatch is a direct map lookup by Type.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Type][]subscriber
	nextID  uint64
	sinks   []Sink
}

// New creates an empty bus, optionally forwarding every event to one or
// more best-effort sinks (e.g. a log-based audit trail).
func New(sinks ...Sink) *Bus {
	return &Bus{
		subs:  make(map[Type][]subscriber),
		sinks: sinks,
	}
}

// Subscribe registers handler for events of the given type. Handlers run
// synchronously on the emitting goroutine -- keep them fast and
// non-blocking; slow observers should hand off to their own goroutine.
func (b *Bus) Subscribe(t Type, handler func(Event)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[t] = append(b.subs[t], subscriber{id: id, handler: handler})
	return &subscription{bus: b, typ: t, id: id}
}

// Emit publishes an event of type t from source, delivering it to every
// subscriber of t and every registered sink.
func (b *Bus) Emit(t Type, source string, payload interface{}) {
	ev := Event{Type: t, Source: source, Timestamp: time.Now(), Payload: payload}

	b.mu.RLock()
	handlers := append([]subscriber(nil), b.subs[t]...)
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()

	for _, s := range handlers {
		s.handler(ev)
	}
	for _, sink := range sinks {
		sink.Publish(ev)
	}
}
