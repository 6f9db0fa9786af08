package coordination

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// messageLog is a bounded append-only log of inter-agent messages,
// backing sendMessage/broadcast/getMessages (§4.3). It is new relative to
// the teacher (which had no agent-to-agent messaging concept); it follows
// the same shape as the rest of this package: mutex-guarded slice, no
// external dependency, capped so a runaway chatty swarm cannot grow it
// without bound.
type messageLog struct {
	mu         sync.RWMutex
	messages   []Message
	capacity   int
	defaultTTL time.Duration
}

func newMessageLog(capacity int, defaultTTL time.Duration) *messageLog {
	if capacity <= 0 {
		capacity = 10000
	}
	return &messageLog{capacity: capacity, defaultTTL: defaultTTL}
}

func (l *messageLog) append(from, to, typ string, payload interface{}, ttl time.Duration) Message {
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	m := Message{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now(),
		TTL:       ttl,
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, m)
	if len(l.messages) > l.capacity {
		l.messages = l.messages[len(l.messages)-l.capacity:]
	}
	return m
}

// forAgent returns every non-expired message addressed to agentID plus
// every broadcast, since the given point in time.
func (l *messageLog) forAgent(agentID string, since time.Time) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	now := time.Now()
	var out []Message
	for _, m := range l.messages {
		if m.Timestamp.Before(since) {
			continue
		}
		if m.TTL > 0 && now.Sub(m.Timestamp) > m.TTL {
			continue
		}
		if m.To == agentID || m.To == "" {
			out = append(out, m)
		}
	}
	return out
}

// gc removes every message whose TTL has elapsed, per §3's Coordination
// Message invariant ("eligible for garbage collection when
// now - timestamp > TTL") and §4.3's heartbeat-timer-driven GC.
func (l *messageLog) gc() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	kept := l.messages[:0]
	removed := 0
	for _, m := range l.messages {
		if m.TTL > 0 && now.Sub(m.Timestamp) > m.TTL {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	l.messages = kept
	return removed
}
