package coordination

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmlayer/corerun/internal/observability"
	"github.com/swarmlayer/corerun/internal/store"
)

// LockMetadata is the JSON value stamped into the leader lease, carrying
// the fencing epoch so stale or partitioned holders can be detected.
type LockMetadata struct {
	OwnerID   string    `json:"owner_id"`
	Epoch     int64     `json:"epoch"`
	ReqID     string    `json:"req_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LeaderElector holds exactly one node's view of the swarm's leader
// election (§4.3): a Redis-backed (or any Coordinator-backed) lease,
// fenced by a monotonic epoch minted from a separately durable store so
// the fencing token survives a cache flush.
type LeaderElector struct {
	coordinator store.Coordinator
	epochs      store.DurableEpochStore
	nodeID      string
	lockKey     string
	ttl         time.Duration

	mu           sync.RWMutex
	isLeader     bool
	currentValue string
	currentEpoch int64
	leaderCtx    context.Context
	leaderCancel context.CancelFunc
	stepDownTime time.Time
	transitions  int64

	onElected func(context.Context)
	onLost    func()

	ctx    context.Context
	cancel context.CancelFunc
}

// LeaderState is a snapshot for the dashboard/metrics surface.
type LeaderState struct {
	IsLeader     bool
	CurrentEpoch int64
	Transitions  int64
	NodeID       string
}

type fencingKey string

const fencingEpochKey fencingKey = "fencing_epoch"

// FencedContext returns a context valid only while this node holds
// leadership; it carries the fencing epoch and is cancelled the instant
// leadership is lost.
func (l *LeaderElector) FencedContext() context.Context {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.leaderCtx
}

// EpochFromContext extracts the fencing epoch stamped by FencedContext.
func EpochFromContext(ctx context.Context) (int64, bool) {
	val := ctx.Value(fencingEpochKey)
	if val == nil {
		return 0, false
	}
	epoch, ok := val.(int64)
	return epoch, ok
}

func (l *LeaderElector) GetState() LeaderState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LeaderState{
		IsLeader:     l.isLeader,
		CurrentEpoch: l.currentEpoch,
		Transitions:  l.transitions,
		NodeID:       l.nodeID,
	}
}

// NewLeaderElector builds an elector for nodeID contending on a single,
// hardcoded lock key -- this module elects at most one leader cluster-wide.
func NewLeaderElector(c store.Coordinator, e store.DurableEpochStore, nodeID string, ttl time.Duration) *LeaderElector {
	ctx, cancel := context.WithCancel(context.Background())
	return &LeaderElector{
		coordinator: c,
		epochs:      e,
		nodeID:      nodeID,
		lockKey:     "swarm:lock:leader",
		ttl:         ttl,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (l *LeaderElector) SetCallbacks(onElected func(ctx context.Context), onLost func()) {
	l.onElected = onElected
	l.onLost = onLost
}

func (l *LeaderElector) Start(ctx context.Context) {
	go l.loop(ctx)
}

func (l *LeaderElector) Stop() {
	l.cancel()
	if l.IsLeader() {
		l.stepDown()
		l.release()
	}
}

func (l *LeaderElector) loop(ctx context.Context) {
	interval := l.ttl / 3
	minInterval := l.ttl / 3
	maxInterval := 10 * l.ttl

	renewFailures := 0
	const maxRenewFailures = 3

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if l.IsLeader() {
				l.stepDown()
				l.release()
			}
			return
		case <-timer.C:
			var err error
			if l.IsLeader() {
				var renewed bool
				renewed, err = l.renew(ctx)
				if err == nil {
					renewFailures = 0
					if !renewed {
						l.stepDown()
					}
				} else {
					renewFailures++
					log.Printf("coordination: leader renew failed (%d/%d): %v", renewFailures, maxRenewFailures, err)
					if renewFailures >= maxRenewFailures {
						log.Printf("coordination: too many renew failures, stepping down")
						l.stepDown()
						renewFailures = 0
					}
				}
			} else {
				var acquired bool
				acquired, err = l.acquire(ctx)
				if err == nil && acquired {
					l.becomeLeader()
					renewFailures = 0
				}
			}

			if err != nil {
				interval *= 2
				if interval > maxInterval {
					interval = maxInterval
				}
				log.Printf("coordination: election error, backing off %v", interval)
			} else {
				interval = minInterval
			}
			timer.Reset(interval)
		}
	}
}

func (l *LeaderElector) IsLeader() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isLeader
}

func (l *LeaderElector) acquire(ctx context.Context) (bool, error) {
	epoch, err := l.epochs.IncrementDurableEpoch(ctx, "leader_election")
	if err != nil {
		return false, err
	}
	l.mu.Lock()
	if l.currentEpoch > 0 && epoch > l.currentEpoch+1 {
		log.Printf("coordination: epoch drift detected, jumped from %d to %d", l.currentEpoch, epoch)
		observability.LeadershipTransitions.WithLabelValues(l.nodeID, "epoch_drift").Inc()
	}
	l.currentEpoch = epoch
	l.mu.Unlock()

	meta := LockMetadata{
		OwnerID:   l.nodeID,
		Epoch:     epoch,
		ReqID:     uuid.NewString(),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(l.ttl),
	}
	valBytes, _ := json.Marshal(meta)
	val := string(valBytes)

	acquired, err := l.coordinator.AcquireLease(ctx, l.lockKey, val, l.ttl)
	if err != nil {
		return false, err
	}
	if acquired {
		l.mu.Lock()
		l.currentValue = val
		l.mu.Unlock()
	}
	return acquired, nil
}

func (l *LeaderElector) renew(ctx context.Context) (bool, error) {
	l.mu.RLock()
	val := l.currentValue
	l.mu.RUnlock()
	if val == "" {
		return false, nil
	}
	return l.coordinator.RenewLease(ctx, l.lockKey, val, l.ttl)
}

func (l *LeaderElector) release() {
	l.mu.RLock()
	val := l.currentValue
	l.mu.RUnlock()
	if val == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	l.coordinator.ReleaseLease(ctx, l.lockKey, val)
}

func (l *LeaderElector) becomeLeader() {
	l.mu.Lock()
	l.isLeader = true
	ctx, cancel := context.WithCancel(context.Background())
	l.leaderCancel = cancel
	l.transitions++
	l.leaderCtx = context.WithValue(ctx, fencingEpochKey, l.currentEpoch)

	if !l.stepDownTime.IsZero() {
		transitionDuration := time.Since(l.stepDownTime)
		observability.LeadershipTransitionDuration.Observe(transitionDuration.Seconds())
		log.Printf("coordination: node %s became leader (epoch %d), transition took %v", l.nodeID, l.currentEpoch, transitionDuration)
		l.stepDownTime = time.Time{}
	} else {
		log.Printf("coordination: node %s acquired leadership", l.nodeID)
	}
	l.mu.Unlock()

	observability.LeadershipTransitions.WithLabelValues(l.nodeID, "acquired").Inc()
	observability.LeadershipEpoch.WithLabelValues(l.nodeID).Set(float64(l.currentEpoch))
	observability.LeaderStatus.Set(1)

	if l.onElected != nil {
		go l.onElected(l.leaderCtx)
	}
}

func (l *LeaderElector) stepDown() {
	l.mu.Lock()
	if !l.isLeader {
		l.mu.Unlock()
		return
	}
	l.isLeader = false
	l.transitions++
	l.stepDownTime = time.Now()
	if l.leaderCancel != nil {
		l.leaderCancel()
	}
	l.mu.Unlock()

	observability.LeaderStatus.Set(0)
	observability.LeadershipTransitions.WithLabelValues(l.nodeID, "lost").Inc()
	log.Printf("coordination: node %s lost leadership", l.nodeID)
	if l.onLost != nil {
		l.onLost()
	}
}
