package coordination

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/swarmlayer/corerun/internal/store"
)

// LockJanitor periodically reclaims leader locks that are either fenced
// (stamped with an epoch older than the current durable epoch) or
// physically stale (past their recorded expiry plus a grace window),
// adapted from the teacher's control_plane/coordination/janitor.go.
type LockJanitor struct {
	coordinator store.Coordinator
	epochs      store.DurableEpochStore
	interval    time.Duration
}

func NewLockJanitor(c store.Coordinator, e store.DurableEpochStore, interval time.Duration) *LockJanitor {
	return &LockJanitor{coordinator: c, epochs: e, interval: interval}
}

func (j *LockJanitor) Start(ctx context.Context) {
	go j.loop(ctx)
}

func (j *LockJanitor) loop(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.clean(ctx)
		}
	}
}

func (j *LockJanitor) clean(ctx context.Context) {
	currentEpoch, err := j.epochs.GetDurableEpoch(ctx, "leader_election")
	if err != nil {
		log.Printf("coordination: janitor failed to read durable epoch: %v", err)
		return
	}

	keys, err := j.coordinator.ScanLocks(ctx, "swarm:lock:*")
	if err != nil {
		log.Printf("coordination: janitor scan failed: %v", err)
		return
	}

	for _, key := range keys {
		if strings.HasSuffix(key, ":epoch") {
			continue
		}

		val, err := j.coordinator.GetLockOwner(ctx, key)
		if err != nil || val == "" {
			continue
		}

		var meta LockMetadata
		if err := json.Unmarshal([]byte(val), &meta); err != nil {
			log.Printf("coordination: janitor failed to unmarshal lock %s: %v", key, err)
			continue
		}

		if meta.Epoch < currentEpoch {
			log.Printf("coordination: fencing lock %s (epoch %d < current %d)", key, meta.Epoch, currentEpoch)
			if err := j.coordinator.ReleaseLease(ctx, key, val); err != nil {
				log.Printf("coordination: janitor failed to release fenced lock %s: %v", key, err)
			}
			continue
		}

		if time.Now().After(meta.ExpiresAt.Add(5 * time.Second)) {
			log.Printf("coordination: reclaiming stale lock %s (expired %s)", key, meta.ExpiresAt)
			if err := j.coordinator.ReleaseLease(ctx, key, val); err != nil {
				log.Printf("coordination: janitor failed to release stale lock %s: %v", key, err)
			}
		}
	}
}
