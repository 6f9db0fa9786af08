package store

import (
	"context"
	"time"
)

// Adapter is the minimal capability the core requires of a shared,
// keyed-record store (§6): write-through upsert, point read, and
// prefix/predicate enumeration. This is the only contract the core
// depends on for correctness; the vector store's similarity-search
// semantics are never required.
type Adapter interface {
	// Upsert writes a record, keyed by id. vector may be nil.
	Upsert(ctx context.Context, id string, metadata map[string]interface{}, vector []float32) error

	// Get reads the latest record for id. The second return value is
	// false if no record exists.
	Get(ctx context.Context, id string) (*Record, bool, error)

	// List enumerates every record whose id starts with prefix.
	List(ctx context.Context, prefix string) ([]*Record, error)

	// Query enumerates every record matching an arbitrary predicate.
	// Implementations may fall back to a full List + in-process filter.
	Query(ctx context.Context, prefix string, filter func(*Record) bool) ([]*Record, error)

	// Delete removes a record. Deleting a record that does not exist is
	// not an error.
	Delete(ctx context.Context, id string) error
}

// Coordinator is the locking/leasing capability layered on top of an
// Adapter, required by the distributed lock primitive and by leader
// election (§4.3, §4.5 of the data model table). Implementations must
// provide linearizable compare-and-set semantics per key (§5).
type Coordinator interface {
	// AcquireLock attempts to take ownership of key for ownerID. Returns
	// false (not an error) if already held by someone else.
	AcquireLock(ctx context.Context, key string, ownerID string, ttl time.Duration) (bool, error)

	// RenewLock extends the TTL of a lock this owner already holds.
	RenewLock(ctx context.Context, key string, ownerID string, ttl time.Duration) (bool, error)

	// ReleaseLock releases the lock if held by ownerID.
	ReleaseLock(ctx context.Context, key string, ownerID string) error

	// GetLockOwner returns the current owner, or "" if free.
	GetLockOwner(ctx context.Context, key string) (string, error)

	// AcquireLease/RenewLease/ReleaseLease are the value-carrying lease
	// primitives leader election uses to stamp fencing metadata
	// (owner pod, epoch, timestamps) into the lock value.
	AcquireLease(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key string, value string) error
	IsLeaseOwner(ctx context.Context, key string, value string) (bool, error)

	// IncrementEpoch returns a monotonically increasing fencing token
	// for key. Leader election does not call it; it takes epochs from a
	// DurableEpochStore (MemoryAdapter's IncrementDurableEpoch uses this).
	IncrementEpoch(ctx context.Context, key string) (int64, error)

	// ScanLocks lists keys matching a prefix pattern; used by the lock
	// janitor to find and reclaim stale/fenced locks.
	ScanLocks(ctx context.Context, prefix string) ([]string, error)
}

// DurableEpochStore is the separately-durable fencing-token counter
// (§4.3 "Durable Store for Epochs"), kept independent of the
// Coordinator's (possibly volatile, e.g. Redis) lease store so a fencing
// token survives a cache flush.
type DurableEpochStore interface {
	IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error)
	GetDurableEpoch(ctx context.Context, resourceID string) (int64, error)
}
