package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// renewScript extends a key's TTL only if the caller-supplied owner/value
// still matches. The script returns -1 for "missing" and -2 for "mismatch",
// but renew reports both only as a failed renewal. Lifted from the
// teacher's RenewLock Lua script.
const renewScript = `
local val = redis.call("get", KEYS[1])
if not val then
	return -1
end
if val == ARGV[1] then
	return redis.call("pexpire", KEYS[1], tonumber(ARGV[2]))
else
	return -2
end
`

// releaseScript deletes a key only if it is still owned by the caller.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// RedisAdapter implements Adapter + Coordinator over a Redis client,
// generalizing the teacher's RedisStore: records are JSON blobs keyed by
// id, locks/leases use SETNX + the renew/release Lua scripts above.
type RedisAdapter struct {
	client *redis.Client
}

// NewRedisAdapter dials Redis and verifies connectivity.
func NewRedisAdapter(addr, password string, db int) (*RedisAdapter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisAdapter{client: client}, nil
}

func (r *RedisAdapter) Close() error {
	return r.client.Close()
}

func (r *RedisAdapter) Upsert(ctx context.Context, id string, metadata map[string]interface{}, vector []float32) error {
	rec := Record{ID: id, Metadata: metadata, Vector: vector, UpdatedAt: time.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", id, err)
	}
	return r.client.Set(ctx, "rec:"+id, data, 0).Err()
}

func (r *RedisAdapter) Get(ctx context.Context, id string) (*Record, bool, error) {
	data, err := r.client.Get(ctx, "rec:"+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal record %s: %w", id, err)
	}
	return &rec, true, nil
}

func (r *RedisAdapter) List(ctx context.Context, prefix string) ([]*Record, error) {
	return r.Query(ctx, prefix, nil)
}

func (r *RedisAdapter) Query(ctx context.Context, prefix string, filter func(*Record) bool) ([]*Record, error) {
	match := "rec:" + prefix + "*"
	iter := r.client.Scan(ctx, 0, match, 0).Iterator()
	var out []*Record
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if filter == nil || filter(&rec) {
			out = append(out, &rec)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", match, err)
	}
	return out, nil
}

func (r *RedisAdapter) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, "rec:"+id).Err()
}

// --- Coordinator ---

func (r *RedisAdapter) AcquireLock(ctx context.Context, key string, ownerID string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, ownerID, ttl).Result()
}

func (r *RedisAdapter) RenewLock(ctx context.Context, key string, ownerID string, ttl time.Duration) (bool, error) {
	return r.renew(ctx, key, ownerID, ttl)
}

func (r *RedisAdapter) ReleaseLock(ctx context.Context, key string, ownerID string) error {
	return r.release(ctx, key, ownerID)
}

func (r *RedisAdapter) GetLockOwner(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func (r *RedisAdapter) AcquireLease(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return r.AcquireLock(ctx, key, value, ttl)
}

func (r *RedisAdapter) RenewLease(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return r.renew(ctx, key, value, ttl)
}

func (r *RedisAdapter) ReleaseLease(ctx context.Context, key string, value string) error {
	return r.release(ctx, key, value)
}

func (r *RedisAdapter) IsLeaseOwner(ctx context.Context, key string, value string) (bool, error) {
	owner, err := r.GetLockOwner(ctx, key)
	if err != nil {
		return false, err
	}
	return owner == value, nil
}

func (r *RedisAdapter) IncrementEpoch(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key+":epoch").Result()
}

func (r *RedisAdapter) ScanLocks(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (r *RedisAdapter) renew(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	res, err := r.client.Eval(ctx, renewScript, []string{key}, expected, int64(ttl/time.Millisecond)).Result()
	if err != nil {
		return false, err
	}
	code, ok := res.(int64)
	if !ok {
		return false, errors.New("unexpected return type from renew script")
	}
	return code == 1, nil
}

func (r *RedisAdapter) release(ctx context.Context, key, expected string) error {
	_, err := r.client.Eval(ctx, releaseScript, []string{key}, expected).Result()
	return err
}
