package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresEpochStore is a durable fencing-token counter, generalized from
// the teacher's PostgresStore: leader election (§4.3) stamps this epoch
// into every lease so a fencing token survives a Redis flush even though
// the Coordinator's lock/lease store is otherwise volatile.
//
// This is the only Postgres-backed component that cmd/orchestrator wires:
// the rest of the swarm's record traffic (messages, task/result envelopes,
// agent registrations) is high-churn and best-effort, so it stays on the
// Adapter contract (Memory or Redis). PostgresAdapter below implements that
// contract on Postgres but is not used by the process entrypoint.
type PostgresEpochStore struct {
	pool *pgxpool.Pool
}

// NewPostgresEpochStore dials Postgres with pool settings mirroring the
// teacher's production tuning (bounded connections, periodic health
// checks) and ensures the backing table exists.
func NewPostgresEpochStore(ctx context.Context, connString string) (*PostgresEpochStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres connection string: %w", err)
	}
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	s := &PostgresEpochStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresEpochStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS swarm_epochs (
			resource_id TEXT PRIMARY KEY,
			epoch       BIGINT NOT NULL DEFAULT 0,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (s *PostgresEpochStore) Close() {
	s.pool.Close()
}

// IncrementDurableEpoch atomically bumps and returns the new epoch for
// resourceID. INSERT ... ON CONFLICT keeps this a single round trip.
func (s *PostgresEpochStore) IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	var epoch int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO swarm_epochs (resource_id, epoch, updated_at)
		VALUES ($1, 1, NOW())
		ON CONFLICT (resource_id) DO UPDATE SET
			epoch = swarm_epochs.epoch + 1,
			updated_at = NOW()
		RETURNING epoch
	`, resourceID).Scan(&epoch)
	if err != nil {
		return 0, fmt.Errorf("failed to increment durable epoch for %s: %w", resourceID, err)
	}
	return epoch, nil
}

// GetDurableEpoch reads the current epoch without incrementing it.
func (s *PostgresEpochStore) GetDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	var epoch int64
	err := s.pool.QueryRow(ctx, `SELECT epoch FROM swarm_epochs WHERE resource_id = $1`, resourceID).Scan(&epoch)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read durable epoch for %s: %w", resourceID, err)
	}
	return epoch, nil
}

// PostgresAdapter additionally stores generic Records, for deployments
// that want the task/result/message audit trail durable across restarts
// instead of living only in Redis/memory. It shares the same pool as the
// epoch store so a single Postgres connection covers both concerns.
type PostgresAdapter struct {
	*PostgresEpochStore
}

// NewPostgresAdapter wraps an existing epoch store with the generic
// record table, creating it if needed.
func NewPostgresAdapter(ctx context.Context, epochStore *PostgresEpochStore) (*PostgresAdapter, error) {
	_, err := epochStore.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS swarm_records (
			id         TEXT PRIMARY KEY,
			metadata   JSONB NOT NULL DEFAULT '{}',
			vector     JSONB,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return nil, err
	}
	return &PostgresAdapter{PostgresEpochStore: epochStore}, nil
}

func (s *PostgresAdapter) Upsert(ctx context.Context, id string, metadata map[string]interface{}, vector []float32) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata for %s: %w", id, err)
	}
	var vecJSON []byte
	if vector != nil {
		vecJSON, err = json.Marshal(vector)
		if err != nil {
			return fmt.Errorf("failed to marshal vector for %s: %w", id, err)
		}
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO swarm_records (id, metadata, vector, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			metadata = EXCLUDED.metadata,
			vector = EXCLUDED.vector,
			updated_at = NOW()
	`, id, metaJSON, vecJSON)
	return err
}

func (s *PostgresAdapter) Get(ctx context.Context, id string) (*Record, bool, error) {
	var metaJSON, vecJSON []byte
	var updatedAt time.Time
	err := s.pool.QueryRow(ctx, `SELECT metadata, vector, updated_at FROM swarm_records WHERE id = $1`, id).
		Scan(&metaJSON, &vecJSON, &updatedAt)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rec := &Record{ID: id, UpdatedAt: updatedAt}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &rec.Metadata); err != nil {
			return nil, false, fmt.Errorf("failed to unmarshal metadata for %s: %w", id, err)
		}
	}
	if len(vecJSON) > 0 {
		if err := json.Unmarshal(vecJSON, &rec.Vector); err != nil {
			return nil, false, fmt.Errorf("failed to unmarshal vector for %s: %w", id, err)
		}
	}
	return rec, true, nil
}

func (s *PostgresAdapter) List(ctx context.Context, prefix string) ([]*Record, error) {
	return s.Query(ctx, prefix, nil)
}

func (s *PostgresAdapter) Query(ctx context.Context, prefix string, filter func(*Record) bool) ([]*Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, metadata, vector, updated_at FROM swarm_records
		WHERE id LIKE $1 ORDER BY id
	`, prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var id string
		var metaJSON, vecJSON []byte
		var updatedAt time.Time
		if err := rows.Scan(&id, &metaJSON, &vecJSON, &updatedAt); err != nil {
			return nil, err
		}
		rec := &Record{ID: id, UpdatedAt: updatedAt}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &rec.Metadata)
		}
		if len(vecJSON) > 0 {
			_ = json.Unmarshal(vecJSON, &rec.Vector)
		}
		if filter == nil || filter(rec) {
			out = append(out, rec)
		}
	}
	return out, rows.Err()
}

func (s *PostgresAdapter) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM swarm_records WHERE id = $1`, id)
	return err
}
