package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schemaflow/schemaflow/record"
)

const executionsDDL = `
CREATE TABLE IF NOT EXISTS executions (
	workflow_id  TEXT PRIMARY KEY,
	execution_id TEXT NOT NULL,
	status       TEXT NOT NULL,
	record       JSONB NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps the latest execution record per workflow in a single
// UPSERTed row. It is the multi-instance alternative to FileStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore ensures the executions table exists on an established
// pool. The pool is owned by the caller.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, executionsDDL); err != nil {
		return nil, fmt.Errorf("failed to ensure executions table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Save upserts the record for its workflow.
func (s *PostgresStore) Save(ctx context.Context, rec *record.ExecutionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &PersistenceError{ExecutionID: rec.ExecutionID, Err: fmt.Errorf("failed to marshal execution record: %w", err)}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO executions (workflow_id, execution_id, status, record, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (workflow_id) DO UPDATE
		SET execution_id = EXCLUDED.execution_id,
		    status       = EXCLUDED.status,
		    record       = EXCLUDED.record,
		    updated_at   = now()`,
		rec.WorkflowID, rec.ExecutionID, rec.Status, data)
	if err != nil {
		return &PersistenceError{ExecutionID: rec.ExecutionID, Err: fmt.Errorf("failed to upsert execution record: %w", err)}
	}
	return nil
}

// Load reads the latest record for a workflow.
func (s *PostgresStore) Load(ctx context.Context, workflowID string) (*record.ExecutionRecord, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT record FROM executions WHERE workflow_id = $1`, workflowID).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution record for %s: %w", workflowID, err)
	}

	var rec record.ExecutionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse execution record for %s: %w", workflowID, err)
	}
	return &rec, nil
}
