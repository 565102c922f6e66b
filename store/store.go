package store

import (
	"context"
	"fmt"

	"github.com/schemaflow/schemaflow/record"
)

// PersistenceError wraps a failure to save an execution record.
type PersistenceError struct {
	ExecutionID string
	Err         error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist execution %s: %v", e.ExecutionID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ExecutionStore persists terminal execution records. Only the most recent
// record per workflow is retained; a new run overwrites the previous one.
type ExecutionStore interface {
	Save(ctx context.Context, rec *record.ExecutionRecord) error
	Load(ctx context.Context, workflowID string) (*record.ExecutionRecord, error)
}
