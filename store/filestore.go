package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/schemaflow/schemaflow/record"
)

// FileStore keeps one JSON file per workflow under <dataDir>/executions.
// Writes go through a temp file and an atomic rename so a crash mid-write
// never leaves a truncated record.
type FileStore struct {
	baseDir string
}

// NewFileStore creates a store rooted at dir/executions.
func NewFileStore(dir string) (*FileStore, error) {
	baseDir := filepath.Join(dir, "executions")
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create execution store dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Save writes the record, replacing any previous record for the workflow.
func (s *FileStore) Save(ctx context.Context, rec *record.ExecutionRecord) error {
	if err := validateID(rec.WorkflowID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return &PersistenceError{ExecutionID: rec.ExecutionID, Err: fmt.Errorf("failed to marshal execution record: %w", err)}
	}

	final := filepath.Join(s.baseDir, rec.WorkflowID+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &PersistenceError{ExecutionID: rec.ExecutionID, Err: fmt.Errorf("failed to write execution record: %w", err)}
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return &PersistenceError{ExecutionID: rec.ExecutionID, Err: fmt.Errorf("failed to commit execution record: %w", err)}
	}
	return nil
}

// Load reads the latest record for a workflow. A missing record returns
// os.ErrNotExist wrapped.
func (s *FileStore) Load(ctx context.Context, workflowID string) (*record.ExecutionRecord, error) {
	if err := validateID(workflowID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.baseDir, workflowID+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read execution record for %s: %w", workflowID, err)
	}

	var rec record.ExecutionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse execution record for %s: %w", workflowID, err)
	}
	return &rec, nil
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid workflow id: %q", id)
	}
	return nil
}
