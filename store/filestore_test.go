package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/schemaflow/schemaflow/record"
)

func sampleRecord(executionID string) *record.ExecutionRecord {
	now := time.Now()
	earlier := now.Add(-time.Second)
	return &record.ExecutionRecord{
		ExecutionID: executionID,
		WorkflowID:  "wf-1",
		Status:      "completed",
		StartedAt:   &earlier,
		FinishedAt:  &now,
		TotalNodes:  2,
		NodeRecords: []*record.NodeRecord{
			{NodeID: "start", NodeType: "start", Status: record.NodeCompleted, Logs: []record.LogEntry{}},
			{NodeID: "end", NodeType: "end", Status: record.NodeCompleted, Logs: []record.LogEntry{}},
		},
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.Save(context.Background(), sampleRecord("exec-1")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	rec, err := s.Load(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if rec.ExecutionID != "exec-1" || len(rec.NodeRecords) != 2 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestFileStoreKeepsLatestOnly(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.Save(context.Background(), sampleRecord("exec-1")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := s.Save(context.Background(), sampleRecord("exec-2")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	rec, err := s.Load(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if rec.ExecutionID != "exec-2" {
		t.Fatalf("expected latest record, got %s", rec.ExecutionID)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "executions"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one file per workflow, found %d", len(entries))
	}
}

func TestFileStoreSaveFailureIsPersistenceError(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.RemoveAll(filepath.Join(dir, "executions")); err != nil {
		t.Fatal(err)
	}

	err = s.Save(context.Background(), sampleRecord("exec-1"))
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if perr.ExecutionID != "exec-1" {
		t.Fatalf("unexpected execution id: %q", perr.ExecutionID)
	}
}

func TestFileStoreMissingRecord(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.Load(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for missing record")
	}
}

func TestFileStoreRejectsPathTraversal(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := sampleRecord("exec-1")
	rec.WorkflowID = "../evil"
	if err := s.Save(context.Background(), rec); err == nil {
		t.Fatal("expected invalid workflow id error")
	}
	if _, err := s.Load(context.Background(), `..\evil`); err == nil {
		t.Fatal("expected invalid workflow id error")
	}
}
