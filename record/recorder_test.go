package record

import (
	"testing"
	"time"
)

func TestRecorderStartComplete(t *testing.T) {
	r := NewRecorder()
	rec := r.StartNode("n1", "click", "Click button")

	if rec.Status != NodeRunning {
		t.Fatalf("expected running, got %s", rec.Status)
	}
	if rec.StartedAt == nil {
		t.Fatal("expected StartedAt to be set")
	}

	logs := []LogEntry{
		{Level: "info", Message: "clicking", NodeID: "n1"},
		{Level: "info", Message: "other node", NodeID: "n2"},
	}
	r.CompleteNode(rec, map[string]any{"clicked": true}, logs)

	if rec.Status != NodeCompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}
	if rec.FinishedAt == nil {
		t.Fatal("expected FinishedAt to be set")
	}
	if len(rec.Logs) != 1 || rec.Logs[0].Message != "clicking" {
		t.Fatalf("expected only node-scoped logs, got %+v", rec.Logs)
	}
	if rec.Result["clicked"] != true {
		t.Fatalf("unexpected result: %+v", rec.Result)
	}
}

func TestRecorderScalarResultWrapped(t *testing.T) {
	r := NewRecorder()
	rec := r.StartNode("n1", "extract_text", "")
	r.CompleteNode(rec, "hello", nil)

	if rec.Result["value"] != "hello" {
		t.Fatalf("expected scalar result wrapped as value, got %+v", rec.Result)
	}
}

func TestRecorderNilResult(t *testing.T) {
	r := NewRecorder()
	rec := r.StartNode("n1", "wait", "")
	r.CompleteNode(rec, nil, nil)

	if rec.Result == nil || len(rec.Result) != 0 {
		t.Fatalf("expected empty result map, got %+v", rec.Result)
	}
}

func TestRecorderFail(t *testing.T) {
	r := NewRecorder()
	rec := r.StartNode("n1", "click", "")
	r.FailNode(rec, "element not found", nil)

	if rec.Status != NodeFailed {
		t.Fatalf("expected failed, got %s", rec.Status)
	}
	if rec.Error != "element not found" {
		t.Fatalf("unexpected error: %q", rec.Error)
	}
}

func TestBuildExecutionRecord(t *testing.T) {
	r := NewRecorder()
	ok := r.StartNode("n1", "navigate", "")
	r.CompleteNode(ok, nil, nil)
	bad := r.StartNode("n2", "click", "")
	r.FailNode(bad, "boom", nil)

	start := time.Now().Add(-2 * time.Second)
	end := time.Now()
	er := r.Build("exec-1", "wf-1", "failed", &start, &end, 3)

	if er.TotalNodes != 3 {
		t.Fatalf("expected 3 total nodes, got %d", er.TotalNodes)
	}
	if er.CompletedNodes != 1 || er.FailedNodes != 1 {
		t.Fatalf("expected 1 completed / 1 failed, got %d / %d", er.CompletedNodes, er.FailedNodes)
	}
	if er.DurationMS < 1900 {
		t.Fatalf("expected duration around 2000ms, got %d", er.DurationMS)
	}
	if len(er.NodeRecords) != 2 {
		t.Fatalf("expected 2 node records, got %d", len(er.NodeRecords))
	}
	if er.NodeRecords[0].NodeID != "n1" {
		t.Fatal("expected node records in start order")
	}
}

func TestRecordLookup(t *testing.T) {
	r := NewRecorder()
	r.StartNode("n1", "navigate", "")

	if r.Record("n1") == nil {
		t.Fatal("expected record for n1")
	}
	if r.Record("missing") != nil {
		t.Fatal("expected nil for unknown node")
	}
}
