package record

import "time"

// Recorder observes the node walk and builds the per-node records plus the
// terminal ExecutionRecord. Order of StartNode calls is preserved so the
// persisted records mirror the schedule.
type Recorder struct {
	records []*NodeRecord
	byID    map[string]*NodeRecord
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		byID: make(map[string]*NodeRecord),
	}
}

// StartNode creates and returns a running record for the node.
func (r *Recorder) StartNode(nodeID, nodeType, nodeLabel string) *NodeRecord {
	now := time.Now()
	rec := &NodeRecord{
		NodeID:    nodeID,
		NodeType:  nodeType,
		NodeLabel: nodeLabel,
		Status:    NodeRunning,
		StartedAt: &now,
		Logs:      []LogEntry{},
	}
	r.records = append(r.records, rec)
	r.byID[nodeID] = rec
	return rec
}

// CompleteNode marks the record completed and attaches the node-scoped logs.
// A scalar result is wrapped as {"value": result}.
func (r *Recorder) CompleteNode(rec *NodeRecord, result any, logs []LogEntry) {
	r.finish(rec, logs)
	rec.Status = NodeCompleted
	rec.Result = coerceResult(result)
}

// FailNode marks the record failed with the error message verbatim.
func (r *Recorder) FailNode(rec *NodeRecord, errMsg string, logs []LogEntry) {
	r.finish(rec, logs)
	rec.Status = NodeFailed
	rec.Error = errMsg
}

func (r *Recorder) finish(rec *NodeRecord, logs []LogEntry) {
	now := time.Now()
	rec.FinishedAt = &now
	if rec.StartedAt != nil {
		rec.DurationMS = now.Sub(*rec.StartedAt).Milliseconds()
	}
	rec.Logs = filterLogs(logs, rec.NodeID)
}

// Records returns the node records in start order.
func (r *Recorder) Records() []*NodeRecord {
	return r.records
}

// Record returns the record for a node, or nil.
func (r *Recorder) Record(nodeID string) *NodeRecord {
	return r.byID[nodeID]
}

// Build assembles the terminal ExecutionRecord for persistence.
func (r *Recorder) Build(executionID, workflowID, status string, startedAt, finishedAt *time.Time, totalNodes int) *ExecutionRecord {
	rec := &ExecutionRecord{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Status:      status,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
		TotalNodes:  totalNodes,
		NodeRecords: r.records,
	}
	if startedAt != nil && finishedAt != nil {
		rec.DurationMS = finishedAt.Sub(*startedAt).Milliseconds()
	}
	for _, nr := range r.records {
		switch nr.Status {
		case NodeCompleted:
			rec.CompletedNodes++
		case NodeFailed:
			rec.FailedNodes++
		}
	}
	return rec
}

func coerceResult(result any) map[string]any {
	if result == nil {
		return map[string]any{}
	}
	if m, ok := result.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": result}
}

func filterLogs(logs []LogEntry, nodeID string) []LogEntry {
	out := []LogEntry{}
	for _, l := range logs {
		if l.NodeID == nodeID {
			out = append(out, l)
		}
	}
	return out
}
