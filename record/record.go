package record

import "time"

// NodeStatus is the lifecycle state of a single node record.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// LogEntry is a single execution log line, scoped to the node that was
// current when it was written.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	NodeID    string    `json:"node_id,omitempty"`
}

// NodeRecord captures one node's result, timing and logs. It is created when
// the node starts and mutated exactly once more, on completion or failure.
type NodeRecord struct {
	NodeID           string         `json:"node_id"`
	NodeType         string         `json:"node_type"`
	NodeLabel        string         `json:"node_label"`
	Status           NodeStatus     `json:"status"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	FinishedAt       *time.Time     `json:"finished_at,omitempty"`
	DurationMS       int64          `json:"duration_ms"`
	Result           map[string]any `json:"result,omitempty"`
	Error            string         `json:"error,omitempty"`
	ScreenshotBase64 string         `json:"screenshot_base64,omitempty"`
	Logs             []LogEntry     `json:"logs"`
}

// ExecutionRecord is the terminal artifact persisted for a run. Only the
// latest record per workflow is retained by the store.
type ExecutionRecord struct {
	ExecutionID    string        `json:"execution_id"`
	WorkflowID     string        `json:"workflow_id"`
	Status         string        `json:"status"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty"`
	DurationMS     int64         `json:"duration_ms"`
	TotalNodes     int           `json:"total_nodes"`
	CompletedNodes int           `json:"completed_nodes"`
	FailedNodes    int           `json:"failed_nodes"`
	NodeRecords    []*NodeRecord `json:"node_records"`
}
