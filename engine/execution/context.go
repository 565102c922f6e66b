package execution

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/schemaflow/schemaflow/common/logger"
	"github.com/schemaflow/schemaflow/engine/ai"
	"github.com/schemaflow/schemaflow/engine/browser"
	"github.com/schemaflow/schemaflow/engine/stream"
	"github.com/schemaflow/schemaflow/record"
)

// Status is the run-level lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Sentinel errors surfaced by context operations.
var (
	ErrCancelled        = errors.New("execution cancelled")
	ErrUserCancelled    = errors.New("cancelled by user")
	ErrUserInputTimeout = errors.New("timed out waiting for user input")
)

// ActionRecord is one entry in the action log kept for AI-assisted
// workflow recording.
type ActionRecord struct {
	Kind      string         `json:"kind"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Context is the per-run state envelope. It owns the transient resources of
// one execution and mediates user-intervention signalling between the
// executor goroutine and the WebSocket control loop.
type Context struct {
	ExecutionID string
	WorkflowID  string
	Mode        string

	// Wired at start; nil in unit tests that don't need them.
	Session  *browser.Session
	Channel  stream.Channel
	LLM      *ai.Client
	Detector *ai.InterventionDetector
	Recorder *record.Recorder

	log *logger.Logger

	mu          sync.Mutex
	status      Status
	prevStatus  Status
	currentNode string
	variables   map[string]any
	clipboard   string
	logs        []record.LogEntry
	screenshots []string
	actions     []ActionRecord

	// One pending user-input rendezvous at a time. A fresh channel per
	// request means a late response to an expired prompt is dropped
	// instead of satisfying the next one.
	inputCh chan string
}

// NewContext creates a pending context.
func NewContext(executionID, workflowID string, ch stream.Channel, log *logger.Logger) *Context {
	return &Context{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Channel:     ch,
		Recorder:    record.NewRecorder(),
		log:         log.WithExecutionID(executionID),
		status:      StatusPending,
		variables:   make(map[string]any),
	}
}

// Status returns the current run status.
func (c *Context) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetStatus transitions the run, remembering the previous state so a pause
// can restore it. Terminal states are sticky: once cancelled, completed or
// failed the status no longer moves.
func (c *Context) SetStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal() {
		return
	}
	c.prevStatus = c.status
	c.status = s
}

func (c *Context) terminal() bool {
	return c.status == StatusCancelled || c.status == StatusCompleted || c.status == StatusFailed
}

// Cancel flips the run to cancelled and releases any pending user-input
// rendezvous.
func (c *Context) Cancel() {
	c.mu.Lock()
	if c.status == StatusCompleted || c.status == StatusFailed {
		c.mu.Unlock()
		return
	}
	c.status = StatusCancelled
	ch := c.inputCh
	c.inputCh = nil
	c.mu.Unlock()

	if ch != nil {
		select {
		case ch <- "cancel":
		default:
		}
	}
}

// IsCancelled reports whether the run has been cancelled.
func (c *Context) IsCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == StatusCancelled
}

// CheckCancelled returns ErrCancelled if the run has been cancelled. Called
// at every checkpoint in the node walk.
func (c *Context) CheckCancelled() error {
	if c.IsCancelled() {
		return ErrCancelled
	}
	return nil
}

// SetCurrentNode marks which node the walk is on; log entries are scoped
// to it.
func (c *Context) SetCurrentNode(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentNode = nodeID
}

// CurrentNode returns the node the walk is on.
func (c *Context) CurrentNode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentNode
}

// SetVariable stores a run variable.
func (c *Context) SetVariable(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = value
}

// GetVariable reads a run variable.
func (c *Context) GetVariable(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.variables[name]
	return v, ok
}

// Variables returns a copy of the variable map.
func (c *Context) Variables() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// SetClipboard stores the run clipboard.
func (c *Context) SetClipboard(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clipboard = text
}

// Clipboard reads the run clipboard.
func (c *Context) Clipboard() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clipboard
}

// Log appends an entry to the run log, mirrors it to the process logger and
// emits a log event. A dead channel costs one dropped send, never a stall.
func (c *Context) Log(level, message string) {
	c.mu.Lock()
	entry := record.LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		NodeID:    c.currentNode,
	}
	c.logs = append(c.logs, entry)
	c.mu.Unlock()

	switch level {
	case "debug":
		c.log.Debug(message, "node_id", entry.NodeID)
	case "warning", "warn":
		c.log.Warn(message, "node_id", entry.NodeID)
	case "error":
		c.log.Error(message, "node_id", entry.NodeID)
	default:
		c.log.Info(message, "node_id", entry.NodeID)
	}

	c.Emit(stream.Log{
		Type:      stream.KindLog,
		Timestamp: entry.Timestamp,
		Level:     level,
		Message:   message,
		NodeID:    entry.NodeID,
	})
}

// Logs returns a copy of the run log.
func (c *Context) Logs() []record.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]record.LogEntry, len(c.logs))
	copy(out, c.logs)
	return out
}

// Emit sends an event on the channel if one is connected; send errors are
// swallowed.
func (c *Context) Emit(v any) {
	if c.Channel == nil {
		return
	}
	c.Channel.Send(v)
}

// SendScreenshot captures the current page as base64 JPEG and emits a
// screenshot event. All failures are swallowed: screenshots are best-effort
// telemetry, never a reason to fail a node.
func (c *Context) SendScreenshot(ctx context.Context) string {
	if c.Session == nil || c.Session.Page == nil {
		return ""
	}
	raw, err := c.Session.Page.Screenshot(ctx)
	if err != nil {
		c.log.Debug("screenshot failed", "error", err)
		return ""
	}
	b64 := base64.StdEncoding.EncodeToString(raw)

	c.mu.Lock()
	c.screenshots = append(c.screenshots, b64)
	nodeID := c.currentNode
	c.mu.Unlock()

	c.Emit(stream.Screenshot{
		Type:      stream.KindScreenshot,
		NodeID:    nodeID,
		Data:      b64,
		Timestamp: time.Now(),
	})
	return b64
}

// RequestUserInput pauses the run, emits a user_input_required event and
// blocks until the user responds, the timeout lapses, or the run is
// cancelled. The previous status is restored on resume.
func (c *Context) RequestUserInput(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	c.mu.Lock()
	if c.status == StatusCancelled {
		c.mu.Unlock()
		return "", ErrCancelled
	}
	prev := c.status
	c.prevStatus = prev
	c.status = StatusPaused
	ch := make(chan string, 1)
	c.inputCh = ch
	nodeID := c.currentNode
	c.mu.Unlock()

	c.Emit(stream.UserInputRequired{
		Type:    stream.KindUserInputRequired,
		NodeID:  nodeID,
		Prompt:  prompt,
		Timeout: timeout.Seconds(),
	})

	restore := func() {
		c.mu.Lock()
		if c.status == StatusPaused {
			c.status = prev
		}
		c.inputCh = nil
		c.mu.Unlock()
	}

	select {
	case value := <-ch:
		if value == "cancel" {
			restore()
			if c.IsCancelled() {
				return "", ErrCancelled
			}
			return "", ErrUserCancelled
		}
		restore()
		return value, nil
	case <-time.After(timeout):
		restore()
		return "", ErrUserInputTimeout
	case <-ctx.Done():
		restore()
		return "", ErrCancelled
	}
}

// RespondUserInput delivers a user response to the pending rendezvous.
// Responses with no pending prompt are dropped.
func (c *Context) RespondUserInput(value string) {
	c.mu.Lock()
	ch := c.inputCh
	c.mu.Unlock()

	if ch == nil {
		c.log.Warn("user input response with no pending prompt", "value", value)
		return
	}
	select {
	case ch <- value:
	default:
	}
}

// RecordAction appends to the action log used for AI-assisted recording.
func (c *Context) RecordAction(kind string, details map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, ActionRecord{
		Kind:      kind,
		Details:   details,
		Timestamp: time.Now(),
	})
}

// Actions returns a copy of the action log.
func (c *Context) Actions() []ActionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ActionRecord, len(c.actions))
	copy(out, c.actions)
	return out
}

// StorageState extracts the browser context's cookie and origin storage
// snapshot, or nil when no session is live.
func (c *Context) StorageState(ctx context.Context) map[string]any {
	if c.Session == nil || c.Session.Context == nil {
		return nil
	}
	state, err := c.Session.Context.StorageState(ctx)
	if err != nil {
		c.log.Warn("storage state extraction failed", "error", err)
		return nil
	}
	return state
}
