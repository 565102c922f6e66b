package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/schemaflow/schemaflow/common/logger"
	"github.com/schemaflow/schemaflow/engine/stream"
)

type captureChannel struct {
	sent []any
}

func (c *captureChannel) Send(v any) error { c.sent = append(c.sent, v); return nil }
func (c *captureChannel) Close() error     { return nil }

func newTestContext(ch stream.Channel) *Context {
	return NewContext("exec-1", "wf-1", ch, logger.New("error", "json"))
}

func TestStatusTransitions(t *testing.T) {
	c := newTestContext(nil)
	if c.Status() != StatusPending {
		t.Fatalf("expected pending, got %s", c.Status())
	}

	c.SetStatus(StatusRunning)
	if c.Status() != StatusRunning {
		t.Fatalf("expected running, got %s", c.Status())
	}

	c.SetStatus(StatusCompleted)
	c.SetStatus(StatusRunning)
	if c.Status() != StatusCompleted {
		t.Fatal("expected terminal status to be sticky")
	}
}

func TestCancelIsSticky(t *testing.T) {
	c := newTestContext(nil)
	c.SetStatus(StatusRunning)
	c.Cancel()

	if !c.IsCancelled() {
		t.Fatal("expected cancelled")
	}
	c.SetStatus(StatusRunning)
	if c.Status() != StatusCancelled {
		t.Fatal("expected cancel to stick")
	}
	if err := c.CheckCancelled(); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestRequestUserInputContinue(t *testing.T) {
	ch := &captureChannel{}
	c := newTestContext(ch)
	c.SetStatus(StatusRunning)
	c.SetCurrentNode("n-input")

	done := make(chan struct{})
	var value string
	var err error
	go func() {
		value, err = c.RequestUserInput(context.Background(), "ok?", 5*time.Second)
		close(done)
	}()

	// Wait until the prompt is out and the run is paused.
	deadline := time.After(2 * time.Second)
	for c.Status() != StatusPaused {
		select {
		case <-deadline:
			t.Fatal("run never paused")
		case <-time.After(5 * time.Millisecond):
		}
	}

	c.RespondUserInput("continue")
	<-done

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "continue" {
		t.Fatalf("unexpected value: %q", value)
	}
	if c.Status() != StatusRunning {
		t.Fatalf("expected status restored to running, got %s", c.Status())
	}

	var sawPrompt bool
	for _, v := range ch.sent {
		if m, ok := v.(stream.UserInputRequired); ok {
			sawPrompt = true
			if m.NodeID != "n-input" || m.Prompt != "ok?" {
				t.Fatalf("unexpected prompt event: %+v", m)
			}
		}
	}
	if !sawPrompt {
		t.Fatal("expected a user_input_required event")
	}
}

func TestRequestUserInputTimeout(t *testing.T) {
	c := newTestContext(nil)
	c.SetStatus(StatusRunning)

	_, err := c.RequestUserInput(context.Background(), "ok?", 20*time.Millisecond)
	if !errors.Is(err, ErrUserInputTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if c.Status() != StatusRunning {
		t.Fatalf("expected status restored, got %s", c.Status())
	}
}

func TestRequestUserInputUserCancel(t *testing.T) {
	c := newTestContext(nil)
	c.SetStatus(StatusRunning)

	done := make(chan error, 1)
	go func() {
		_, err := c.RequestUserInput(context.Background(), "ok?", 5*time.Second)
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for c.Status() != StatusPaused {
		select {
		case <-deadline:
			t.Fatal("run never paused")
		case <-time.After(5 * time.Millisecond):
		}
	}

	c.RespondUserInput("cancel")
	if err := <-done; !errors.Is(err, ErrUserCancelled) {
		t.Fatalf("expected ErrUserCancelled, got %v", err)
	}
}

func TestCancelWhilePausedReleasesRendezvous(t *testing.T) {
	c := newTestContext(nil)
	c.SetStatus(StatusRunning)

	done := make(chan error, 1)
	go func() {
		_, err := c.RequestUserInput(context.Background(), "ok?", 5*time.Second)
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for c.Status() != StatusPaused {
		select {
		case <-deadline:
			t.Fatal("run never paused")
		case <-time.After(5 * time.Millisecond):
		}
	}

	c.Cancel()
	if err := <-done; !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if c.Status() != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", c.Status())
	}
}

func TestStaleResponseDropped(t *testing.T) {
	c := newTestContext(nil)
	c.SetStatus(StatusRunning)

	// No pending prompt: the response must be dropped, not queued for a
	// future request.
	c.RespondUserInput("continue")

	_, err := c.RequestUserInput(context.Background(), "ok?", 20*time.Millisecond)
	if !errors.Is(err, ErrUserInputTimeout) {
		t.Fatalf("expected fresh request to time out, got %v", err)
	}
}

func TestLogScopedToCurrentNode(t *testing.T) {
	ch := &captureChannel{}
	c := newTestContext(ch)
	c.SetCurrentNode("n1")
	c.Log("info", "first")
	c.SetCurrentNode("n2")
	c.Log("warning", "second")

	logs := c.Logs()
	if len(logs) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(logs))
	}
	if logs[0].NodeID != "n1" || logs[1].NodeID != "n2" {
		t.Fatalf("unexpected node scoping: %+v", logs)
	}
	if len(ch.sent) != 2 {
		t.Fatalf("expected 2 log events emitted, got %d", len(ch.sent))
	}
}

func TestVariablesAndClipboard(t *testing.T) {
	c := newTestContext(nil)
	c.SetVariable("order_id", "A-1001")
	c.SetClipboard("copied text")

	if v, ok := c.GetVariable("order_id"); !ok || v != "A-1001" {
		t.Fatalf("unexpected variable: %v %v", v, ok)
	}
	if _, ok := c.GetVariable("missing"); ok {
		t.Fatal("expected missing variable")
	}
	if c.Clipboard() != "copied text" {
		t.Fatal("unexpected clipboard")
	}

	vars := c.Variables()
	vars["order_id"] = "mutated"
	if v, _ := c.GetVariable("order_id"); v != "A-1001" {
		t.Fatal("expected Variables() to return a copy")
	}
}

func TestRecordAction(t *testing.T) {
	c := newTestContext(nil)
	c.RecordAction("click", map[string]any{"selector": "#go"})

	actions := c.Actions()
	if len(actions) != 1 || actions[0].Kind != "click" {
		t.Fatalf("unexpected actions: %+v", actions)
	}
}
