package stream

import (
	"errors"
	"testing"
)

type fakeChannel struct {
	sent   []any
	failed bool
}

func (f *fakeChannel) Send(v any) error {
	if f.failed {
		return errors.New("channel closed")
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func TestHubPublishFansOut(t *testing.T) {
	h := NewHub()
	a := &fakeChannel{}
	b := &fakeChannel{}
	h.Attach("exec-1", a)
	h.Attach("exec-1", b)

	h.Publish("exec-1", NodeStart{Type: KindNodeStart, NodeID: "n1"})

	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Fatalf("expected both watchers to receive, got %d and %d", len(a.sent), len(b.sent))
	}
}

func TestHubPublishScopedToExecution(t *testing.T) {
	h := NewHub()
	a := &fakeChannel{}
	h.Attach("exec-1", a)

	h.Publish("exec-2", Log{Type: KindLog, Message: "other run"})

	if len(a.sent) != 0 {
		t.Fatalf("expected no cross-execution delivery, got %d", len(a.sent))
	}
}

func TestHubDropsDeadChannels(t *testing.T) {
	h := NewHub()
	dead := &fakeChannel{failed: true}
	live := &fakeChannel{}
	h.Attach("exec-1", dead)
	h.Attach("exec-1", live)

	h.Publish("exec-1", ExecutionCancelled{Type: KindExecutionCancelled, ExecutionID: "exec-1"})

	if h.WatcherCount("exec-1") != 1 {
		t.Fatalf("expected dead channel dropped, watcher count = %d", h.WatcherCount("exec-1"))
	}
	if len(live.sent) != 1 {
		t.Fatal("expected live channel to still receive")
	}
}

func TestHubDetach(t *testing.T) {
	h := NewHub()
	a := &fakeChannel{}
	h.Attach("exec-1", a)
	h.Detach("exec-1", a)

	h.Publish("exec-1", Connected{Type: KindConnected, ExecutionID: "exec-1"})

	if len(a.sent) != 0 {
		t.Fatal("expected no delivery after detach")
	}
	if h.WatcherCount("exec-1") != 0 {
		t.Fatalf("expected empty watcher list, got %d", h.WatcherCount("exec-1"))
	}
}

func TestHubChannelForwards(t *testing.T) {
	h := NewHub()
	a := &fakeChannel{}
	h.Attach("exec-1", a)

	hc := NewHubChannel(h, "exec-1")
	if err := hc.Send(ExecutionStarted{Type: KindExecutionStarted, ExecutionID: "exec-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.sent) != 1 {
		t.Fatal("expected hub channel to publish to watchers")
	}
}
