package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/schemaflow/schemaflow/common/logger"
	"github.com/schemaflow/schemaflow/engine/actions"
	"github.com/schemaflow/schemaflow/engine/browser"
	"github.com/schemaflow/schemaflow/engine/execution"
	"github.com/schemaflow/schemaflow/engine/stream"
	"github.com/schemaflow/schemaflow/store"
	"github.com/schemaflow/schemaflow/workflow"
)

// ---- fakes ----

type fakePage struct {
	mu        sync.Mutex
	html      string
	valid     map[string]bool
	navigated []string
	clicked   []string
	closed    bool

	// Simulates the tab being closed out from under the run right after
	// a navigation.
	closeOnNavigate bool
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	if p.closeOnNavigate {
		p.closed = true
	}
	return nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("target closed")
	}
	if !p.valid[selector] {
		return fmt.Errorf("no element matches %s", selector)
	}
	p.clicked = append(p.clicked, selector)
	return nil
}

func (p *fakePage) Fill(ctx context.Context, selector, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("target closed")
	}
	if !p.valid[selector] {
		return fmt.Errorf("no element matches %s", selector)
	}
	return nil
}

func (p *fakePage) Press(ctx context.Context, selector, key string) error { return nil }

func (p *fakePage) InnerText(ctx context.Context, selector string) (string, error) {
	return "", nil
}

func (p *fakePage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if p.valid[selector] {
		return nil
	}
	return fmt.Errorf("timed out waiting for %s", selector)
}

func (p *fakePage) Count(ctx context.Context, selector string) (int, error) {
	if p.valid[selector] {
		return 1, nil
	}
	return 0, nil
}

func (p *fakePage) IsVisible(ctx context.Context, selector string) (bool, error) {
	return p.valid[selector], nil
}

func (p *fakePage) Content(ctx context.Context) (string, error) { return p.html, nil }

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("jpeg-bytes"), nil
}

func (p *fakePage) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error { return nil }

func (p *fakePage) URL() string { return "https://example.test" }

func (p *fakePage) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", fmt.Errorf("target closed")
	}
	return "Example", nil
}

func (p *fakePage) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type fakeBrowserContext struct {
	mu         sync.Mutex
	page       *fakePage
	pageIssued bool
	extra      []*fakePage
}

func (c *fakeBrowserContext) Pages() []browser.Page { return nil }

// NewPage hands out the primary page once; later calls create replacements
// sharing the same document.
func (c *fakeBrowserContext) NewPage(ctx context.Context) (browser.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pageIssued {
		c.pageIssued = true
		return c.page, nil
	}
	p := &fakePage{html: c.page.html, valid: c.page.valid}
	c.extra = append(c.extra, p)
	return p, nil
}

func (c *fakeBrowserContext) StorageState(ctx context.Context) (map[string]any, error) {
	return map[string]any{"cookies": []any{}}, nil
}

func (c *fakeBrowserContext) Close(ctx context.Context) error { return nil }

type fakeBrowser struct {
	page     *fakePage
	contexts []*fakeBrowserContext
}

func (b *fakeBrowser) Contexts() []browser.BrowserContext { return nil }

func (b *fakeBrowser) NewContext(ctx context.Context, opts browser.ContextOptions) (browser.BrowserContext, error) {
	c := &fakeBrowserContext{page: b.page}
	b.contexts = append(b.contexts, c)
	return c, nil
}

func (b *fakeBrowser) Close(ctx context.Context) error { return nil }

type fakeDriver struct {
	page     *fakePage
	launched *fakeBrowser
}

func (d *fakeDriver) ConnectOverCDP(ctx context.Context, url string) (browser.Browser, error) {
	return nil, fmt.Errorf("no debug browser at %s", url)
}

func (d *fakeDriver) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	d.launched = &fakeBrowser{page: d.page}
	return d.launched, nil
}

// seqChannel records every emitted event in order.
type seqChannel struct {
	mu   sync.Mutex
	sent []any
}

func (c *seqChannel) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, v)
	return nil
}

func (c *seqChannel) Close() error { return nil }

func (c *seqChannel) kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, v := range c.sent {
		out = append(out, kindOf(v))
	}
	return out
}

func (c *seqChannel) find(kind string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.sent {
		if kindOf(v) == kind {
			return v, true
		}
	}
	return nil, false
}

// waitFor polls until an event of the kind arrives or the deadline lapses.
func (c *seqChannel) waitFor(kind string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, ok := c.find(kind); ok {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func kindOf(v any) string {
	switch m := v.(type) {
	case stream.ExecutionStarted:
		return m.Type
	case stream.NodeStart:
		return m.Type
	case stream.NodeComplete:
		return m.Type
	case stream.Screenshot:
		return m.Type
	case stream.Log:
		return m.Type
	case stream.Error:
		return m.Type
	case stream.UserInputRequired:
		return m.Type
	case stream.AIInterventionRequired:
		return m.Type
	case stream.SelectorUpdate:
		return m.Type
	case stream.StorageStateUpdate:
		return m.Type
	case stream.ExecutionComplete:
		return m.Type
	case stream.ExecutionCancelled:
		return m.Type
	}
	return ""
}

func newTestExecutor(page *fakePage, st store.ExecutionStore) (*Executor, *seqChannel) {
	log := logger.New("error", "json")
	mgr := browser.NewManager(&fakeDriver{page: page}, nil, log)
	return NewExecutor(actions.Default(), mgr, st, nil, log), &seqChannel{}
}

func linearWorkflow(nodes ...workflow.Node) *workflow.Workflow {
	wf := &workflow.Workflow{ID: "wf-1", Nodes: nodes}
	for i := 1; i < len(nodes); i++ {
		wf.Edges = append(wf.Edges, workflow.Edge{Source: nodes[i-1].ID, Target: nodes[i].ID})
	}
	return wf
}

// ---- tests ----

func TestExecuteHappyPath(t *testing.T) {
	page := &fakePage{valid: map[string]bool{}}
	ex, ch := newTestExecutor(page, nil)

	wf := linearWorkflow(
		workflow.Node{ID: "start", Type: "start"},
		workflow.Node{ID: "nav", Type: "navigate", Config: map[string]any{"url": "https://example.test/a"}},
		workflow.Node{ID: "end", Type: "end"},
	)

	ec, err := ex.Execute(context.Background(), wf, ch, Options{ExecutionID: "exec-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ec.Status() != execution.StatusCompleted {
		t.Fatalf("expected completed, got %s", ec.Status())
	}
	if len(page.navigated) != 1 || page.navigated[0] != "https://example.test/a" {
		t.Fatalf("unexpected navigation: %v", page.navigated)
	}

	kinds := ch.kinds()
	var startIdx, completeIdx int = -1, -1
	nodeStarts, nodeCompletes := 0, 0
	for i, k := range kinds {
		switch k {
		case stream.KindExecutionStarted:
			startIdx = i
		case stream.KindNodeStart:
			nodeStarts++
		case stream.KindNodeComplete:
			nodeCompletes++
		case stream.KindExecutionComplete:
			completeIdx = i
		}
	}
	if startIdx == -1 || completeIdx == -1 || startIdx > completeIdx {
		t.Fatalf("bad event ordering: %v", kinds)
	}
	if nodeStarts != 3 || nodeCompletes != 3 {
		t.Fatalf("expected 3 node lifecycles, got %d starts / %d completes", nodeStarts, nodeCompletes)
	}

	msg, ok := ch.find(stream.KindExecutionComplete)
	if !ok || !msg.(stream.ExecutionComplete).Success {
		t.Fatal("expected successful execution_complete")
	}
	if _, ok := ch.find(stream.KindStorageStateUpdate); !ok {
		t.Fatal("expected storage_state_update after completion")
	}

	if ex.GetContext("exec-1") != nil {
		t.Fatal("execution should be removed from the active set")
	}
}

func TestExecuteNodeFailureStopsWalk(t *testing.T) {
	page := &fakePage{
		html:  `<html><body><button id="go">Go</button></body></html>`,
		valid: map[string]bool{"#go": true},
	}
	ex, ch := newTestExecutor(page, nil)

	wf := linearWorkflow(
		workflow.Node{ID: "bad", Type: "click", Config: map[string]any{"selector": "#missing"}},
		workflow.Node{ID: "after", Type: "end"},
	)

	ec, err := ex.Execute(context.Background(), wf, ch, Options{ExecutionID: "exec-2"})
	if err == nil || !strings.Contains(err.Error(), "unable to locate element") {
		t.Fatalf("expected location failure, got %v", err)
	}
	if ec.Status() != execution.StatusFailed {
		t.Fatalf("expected failed, got %s", ec.Status())
	}

	msg, ok := ch.find(stream.KindNodeComplete)
	if !ok {
		t.Fatal("expected node_complete for the failing node")
	}
	nc := msg.(stream.NodeComplete)
	if nc.Success || !strings.Contains(nc.Error, "unable to locate") {
		t.Fatalf("unexpected node_complete: %+v", nc)
	}
	if _, ok := ch.find(stream.KindError); !ok {
		t.Fatal("expected error event")
	}
	shot, ok := ch.find(stream.KindScreenshot)
	if !ok || shot.(stream.Screenshot).Data == "" {
		t.Fatal("expected a debug screenshot for the location failure")
	}
	msg, ok = ch.find(stream.KindExecutionComplete)
	if !ok {
		t.Fatal("expected execution_complete for the failed run")
	}
	if done := msg.(stream.ExecutionComplete); done.Success {
		t.Fatalf("expected failed execution_complete, got %+v", done)
	}

	// The node after the failure never starts.
	started := 0
	for _, k := range ch.kinds() {
		if k == stream.KindNodeStart {
			started++
		}
	}
	if started != 1 {
		t.Fatalf("expected walk to stop at the failing node, saw %d node starts", started)
	}
}

func TestExecuteStopCancelsWaitPromptly(t *testing.T) {
	page := &fakePage{valid: map[string]bool{}}
	ex, ch := newTestExecutor(page, nil)

	wf := linearWorkflow(
		workflow.Node{ID: "long", Type: "wait", Config: map[string]any{"seconds": 30.0}},
		workflow.Node{ID: "end", Type: "end"},
	)

	done := make(chan *execution.Context, 1)
	go func() {
		ec, _ := ex.Execute(context.Background(), wf, ch, Options{ExecutionID: "exec-3"})
		done <- ec
	}()

	if !ch.waitFor(stream.KindNodeStart, 2*time.Second) {
		t.Fatal("wait node never started")
	}
	if err := ex.Stop(context.Background(), "exec-3"); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	select {
	case ec := <-done:
		if ec.Status() != execution.StatusCancelled {
			t.Fatalf("expected cancelled, got %s", ec.Status())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not stop within 2s of cancellation")
	}

	if _, ok := ch.find(stream.KindExecutionCancelled); !ok {
		t.Fatal("expected execution_cancelled event")
	}
	if _, ok := ch.find(stream.KindExecutionComplete); ok {
		t.Fatal("cancelled run must not emit execution_complete")
	}
}

func TestExecuteRecreatesClosedPage(t *testing.T) {
	page := &fakePage{
		html:            `<html><body><button id="go">Go</button></body></html>`,
		valid:           map[string]bool{"#go": true},
		closeOnNavigate: true,
	}
	d := &fakeDriver{page: page}
	log := logger.New("error", "json")
	ex := NewExecutor(actions.Default(), browser.NewManager(d, nil, log), nil, nil, log)

	wf := linearWorkflow(
		workflow.Node{ID: "nav", Type: "navigate", Config: map[string]any{"url": "https://example.test/a"}},
		workflow.Node{ID: "click", Type: "click", Config: map[string]any{"selector": "#go"}},
	)

	ec, err := ex.Execute(context.Background(), wf, &seqChannel{}, Options{ExecutionID: "exec-page"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ec.Status() != execution.StatusCompleted {
		t.Fatalf("expected completed, got %s", ec.Status())
	}
	if len(page.clicked) != 0 {
		t.Fatalf("closed page must not receive the click, got %v", page.clicked)
	}

	bc := d.launched.contexts[0]
	if len(bc.extra) != 1 {
		t.Fatalf("expected one replacement page, got %d", len(bc.extra))
	}
	if got := bc.extra[0].clicked; len(got) != 1 || got[0] != "#go" {
		t.Fatalf("expected click on the replacement page, got %v", got)
	}
}

func TestExecuteRejectsDuplicateExecutionID(t *testing.T) {
	page := &fakePage{valid: map[string]bool{}}
	ex, ch := newTestExecutor(page, nil)

	wf := linearWorkflow(
		workflow.Node{ID: "long", Type: "wait", Config: map[string]any{"seconds": 30.0}},
	)

	done := make(chan struct{})
	go func() {
		ex.Execute(context.Background(), wf, ch, Options{ExecutionID: "exec-dup"})
		close(done)
	}()

	if !ch.waitFor(stream.KindNodeStart, 2*time.Second) {
		t.Fatal("wait node never started")
	}
	if _, err := ex.Execute(context.Background(), wf, &seqChannel{}, Options{ExecutionID: "exec-dup"}); err == nil || !strings.Contains(err.Error(), "already active") {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}

	if err := ex.Stop(context.Background(), "exec-dup"); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not stop")
	}
}

func TestExecuteUserInputResume(t *testing.T) {
	page := &fakePage{valid: map[string]bool{}}
	ex, ch := newTestExecutor(page, nil)

	wf := linearWorkflow(
		workflow.Node{ID: "ask", Type: "user_input", Config: map[string]any{"prompt": "sign in, then continue"}},
		workflow.Node{ID: "end", Type: "end"},
	)

	done := make(chan *execution.Context, 1)
	go func() {
		ec, _ := ex.Execute(context.Background(), wf, ch, Options{ExecutionID: "exec-4"})
		done <- ec
	}()

	if !ch.waitFor(stream.KindUserInputRequired, 2*time.Second) {
		t.Fatal("user_input_required never emitted")
	}
	ex.RespondUserInput("exec-4", "done")

	var ec *execution.Context
	select {
	case ec = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not resume after user response")
	}

	if ec.Status() != execution.StatusCompleted {
		t.Fatalf("expected completed, got %s", ec.Status())
	}
	rec := ec.Recorder.Record("ask")
	if rec == nil || rec.Result["response"] != "done" {
		t.Fatalf("expected recorded response, got %+v", rec)
	}
}

func TestExecuteHealsStaleSelector(t *testing.T) {
	page := &fakePage{
		html:  `<html><body><button id="go">Go</button></body></html>`,
		valid: map[string]bool{"#go": true},
	}
	ex, ch := newTestExecutor(page, nil)

	wf := linearWorkflow(
		workflow.Node{ID: "click", Type: "click", Config: map[string]any{
			"selector":  "#stale",
			"ai_target": "Go",
		}},
	)

	ec, err := ex.Execute(context.Background(), wf, ch, Options{ExecutionID: "exec-5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ec.Status() != execution.StatusCompleted {
		t.Fatalf("expected completed, got %s", ec.Status())
	}
	if len(page.clicked) != 1 || page.clicked[0] != "#go" {
		t.Fatalf("expected click on healed selector, got %v", page.clicked)
	}

	msg, ok := ch.find(stream.KindSelectorUpdate)
	if !ok {
		t.Fatal("expected selector_update event")
	}
	su := msg.(stream.SelectorUpdate)
	if su.Selector != "#go" || su.NodeID != "click" {
		t.Fatalf("unexpected selector_update: %+v", su)
	}
	if !strings.Contains(string(su.ConfigPatch), `"selector":"#go"`) {
		t.Fatalf("merge patch missing healed selector: %s", su.ConfigPatch)
	}

	rec := ec.Recorder.Record("click")
	if rec == nil || rec.Result["effective_selector"] != "#go" {
		t.Fatalf("expected effective selector in record, got %+v", rec)
	}
}

type fakeSelectorCache struct {
	mu      sync.Mutex
	entries map[string]string
	puts    int
}

func (c *fakeSelectorCache) Get(ctx context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *fakeSelectorCache) Put(ctx context.Context, key, selector string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string]string{}
	}
	c.entries[key] = selector
	c.puts++
}

func TestExecuteSelectorCacheRoundTrip(t *testing.T) {
	page := &fakePage{
		html:  `<html><body><button id="go">Go</button></body></html>`,
		valid: map[string]bool{"#go": true},
	}
	cache := &fakeSelectorCache{}
	ex, ch := newTestExecutor(page, nil)
	ex.WithSelectorCache(cache)

	// First run heals via the fallback ladder and populates the cache.
	wf := linearWorkflow(
		workflow.Node{ID: "click", Type: "click", Config: map[string]any{"ai_target": "Go"}},
	)
	if _, err := ex.Execute(context.Background(), wf, ch, Options{ExecutionID: "exec-c1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cache.puts != 1 {
		t.Fatalf("expected one cache write, got %d", cache.puts)
	}

	// Second run finds the cached selector and skips the ladder: the saved
	// selector path verifies "#go" directly.
	ec, err := ex.Execute(context.Background(), wf, &seqChannel{}, Options{ExecutionID: "exec-c2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := ec.Recorder.Record("click")
	if rec == nil || rec.Result["effective_selector"] != "#go" {
		t.Fatalf("expected cached selector to drive the click, got %+v", rec)
	}
}

func TestExecutePersistsTerminalRecord(t *testing.T) {
	page := &fakePage{valid: map[string]bool{}}
	st, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ex, ch := newTestExecutor(page, st)

	wf := linearWorkflow(
		workflow.Node{ID: "start", Type: "start"},
		workflow.Node{ID: "end", Type: "end"},
	)

	if _, err := ex.Execute(context.Background(), wf, ch, Options{ExecutionID: "exec-6"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, err := st.Load(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if rec.ExecutionID != "exec-6" || rec.Status != "completed" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.TotalNodes != 2 || rec.CompletedNodes != 2 {
		t.Fatalf("unexpected counts: %+v", rec)
	}
}

func TestExecuteRejectsCycle(t *testing.T) {
	page := &fakePage{valid: map[string]bool{}}
	ex, ch := newTestExecutor(page, nil)

	wf := &workflow.Workflow{
		ID: "wf-1",
		Nodes: []workflow.Node{
			{ID: "a", Type: "start"},
			{ID: "b", Type: "end"},
		},
		Edges: []workflow.Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "a"}},
	}

	_, err := ex.Execute(context.Background(), wf, ch, Options{ExecutionID: "exec-7"})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, ok := ch.find(stream.KindExecutionStarted); ok {
		t.Fatal("cyclic workflow must not start")
	}
}

func TestExecuteRejectsEmptyWorkflow(t *testing.T) {
	page := &fakePage{valid: map[string]bool{}}
	ex, ch := newTestExecutor(page, nil)

	_, err := ex.Execute(context.Background(), &workflow.Workflow{ID: "wf-1"}, ch, Options{ExecutionID: "exec-8"})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestStopUnknownExecution(t *testing.T) {
	page := &fakePage{valid: map[string]bool{}}
	ex, _ := newTestExecutor(page, nil)
	if err := ex.Stop(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown execution")
	}
}
