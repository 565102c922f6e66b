package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/schemaflow/schemaflow/common/logger"
	"github.com/schemaflow/schemaflow/engine/actions"
	"github.com/schemaflow/schemaflow/engine/ai"
	"github.com/schemaflow/schemaflow/engine/browser"
	"github.com/schemaflow/schemaflow/engine/execution"
	"github.com/schemaflow/schemaflow/engine/locator"
	"github.com/schemaflow/schemaflow/engine/stream"
	"github.com/schemaflow/schemaflow/record"
	"github.com/schemaflow/schemaflow/store"
	"github.com/schemaflow/schemaflow/workflow"
)

const aiInterventionTimeout = 600 * time.Second

// Options controls one execution.
type Options struct {
	ExecutionID  string
	Mode         string
	Headless     bool
	StorageState map[string]any
}

// Executor runs workflows. One execution is a single sequential node walk;
// multiple executions run concurrently, each on its own goroutine.
type Executor struct {
	registry *actions.Registry
	browser  *browser.Manager
	store    store.ExecutionStore
	llm      *ai.Client
	detector *ai.InterventionDetector
	// Optional cross-execution cache of healed selectors.
	selectors locator.SelectorCache
	log       *logger.Logger

	mu     sync.Mutex
	active map[string]*execution.Context
}

// NewExecutor creates an executor. store and llm may be nil; runs then skip
// persistence and the AI paths respectively.
func NewExecutor(registry *actions.Registry, mgr *browser.Manager, st store.ExecutionStore, llm *ai.Client, log *logger.Logger) *Executor {
	var detector *ai.InterventionDetector
	if llm != nil {
		detector = ai.NewInterventionDetector(llm)
	}
	return &Executor{
		registry: registry,
		browser:  mgr,
		store:    st,
		llm:      llm,
		detector: detector,
		log:      log,
		active:   make(map[string]*execution.Context),
	}
}

// WithSelectorCache enables the cross-execution healed-selector cache.
func (e *Executor) WithSelectorCache(c locator.SelectorCache) *Executor {
	e.selectors = c
	return e
}

// Execute runs the workflow to a terminal state and returns its context.
// The returned error reflects the run outcome; the context's status and the
// persisted record carry the detail.
func (e *Executor) Execute(ctx context.Context, wf *workflow.Workflow, ch stream.Channel, opts Options) (*execution.Context, error) {
	executionID := opts.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}

	ec := execution.NewContext(executionID, wf.ID, ch, e.log)
	ec.Mode = opts.Mode
	ec.LLM = e.llm
	ec.Detector = e.detector

	e.mu.Lock()
	if _, exists := e.active[executionID]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("execution %s is already active", executionID)
	}
	e.active[executionID] = ec
	e.mu.Unlock()

	e.log.Info("execution starting", "execution_id", executionID, "workflow_id", wf.ID, "headless", opts.Headless)

	startedAt := time.Now()
	runErr := e.runWorkflow(ctx, ec, wf, opts, startedAt)
	finishedAt := time.Now()

	if runErr != nil && !isCancellation(runErr) && ec.Status() != execution.StatusCancelled {
		ec.SetStatus(execution.StatusFailed)
		ec.Log("error", fmt.Sprintf("execution failed: %v", runErr))
		ec.Emit(stream.Error{
			Type:    stream.KindError,
			Message: runErr.Error(),
			NodeID:  ec.CurrentNode(),
		})
		ec.Emit(stream.ExecutionComplete{
			Type:        stream.KindExecutionComplete,
			ExecutionID: ec.ExecutionID,
			Success:     false,
			Duration:    finishedAt.Sub(startedAt).Seconds(),
			Logs:        ec.Logs(),
		})
	}

	e.cleanup(ctx, ec, wf, startedAt, finishedAt)
	return ec, runErr
}

func (e *Executor) runWorkflow(ctx context.Context, ec *execution.Context, wf *workflow.Workflow, opts Options, startedAt time.Time) error {
	if err := wf.Validate(); err != nil {
		return &ValidationError{Reason: err.Error()}
	}

	order := Schedule(wf)
	if len(order) < len(wf.Nodes) {
		return &ValidationError{Reason: "workflow contains a cycle"}
	}

	ec.SetStatus(execution.StatusRunning)

	session, err := e.browser.Connect(ctx, browser.ConnectOptions{
		Headless:     opts.Headless,
		StorageState: opts.StorageState,
	})
	if err != nil {
		return &BrowserConnectionError{Err: err}
	}
	ec.Session = session

	nodes := wf.NodesByID()
	ec.Emit(stream.ExecutionStarted{
		Type:        stream.KindExecutionStarted,
		ExecutionID: ec.ExecutionID,
		WorkflowID:  wf.ID,
		NodeOrder:   order,
	})

	for _, nodeID := range order {
		if ec.IsCancelled() {
			ec.Log("info", "execution cancelled, stopping node walk")
			break
		}

		node, ok := nodes[nodeID]
		if !ok {
			continue
		}

		if err := e.runNode(ctx, ec, node); err != nil {
			if isCancellation(err) || ec.IsCancelled() {
				return nil
			}
			return err
		}
	}

	if ec.IsCancelled() {
		return nil
	}

	ec.SetStatus(execution.StatusCompleted)
	duration := time.Since(startedAt)
	e.log.Info("execution completed", "execution_id", ec.ExecutionID, "duration", duration)

	ec.Emit(stream.ExecutionComplete{
		Type:        stream.KindExecutionComplete,
		ExecutionID: ec.ExecutionID,
		Success:     true,
		Duration:    duration.Seconds(),
		Logs:        ec.Logs(),
	})

	if state := ec.StorageState(ctx); state != nil {
		ec.Emit(stream.StorageStateUpdate{
			Type: stream.KindStorageStateUpdate,
			Data: state,
		})
	}

	return nil
}

// runNode executes one node through its full event lifecycle. A nil return
// with a cancelled context means the walk should stop quietly.
func (e *Executor) runNode(ctx context.Context, ec *execution.Context, node workflow.Node) error {
	nodeType := node.Type
	label := node.Label
	if label == "" {
		label = nodeType
	}

	ec.SetCurrentNode(node.ID)
	rec := ec.Recorder.StartNode(node.ID, nodeType, label)

	ec.Emit(stream.NodeStart{
		Type:     stream.KindNodeStart,
		NodeID:   node.ID,
		NodeType: nodeType,
	})

	fn, err := e.registry.ExecuteFunc(nodeType)
	if err != nil {
		ec.Recorder.FailNode(rec, err.Error(), ec.Logs())
		e.emitNodeFailed(ec, node.ID, rec, err.Error())
		return &ValidationError{Reason: err.Error()}
	}

	resolved := actions.ResolveConfig(node.Config, ec.Variables())
	e.injectCachedSelector(ctx, ec, node, resolved)

	if err := ec.CheckCancelled(); err != nil {
		ec.Recorder.FailNode(rec, "cancelled by user", ec.Logs())
		e.emitNodeFailed(ec, node.ID, rec, "cancelled")
		return err
	}

	// An externally closed tab gets replaced in the same context rather
	// than failing the rest of the walk.
	if ec.Session != nil && ec.Session.Context != nil {
		if err := e.browser.EnsurePage(ctx, ec.Session); err != nil {
			ec.Recorder.FailNode(rec, err.Error(), ec.Logs())
			e.emitNodeFailed(ec, node.ID, rec, err.Error())
			return fmt.Errorf("node %s (%s) failed: %w", node.ID, nodeType, err)
		}
	}

	if err := e.checkAIIntervention(ctx, ec, node, resolved); err != nil {
		ec.Recorder.FailNode(rec, err.Error(), ec.Logs())
		e.emitNodeFailed(ec, node.ID, rec, err.Error())
		return err
	}

	result, execErr := fn(ctx, ec, resolved)
	if execErr != nil {
		// A force-closed page during cancellation surfaces as a driver
		// "target closed" error; report it as the cancellation it is.
		if browser.IsTargetClosed(execErr) && ec.IsCancelled() {
			ec.Recorder.FailNode(rec, "cancelled by user", ec.Logs())
			e.emitNodeFailed(ec, node.ID, rec, "cancelled")
			return ErrCancelled
		}
		if isCancellation(execErr) {
			ec.Recorder.FailNode(rec, "cancelled by user", ec.Logs())
			e.emitNodeFailed(ec, node.ID, rec, "cancelled")
			return execErr
		}

		ec.Recorder.FailNode(rec, execErr.Error(), ec.Logs())
		ec.Log("error", fmt.Sprintf("node %s failed: %v", node.ID, execErr))

		// The locator captures the page at exhaustion; ship it so the
		// failure can be diagnosed from the client.
		var locErr *LocationError
		if errors.As(execErr, &locErr) && locErr.Screenshot != "" {
			ec.Emit(stream.Screenshot{
				Type:      stream.KindScreenshot,
				NodeID:    node.ID,
				Data:      locErr.Screenshot,
				Timestamp: time.Now(),
			})
		}

		e.emitNodeFailed(ec, node.ID, rec, execErr.Error())
		return fmt.Errorf("node %s (%s) failed: %w", node.ID, nodeType, execErr)
	}

	if err := ec.CheckCancelled(); err != nil {
		ec.Recorder.FailNode(rec, "cancelled by user", ec.Logs())
		e.emitNodeFailed(ec, node.ID, rec, "cancelled")
		return err
	}

	ec.Recorder.CompleteNode(rec, result, ec.Logs())
	resultMap, _ := result.(map[string]any)
	ec.Emit(stream.NodeComplete{
		Type:    stream.KindNodeComplete,
		NodeID:  node.ID,
		Success: true,
		Result:  resultMap,
		Record:  rec,
	})

	e.maybeEmitSelectorUpdate(ctx, ec, node, resultMap)
	ec.SendScreenshot(ctx)
	return nil
}

// injectCachedSelector seeds a node that only has an AI target description
// with the selector a previous run healed for it.
func (e *Executor) injectCachedSelector(ctx context.Context, ec *execution.Context, node workflow.Node, config map[string]any) {
	if e.selectors == nil {
		return
	}
	aiTarget, _ := config["ai_target"].(string)
	selector, _ := config["selector"].(string)
	if aiTarget == "" || selector != "" {
		return
	}

	key := locator.SelectorKey(node.Type, node.ID, "selector")
	if cached, ok := e.selectors.Get(ctx, key); ok {
		ec.Log("debug", fmt.Sprintf("using cached selector for %s: %s", node.ID, cached))
		config["selector"] = cached
	}
}

func (e *Executor) emitNodeFailed(ec *execution.Context, nodeID string, rec *record.NodeRecord, errMsg string) {
	ec.Emit(stream.NodeComplete{
		Type:    stream.KindNodeComplete,
		NodeID:  nodeID,
		Success: false,
		Error:   errMsg,
		Record:  rec,
	})
}

// maybeEmitSelectorUpdate reports a healed selector back to the client. The
// stored workflow is never mutated here; the event carries a merge patch
// the editor can apply if the user accepts the fix.
func (e *Executor) maybeEmitSelectorUpdate(ctx context.Context, ec *execution.Context, node workflow.Node, result map[string]any) {
	effective, _ := result["effective_selector"].(string)
	if effective == "" {
		return
	}
	authored, _ := node.Config["selector"].(string)
	if effective == authored {
		return
	}

	e.log.Info("selector healed", "execution_id", ec.ExecutionID, "node_id", node.ID, "selector", effective)

	if e.selectors != nil {
		e.selectors.Put(ctx, locator.SelectorKey(node.Type, node.ID, "selector"), effective)
	}

	var patch []byte
	if origJSON, err := json.Marshal(node.Config); err == nil {
		healed := make(map[string]any, len(node.Config)+1)
		for k, v := range node.Config {
			healed[k] = v
		}
		healed["selector"] = effective
		if healedJSON, err := json.Marshal(healed); err == nil {
			patch, _ = jsonpatch.CreateMergePatch(origJSON, healedJSON)
		}
	}

	ec.Emit(stream.SelectorUpdate{
		Type:        stream.KindSelectorUpdate,
		NodeID:      node.ID,
		Selector:    effective,
		ConfigPatch: patch,
	})
}

// checkAIIntervention runs the pre-node vision gate when the node opts in
// via enable_ai_intervention. A positive verdict pauses the run until the
// user confirms they have handled the page.
func (e *Executor) checkAIIntervention(ctx context.Context, ec *execution.Context, node workflow.Node, config map[string]any) error {
	enabled, _ := config["enable_ai_intervention"].(bool)
	if !enabled {
		return nil
	}
	if e.detector == nil {
		ec.Log("debug", "intervention check skipped: no model configured")
		return nil
	}
	if ec.Session == nil || ec.Session.Page == nil {
		ec.Log("debug", "intervention check skipped: no page yet")
		return nil
	}

	screenshot := ec.SendScreenshot(ctx)
	if screenshot == "" {
		ec.Log("warning", "intervention check skipped: screenshot failed")
		return nil
	}

	verdict := ec.Detector.Detect(ctx, screenshot, node.Type, node.Label)
	ec.Log("info", fmt.Sprintf("intervention check: needed=%v type=%s confidence=%.2f",
		verdict.NeedsIntervention, verdict.InterventionType, verdict.Confidence))

	if !verdict.NeedsIntervention {
		return nil
	}

	ec.Emit(stream.AIInterventionRequired{
		Type:             stream.KindAIInterventionRequired,
		NodeID:           node.ID,
		NodeType:         node.Type,
		InterventionType: verdict.InterventionType,
		Reason:           verdict.Reason,
		Confidence:       verdict.Confidence,
		Screenshot:       screenshot,
	})

	prompt := fmt.Sprintf("Manual step required (%s): %s. Complete it, then continue.",
		verdict.InterventionType, verdict.Reason)
	response, err := ec.RequestUserInput(ctx, prompt, aiInterventionTimeout)
	if err != nil {
		if errors.Is(err, ErrUserInputTimeout) {
			ec.Log("warning", "intervention prompt timed out, continuing")
			return nil
		}
		return err
	}

	ec.Log("info", fmt.Sprintf("intervention handled by user: %s", response))
	return nil
}

// cleanup releases the session, persists the terminal record and drops the
// execution from the active set.
func (e *Executor) cleanup(ctx context.Context, ec *execution.Context, wf *workflow.Workflow, startedAt, finishedAt time.Time) {
	if ec.Session != nil {
		e.browser.Cleanup(ctx, ec.Session)
	}

	if e.store != nil {
		rec := ec.Recorder.Build(ec.ExecutionID, wf.ID, string(ec.Status()), &startedAt, &finishedAt, len(wf.Nodes))
		if err := e.store.Save(ctx, rec); err != nil {
			e.log.Error("execution record save failed", "execution_id", ec.ExecutionID, "error", err)
		}
	}

	e.mu.Lock()
	delete(e.active, ec.ExecutionID)
	e.mu.Unlock()
}

// Stop cancels a running execution: flips its status, releases any pending
// user-input rendezvous, emits execution_cancelled and force-closes the
// page to interrupt in-flight driver calls.
func (e *Executor) Stop(ctx context.Context, executionID string) error {
	e.mu.Lock()
	ec, ok := e.active[executionID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("no active execution: %s", executionID)
	}

	e.log.Info("stop requested", "execution_id", executionID, "status", string(ec.Status()))
	ec.Cancel()

	ec.Emit(stream.ExecutionCancelled{
		Type:        stream.KindExecutionCancelled,
		ExecutionID: executionID,
	})

	e.browser.ForceClose(ctx, ec.Session)
	return nil
}

// RespondUserInput delivers a user response to an execution's pending
// prompt.
func (e *Executor) RespondUserInput(executionID, response string) {
	e.mu.Lock()
	ec, ok := e.active[executionID]
	e.mu.Unlock()
	if ok {
		ec.RespondUserInput(response)
	}
}

// GetContext returns the live context for an execution, or nil.
func (e *Executor) GetContext(executionID string) *execution.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[executionID]
}
