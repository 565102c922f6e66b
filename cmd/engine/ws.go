package main

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/schemaflow/schemaflow/common/config"
	"github.com/schemaflow/schemaflow/common/logger"
	"github.com/schemaflow/schemaflow/engine"
	"github.com/schemaflow/schemaflow/engine/ai"
	"github.com/schemaflow/schemaflow/engine/locator"
	"github.com/schemaflow/schemaflow/engine/stream"
	"github.com/schemaflow/schemaflow/workflow"
)

// wsHandler owns the WebSocket control surface: one socket per client, over
// which executions are started, observed and steered.
type wsHandler struct {
	cfg       *config.Config
	executor  *engine.Executor
	hub       *stream.Hub
	workflows *workflow.FileStore
	llm       *ai.Client
	rdb       *redis.Client
	log       *logger.Logger
	upgrader  websocket.Upgrader
}

func newWSHandler(cfg *config.Config, executor *engine.Executor, hub *stream.Hub, workflows *workflow.FileStore, llm *ai.Client, rdb *redis.Client, log *logger.Logger) *wsHandler {
	return &wsHandler{
		cfg:       cfg,
		executor:  executor,
		hub:       hub,
		workflows: workflows,
		llm:       llm,
		rdb:       rdb,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The editor runs on a different origin in development
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve upgrades the connection and runs the control loop until the peer
// disconnects. Executions started on this socket keep running when it drops;
// only the event stream detaches.
func (h *wsHandler) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	ch := stream.NewWSChannel(conn)
	defer ch.Close()

	// Executions this socket is watching, detached on disconnect.
	var watching []string
	defer func() {
		for _, id := range watching {
			h.hub.Detach(id, ch)
		}
	}()

	var currentExecutionID string

	for {
		var msg stream.ControlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("websocket read failed", "error", err)
			}
			return nil
		}

		switch msg.Type {
		case stream.KindStartExecution:
			id, ok := h.startExecution(ch, msg)
			if ok {
				currentExecutionID = id
				watching = append(watching, id)
			}

		case stream.KindStopExecution:
			id := msg.ExecutionID
			if id == "" {
				id = currentExecutionID
			}
			if err := h.executor.Stop(context.Background(), id); err != nil {
				h.sendError(ch, "", err.Error())
			}

		case stream.KindUserInputResponse:
			id := msg.ExecutionID
			if id == "" {
				id = currentExecutionID
			}
			value := msg.Value
			if msg.Action == "cancel" {
				value = "cancel"
			}
			if value == "" {
				value = "continue"
			}
			h.executor.RespondUserInput(id, value)

		case stream.KindLoginConfirmed:
			id := msg.ExecutionID
			if id == "" {
				id = currentExecutionID
			}
			h.executor.RespondUserInput(id, "continue")

		case stream.KindDebugAILocator:
			go h.debugLocator(ch, currentExecutionID, msg)

		default:
			h.log.Warn("unknown control message", "type", msg.Type)
		}
	}
}

// startExecution loads the workflow, wires the event fan-out and launches
// the run on its own goroutine.
func (h *wsHandler) startExecution(ch *stream.WSChannel, msg stream.ControlMessage) (string, bool) {
	wf, err := h.workflows.Load(msg.WorkflowID)
	if err != nil {
		h.sendError(ch, "", err.Error())
		return "", false
	}

	executionID := uuid.NewString()
	h.hub.Attach(executionID, ch)

	var runCh stream.Channel = stream.NewHubChannel(h.hub, executionID)
	if h.rdb != nil {
		runCh = stream.NewRedisMirror(runCh, h.rdb, executionID)
	}

	ch.Send(stream.Connected{Type: stream.KindConnected, ExecutionID: executionID})

	headless := h.cfg.Browser.DefaultHeadless
	switch msg.Mode {
	case "headed":
		headless = false
	case "headless":
		headless = true
	}

	opts := engine.Options{
		ExecutionID:  executionID,
		Mode:         msg.Mode,
		Headless:     headless,
		StorageState: msg.InjectedStorageState,
	}
	go func() {
		if _, err := h.executor.Execute(context.Background(), wf, runCh, opts); err != nil {
			h.log.Warn("execution finished with error", "execution_id", executionID, "error", err)
		}
	}()

	return executionID, true
}

// debugLocator resolves a target description against the live page of the
// current execution, for interactive selector testing from the editor.
func (h *wsHandler) debugLocator(ch *stream.WSChannel, executionID string, msg stream.ControlMessage) {
	ec := h.executor.GetContext(executionID)
	if ec == nil || ec.Session == nil || ec.Session.Page == nil {
		ch.Send(stream.DebugLocatorResult{
			Type:   stream.KindDebugLocatorResult,
			NodeID: msg.NodeID,
			Error:  "no live page to locate against",
		})
		return
	}

	var llm locator.LLM
	if h.llm != nil {
		llm = h.llm
	}
	res := locator.Debug(context.Background(), ec.Session.Page, llm, h.log, msg.TargetDescription, msg.SavedSelector)

	ch.Send(stream.DebugLocatorResult{
		Type:       stream.KindDebugLocatorResult,
		NodeID:     msg.NodeID,
		Success:    res.Success,
		Selector:   res.Selector,
		Confidence: res.Confidence,
		Method:     res.Method,
		Reasoning:  res.Reasoning,
		Error:      res.Error,
	})
}

func (h *wsHandler) sendError(ch *stream.WSChannel, nodeID, message string) {
	ch.Send(stream.Error{Type: stream.KindError, Message: message, NodeID: nodeID})
}
