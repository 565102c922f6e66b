package stream

import (
	"time"

	"github.com/schemaflow/schemaflow/record"
)

// Outbound event kinds. Every message written to a channel carries one of
// these in its "type" field.
const (
	KindConnected              = "connected"
	KindExecutionStarted       = "execution_started"
	KindNodeStart              = "node_start"
	KindNodeComplete           = "node_complete"
	KindScreenshot             = "screenshot"
	KindLog                    = "log"
	KindError                  = "error"
	KindUserInputRequired      = "user_input_required"
	KindAIInterventionRequired = "ai_intervention_required"
	KindSelectorUpdate         = "selector_update"
	KindStorageStateUpdate     = "storage_state_update"
	KindExecutionComplete      = "execution_complete"
	KindExecutionCancelled     = "execution_cancelled"
	KindDebugLocatorResult     = "debug_locator_result"
)

// Inbound control kinds sent by the client over the same socket.
const (
	KindStartExecution    = "start_execution"
	KindUserInputResponse = "user_input_response"
	KindStopExecution     = "stop_execution"
	KindLoginConfirmed    = "login_confirmed"
	KindDebugAILocator    = "debug_ai_locator"
)

type Connected struct {
	Type        string `json:"type"`
	ExecutionID string `json:"execution_id"`
}

type ExecutionStarted struct {
	Type        string   `json:"type"`
	ExecutionID string   `json:"execution_id"`
	WorkflowID  string   `json:"workflow_id"`
	NodeOrder   []string `json:"node_order"`
}

type NodeStart struct {
	Type     string `json:"type"`
	NodeID   string `json:"node_id"`
	NodeType string `json:"node_type"`
}

type NodeComplete struct {
	Type    string             `json:"type"`
	NodeID  string             `json:"node_id"`
	Success bool               `json:"success"`
	Result  map[string]any     `json:"result,omitempty"`
	Error   string             `json:"error,omitempty"`
	Record  *record.NodeRecord `json:"record,omitempty"`
}

type Screenshot struct {
	Type      string    `json:"type"`
	NodeID    string    `json:"node_id,omitempty"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

type Log struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	NodeID    string    `json:"node_id,omitempty"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	NodeID  string `json:"node_id,omitempty"`
}

type UserInputRequired struct {
	Type    string  `json:"type"`
	NodeID  string  `json:"node_id"`
	Prompt  string  `json:"prompt"`
	Timeout float64 `json:"timeout"`
}

type AIInterventionRequired struct {
	Type             string  `json:"type"`
	NodeID           string  `json:"node_id"`
	NodeType         string  `json:"node_type"`
	InterventionType string  `json:"intervention_type"`
	Reason           string  `json:"reason"`
	Confidence       float64 `json:"confidence"`
	Screenshot       string  `json:"screenshot,omitempty"`
}

// SelectorUpdate carries the healed selector together with an RFC 7386 merge
// patch the client can apply to the authored node config.
type SelectorUpdate struct {
	Type        string `json:"type"`
	NodeID      string `json:"node_id"`
	Selector    string `json:"selector"`
	ConfigPatch []byte `json:"config_patch,omitempty"`
}

type StorageStateUpdate struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

type ExecutionComplete struct {
	Type        string            `json:"type"`
	ExecutionID string            `json:"execution_id"`
	Success     bool              `json:"success"`
	Duration    float64           `json:"duration"`
	Logs        []record.LogEntry `json:"logs"`
}

type ExecutionCancelled struct {
	Type        string `json:"type"`
	ExecutionID string `json:"execution_id"`
}

type DebugLocatorResult struct {
	Type       string  `json:"type"`
	NodeID     string  `json:"node_id"`
	Success    bool    `json:"success"`
	Selector   string  `json:"selector,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Method     string  `json:"method,omitempty"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// ControlMessage is the envelope for inbound client messages. Fields not
// used by a given kind are left zero.
type ControlMessage struct {
	Type                 string         `json:"type"`
	WorkflowID           string         `json:"workflow_id,omitempty"`
	ExecutionID          string         `json:"execution_id,omitempty"`
	Mode                 string         `json:"mode,omitempty"`
	InjectedStorageState map[string]any `json:"injected_storage_state,omitempty"`
	Action               string         `json:"action,omitempty"`
	Value                string         `json:"value,omitempty"`
	NodeID               string         `json:"node_id,omitempty"`
	TargetDescription    string         `json:"target_description,omitempty"`
	SavedSelector        string         `json:"saved_selector,omitempty"`
}
