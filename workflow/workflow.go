package workflow

import (
	"errors"
	"fmt"
)

// Workflow is a DAG of action nodes authored externally and consumed by the
// engine. The engine treats it as read-only.
type Workflow struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is a single action in a workflow. Config is keyed by the schema of
// the node's action type.
type Node struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Label  string         `json:"label,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

// Edge connects two nodes. Edges referencing unknown nodes are dropped
// during ordering.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Validate checks structural soundness before execution. Cycle detection is
// the scheduler's job; this catches malformed documents earlier.
func (w *Workflow) Validate() error {
	if len(w.Nodes) == 0 {
		return errors.New("workflow has no nodes")
	}
	seen := make(map[string]bool, len(w.Nodes))
	for _, n := range w.Nodes {
		if n.ID == "" {
			return errors.New("node with empty id")
		}
		if n.Type == "" {
			return fmt.Errorf("node %s has no type", n.ID)
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id: %s", n.ID)
		}
		seen[n.ID] = true
	}
	return nil
}

// NodesByID returns a lookup map from node ID to node.
func (w *Workflow) NodesByID() map[string]Node {
	m := make(map[string]Node, len(w.Nodes))
	for _, n := range w.Nodes {
		m[n.ID] = n
	}
	return m
}
