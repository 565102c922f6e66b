package engine

import (
	"github.com/schemaflow/schemaflow/workflow"
)

// Schedule computes the node execution order by Kahn's topological sort.
// Ties break on node insertion order, so the same document always yields
// the same schedule. Edges referencing unknown nodes are dropped. Nodes
// trapped in a cycle never reach the result; the caller detects that by
// comparing lengths.
func Schedule(wf *workflow.Workflow) []string {
	nodeIDs := make(map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		nodeIDs[n.ID] = true
	}

	adj := make(map[string][]string, len(wf.Nodes))
	inDegree := make(map[string]int, len(wf.Nodes))
	for _, e := range wf.Edges {
		if !nodeIDs[e.Source] || !nodeIDs[e.Target] {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e.Target)
		inDegree[e.Target]++
	}

	var queue []string
	for _, n := range wf.Nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	result := make([]string, 0, len(wf.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, id)

		for _, next := range adj[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	return result
}
