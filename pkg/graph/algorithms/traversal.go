package algorithms

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/athapong/graph-sync/pkg/graph"
)

type TraversalType string

const (
	BFS TraversalType = "BFS"
	DFS TraversalType = "DFS"
)

// NodeRef addresses a node in a snapshot. Ids are only unique per label.
type NodeRef struct {
	Label graph.NodeLabel
	ID    string
}

// GraphTraversal walks a snapshot ignoring edge direction
type GraphTraversal struct {
	nodes     map[NodeRef]graph.Node
	adjacency map[NodeRef][]NodeRef
}

func NewGraphTraversal(data *graph.KnowledgeGraphData) *GraphTraversal {
	t := &GraphTraversal{
		nodes:     make(map[NodeRef]graph.Node),
		adjacency: make(map[NodeRef][]NodeRef),
	}
	if data == nil {
		return t
	}
	for _, n := range data.Nodes {
		t.nodes[NodeRef{Label: n.Label, ID: n.ID}] = n
	}
	for _, e := range data.Edges {
		from := NodeRef{Label: e.SourceLabel, ID: e.Source}
		to := NodeRef{Label: e.TargetLabel, ID: e.Target}
		t.adjacency[from] = append(t.adjacency[from], to)
		t.adjacency[to] = append(t.adjacency[to], from)
	}
	return t
}

// Traverse returns the nodes reachable from start within maxDepth hops, in
// visiting order
func (t *GraphTraversal) Traverse(start NodeRef, maxDepth int, traversalType TraversalType) ([]graph.Node, error) {
	if _, ok := t.nodes[start]; !ok {
		return nil, errors.Errorf("node %s:%s not found", start.Label, start.ID)
	}

	visited := make(map[NodeRef]bool)
	switch traversalType {
	case BFS:
		return t.bfs(start, maxDepth, visited), nil
	case DFS:
		result := make([]graph.Node, 0)
		t.dfs(start, maxDepth, visited, &result)
		return result, nil
	default:
		return nil, errors.Errorf("unsupported traversal type: %s", traversalType)
	}
}

func (t *GraphTraversal) bfs(start NodeRef, maxDepth int, visited map[NodeRef]bool) []graph.Node {
	queue := []NodeRef{start}
	result := make([]graph.Node, 0)

	for depth := 0; len(queue) > 0 && depth <= maxDepth; depth++ {
		levelSize := len(queue)
		for i := 0; i < levelSize; i++ {
			current := queue[0]
			queue = queue[1:]
			if visited[current] {
				continue
			}
			visited[current] = true
			result = append(result, t.nodes[current])

			for _, next := range t.adjacency[current] {
				if !visited[next] {
					queue = append(queue, next)
				}
			}
		}
	}
	return result
}

func (t *GraphTraversal) dfs(current NodeRef, maxDepth int, visited map[NodeRef]bool, result *[]graph.Node) {
	if maxDepth < 0 || visited[current] {
		return
	}
	visited[current] = true
	*result = append(*result, t.nodes[current])

	for _, next := range t.adjacency[current] {
		t.dfs(next, maxDepth-1, visited, result)
	}
}

// Summary describes the shape of a snapshot
type Summary struct {
	Nodes      int
	Edges      int
	Components int
	// Isolated counts nodes without any relationship, per label
	Isolated map[graph.NodeLabel]int
}

// Summarize counts connected components and isolated nodes
func Summarize(data *graph.KnowledgeGraphData) Summary {
	t := NewGraphTraversal(data)
	summary := Summary{
		Nodes:    len(t.nodes),
		Isolated: make(map[graph.NodeLabel]int),
	}
	if data != nil {
		summary.Edges = len(data.Edges)
	}

	refs := make([]NodeRef, 0, len(t.nodes))
	for ref := range t.nodes {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Label != refs[j].Label {
			return refs[i].Label < refs[j].Label
		}
		return refs[i].ID < refs[j].ID
	})

	visited := make(map[NodeRef]bool)
	for _, ref := range refs {
		if len(t.adjacency[ref]) == 0 {
			summary.Isolated[ref.Label]++
		}
		if visited[ref] {
			continue
		}
		summary.Components++
		t.bfs(ref, len(t.nodes), visited)
	}
	return summary
}
