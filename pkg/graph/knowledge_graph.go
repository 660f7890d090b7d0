package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Node represents a node in the knowledge graph
type Node struct {
	ID         string                 `json:"id"`
	Label      NodeLabel              `json:"label"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Edge represents a relationship between nodes in the knowledge graph
type Edge struct {
	ID          string           `json:"id"`
	Source      string           `json:"source"`
	SourceLabel NodeLabel        `json:"source_label"`
	Target      string           `json:"target"`
	TargetLabel NodeLabel        `json:"target_label"`
	Type        RelationshipType `json:"type"`
}

// KnowledgeGraphData is a serializable snapshot of a graph
type KnowledgeGraphData struct {
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	GeneratedAt time.Time `json:"generated_at"`
}

type nodeKey struct {
	label NodeLabel
	id    string
}

type edgeKey struct {
	from    nodeKey
	to      nodeKey
	relType RelationshipType
}

// MemoryKnowledgeGraph is an in-memory GraphWriter with the same merge
// semantics as the Neo4j writer: nodes are keyed by (label, id), edges by
// (endpoints, type), and edge endpoints are matched by id across labels.
type MemoryKnowledgeGraph struct {
	nodes  map[nodeKey]*Node
	byID   map[string]mapset.Set[nodeKey]
	edges  map[edgeKey]*Edge
	writes int
	mutex  sync.RWMutex
	logger *logrus.Logger
}

// NewMemoryKnowledgeGraph creates a new in-memory knowledge graph
func NewMemoryKnowledgeGraph() *MemoryKnowledgeGraph {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &MemoryKnowledgeGraph{
		nodes:  make(map[nodeKey]*Node),
		byID:   make(map[string]mapset.Set[nodeKey]),
		edges:  make(map[edgeKey]*Edge),
		logger: logger,
	}
}

// ClearAll removes every node and edge
func (g *MemoryKnowledgeGraph) ClearAll(ctx context.Context) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.writes++
	g.nodes = make(map[nodeKey]*Node)
	g.byID = make(map[string]mapset.Set[nodeKey])
	g.edges = make(map[edgeKey]*Edge)
	return nil
}

// UpsertNodes merges nodes by (label, id), overwriting incoming properties
func (g *MemoryKnowledgeGraph) UpsertNodes(ctx context.Context, label NodeLabel, nodes []Record) error {
	if !label.Valid() {
		return errors.Wrapf(ErrQuery, "unknown label %q", label)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.writes++
	for _, rec := range nodes {
		key := nodeKey{label: label, id: rec.ID}
		node, exists := g.nodes[key]
		if !exists {
			node = &Node{ID: rec.ID, Label: label, Properties: make(map[string]interface{})}
			g.nodes[key] = node
			if g.byID[rec.ID] == nil {
				g.byID[rec.ID] = mapset.NewThreadUnsafeSet[nodeKey]()
			}
			g.byID[rec.ID].Add(key)
		}
		for k, v := range rec.NodeProperties() {
			node.Properties[k] = v
		}
	}
	return nil
}

// UpsertEdges merges one edge per matching endpoint pair; edges with a
// missing endpoint are skipped
func (g *MemoryKnowledgeGraph) UpsertEdges(ctx context.Context, relType RelationshipType, edges []RelationshipEdge) error {
	if !relType.Valid() {
		return errors.Wrapf(ErrQuery, "unknown relationship type %q", relType)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.writes++
	for _, rel := range edges {
		sources, targets := g.byID[rel.SourceID], g.byID[rel.TargetID]
		if sources == nil || targets == nil {
			g.logger.WithFields(logrus.Fields{
				"source": rel.SourceID,
				"target": rel.TargetID,
				"type":   relType,
			}).Debug("Skipping edge with missing endpoint")
			continue
		}
		for _, from := range sources.ToSlice() {
			for _, to := range targets.ToSlice() {
				key := edgeKey{from: from, to: to, relType: relType}
				if _, exists := g.edges[key]; exists {
					continue
				}
				g.edges[key] = &Edge{
					ID:          fmt.Sprintf("%s:%s-%s-%s:%s", from.label, from.id, relType, to.label, to.id),
					Source:      from.id,
					SourceLabel: from.label,
					Target:      to.id,
					TargetLabel: to.label,
					Type:        relType,
				}
			}
		}
	}
	return nil
}

// CountNodes returns the number of nodes carrying label
func (g *MemoryKnowledgeGraph) CountNodes(ctx context.Context, label NodeLabel) (int64, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var n int64
	for key := range g.nodes {
		if key.label == label {
			n++
		}
	}
	return n, nil
}

// CountEdges returns the number of edges of relType
func (g *MemoryKnowledgeGraph) CountEdges(ctx context.Context, relType RelationshipType) (int64, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var n int64
	for key := range g.edges {
		if key.relType == relType {
			n++
		}
	}
	return n, nil
}

// GetNode returns a copy of the node with the given label and id
func (g *MemoryKnowledgeGraph) GetNode(label NodeLabel, id string) (Node, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	node, exists := g.nodes[nodeKey{label: label, id: id}]
	if !exists {
		return Node{}, false
	}
	props := make(map[string]interface{}, len(node.Properties))
	for k, v := range node.Properties {
		props[k] = v
	}
	return Node{ID: node.ID, Label: node.Label, Properties: props}, true
}

// HasEdge reports whether an edge of relType links the two ids
func (g *MemoryKnowledgeGraph) HasEdge(sourceID, targetID string, relType RelationshipType) bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	for key := range g.edges {
		if key.relType == relType && key.from.id == sourceID && key.to.id == targetID {
			return true
		}
	}
	return false
}

// writeCount returns how many write calls the graph has served
func (g *MemoryKnowledgeGraph) writeCount() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	return g.writes
}

// GetData returns a sorted snapshot of the graph for serialization
func (g *MemoryKnowledgeGraph) GetData() *KnowledgeGraphData {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	nodes := make([]Node, 0, len(g.nodes))
	for _, node := range g.nodes {
		nodes = append(nodes, *node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Label != nodes[j].Label {
			return nodes[i].Label < nodes[j].Label
		}
		return nodes[i].ID < nodes[j].ID
	})

	edges := make([]Edge, 0, len(g.edges))
	for _, edge := range g.edges {
		edges = append(edges, *edge)
	}
	sort.Slice(edges, func(i, j int) bool {
		return edges[i].ID < edges[j].ID
	})

	return &KnowledgeGraphData{
		Nodes:       nodes,
		Edges:       edges,
		GeneratedAt: time.Now(),
	}
}
