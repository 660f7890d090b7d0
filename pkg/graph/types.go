package graph

import (
	"context"
)

// NodeLabel is the closed set of node labels the sync may write
type NodeLabel string

const (
	LabelService          NodeLabel = "Service"
	LabelMedicalCondition NodeLabel = "MedicalCondition"
	LabelMedicalGroup     NodeLabel = "MedicalGroup"
)

// Valid reports whether l is one of the known labels
func (l NodeLabel) Valid() bool {
	switch l {
	case LabelService, LabelMedicalCondition, LabelMedicalGroup:
		return true
	}
	return false
}

// RelationshipType is the closed set of edge types the sync may write
type RelationshipType string

const (
	RelationRelatedTo RelationshipType = "RELATED_TO"
	RelationContains  RelationshipType = "CONTAINS"
)

// Valid reports whether t is one of the known relationship types
func (t RelationshipType) Valid() bool {
	switch t {
	case RelationRelatedTo, RelationContains:
		return true
	}
	return false
}

// IDProperty is the node property used as the merge key
const IDProperty = "_id"

// RawRecord is a projected document as returned by a Source
type RawRecord map[string]interface{}

// Record is a normalized source document
type Record struct {
	ID string `json:"_id"`
	// Properties holds only the stored fields of the record's Kind
	Properties map[string]interface{} `json:"properties,omitempty"`
	// References maps a reference field name to the canonical ids it holds
	References map[string][]string `json:"references,omitempty"`
}

// Name returns the record's name property, if any
func (r Record) Name() string {
	name, _ := r.Properties["name"].(string)
	return name
}

// NodeProperties returns the property map written to the target node
func (r Record) NodeProperties() map[string]interface{} {
	props := make(map[string]interface{}, len(r.Properties)+1)
	for k, v := range r.Properties {
		props[k] = v
	}
	props[IDProperty] = r.ID
	return props
}

// RelationshipEdge is a directed edge derived from a reference field
type RelationshipEdge struct {
	SourceID string           `json:"sourceId"`
	TargetID string           `json:"targetId"`
	Type     RelationshipType `json:"type"`
}

// Source reads projected records from one collection
type Source interface {
	Extract(ctx context.Context, collection string, fields []string) ([]RawRecord, error)
}

// GraphWriter performs idempotent writes against the target graph.
// Every call runs as exactly one transaction.
type GraphWriter interface {
	// ClearAll deletes every node and edge
	ClearAll(ctx context.Context) error

	// UpsertNodes merges nodes matched by (label, _id) and overwrites their properties
	UpsertNodes(ctx context.Context, label NodeLabel, nodes []Record) error

	// UpsertEdges merges directed edges between nodes matched by _id. Edges
	// whose endpoints do not exist are skipped without error.
	UpsertEdges(ctx context.Context, relType RelationshipType, edges []RelationshipEdge) error
}

// Counter is implemented by writers that can report what they hold
type Counter interface {
	CountNodes(ctx context.Context, label NodeLabel) (int64, error)
	CountEdges(ctx context.Context, relType RelationshipType) (int64, error)
}

// SchemaInitializer is implemented by writers that can create per-label
// uniqueness constraints. Failures are the writer's to log.
type SchemaInitializer interface {
	EnsureConstraints(ctx context.Context, labels []NodeLabel)
}
