// Package query builds the Cypher statements the sync issues. Labels and
// relationship types come from closed enumerations and are checked before
// they reach statement text; every record-derived value is a parameter.
package query

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/athapong/graph-sync/pkg/graph"
)

// Statement is Cypher text plus its bound parameters
type Statement struct {
	Text   string                 `json:"text"`
	Params map[string]interface{} `json:"params,omitempty"`
}

func (s Statement) String() string {
	return s.Text
}

// ClearAll deletes every node together with its relationships
func ClearAll() Statement {
	return Statement{Text: "MATCH (n) DETACH DELETE n"}
}

// MergeNodes upserts rows as nodes of label keyed by _id
func MergeNodes(label graph.NodeLabel, rows []map[string]interface{}) (Statement, error) {
	if !label.Valid() {
		return Statement{}, errors.Wrapf(graph.ErrQuery, "unknown node label %q", label)
	}
	return Statement{
		Text: fmt.Sprintf(`UNWIND $rows AS row
MERGE (n:%s {%s: row.%s})
SET n += row`, label, graph.IDProperty, graph.IDProperty),
		Params: map[string]interface{}{"rows": rows},
	}, nil
}

// MergeEdges upserts directed edges of relType between nodes matched by _id
// on any label. Rows carry sourceId and targetId.
func MergeEdges(relType graph.RelationshipType, rows []map[string]interface{}) (Statement, error) {
	if !relType.Valid() {
		return Statement{}, errors.Wrapf(graph.ErrQuery, "unknown relationship type %q", relType)
	}
	return Statement{
		Text: fmt.Sprintf(`UNWIND $rows AS rel
MATCH (a {%s: rel.sourceId}), (b {%s: rel.targetId})
MERGE (a)-[:%s]->(b)`, graph.IDProperty, graph.IDProperty, relType),
		Params: map[string]interface{}{"rows": rows},
	}, nil
}

// UniqueConstraint creates the _id uniqueness constraint for label if missing
func UniqueConstraint(label graph.NodeLabel) (Statement, error) {
	if !label.Valid() {
		return Statement{}, errors.Wrapf(graph.ErrQuery, "unknown node label %q", label)
	}
	return Statement{
		Text: fmt.Sprintf("CREATE CONSTRAINT %s_id_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
			label, label, graph.IDProperty),
	}, nil
}

// CountNodes counts nodes carrying label
func CountNodes(label graph.NodeLabel) (Statement, error) {
	if !label.Valid() {
		return Statement{}, errors.Wrapf(graph.ErrQuery, "unknown node label %q", label)
	}
	return Statement{Text: fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS count", label)}, nil
}

// CountEdges counts relationships of relType
func CountEdges(relType graph.RelationshipType) (Statement, error) {
	if !relType.Valid() {
		return Statement{}, errors.Wrapf(graph.ErrQuery, "unknown relationship type %q", relType)
	}
	return Statement{Text: fmt.Sprintf("MATCH ()-[r:%s]->() RETURN count(r) AS count", relType)}, nil
}

// NodeRows converts records into MergeNodes rows
func NodeRows(nodes []graph.Record) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(nodes))
	for _, rec := range nodes {
		rows = append(rows, rec.NodeProperties())
	}
	return rows
}

// EdgeRows converts edges into MergeEdges rows
func EdgeRows(edges []graph.RelationshipEdge) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(edges))
	for _, e := range edges {
		rows = append(rows, map[string]interface{}{
			"sourceId": e.SourceID,
			"targetId": e.TargetID,
		})
	}
	return rows
}
