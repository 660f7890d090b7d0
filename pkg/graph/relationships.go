package graph

// ExtractRelationships derives one edge per (record, referenced id) pair found
// in field. Records without the field contribute no edges. Output follows
// record order, then reference order.
func ExtractRelationships(records []Record, field string, relType RelationshipType) []RelationshipEdge {
	edges := make([]RelationshipEdge, 0)
	for _, rec := range records {
		refs, ok := rec.References[field]
		if !ok {
			continue
		}
		for _, ref := range refs {
			edges = append(edges, RelationshipEdge{
				SourceID: rec.ID,
				TargetID: ref,
				Type:     relType,
			})
		}
	}
	return edges
}
