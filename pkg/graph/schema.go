package graph

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
)

// DefaultBatchSize is the number of records or edges written per transaction
const DefaultBatchSize = 100

// Kind describes one source collection and the node label it maps to.
// StoredFields become node properties; ReferenceFields are consumed to
// derive edges and are never stored on the node.
type Kind struct {
	Label           NodeLabel
	Collection      string
	StoredFields    []string
	ReferenceFields []string
	// StageKey, when set, names the sub-document key that holds the ids
	// inside each reference field (services.stage1).
	StageKey string
}

// RelationshipRule derives edges of Type from Field on records of Source
type RelationshipRule struct {
	Source NodeLabel
	Field  string
	Type   RelationshipType
}

var (
	ServiceKind = Kind{
		Label:           LabelService,
		Collection:      "services",
		StoredFields:    []string{"name", "synonyms"},
		ReferenceFields: []string{"relatedServices"},
	}

	MedicalConditionKind = Kind{
		Label:           LabelMedicalCondition,
		Collection:      "medicalconditions",
		StoredFields:    []string{"name", "synonyms"},
		ReferenceFields: []string{"services"},
		StageKey:        "stage1",
	}

	MedicalGroupKind = Kind{
		Label:           LabelMedicalGroup,
		Collection:      "medicalgroups",
		StoredFields:    []string{"name", "synonyms"},
		ReferenceFields: []string{"services"},
	}
)

// DefaultKinds returns the kinds in the order their nodes are written
func DefaultKinds() []Kind {
	return []Kind{ServiceKind, MedicalConditionKind, MedicalGroupKind}
}

// DefaultRules returns the relationship rules in the order their edges are written
func DefaultRules() []RelationshipRule {
	return []RelationshipRule{
		{Source: LabelService, Field: "relatedServices", Type: RelationRelatedTo},
		{Source: LabelMedicalCondition, Field: "services", Type: RelationContains},
		{Source: LabelMedicalGroup, Field: "services", Type: RelationContains},
	}
}

// Projection returns the source field paths to read for this kind
func (k Kind) Projection() []string {
	fields := make([]string, 0, len(k.StoredFields)+len(k.ReferenceFields)+1)
	fields = append(fields, IDProperty)
	fields = append(fields, k.StoredFields...)
	for _, ref := range k.ReferenceFields {
		if k.StageKey != "" {
			fields = append(fields, ref+"."+k.StageKey)
			continue
		}
		fields = append(fields, ref)
	}
	return fields
}

// Excluded returns the fields that must never appear as node properties
func (k Kind) Excluded() mapset.Set[string] {
	return mapset.NewSet[string](k.ReferenceFields...)
}

// HasReferenceField reports whether field is one of the kind's reference fields
func (k Kind) HasReferenceField(field string) bool {
	return k.Excluded().Contains(field)
}

// Validate checks the kind is writable and that no field is both stored and referenced
func (k Kind) Validate() error {
	if !k.Label.Valid() {
		return errors.Wrapf(ErrQuery, "kind %q: unknown label", k.Label)
	}
	if k.Collection == "" {
		return errors.Errorf("kind %s: collection required", k.Label)
	}
	stored := mapset.NewSet[string](k.StoredFields...)
	if stored.Contains(IDProperty) {
		return errors.Errorf("kind %s: %s is written implicitly and cannot be a stored field", k.Label, IDProperty)
	}
	if overlap := stored.Intersect(k.Excluded()); overlap.Cardinality() > 0 {
		return errors.Errorf("kind %s: fields %v are both stored and referenced", k.Label, overlap.ToSlice())
	}
	return nil
}

// Validate checks the rule against the configured kinds
func (r RelationshipRule) Validate(kinds map[NodeLabel]Kind) error {
	if !r.Type.Valid() {
		return errors.Wrapf(ErrQuery, "rule %s.%s: unknown relationship type %q", r.Source, r.Field, r.Type)
	}
	kind, ok := kinds[r.Source]
	if !ok {
		return errors.Errorf("rule %s.%s: source kind not configured", r.Source, r.Field)
	}
	if !kind.HasReferenceField(r.Field) {
		return errors.Errorf("rule %s.%s: field is not a reference field of %s", r.Source, r.Field, r.Source)
	}
	return nil
}
