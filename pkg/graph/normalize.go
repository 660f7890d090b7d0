package graph

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CanonicalID converts an identifier value to the string used as a merge key
func CanonicalID(v interface{}) (string, error) {
	switch id := v.(type) {
	case nil:
		return "", errors.Wrap(ErrDataShape, "identifier is missing")
	case primitive.ObjectID:
		if id.IsZero() {
			return "", errors.Wrap(ErrDataShape, "identifier is a zero ObjectID")
		}
		return id.Hex(), nil
	case string:
		if id == "" {
			return "", errors.Wrap(ErrDataShape, "identifier is empty")
		}
		return id, nil
	case int:
		return strconv.Itoa(id), nil
	case int32:
		return strconv.FormatInt(int64(id), 10), nil
	case int64:
		return strconv.FormatInt(id, 10), nil
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	case primitive.M:
		return extendedOID(id)
	case map[string]interface{}:
		return extendedOID(id)
	case fmt.Stringer:
		return id.String(), nil
	}
	return "", errors.Wrapf(ErrDataShape, "identifier of type %T cannot be canonicalized", v)
}

// extendedOID reads {"$oid": "..."} as produced by mongoexport
func extendedOID(doc map[string]interface{}) (string, error) {
	if oid, ok := doc["$oid"].(string); ok && oid != "" {
		return oid, nil
	}
	return "", errors.Wrap(ErrDataShape, "identifier document has no $oid")
}

// UnwrapStage replaces raw[field] with raw[field][stageKey] when the field
// holds a document carrying that key. It reports whether it did so.
func UnwrapStage(raw RawRecord, field, stageKey string) bool {
	if stageKey == "" {
		return false
	}
	value, ok := lookup(raw[field], stageKey)
	if !ok {
		return false
	}
	raw[field] = value
	return true
}

func lookup(doc interface{}, key string) (interface{}, bool) {
	switch d := doc.(type) {
	case primitive.M:
		v, ok := d[key]
		return v, ok
	case map[string]interface{}:
		v, ok := d[key]
		return v, ok
	case primitive.D:
		for _, e := range d {
			if e.Key == key {
				return e.Value, true
			}
		}
	}
	return nil, false
}

func asList(v interface{}) ([]interface{}, bool) {
	switch l := v.(type) {
	case primitive.A:
		return []interface{}(l), true
	case []interface{}:
		return l, true
	case []string:
		out := make([]interface{}, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// storedValue converts BSON values into types the graph driver accepts
func storedValue(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.A, []interface{}:
		items, _ := asList(val)
		strs := make([]string, 0, len(items))
		mixed := make([]interface{}, 0, len(items))
		homogeneous := true
		for _, item := range items {
			converted := storedValue(item)
			mixed = append(mixed, converted)
			if s, ok := converted.(string); ok && homogeneous {
				strs = append(strs, s)
				continue
			}
			homogeneous = false
		}
		if homogeneous {
			return strs
		}
		return mixed
	}
	return v
}

// NormalizeStats counts what a normalization pass had to skip
type NormalizeStats struct {
	Skipped     int
	DroppedRefs int
}

// Normalizer canonicalizes identifiers and reshapes raw records into Records
type Normalizer struct {
	logger *logrus.Logger
}

// NewNormalizer creates a normalizer; a nil logger gets a JSON logger
func NewNormalizer(logger *logrus.Logger) *Normalizer {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Normalizer{logger: logger}
}

// Normalize converts one raw record of the given kind. A record without a
// usable identifier is rejected with ErrDataShape. Reference entries that
// cannot be canonicalized are dropped and counted in the second return value.
func (n *Normalizer) Normalize(kind Kind, raw RawRecord) (Record, int, error) {
	id, err := CanonicalID(raw[IDProperty])
	if err != nil {
		return Record{}, 0, errors.Wrapf(err, "%s record", kind.Label)
	}

	rec := Record{
		ID:         id,
		Properties: make(map[string]interface{}, len(kind.StoredFields)),
	}
	for _, field := range kind.StoredFields {
		if v, ok := raw[field]; ok && v != nil {
			rec.Properties[field] = storedValue(v)
		}
	}

	dropped := 0
	for _, field := range kind.ReferenceFields {
		if _, ok := raw[field]; !ok {
			continue
		}
		UnwrapStage(raw, field, kind.StageKey)

		items, ok := asList(raw[field])
		if !ok {
			n.logger.WithFields(logrus.Fields{
				"label": kind.Label,
				"id":    id,
				"name":  rec.Name(),
				"field": field,
				"type":  fmt.Sprintf("%T", raw[field]),
			}).Warn("Reference field is not a list, no edges derived")
			continue
		}

		refs := make([]string, 0, len(items))
		for _, item := range items {
			ref, err := CanonicalID(item)
			if err != nil {
				dropped++
				n.logger.WithError(err).WithFields(logrus.Fields{
					"label": kind.Label,
					"id":    id,
					"name":  rec.Name(),
					"field": field,
				}).Warn("Dropping unusable reference")
				continue
			}
			refs = append(refs, ref)
		}
		if rec.References == nil {
			rec.References = make(map[string][]string, len(kind.ReferenceFields))
		}
		rec.References[field] = refs
	}

	return rec, dropped, nil
}

// NormalizeAll normalizes every raw record, skipping the ones that cannot be keyed
func (n *Normalizer) NormalizeAll(kind Kind, raws []RawRecord) ([]Record, NormalizeStats) {
	var stats NormalizeStats
	records := make([]Record, 0, len(raws))
	for _, raw := range raws {
		rec, dropped, err := n.Normalize(kind, raw)
		stats.DroppedRefs += dropped
		if err != nil {
			stats.Skipped++
			n.logger.WithError(err).WithField("label", kind.Label).Warn("Skipping record")
			continue
		}
		records = append(records, rec)
	}
	return records, stats
}
