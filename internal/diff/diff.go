// Package diff computes PATCH payloads and relationship references for resources declared
// in package schema.
package diff

import (
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/noah-isme/collections-gateway/internal/models"
	"github.com/noah-isme/collections-gateway/internal/schema"
)

// Difference returns the payload to send for updated. A resource without identity is
// returned unchanged. Otherwise the result holds id, type and every declared key of updated
// whose value is not deep-equal to the original. Nested values are compared whole and
// relationship fields are compared by their references only.
//
// A nil schema compares every key of updated.
func Difference(s *schema.Schema, original, updated models.Values) models.Values {
	if !original.Persisted() {
		return updated
	}

	out := models.Values{"id": original.ID(), "type": original.Type()}
	if updated.Persisted() {
		out["id"] = updated.ID()
	}
	if typ := updated.Type(); typ != "" {
		out["type"] = typ
	}
	if s != nil && out.Type() == "" {
		out["type"] = s.Type
	}

	for _, key := range candidateKeys(s, updated) {
		before, after := original[key], updated[key]
		if s != nil {
			if f, ok := s.Field(key); ok && f.IsRelationship() {
				if sameReferences(f, before, after) {
					continue
				}
				out[key] = after
				continue
			}
		}
		if !Equal(before, after) {
			out[key] = after
		}
	}
	return out
}

// Changed reports whether the difference carries anything besides identity.
func Changed(payload models.Values) bool {
	for key := range payload {
		if key != "id" && key != "type" {
			return true
		}
	}
	return false
}

func candidateKeys(s *schema.Schema, updated models.Values) []string {
	if s == nil {
		keys := make([]string, 0, len(updated))
		for key := range updated {
			if key != "id" && key != "type" {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)
		return keys
	}
	keys := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		if updated.Has(f.Name) {
			keys = append(keys, f.Name)
		}
	}
	return keys
}

func sameReferences(f schema.Field, before, after interface{}) bool {
	if f.Kind == schema.ToOne {
		a, b := toReference(before, f.Target), toReference(after, f.Target)
		if a == nil || b == nil {
			return a == nil && b == nil
		}
		return *a == *b
	}
	return cmp.Equal(toReferences(before, f.Target), toReferences(after, f.Target))
}

// Equal is strict deep equality over JSON-normalised values, so 1 and 1.0 are equal but
// nil and an empty list are not.
func Equal(a, b interface{}) bool {
	na, errA := models.Normalize(a)
	nb, errB := models.Normalize(b)
	if errA != nil || errB != nil {
		return cmp.Equal(a, b)
	}
	return cmp.Equal(na, nb)
}

// Edited reports whether a sub-form was changed relative to the values it was loaded with.
// Missing keys, nulls and empty collections are treated alike so that form normalisation
// alone never counts as an edit.
func Edited(initial, submitted models.Values) bool {
	a, errA := models.Normalize(compact(initial))
	b, errB := models.Normalize(compact(submitted))
	if errA != nil || errB != nil {
		return true
	}
	return !cmp.Equal(a, b, cmpopts.EquateEmpty())
}

func compact(values models.Values) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for key, value := range values {
		if isEmpty(value) {
			continue
		}
		out[key] = value
	}
	return out
}

func isEmpty(value interface{}) bool {
	if value == nil {
		return true
	}
	if list, ok := models.AsList(value); ok {
		return len(list) == 0
	}
	if obj, ok := models.AsObject(value); ok {
		return len(obj) == 0
	}
	return false
}
