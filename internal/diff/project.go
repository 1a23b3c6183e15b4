package diff

import (
	"fmt"

	"github.com/noah-isme/collections-gateway/internal/models"
	"github.com/noah-isme/collections-gateway/internal/schema"
	"github.com/noah-isme/collections-gateway/pkg/jsonapi"
)

// ToReferences strips linked objects down to {id, type}, keeping their order. Nil or empty
// input yields an empty list and items without an id are skipped. Projecting an already
// projected list returns it unchanged.
func ToReferences(items interface{}) []jsonapi.ResourceIdentifier {
	return toReferences(items, "")
}

func toReferences(items interface{}, fallbackType string) []jsonapi.ResourceIdentifier {
	out := []jsonapi.ResourceIdentifier{}
	switch list := items.(type) {
	case nil:
		return out
	case []jsonapi.ResourceIdentifier:
		for _, ref := range list {
			if ref.ID == "" {
				continue
			}
			if ref.Type == "" {
				ref.Type = fallbackType
			}
			out = append(out, ref)
		}
		return out
	case []models.Values:
		for _, item := range list {
			if ref := toReference(map[string]interface{}(item), fallbackType); ref != nil {
				out = append(out, *ref)
			}
		}
		return out
	}
	list, ok := models.AsList(items)
	if !ok {
		return out
	}
	for _, item := range list {
		if ref := toReference(item, fallbackType); ref != nil {
			out = append(out, *ref)
		}
	}
	return out
}

// toReference converts a linked object, identifier or bare id string into a reference.
// A missing or null id means the link is cleared and yields nil.
func toReference(value interface{}, fallbackType string) *jsonapi.ResourceIdentifier {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return &jsonapi.ResourceIdentifier{ID: v, Type: fallbackType}
	case jsonapi.ResourceIdentifier:
		if v.ID == "" {
			return nil
		}
		if v.Type == "" {
			v.Type = fallbackType
		}
		return &v
	case *jsonapi.ResourceIdentifier:
		if v == nil {
			return nil
		}
		return toReference(*v, fallbackType)
	}
	obj, ok := models.AsObject(value)
	if !ok {
		return nil
	}
	id := models.StringField(obj, "id")
	if id == "" {
		return nil
	}
	typ := models.StringField(obj, "type")
	if typ == "" {
		typ = fallbackType
	}
	return &jsonapi.ResourceIdentifier{ID: id, Type: typ}
}

// Project moves every relationship field present in payload into the relationships
// bucket. The returned attributes no longer contain those keys; payload is not modified.
func Project(s *schema.Schema, payload models.Values) (models.Values, map[string]jsonapi.Relationship) {
	attrs := make(models.Values, len(payload))
	for key, value := range payload {
		attrs[key] = value
	}
	rels := map[string]jsonapi.Relationship{}
	if s == nil {
		return attrs, rels
	}
	for _, f := range s.Relationships() {
		value, ok := payload[f.Name]
		if !ok {
			continue
		}
		delete(attrs, f.Name)
		switch f.Kind {
		case schema.ToOne:
			if ref := toReference(value, f.Target); ref != nil {
				rels[f.Name] = jsonapi.ToOne(ref.ID, ref.Type)
			} else {
				rels[f.Name] = jsonapi.ToOne("", f.Target)
			}
		case schema.ToMany:
			rels[f.Name] = jsonapi.ToMany(toReferences(value, f.Target))
		}
	}
	return attrs, rels
}

// SaveArg builds the save argument for a projected payload.
func SaveArg(s *schema.Schema, payload models.Values) (jsonapi.SaveArg, error) {
	if s == nil {
		return jsonapi.SaveArg{}, fmt.Errorf("save arg: schema is required")
	}
	attrs, rels := Project(s, payload)
	return jsonapi.SaveArg{Type: s.Type, Resource: attrs, Relationships: rels}, nil
}
