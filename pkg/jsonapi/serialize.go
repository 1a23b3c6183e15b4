package jsonapi

import (
	"encoding/json"
	"fmt"
)

// Serialize splits a flat resource map into a ResourceObject. Keys other than id and type
// become attributes; relationships are passed through untouched.
func Serialize(resource map[string]interface{}, relationships map[string]Relationship) (*ResourceObject, error) {
	obj := &ResourceObject{Attributes: map[string]interface{}{}}
	for key, value := range resource {
		switch key {
		case "id":
			if value != nil {
				obj.ID = fmt.Sprint(value)
			}
		case "type":
			typ, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("resource type must be a string, got %T", value)
			}
			obj.Type = typ
		default:
			obj.Attributes[key] = value
		}
	}
	if obj.Type == "" {
		return nil, fmt.Errorf("resource type is required")
	}
	if len(relationships) > 0 {
		obj.Relationships = make(map[string]json.RawMessage, len(relationships))
		for name, rel := range relationships {
			raw, err := json.Marshal(rel)
			if err != nil {
				return nil, fmt.Errorf("marshal relationship %s: %w", name, err)
			}
			obj.Relationships[name] = raw
		}
	}
	return obj, nil
}

type rawResource struct {
	ID            string                     `json:"id"`
	Type          string                     `json:"type"`
	Attributes    map[string]interface{}     `json:"attributes"`
	Relationships map[string]json.RawMessage `json:"relationships"`
}

type rawRelationship struct {
	Data json.RawMessage `json:"data"`
}

// Deserialize flattens a primary resource into a single map. Related resources found in
// included replace their identifiers; relationships with null data are omitted.
func Deserialize(data, included json.RawMessage) (map[string]interface{}, error) {
	if isNull(data) {
		return nil, nil
	}
	index, err := indexIncluded(included)
	if err != nil {
		return nil, err
	}
	var res rawResource
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	return flatten(res, index, true)
}

// DeserializeList flattens a collection document.
func DeserializeList(data, included json.RawMessage) ([]map[string]interface{}, error) {
	if isNull(data) {
		return nil, nil
	}
	index, err := indexIncluded(included)
	if err != nil {
		return nil, err
	}
	var list []rawResource
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode resource list: %w", err)
	}
	out := make([]map[string]interface{}, 0, len(list))
	for _, res := range list {
		flat, err := flatten(res, index, true)
		if err != nil {
			return nil, err
		}
		out = append(out, flat)
	}
	return out, nil
}

func flatten(res rawResource, index map[string]rawResource, expand bool) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(res.Attributes)+len(res.Relationships)+2)
	for k, v := range res.Attributes {
		out[k] = v
	}
	out["id"] = res.ID
	out["type"] = res.Type
	for name, raw := range res.Relationships {
		var rel rawRelationship
		if err := json.Unmarshal(raw, &rel); err != nil {
			return nil, fmt.Errorf("decode relationship %s: %w", name, err)
		}
		if isNull(rel.Data) {
			continue
		}
		if rel.Data[0] == '[' {
			var ids []ResourceIdentifier
			if err := json.Unmarshal(rel.Data, &ids); err != nil {
				return nil, fmt.Errorf("decode relationship %s: %w", name, err)
			}
			items := make([]interface{}, 0, len(ids))
			for _, id := range ids {
				items = append(items, resolve(id, index, expand))
			}
			out[name] = items
			continue
		}
		var id ResourceIdentifier
		if err := json.Unmarshal(rel.Data, &id); err != nil {
			return nil, fmt.Errorf("decode relationship %s: %w", name, err)
		}
		out[name] = resolve(id, index, expand)
	}
	return out, nil
}

func resolve(id ResourceIdentifier, index map[string]rawResource, expand bool) map[string]interface{} {
	if expand {
		if inc, ok := index[id.Type+"/"+id.ID]; ok {
			// Included resources are expanded one level only.
			if flat, err := flatten(inc, index, false); err == nil {
				return flat
			}
		}
	}
	return map[string]interface{}{"id": id.ID, "type": id.Type}
}

func indexIncluded(included json.RawMessage) (map[string]rawResource, error) {
	index := map[string]rawResource{}
	if isNull(included) {
		return index, nil
	}
	var list []rawResource
	if err := json.Unmarshal(included, &list); err != nil {
		return nil, fmt.Errorf("decode included: %w", err)
	}
	for _, res := range list {
		index[res.Type+"/"+res.ID] = res
	}
	return index, nil
}

func isNull(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case 'n':
			return true
		default:
			return false
		}
	}
	return true
}
