package models

import (
	"encoding/json"
	"fmt"
)

// Values is the JSON-normalised form state of one resource: id, type, attributes and
// relationship fields embedded as {id,type,...} objects or arrays of them.
type Values map[string]interface{}

// ID returns the resource identity or "" when the resource is not persisted yet.
func (v Values) ID() string {
	if v == nil {
		return ""
	}
	switch id := v["id"].(type) {
	case string:
		return id
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

// Type returns the JSON:API resource type.
func (v Values) Type() string {
	if v == nil {
		return ""
	}
	typ, _ := v["type"].(string)
	return typ
}

// Persisted reports whether the resource already has an identity.
func (v Values) Persisted() bool {
	return v.ID() != ""
}

// Has reports whether key is present, even with a nil value.
func (v Values) Has(key string) bool {
	_, ok := v[key]
	return ok
}

// Clone deep copies the value tree.
func (v Values) Clone() Values {
	if v == nil {
		return nil
	}
	return cloneValue(map[string]interface{}(v)).(map[string]interface{})
}

func cloneValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case Values:
		return Values(cloneValue(map[string]interface{}(typed)).(map[string]interface{}))
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, item := range typed {
			out[k] = cloneValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return typed
	}
}

// Normalize converts any JSON-marshalable value into plain JSON types (maps, slices,
// float64, string, bool, nil) so that deep comparisons are representation independent.
func Normalize(value interface{}) (interface{}, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return out, nil
}

// NormalizeValues normalises every entry of a resource map.
func NormalizeValues(in map[string]interface{}) (Values, error) {
	if in == nil {
		return nil, nil
	}
	out, err := Normalize(in)
	if err != nil {
		return nil, err
	}
	m, ok := out.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("normalize values: expected object, got %T", out)
	}
	return Values(m), nil
}

// Ref builds a {id,type} link. An empty id produces the cleared form {id:null,type}.
func Ref(id, typ string) map[string]interface{} {
	if id == "" {
		return map[string]interface{}{"id": nil, "type": typ}
	}
	return map[string]interface{}{"id": id, "type": typ}
}

// AsObject returns value as a JSON object if it is one.
func AsObject(value interface{}) (map[string]interface{}, bool) {
	switch typed := value.(type) {
	case Values:
		return map[string]interface{}(typed), true
	case map[string]interface{}:
		return typed, true
	default:
		return nil, false
	}
}

// AsList returns value as a JSON array if it is one.
func AsList(value interface{}) ([]interface{}, bool) {
	switch typed := value.(type) {
	case []interface{}:
		return typed, true
	case []map[string]interface{}:
		out := make([]interface{}, len(typed))
		for i, item := range typed {
			out[i] = item
		}
		return out, true
	default:
		return nil, false
	}
}

// StringField reads a string attribute from a JSON object.
func StringField(obj map[string]interface{}, key string) string {
	if obj == nil {
		return ""
	}
	switch v := obj[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
