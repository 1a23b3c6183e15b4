// Package jsonapi holds the wire types shared with the JSON:API back-ends and the
// json-patch "operations" extension they expose.
package jsonapi

import (
	"encoding/json"
	"strings"
)

const (
	// MediaType is the JSON:API content type.
	MediaType = "application/vnd.api+json"
	// PatchMediaType is used for the bulk operations endpoint.
	PatchMediaType = "application/json-patch+json"
	// CompactHeader asks the back-end to omit empty links blocks.
	CompactHeader = "Crnk-Compact"
)

// ResourceIdentifier is the minimal {id, type} pointer used inside relationships.
type ResourceIdentifier struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Relationship wraps relationship data. Data is nil (JSON null), a ResourceIdentifier or a
// []ResourceIdentifier.
type Relationship struct {
	Data interface{} `json:"data"`
}

// ToOne builds a to-one relationship; an empty id clears the link.
func ToOne(id, typ string) Relationship {
	if id == "" {
		return Relationship{Data: nil}
	}
	return Relationship{Data: ResourceIdentifier{ID: id, Type: typ}}
}

// ToMany builds a to-many relationship. A nil slice is sent as an empty array.
func ToMany(refs []ResourceIdentifier) Relationship {
	if refs == nil {
		refs = []ResourceIdentifier{}
	}
	return Relationship{Data: refs}
}

// ResourceObject is a serialised resource.
type ResourceObject struct {
	ID            string                     `json:"id,omitempty"`
	Type          string                     `json:"type"`
	Attributes    map[string]interface{}     `json:"attributes,omitempty"`
	Relationships map[string]json.RawMessage `json:"relationships,omitempty"`
}

// ErrorSource points at the offending attribute.
type ErrorSource struct {
	Pointer string `json:"pointer,omitempty"`
}

// ErrorObject is a JSON:API error entry.
type ErrorObject struct {
	Status string       `json:"status,omitempty"`
	Title  string       `json:"title,omitempty"`
	Detail string       `json:"detail,omitempty"`
	Source *ErrorSource `json:"source,omitempty"`
}

// Operation is one entry of a json-patch operations request.
type Operation struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value *ResourceObject `json:"value,omitempty"`
}

// OperationResponse is one entry of an operations response.
type OperationResponse struct {
	Data     json.RawMessage `json:"data,omitempty"`
	Included json.RawMessage `json:"included,omitempty"`
	Status   int             `json:"status"`
	Errors   []ErrorObject   `json:"errors,omitempty"`
}

// Document is a top level JSON:API document.
type Document struct {
	Data     json.RawMessage `json:"data,omitempty"`
	Included json.RawMessage `json:"included,omitempty"`
	Errors   []ErrorObject   `json:"errors,omitempty"`
	Meta     json.RawMessage `json:"meta,omitempty"`
}

// Succeeded reports whether the operation status is 2xx.
func (r OperationResponse) Succeeded() bool {
	return r.Status >= 200 && r.Status < 300
}

// IsNullData reports whether the response carries no resource.
func (r OperationResponse) IsNullData() bool {
	trimmed := strings.TrimSpace(string(r.Data))
	return trimmed == "" || trimmed == "null"
}

// SaveArg is one create, update or delete request for the operations client. Resource
// without an id is created, with an id it is patched. Delete takes precedence when set.
type SaveArg struct {
	Type          string                  `json:"type"`
	Resource      map[string]interface{}  `json:"resource,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
	Delete        *ResourceIdentifier     `json:"delete,omitempty"`
}

// DeleteArg builds a delete save argument.
func DeleteArg(id, typ string) SaveArg {
	return SaveArg{Type: typ, Delete: &ResourceIdentifier{ID: id, Type: typ}}
}
