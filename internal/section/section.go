// Package section holds the optional form sections of a material sample, their cleared
// sentinels and their enable/disable state machine.
package section

import (
	"strings"

	"github.com/noah-isme/collections-gateway/internal/models"
)

// Name identifies an optional form section.
type Name string

const (
	CollectingEvent  Name = "collecting-event"
	AcquisitionEvent Name = "acquisition-event"
	Preparations     Name = "preparations"
	Organism         Name = "organism"
	Storage          Name = "storage"
	Determination    Name = "determination"
	ScheduledActions Name = "scheduled-actions"
	Associations     Name = "associations"
)

// Definition describes which fields a section owns and how it is cleared or seeded.
type Definition struct {
	Name Name
	// Fields are the material sample keys owned by the section.
	Fields []string
	// TemplatePrefixes enable the section when a form template enables a field under them.
	TemplatePrefixes []string
	cleared          func() map[string]interface{}
	seed             func() map[string]interface{}
}

// Cleared returns a fresh copy of the values the section's fields take when it is off.
func (d Definition) Cleared() map[string]interface{} {
	return d.cleared()
}

// Seed returns default sub-structure added when the section is switched on, or nil.
func (d Definition) Seed() map[string]interface{} {
	if d.seed == nil {
		return nil
	}
	return d.seed()
}

func link(typ string) map[string]interface{} {
	return map[string]interface{}{"id": nil, "type": typ}
}

// PreparationFields are the material sample fields owned by the preparations section.
var PreparationFields = []string{
	"preparationType",
	"preparationDate",
	"preparationMethod",
	"preservationType",
	"preparationFixative",
	"preparationMaterials",
	"preparationSubstrate",
	"preparedBy",
	"preparationRemarks",
	"dwcDegreeOfEstablishment",
	"preparationProtocol",
	"preparationManagedAttributes",
}

// BlankPreparation is the cleared value of every preparation field.
func BlankPreparation() map[string]interface{} {
	return map[string]interface{}{
		"preparationType":              link("preparation-type"),
		"preparationDate":              nil,
		"preparedBy":                   []interface{}{},
		"preparationRemarks":           nil,
		"dwcDegreeOfEstablishment":     nil,
		"preparationMethod":            link("preparation-method"),
		"preservationType":             nil,
		"preparationFixative":          nil,
		"preparationMaterials":         nil,
		"preparationSubstrate":         nil,
		"preparationProtocol":          link("protocol"),
		"preparationManagedAttributes": map[string]interface{}{},
	}
}

var definitions = []Definition{
	{
		Name:             CollectingEvent,
		Fields:           []string{"collectingEvent"},
		TemplatePrefixes: []string{"collectingEvent."},
		cleared: func() map[string]interface{} {
			return map[string]interface{}{"collectingEvent": link("collecting-event")}
		},
	},
	{
		Name:             AcquisitionEvent,
		Fields:           []string{"acquisitionEvent"},
		TemplatePrefixes: []string{"acquisitionEvent."},
		cleared: func() map[string]interface{} {
			return map[string]interface{}{"acquisitionEvent": link("acquisition-event")}
		},
	},
	{
		Name:             Preparations,
		Fields:           PreparationFields,
		TemplatePrefixes: PreparationFields,
		cleared:          BlankPreparation,
	},
	{
		Name:             Organism,
		Fields:           []string{"organism"},
		TemplatePrefixes: []string{"organism."},
		cleared: func() map[string]interface{} {
			return map[string]interface{}{"organism": []interface{}{}}
		},
		seed: func() map[string]interface{} {
			return map[string]interface{}{"organism": []interface{}{map[string]interface{}{"type": "organism"}}}
		},
	},
	{
		Name:             Storage,
		Fields:           []string{"storageUnit"},
		TemplatePrefixes: []string{"storageUnit"},
		cleared: func() map[string]interface{} {
			return map[string]interface{}{"storageUnit": link("storage-unit")}
		},
	},
	{
		Name:             Determination,
		Fields:           []string{"determination"},
		TemplatePrefixes: []string{"determination["},
		cleared: func() map[string]interface{} {
			return map[string]interface{}{"determination": []interface{}{}}
		},
		seed: func() map[string]interface{} {
			return map[string]interface{}{"determination": []interface{}{map[string]interface{}{"isPrimary": true}}}
		},
	},
	{
		Name:             ScheduledActions,
		Fields:           []string{"scheduledActions"},
		TemplatePrefixes: []string{"scheduledAction."},
		cleared: func() map[string]interface{} {
			return map[string]interface{}{"scheduledActions": []interface{}{}}
		},
	},
	{
		Name:             Associations,
		Fields:           []string{"associations", "hostOrganism"},
		TemplatePrefixes: []string{"association.", "hostOrganism."},
		cleared: func() map[string]interface{} {
			return map[string]interface{}{"associations": []interface{}{}, "hostOrganism": nil}
		},
	},
}

var byName = func() map[Name]Definition {
	out := make(map[Name]Definition, len(definitions))
	for _, d := range definitions {
		out[d.Name] = d
	}
	return out
}()

// All returns every section name in form order.
func All() []Name {
	out := make([]Name, len(definitions))
	for i, d := range definitions {
		out[i] = d.Name
	}
	return out
}

// Lookup returns the definition of a section.
func Lookup(name Name) (Definition, bool) {
	d, ok := byName[name]
	return d, ok
}

// Parse validates a section name coming from a request path.
func Parse(raw string) (Name, bool) {
	name := Name(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := byName[name]
	return name, ok
}

// Initial derives the starting state of every section: enabled when the resource already
// holds data for it or when the form template enables one of its fields.
func Initial(resource models.Values, templateFields []string) map[string]models.SectionStatus {
	out := make(map[string]models.SectionStatus, len(definitions))
	for _, d := range definitions {
		status := models.SectionDisabled
		if hasData(d, resource) || templateEnables(d, templateFields) {
			status = models.SectionEnabled
		}
		out[string(d.Name)] = status
	}
	return out
}

func hasData(d Definition, resource models.Values) bool {
	for _, field := range d.Fields {
		if present(resource[field]) {
			return true
		}
	}
	return false
}

func templateEnables(d Definition, templateFields []string) bool {
	for _, field := range templateFields {
		for _, prefix := range d.TemplatePrefixes {
			if field == prefix || strings.HasPrefix(field, prefix) {
				return true
			}
		}
	}
	return false
}

// present treats links without an id, blanks, false and empty collections as no data.
func present(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	}
	if list, ok := models.AsList(value); ok {
		return len(list) > 0
	}
	if obj, ok := models.AsObject(value); ok {
		if _, isLink := obj["type"]; isLink {
			return models.StringField(obj, "id") != ""
		}
		return len(obj) > 0
	}
	return true
}
