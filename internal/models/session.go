package models

import "time"

// SectionStatus is the toggle state of an optional form section.
type SectionStatus string

const (
	SectionEnabled        SectionStatus = "ENABLED"
	SectionPendingDisable SectionStatus = "PENDING_DISABLE"
	SectionDisabled       SectionStatus = "DISABLED"
)

// Included reports whether the section's data is sent on submit. A pending disable keeps
// the data until it is confirmed.
func (s SectionStatus) Included() bool {
	return s == SectionEnabled || s == SectionPendingDisable
}

// EditSession is the server-side state of one composite form editing session.
type EditSession struct {
	ID           string                   `json:"id"`
	Username     string                   `json:"username"`
	Group        string                   `json:"group,omitempty"`
	ResourceType string                   `json:"resourceType"`
	BulkMode     bool                     `json:"bulkMode"`
	// Initial holds the values the form starts from, Original the stored state used for diffs.
	Initial      Values                   `json:"initial"`
	Original     Values                   `json:"original"`
	Sections     map[string]SectionStatus `json:"sections"`
	// Initial sub-resource values used for edit detection.
	CollectingEventInitial  Values    `json:"collectingEventInitial,omitempty"`
	AcquisitionEventInitial Values    `json:"acquisitionEventInitial,omitempty"`
	AllowedDuplicateName    string    `json:"allowedDuplicateName,omitempty"`
	LastSavedID             string    `json:"lastSavedId,omitempty"`
	SaveCount               int       `json:"saveCount"`
	CreatedAt               time.Time `json:"createdAt"`
	UpdatedAt               time.Time `json:"updatedAt"`
}

// SectionEnabled reports whether a section is currently included in submissions.
func (s *EditSession) SectionEnabled(name string) bool {
	if s == nil || s.Sections == nil {
		return false
	}
	return s.Sections[name].Included()
}

// OpenSessionRequest is the payload for POST /sessions.
type OpenSessionRequest struct {
	// ID loads an existing material sample. Empty starts a new one from defaults.
	ID             string   `json:"id" validate:"omitempty,uuid"`
	Group          string   `json:"group" validate:"omitempty,max=100"`
	BulkMode       bool     `json:"bulkMode"`
	TemplateFields []string `json:"templateFields" validate:"omitempty,dive,required"`
}

// SubmitSessionRequest is the payload for POST /sessions/:id/submit and /preview.
type SubmitSessionRequest struct {
	Values           Values `json:"values" validate:"required"`
	CollectingEvent  Values `json:"collectingEvent"`
	AcquisitionEvent Values `json:"acquisitionEvent"`
	// AllowDuplicateName confirms saving under a name reported as duplicate.
	AllowDuplicateName string `json:"allowDuplicateName"`
	// CreateNext resets the session to a new sample after a successful save.
	CreateNext bool `json:"createNext"`
}

// SetSectionRequest is the payload for PUT /sessions/:id/sections/:section.
type SetSectionRequest struct {
	Enabled *bool `json:"enabled" binding:"required" validate:"required"`
}

