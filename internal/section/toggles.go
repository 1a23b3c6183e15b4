package section

import (
	"github.com/noah-isme/collections-gateway/internal/models"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
)

// Options configure a toggle set.
type Options struct {
	// ConfirmDisable makes switching a section off a two step transition.
	ConfirmDisable bool
	// BulkMode suppresses seeding so empty sections mean "no override".
	BulkMode bool
}

// Change is the outcome of a toggle request.
type Change struct {
	Section Name                   `json:"section"`
	Status  models.SectionStatus   `json:"status"`
	Seed    map[string]interface{} `json:"seed,omitempty"`
}

// Toggles is the enable state of every optional section of one form.
type Toggles struct {
	states map[Name]models.SectionStatus
	opts   Options
}

// NewToggles wraps persisted states. Unknown names are ignored and missing sections start
// disabled.
func NewToggles(states map[string]models.SectionStatus, opts Options) *Toggles {
	t := &Toggles{states: make(map[Name]models.SectionStatus, len(definitions)), opts: opts}
	for _, d := range definitions {
		status, ok := states[string(d.Name)]
		if !ok || status == "" {
			status = models.SectionDisabled
		}
		t.states[d.Name] = status
	}
	return t
}

// Status returns the current status of a section.
func (t *Toggles) Status(name Name) models.SectionStatus {
	return t.states[name]
}

// Enabled reports whether the section's data is included on submit.
func (t *Toggles) Enabled(name Name) bool {
	return t.states[name].Included()
}

// SetEnabled requests a section on or off. Switching on an already enabled section or off
// a disabled one is a no-op. Switching on a disabled section returns its seed unless in
// bulk mode; switching on a pending section cancels the pending disable.
func (t *Toggles) SetEnabled(name Name, enabled bool) (Change, error) {
	def, ok := byName[name]
	if !ok {
		return Change{}, appErrors.Clone(appErrors.ErrUnknownSection, "unknown form section: "+string(name))
	}
	current := t.states[name]
	change := Change{Section: name}

	if enabled {
		switch current {
		case models.SectionDisabled:
			if !t.opts.BulkMode {
				change.Seed = def.Seed()
			}
			t.states[name] = models.SectionEnabled
		case models.SectionPendingDisable:
			t.states[name] = models.SectionEnabled
		}
		change.Status = t.states[name]
		return change, nil
	}

	if current == models.SectionEnabled {
		if t.opts.ConfirmDisable {
			t.states[name] = models.SectionPendingDisable
		} else {
			t.states[name] = models.SectionDisabled
		}
	}
	change.Status = t.states[name]
	return change, nil
}

// Confirm completes a pending disable.
func (t *Toggles) Confirm(name Name) (Change, error) {
	return t.resolve(name, models.SectionDisabled)
}

// Cancel aborts a pending disable and keeps the section on.
func (t *Toggles) Cancel(name Name) (Change, error) {
	return t.resolve(name, models.SectionEnabled)
}

func (t *Toggles) resolve(name Name, to models.SectionStatus) (Change, error) {
	if _, ok := byName[name]; !ok {
		return Change{}, appErrors.Clone(appErrors.ErrUnknownSection, "unknown form section: "+string(name))
	}
	if t.states[name] != models.SectionPendingDisable {
		return Change{}, appErrors.Clone(appErrors.ErrSectionState, "section "+string(name)+" has no pending disable")
	}
	t.states[name] = to
	return Change{Section: name, Status: to}, nil
}

// States returns the persisted form of the toggles.
func (t *Toggles) States() map[string]models.SectionStatus {
	out := make(map[string]models.SectionStatus, len(t.states))
	for name, status := range t.states {
		out[string(name)] = status
	}
	return out
}

// Apply returns a copy of values where every disabled section's fields hold the section's
// cleared sentinel, whatever the sub-form currently contains.
func (t *Toggles) Apply(values models.Values) models.Values {
	out := values.Clone()
	if out == nil {
		out = models.Values{}
	}
	for _, d := range definitions {
		if t.Enabled(d.Name) {
			continue
		}
		for key, value := range d.Cleared() {
			out[key] = value
		}
	}
	return out
}
