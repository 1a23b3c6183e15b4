package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/collections-gateway/internal/diff"
	"github.com/noah-isme/collections-gateway/internal/models"
	"github.com/noah-isme/collections-gateway/internal/repository"
	"github.com/noah-isme/collections-gateway/internal/schema"
	"github.com/noah-isme/collections-gateway/internal/section"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
	"github.com/noah-isme/collections-gateway/pkg/rsql"
)

type resourceLister interface {
	List(ctx context.Context, service, typ string, params repository.ListParams) ([]models.Values, error)
}

// sampleNameLookupLimit caps the association look-up query.
const sampleNameLookupLimit = 1000

// MaterialSampleConfig tunes the material sample pipeline.
type MaterialSampleConfig struct {
	DuplicateCheck bool
	LookupTTL      time.Duration
}

// SampleInput is one material sample submission with its nested sub-forms.
type SampleInput struct {
	Session          *models.EditSession
	Submitted        models.Values
	CollectingEvent  models.Values
	AcquisitionEvent models.Values
	// DryRun validates and plans sub-form saves without writing.
	DryRun bool
}

// PreparedSample is the resolved sample input together with the sub-resources it links.
type PreparedSample struct {
	Values           models.Values             `json:"values"`
	CollectingEvent  models.Values             `json:"collectingEvent,omitempty"`
	AcquisitionEvent models.Values             `json:"acquisitionEvent,omitempty"`
	SubForms         map[string]*SaveOperation `json:"subForms,omitempty"`
}

// SampleSubmitResult is the outcome of a material sample submission.
type SampleSubmitResult struct {
	*SubmitResult
	CollectingEvent  models.Values `json:"collectingEvent,omitempty"`
	AcquisitionEvent models.Values `json:"acquisitionEvent,omitempty"`
}

// SamplePreview is the full write plan of a submission.
type SamplePreview struct {
	SubForms map[string]*SaveOperation `json:"subForms,omitempty"`
	Sample   *SaveOperation            `json:"sample"`
}

// MaterialSampleService saves material samples with their collecting and acquisition
// events, section toggles and form transforms applied.
type MaterialSampleService struct {
	submitter *SubmitService
	lister    resourceLister
	cache     *CacheService
	logger    *zap.Logger
	cfg       MaterialSampleConfig
}

// NewMaterialSampleService constructs the service.
func NewMaterialSampleService(submitter *SubmitService, lister resourceLister, cache *CacheService, logger *zap.Logger, cfg MaterialSampleConfig) *MaterialSampleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LookupTTL <= 0 {
		cfg.LookupTTL = 30 * time.Minute
	}
	return &MaterialSampleService{submitter: submitter, lister: lister, cache: cache, logger: logger, cfg: cfg}
}

type subForm struct {
	field     string
	section   section.Name
	schema    *schema.Schema
	initial   models.Values
	submitted models.Values
}

// subFormPlan is a validated sub-form. An edited sub-form carries its write plan and the
// config it is saved with.
type subFormPlan struct {
	form     subForm
	link     map[string]interface{}
	resolved models.Values
	op       *SaveOperation
	cfg      SubmitConfig
}

// PrepareSampleInput clears disabled sections and resolves the collecting and acquisition
// event links, saving a sub-resource first when its sub-form was edited. Every sub-form and
// the sample itself are validated before the first write; sub-form errors are keyed under
// the sub-form name.
func (s *MaterialSampleService) PrepareSampleInput(ctx context.Context, in SampleInput) (*PreparedSample, error) {
	if in.Session == nil {
		return nil, appErrors.ErrSessionNotFound
	}
	values := s.applySections(in.Session, in.Submitted)
	prepared := &PreparedSample{Values: values}

	forms := []subForm{
		{field: "collectingEvent", section: section.CollectingEvent, schema: schema.CollectingEvent, initial: in.Session.CollectingEventInitial, submitted: in.CollectingEvent},
		{field: "acquisitionEvent", section: section.AcquisitionEvent, schema: schema.AcquisitionEvent, initial: in.Session.AcquisitionEventInitial, submitted: in.AcquisitionEvent},
	}
	plans := make([]subFormPlan, 0, len(forms))
	pending := false
	for _, form := range forms {
		if !in.Session.SectionEnabled(string(form.section)) {
			continue
		}
		plan, err := s.planSubForm(ctx, form)
		if err != nil {
			return nil, err
		}
		if plan.op != nil {
			pending = true
		}
		plans = append(plans, plan)
	}

	save := pending && !in.DryRun
	if save {
		if err := s.validateSample(ctx, in.Session, values); err != nil {
			return nil, err
		}
	}

	for _, plan := range plans {
		if save && plan.op != nil {
			if err := s.saveSubForm(ctx, &plan); err != nil {
				return nil, err
			}
		}
		if plan.link != nil {
			values[plan.form.field] = plan.link
		}
		if plan.op != nil {
			if prepared.SubForms == nil {
				prepared.SubForms = map[string]*SaveOperation{}
			}
			prepared.SubForms[plan.form.field] = plan.op
		}
		switch plan.form.field {
		case "collectingEvent":
			prepared.CollectingEvent = plan.resolved
		case "acquisitionEvent":
			prepared.AcquisitionEvent = plan.resolved
		}
	}
	return prepared, nil
}

// applySections clears disabled sections. In bulk mode disabled sections are left out
// entirely so they do not override the edited samples.
func (s *MaterialSampleService) applySections(session *models.EditSession, submitted models.Values) models.Values {
	toggles := section.NewToggles(session.Sections, section.Options{BulkMode: session.BulkMode})
	if !session.BulkMode {
		return toggles.Apply(submitted)
	}
	out := submitted.Clone()
	if out == nil {
		out = models.Values{}
	}
	for _, name := range section.All() {
		if toggles.Enabled(name) {
			continue
		}
		def, _ := section.Lookup(name)
		for _, field := range def.Fields {
			delete(out, field)
		}
	}
	return out
}

// planSubForm validates an edited sub-form and returns its write plan. Untouched
// sub-forms resolve to their existing link.
func (s *MaterialSampleService) planSubForm(ctx context.Context, form subForm) (subFormPlan, error) {
	plan := subFormPlan{form: form}
	if form.initial.Persisted() {
		plan.link = models.Ref(form.initial.ID(), form.schema.Type)
	}
	if form.submitted == nil {
		plan.resolved = form.initial
		return plan, nil
	}

	// An untouched sub-form is linked as loaded and never written.
	if !diff.Edited(form.initial, form.submitted) {
		if plan.link != nil {
			plan.resolved = form.initial
			return plan, nil
		}
		plan.link = models.Ref("", form.schema.Type)
		return plan, nil
	}

	var original models.Values
	if form.initial.Persisted() {
		original = form.initial
	}
	plan.cfg = SubmitConfig{Schema: form.schema, Original: original, Transforms: subFormTransforms(form.schema)}
	op, err := s.submitter.Preview(ctx, plan.cfg, form.submitted)
	if err != nil {
		return plan, appErrors.PrefixFields(err, form.field)
	}
	plan.op = op
	plan.resolved = form.submitted
	return plan, nil
}

// saveSubForm writes an already validated sub-form and links the saved resource.
func (s *MaterialSampleService) saveSubForm(ctx context.Context, plan *subFormPlan) error {
	cfg := plan.cfg
	cfg.SkipValidation = true
	res, err := s.submitter.Submit(ctx, cfg, plan.form.submitted)
	if err != nil {
		return appErrors.PrefixFields(err, plan.form.field)
	}
	saved := res.Resource
	id := saved.ID()
	if id == "" {
		id = plan.form.initial.ID()
	}
	s.logger.Debug("sub-resource saved", zap.String("field", plan.form.field), zap.String("id", id))
	plan.link = models.Ref(id, plan.form.schema.Type)
	plan.resolved = saved
	plan.op = nil
	return nil
}

// validateSample checks the sample the way its save will see it, after the sample
// transforms.
func (s *MaterialSampleService) validateSample(ctx context.Context, session *models.EditSession, values models.Values) error {
	cfg := s.sampleConfig(session)
	prepared, err := s.submitter.prepareValues(ctx, cfg, values)
	if err != nil {
		return err
	}
	return s.submitter.Validate(cfg.Schema, prepared)
}

// OnSubmit saves a material sample: duplicate-name guard for new samples, section and
// sub-form resolution, transforms and the differential save.
func (s *MaterialSampleService) OnSubmit(ctx context.Context, in SampleInput) (*SampleSubmitResult, error) {
	if in.Session == nil {
		return nil, appErrors.ErrSessionNotFound
	}
	if !in.Session.Original.Persisted() && !in.Submitted.Persisted() {
		if err := s.checkDuplicateName(ctx, in.Session, in.Submitted); err != nil {
			return nil, err
		}
	}

	prepared, err := s.PrepareSampleInput(ctx, in)
	if err != nil {
		return nil, err
	}
	res, err := s.submitter.Submit(ctx, s.sampleConfig(in.Session), prepared.Values)
	if err != nil {
		return nil, err
	}
	return &SampleSubmitResult{SubmitResult: res, CollectingEvent: prepared.CollectingEvent, AcquisitionEvent: prepared.AcquisitionEvent}, nil
}

// Preview returns what a submission would write without writing anything.
func (s *MaterialSampleService) Preview(ctx context.Context, in SampleInput) (*SamplePreview, error) {
	in.DryRun = true
	prepared, err := s.PrepareSampleInput(ctx, in)
	if err != nil {
		return nil, err
	}
	op, err := s.submitter.Preview(ctx, s.sampleConfig(in.Session), prepared.Values)
	if err != nil {
		return nil, err
	}
	return &SamplePreview{SubForms: prepared.SubForms, Sample: op}, nil
}

func (s *MaterialSampleService) sampleConfig(session *models.EditSession) SubmitConfig {
	var original models.Values
	if session.Original.Persisted() {
		original = session.Original
	}
	return SubmitConfig{
		Schema:   schema.MaterialSample,
		Original: original,
		Transforms: []Transform{
			flattenManagedAttributes,
			determinersToIDs,
			s.resolveAssociatedSamples(session.ID),
		},
	}
}

// checkDuplicateName looks for an existing sample with the submitted name. A name the
// user already confirmed is allowed until the session's next successful save.
func (s *MaterialSampleService) checkDuplicateName(ctx context.Context, session *models.EditSession, submitted models.Values) error {
	if !s.cfg.DuplicateCheck {
		return nil
	}
	name := strings.TrimSpace(models.StringField(submitted, "materialSampleName"))
	if name == "" {
		return nil
	}
	if session.AllowedDuplicateName != "" && session.AllowedDuplicateName == name {
		return nil
	}

	filter := rsql.Node(rsql.Eq("materialSampleName", name))
	if group := models.StringField(submitted, "group"); group != "" {
		filter = rsql.And(filter, rsql.Eq("group", group))
	}
	found, err := s.lister.List(ctx, schema.CollectionAPI, schema.TypeMaterialSample, repository.ListParams{
		Filter: filter.String(),
		Fields: map[string]string{schema.TypeMaterialSample: "materialSampleName"},
		Limit:  1,
	})
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return nil
	}
	dup := appErrors.WithFields(
		appErrors.Clone(appErrors.ErrDuplicateName, fmt.Sprintf("material sample name %q is already in use", name)),
		appErrors.FieldErrors{"materialSampleName": "duplicate name"},
	)
	dup.Recoverable = true
	return dup
}

func subFormTransforms(sc *schema.Schema) []Transform {
	if sc == schema.CollectingEvent {
		return []Transform{clearEmptyRecordNumbers, georeferencersToIDs}
	}
	return nil
}

// flattenManagedAttributes turns {key: {assignedValue}} form values into the stored
// managedAttributes map.
func flattenManagedAttributes(_ context.Context, values models.Values) (models.Values, error) {
	raw, ok := values["managedAttributeValues"]
	if !ok {
		return values, nil
	}
	delete(values, "managedAttributeValues")
	managed := map[string]interface{}{}
	entries, _ := models.AsObject(raw)
	for key, entry := range entries {
		obj, ok := models.AsObject(entry)
		if !ok {
			continue
		}
		managed[key] = obj["assignedValue"]
	}
	values["managedAttributes"] = managed
	return values, nil
}

// determinersToIDs replaces determiner person objects with their ids.
func determinersToIDs(_ context.Context, values models.Values) (models.Values, error) {
	determinations, ok := models.AsList(values["determination"])
	if !ok {
		return values, nil
	}
	for _, item := range determinations {
		if obj, ok := models.AsObject(item); ok && obj["determiner"] != nil {
			obj["determiner"] = personIDs(obj["determiner"])
		}
	}
	return values, nil
}

// georeferencersToIDs replaces georeferencedBy person objects with their ids.
func georeferencersToIDs(_ context.Context, values models.Values) (models.Values, error) {
	assertions, ok := models.AsList(values["geoReferenceAssertions"])
	if !ok {
		return values, nil
	}
	for _, item := range assertions {
		if obj, ok := models.AsObject(item); ok && obj["georeferencedBy"] != nil {
			obj["georeferencedBy"] = personIDs(obj["georeferencedBy"])
		}
	}
	return values, nil
}

func personIDs(value interface{}) interface{} {
	list, ok := models.AsList(value)
	if !ok {
		return value
	}
	ids := make([]interface{}, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case string:
			ids = append(ids, v)
		default:
			if obj, ok := models.AsObject(v); ok {
				ids = append(ids, obj["id"])
			}
		}
	}
	return ids
}

// clearEmptyRecordNumbers sends null instead of an empty list.
func clearEmptyRecordNumbers(_ context.Context, values models.Values) (models.Values, error) {
	if list, ok := models.AsList(values["dwcOtherRecordNumbers"]); ok && len(list) == 0 {
		values["dwcOtherRecordNumbers"] = nil
	}
	return values, nil
}

// resolveAssociatedSamples replaces associatedSample names with sample ids. Resolved names
// are cached per session.
func (s *MaterialSampleService) resolveAssociatedSamples(sessionID string) Transform {
	return func(ctx context.Context, values models.Values) (models.Values, error) {
		associations, ok := models.AsList(values["associations"])
		if !ok || len(associations) == 0 {
			return values, nil
		}

		pending := map[string][]map[string]interface{}{}
		var names []string
		for _, item := range associations {
			obj, ok := models.AsObject(item)
			if !ok {
				continue
			}
			switch ref := obj["associatedSample"].(type) {
			case string:
				if ref == "" {
					continue
				}
				if _, err := uuid.Parse(ref); err == nil {
					continue
				}
				if _, queued := pending[ref]; !queued {
					names = append(names, ref)
				}
				pending[ref] = append(pending[ref], obj)
			default:
				if linked, ok := models.AsObject(ref); ok {
					obj["associatedSample"] = linked["id"]
				}
			}
		}
		if len(names) == 0 {
			return values, nil
		}

		ids, err := s.lookupSampleIDs(ctx, sessionID, names)
		if err != nil {
			return nil, err
		}
		fields := appErrors.FieldErrors{}
		for i, item := range associations {
			obj, _ := models.AsObject(item)
			name, isName := obj["associatedSample"].(string)
			if !isName || pending[name] == nil {
				continue
			}
			if id, found := ids[name]; found {
				obj["associatedSample"] = id
				continue
			}
			fields[fmt.Sprintf("associations.%d.associatedSample", i)] = fmt.Sprintf("no material sample named %q", name)
		}
		if len(fields) > 0 {
			return nil, schema.ValidationError(fields)
		}
		return values, nil
	}
}

func (s *MaterialSampleService) lookupSampleIDs(ctx context.Context, sessionID string, names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = sampleNameCacheKey(sessionID, name)
	}
	cached := s.cache.GetMany(ctx, keys)
	var missing []string
	for i, name := range names {
		var id string
		if raw, ok := cached[keys[i]]; ok && json.Unmarshal(raw, &id) == nil && id != "" {
			out[name] = id
			continue
		}
		missing = append(missing, name)
	}
	if len(missing) == 0 {
		return out, nil
	}

	found, err := s.lister.List(ctx, schema.CollectionAPI, schema.TypeMaterialSample, repository.ListParams{
		Filter: rsql.In("materialSampleName", missing...).String(),
		Fields: map[string]string{schema.TypeMaterialSample: "id,materialSampleName"},
		Limit:  sampleNameLookupLimit,
	})
	if err != nil {
		return nil, err
	}
	for _, sample := range found {
		name := models.StringField(sample, "materialSampleName")
		if name == "" || sample.ID() == "" {
			continue
		}
		if _, dup := out[name]; dup {
			continue
		}
		out[name] = sample.ID()
		_ = s.cache.Set(ctx, sampleNameCacheKey(sessionID, name), sample.ID(), s.cfg.LookupTTL)
	}
	return out, nil
}

func sampleNameCacheKey(sessionID, name string) string {
	return "session:" + sessionID + ":sample-name:" + name
}
