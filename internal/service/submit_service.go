package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/collections-gateway/internal/diff"
	"github.com/noah-isme/collections-gateway/internal/models"
	"github.com/noah-isme/collections-gateway/internal/repository"
	"github.com/noah-isme/collections-gateway/internal/schema"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
	"github.com/noah-isme/collections-gateway/pkg/jsonapi"
)

type resourceSaver interface {
	Save(ctx context.Context, service string, args []jsonapi.SaveArg, opts repository.OperationOptions) ([]models.Values, error)
}

type submitObserver interface {
	ObserveSubmit(resource, outcome string, duration time.Duration)
}

// Transform rewrites submitted values before they are diffed.
type Transform func(ctx context.Context, values models.Values) (models.Values, error)

// SaveHook runs with the prepared operation right before anything is written.
type SaveHook func(ctx context.Context, op *SaveOperation) error

// ResultHook receives the saved resource.
type ResultHook func(ctx context.Context, saved models.Values) error

// SubmitConfig describes one submission of a form.
type SubmitConfig struct {
	Schema *schema.Schema
	// Original is the resource as loaded. A nil or id-less original means create.
	Original   models.Values
	Transforms []Transform
	BeforeSave SaveHook
	OnSuccess  ResultHook
	AfterSave  ResultHook
	Options    repository.OperationOptions
	// SkipValidation is used when the caller already validated the values.
	SkipValidation bool
}

// NestedSave lists the items of one save-first relationship that must be written before
// the owner, and the removed items deleted after it.
type NestedSave struct {
	Field   string            `json:"field"`
	Type    string            `json:"type"`
	Service string            `json:"service"`
	Items   []models.Values   `json:"items,omitempty"`
	Deletes []jsonapi.SaveArg `json:"deletes,omitempty"`

	positions []int
	schema    *schema.Schema
}

// SaveOperation is the computed write plan of a submission.
type SaveOperation struct {
	Create  bool            `json:"create"`
	Changed bool            `json:"changed"`
	Payload models.Values   `json:"payload"`
	Primary jsonapi.SaveArg `json:"primary"`
	Nested  []NestedSave    `json:"nested,omitempty"`

	values models.Values
}

// SubmitResult reports what a submission wrote.
type SubmitResult struct {
	Resource    models.Values                `json:"resource"`
	Saved       bool                         `json:"saved"`
	NestedSaved int                          `json:"nestedSaved"`
	Deleted     []jsonapi.ResourceIdentifier `json:"deleted,omitempty"`
}

// SubmitService coordinates nested saves, diffing, relationship projection and the primary
// create-or-update call of a form submission.
type SubmitService struct {
	saver    resourceSaver
	validate *validator.Validate
	logger   *zap.Logger
	observer submitObserver
}

// SubmitOption customises the service.
type SubmitOption func(*SubmitService)

// WithSubmitObserver records submit outcomes.
func WithSubmitObserver(observer submitObserver) SubmitOption {
	return func(s *SubmitService) {
		s.observer = observer
	}
}

// NewSubmitService constructs the coordinator.
func NewSubmitService(saver resourceSaver, validate *validator.Validate, logger *zap.Logger, opts ...SubmitOption) *SubmitService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SubmitService{saver: saver, validate: validate, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit runs the full pipeline: transforms, validation, save-first relationships, diff,
// primary save, removals and the success hooks. Nothing is written when the submission
// carries no change; OnSuccess then receives the original.
func (s *SubmitService) Submit(ctx context.Context, cfg SubmitConfig, submitted models.Values) (result *SubmitResult, err error) {
	if cfg.Schema == nil {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedSchema, "submission has no resource schema")
	}
	start := time.Now()
	outcome := "saved"
	defer func() {
		if err != nil {
			outcome = appErrors.FromError(err).Code
		}
		if s.observer != nil {
			s.observer.ObserveSubmit(cfg.Schema.Type, outcome, time.Since(start))
		}
	}()

	values, err := s.prepareValues(ctx, cfg, submitted)
	if err != nil {
		return nil, err
	}
	if !cfg.SkipValidation {
		if err := s.Validate(cfg.Schema, values); err != nil {
			return nil, err
		}
	}

	op, err := PrepareSaveOperation(cfg.Schema, cfg.Original, values)
	if err != nil {
		return nil, err
	}
	if !op.Changed {
		outcome = "unchanged"
		if cfg.OnSuccess != nil {
			if err := cfg.OnSuccess(ctx, cfg.Original); err != nil {
				return nil, err
			}
		}
		return &SubmitResult{Resource: cfg.Original, Saved: false}, nil
	}

	if cfg.BeforeSave != nil {
		if err := cfg.BeforeSave(ctx, op); err != nil {
			return nil, err
		}
	}

	result = &SubmitResult{}
	resolved := op.values
	for _, nested := range op.Nested {
		if len(nested.Items) == 0 {
			continue
		}
		saved, err := s.saveNested(ctx, nested, cfg.Options)
		if err != nil {
			return nil, err
		}
		list, _ := models.AsList(resolved[nested.Field])
		for i, pos := range nested.positions {
			list[pos] = map[string]interface{}(saved[i])
		}
		resolved[nested.Field] = list
		result.NestedSaved += len(saved)
	}

	saved := cfg.Original
	payload := diff.Difference(cfg.Schema, cfg.Original, resolved)
	if op.Create || diff.Changed(payload) {
		arg, err := diff.SaveArg(cfg.Schema, payload)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build save operation")
		}
		out, err := s.saver.Save(ctx, cfg.Schema.Service, []jsonapi.SaveArg{arg}, cfg.Options)
		if err != nil {
			return nil, err
		}
		if len(out) == 0 || out[0] == nil {
			return nil, appErrors.Clone(appErrors.ErrUpstream, "save returned no resource")
		}
		saved = out[0]
		result.Saved = true
	}

	for _, nested := range op.Nested {
		if len(nested.Deletes) == 0 {
			continue
		}
		if _, err := s.saver.Save(ctx, nested.Service, nested.Deletes, cfg.Options); err != nil {
			return nil, err
		}
		for _, d := range nested.Deletes {
			result.Deleted = append(result.Deleted, *d.Delete)
		}
		result.Saved = true
	}
	if result.NestedSaved > 0 {
		result.Saved = true
	}
	result.Resource = saved

	s.logger.Debug("submission saved",
		zap.String("type", cfg.Schema.Type),
		zap.String("id", saved.ID()),
		zap.Bool("create", op.Create),
		zap.Int("nested", result.NestedSaved),
		zap.Int("deleted", len(result.Deleted)),
	)

	if cfg.OnSuccess != nil {
		if err := cfg.OnSuccess(ctx, saved); err != nil {
			return nil, err
		}
	}
	if cfg.AfterSave != nil {
		if err := cfg.AfterSave(ctx, saved); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Preview runs transforms and validation and returns the write plan without saving.
func (s *SubmitService) Preview(ctx context.Context, cfg SubmitConfig, submitted models.Values) (*SaveOperation, error) {
	if cfg.Schema == nil {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedSchema, "submission has no resource schema")
	}
	values, err := s.prepareValues(ctx, cfg, submitted)
	if err != nil {
		return nil, err
	}
	if !cfg.SkipValidation {
		if err := s.Validate(cfg.Schema, values); err != nil {
			return nil, err
		}
	}
	return PrepareSaveOperation(cfg.Schema, cfg.Original, values)
}

// Validate checks values and the items of every save-first relationship. Nested errors are
// keyed as field.index.attribute.
func (s *SubmitService) Validate(sc *schema.Schema, values models.Values) error {
	fields := sc.Validate(s.validate, values)
	for _, f := range sc.NestedFields() {
		target, ok := schema.Lookup(f.Target)
		if !ok {
			continue
		}
		items, _ := models.AsList(values[f.Name])
		for i, item := range items {
			obj, ok := models.AsObject(item)
			if !ok {
				continue
			}
			for name, msg := range target.Validate(s.validate, models.Values(obj)) {
				if fields == nil {
					fields = appErrors.FieldErrors{}
				}
				fields[fmt.Sprintf("%s.%d.%s", f.Name, i, name)] = msg
			}
		}
	}
	return schema.ValidationError(fields)
}

func (s *SubmitService) prepareValues(ctx context.Context, cfg SubmitConfig, submitted models.Values) (models.Values, error) {
	values := submitted.Clone()
	if values == nil {
		values = models.Values{}
	}
	for _, transform := range cfg.Transforms {
		next, err := transform(ctx, values)
		if err != nil {
			return nil, err
		}
		if next != nil {
			values = next
		}
	}
	normalized, err := models.NormalizeValues(values)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "submitted values are not valid JSON")
	}
	sanitized, dropped := cfg.Schema.Sanitize(normalized)
	if len(dropped) > 0 {
		s.logger.Debug("ignored undeclared fields", zap.String("type", cfg.Schema.Type), zap.Strings("fields", dropped))
	}
	return sanitized, nil
}

func (s *SubmitService) saveNested(ctx context.Context, nested NestedSave, opts repository.OperationOptions) ([]models.Values, error) {
	args := make([]jsonapi.SaveArg, 0, len(nested.Items))
	for _, item := range nested.Items {
		arg, err := diff.SaveArg(nested.schema, item)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build nested save operation")
		}
		args = append(args, arg)
	}
	saved, err := s.saver.Save(ctx, nested.Service, args, opts)
	if err != nil {
		return nil, appErrors.PrefixFields(err, nested.Field)
	}
	if len(saved) != len(args) {
		return nil, appErrors.Clone(appErrors.ErrUpstream, fmt.Sprintf("expected %d saved %s resources, got %d", len(args), nested.Type, len(saved)))
	}
	for _, item := range saved {
		if item == nil {
			return nil, appErrors.Clone(appErrors.ErrUpstream, "nested save returned no resource for "+nested.Field)
		}
	}
	return saved, nil
}

// PrepareSaveOperation computes the write plan for already transformed values: the
// primary payload (full for creates, the difference otherwise), the new or modified items
// of save-first relationships and the removed items to delete. It performs no I/O.
func PrepareSaveOperation(sc *schema.Schema, original, submitted models.Values) (*SaveOperation, error) {
	if sc == nil {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedSchema, "submission has no resource schema")
	}
	values, _ := sc.Sanitize(submitted)
	if !values.Persisted() && original.Persisted() {
		values["id"] = original.ID()
	}

	op := &SaveOperation{Create: !original.Persisted(), values: values}
	for _, f := range sc.NestedFields() {
		target, ok := schema.Lookup(f.Target)
		if !ok || !values.Has(f.Name) {
			continue
		}
		nested := planNested(f, target, original[f.Name], values)
		if len(nested.Items) > 0 || len(nested.Deletes) > 0 {
			op.Nested = append(op.Nested, nested)
		}
	}

	op.Payload = diff.Difference(sc, original, values)
	arg, err := diff.SaveArg(sc, op.Payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build save operation")
	}
	op.Primary = arg
	op.Changed = op.Create || diff.Changed(op.Payload) || len(op.Nested) > 0
	return op, nil
}

func planNested(f schema.Field, target *schema.Schema, before interface{}, values models.Values) NestedSave {
	nested := NestedSave{Field: f.Name, Type: target.Type, Service: target.Service, schema: target}

	previous := map[string]models.Values{}
	var order []string
	beforeItems, _ := models.AsList(before)
	for _, item := range beforeItems {
		obj, ok := models.AsObject(item)
		if !ok {
			continue
		}
		prev, _ := target.Sanitize(models.Values(obj))
		if id := prev.ID(); id != "" {
			previous[id] = prev
			order = append(order, id)
		}
	}

	items, _ := models.AsList(values[f.Name])
	kept := make(map[string]bool, len(items))
	list := make([]interface{}, len(items))
	for i, raw := range items {
		list[i] = raw
		obj, ok := models.AsObject(raw)
		if !ok {
			continue
		}
		item, _ := target.Sanitize(models.Values(obj))
		list[i] = map[string]interface{}(item)
		if !item.Persisted() {
			nested.Items = append(nested.Items, item)
			nested.positions = append(nested.positions, i)
			continue
		}
		kept[item.ID()] = true
		// Linking an existing resource needs no write.
		prev, known := previous[item.ID()]
		if !known || !diff.Changed(diff.Difference(target, prev, item)) {
			continue
		}
		nested.Items = append(nested.Items, item)
		nested.positions = append(nested.positions, i)
	}
	values[f.Name] = list

	for _, id := range order {
		if !kept[id] {
			nested.Deletes = append(nested.Deletes, jsonapi.DeleteArg(id, target.Type))
		}
	}
	return nested
}
