package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/collections-gateway/internal/models"
	"github.com/noah-isme/collections-gateway/internal/schema"
	"github.com/noah-isme/collections-gateway/internal/section"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
)

type sessionStore interface {
	Get(ctx context.Context, id string) (*models.EditSession, error)
	Save(ctx context.Context, session *models.EditSession, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	AcquireSubmitLock(ctx context.Context, id string, ttl time.Duration) (string, bool, error)
	ReleaseSubmitLock(ctx context.Context, id, token string) error
}

type sampleLoader interface {
	MaterialSample(ctx context.Context, id string) (models.Values, error)
	CollectingEvent(ctx context.Context, id string) (models.Values, error)
	AcquisitionEvent(ctx context.Context, id string) (models.Values, error)
}

type sampleSubmitter interface {
	OnSubmit(ctx context.Context, in SampleInput) (*SampleSubmitResult, error)
	Preview(ctx context.Context, in SampleInput) (*SamplePreview, error)
}

type preferenceProvider interface {
	Get(ctx context.Context, username string) (*models.UserPreference, error)
	RememberCollection(ctx context.Context, username, collectionID string)
}

// SessionConfig tunes edit sessions.
type SessionConfig struct {
	TTL            time.Duration
	SubmitLockTTL  time.Duration
	ConfirmDisable bool
}

// SessionService manages material sample edit sessions: opening, section toggles, previews
// and guarded submissions.
type SessionService struct {
	store       sessionStore
	loader      sampleLoader
	samples     sampleSubmitter
	preferences preferenceProvider
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         SessionConfig
	now         func() time.Time
}

// NewSessionService constructs the session service.
func NewSessionService(store sessionStore, loader sampleLoader, samples sampleSubmitter, preferences preferenceProvider, validate *validator.Validate, logger *zap.Logger, cfg SessionConfig) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 12 * time.Hour
	}
	if cfg.SubmitLockTTL <= 0 {
		cfg.SubmitLockTTL = 2 * time.Minute
	}
	return &SessionService{
		store:       store,
		loader:      loader,
		samples:     samples,
		preferences: preferences,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Open starts an edit session for an existing material sample or a new one.
func (s *SessionService) Open(ctx context.Context, claims *models.JWTClaims, req models.OpenSessionRequest) (*models.EditSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session request")
	}
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}

	now := s.now()
	session := &models.EditSession{
		ID:           uuid.NewString(),
		Username:     claims.Username,
		ResourceType: schema.TypeMaterialSample,
		BulkMode:     req.BulkMode,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if req.ID != "" {
		if err := s.loadExisting(ctx, session, req.ID); err != nil {
			return nil, err
		}
	} else {
		group, err := s.newSampleDefaults(ctx, claims, session, req.Group)
		if err != nil {
			return nil, err
		}
		session.Group = group
	}
	session.Sections = section.Initial(session.Initial, req.TemplateFields)

	if err := s.store.Save(ctx, session, s.cfg.TTL); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store edit session")
	}
	s.logger.Info("edit session opened",
		zap.String("session_id", session.ID),
		zap.String("username", session.Username),
		zap.String("resource_id", session.Original.ID()),
		zap.Bool("bulk_mode", session.BulkMode),
	)
	return session, nil
}

func (s *SessionService) loadExisting(ctx context.Context, session *models.EditSession, id string) error {
	sample, err := s.loader.MaterialSample(ctx, id)
	if err != nil {
		return err
	}
	session.Initial = sample
	session.Original = storedSample(sample)
	session.Group = models.StringField(sample, "group")

	if ref, ok := models.AsObject(sample["collectingEvent"]); ok {
		if ceID := models.StringField(ref, "id"); ceID != "" {
			ce, err := s.loader.CollectingEvent(ctx, ceID)
			if err != nil {
				return err
			}
			session.CollectingEventInitial = ce
		}
	}
	if ref, ok := models.AsObject(sample["acquisitionEvent"]); ok {
		if aeID := models.StringField(ref, "id"); aeID != "" {
			ae, err := s.loader.AcquisitionEvent(ctx, aeID)
			if err != nil {
				return err
			}
			session.AcquisitionEventInitial = ae
		}
	}
	return nil
}

// newSampleDefaults seeds a new sample from the user's preferences. It returns the group
// the sample is created in.
func (s *SessionService) newSampleDefaults(ctx context.Context, claims *models.JWTClaims, session *models.EditSession, group string) (string, error) {
	pref, err := s.preferences.Get(ctx, claims.Username)
	if err != nil {
		return "", err
	}
	if group == "" && pref.DefaultGroup != nil {
		group = *pref.DefaultGroup
	}
	if group == "" {
		group = claims.DefaultGroup()
	}

	initial := models.Values{
		"type":               schema.TypeMaterialSample,
		"group":              group,
		"publiclyReleasable": true,
	}
	if pref.LastUsedCollectionID != nil && *pref.LastUsedCollectionID != "" {
		initial["collection"] = models.Ref(*pref.LastUsedCollectionID, "collection")
	}
	session.Initial = initial
	session.CollectingEventInitial = newCollectingEvent(group)
	session.AcquisitionEventInitial = models.Values{"type": schema.TypeAcquisitionEvent, "group": group}
	return group, nil
}

func newCollectingEvent(group string) models.Values {
	return models.Values{
		"type":                        schema.TypeCollectingEvent,
		"group":                       group,
		"publiclyReleasable":          true,
		"dwcVerbatimCoordinateSystem": "decimal degrees",
		"dwcVerbatimSRS":              "WGS84 (EPSG:4326)",
	}
}

// storedSample converts a loaded sample to the shape the save transforms produce, so that
// diffs only report real edits.
func storedSample(sample models.Values) models.Values {
	out := sample.Clone()
	out, _ = flattenManagedAttributes(context.Background(), out)
	out, _ = determinersToIDs(context.Background(), out)
	return out
}

// Get returns a session owned by the caller.
func (s *SessionService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.EditSession, error) {
	session, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ownsSession(claims, session) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "edit session belongs to another user")
	}
	return session, nil
}

// Delete discards a session.
func (s *SessionService) Delete(ctx context.Context, claims *models.JWTClaims, id string) error {
	if _, err := s.Get(ctx, claims, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete edit session")
	}
	return nil
}

// SetSection switches a section on or off.
func (s *SessionService) SetSection(ctx context.Context, claims *models.JWTClaims, id, name string, enabled bool) (*section.Change, error) {
	return s.toggle(ctx, claims, id, name, func(t *section.Toggles, n section.Name) (section.Change, error) {
		return t.SetEnabled(n, enabled)
	})
}

// ConfirmSection completes a pending disable.
func (s *SessionService) ConfirmSection(ctx context.Context, claims *models.JWTClaims, id, name string) (*section.Change, error) {
	return s.toggle(ctx, claims, id, name, (*section.Toggles).Confirm)
}

// CancelSection aborts a pending disable.
func (s *SessionService) CancelSection(ctx context.Context, claims *models.JWTClaims, id, name string) (*section.Change, error) {
	return s.toggle(ctx, claims, id, name, (*section.Toggles).Cancel)
}

func (s *SessionService) toggle(ctx context.Context, claims *models.JWTClaims, id, raw string, apply func(*section.Toggles, section.Name) (section.Change, error)) (*section.Change, error) {
	name, ok := section.Parse(raw)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnknownSection, "unknown form section: "+raw)
	}
	session, err := s.Get(ctx, claims, id)
	if err != nil {
		return nil, err
	}
	toggles := section.NewToggles(session.Sections, section.Options{ConfirmDisable: s.cfg.ConfirmDisable, BulkMode: session.BulkMode})
	change, err := apply(toggles, name)
	if err != nil {
		return nil, err
	}
	session.Sections = toggles.States()
	if err := s.persist(ctx, session); err != nil {
		return nil, err
	}
	return &change, nil
}

// Preview returns the write plan of a submission without saving.
func (s *SessionService) Preview(ctx context.Context, claims *models.JWTClaims, id string, req models.SubmitSessionRequest) (*SamplePreview, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission payload")
	}
	session, err := s.Get(ctx, claims, id)
	if err != nil {
		return nil, err
	}
	values, err := bindSubmission(session, req.Values)
	if err != nil {
		return nil, err
	}
	return s.samples.Preview(ctx, SampleInput{
		Session:          session,
		Submitted:        values,
		CollectingEvent:  req.CollectingEvent,
		AcquisitionEvent: req.AcquisitionEvent,
	})
}

// Submit saves the session's material sample. Only one submission per session runs at a
// time and the session is loaded under that lock. The session is stored after every
// attempt.
func (s *SessionService) Submit(ctx context.Context, claims *models.JWTClaims, id string, req models.SubmitSessionRequest) (*SampleSubmitResult, error) {
	if claims == nil || !claims.Role.CanWrite() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role may not modify records")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission payload")
	}

	token, locked, err := s.store.AcquireSubmitLock(ctx, id, s.cfg.SubmitLockTTL)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock edit session")
	}
	if !locked {
		return nil, appErrors.ErrSubmitInProgress
	}
	defer func() {
		if err := s.store.ReleaseSubmitLock(context.WithoutCancel(ctx), id, token); err != nil {
			s.logger.Warn("failed to release submit lock", zap.String("session_id", id), zap.Error(err))
		}
	}()

	session, err := s.Get(ctx, claims, id)
	if err != nil {
		return nil, err
	}
	values, err := bindSubmission(session, req.Values)
	if err != nil {
		return nil, err
	}
	req.Values = values

	if req.AllowDuplicateName != "" {
		session.AllowedDuplicateName = req.AllowDuplicateName
	}

	res, submitErr := s.samples.OnSubmit(ctx, SampleInput{
		Session:          session,
		Submitted:        values,
		CollectingEvent:  req.CollectingEvent,
		AcquisitionEvent: req.AcquisitionEvent,
	})
	if submitErr == nil {
		s.applySaved(ctx, session, res, req)
	}
	if err := s.persist(context.WithoutCancel(ctx), session); err != nil {
		if submitErr != nil {
			return nil, submitErr
		}
		return nil, err
	}
	if submitErr != nil {
		return nil, submitErr
	}
	return res, nil
}

// bindSubmission ties the submitted values to the session's resource. A session for a new
// sample never submits an id.
func bindSubmission(session *models.EditSession, submitted models.Values) (models.Values, error) {
	if !session.Original.Persisted() {
		if _, ok := submitted["id"]; !ok {
			return submitted, nil
		}
		out := submitted.Clone()
		delete(out, "id")
		return out, nil
	}
	if id := submitted.ID(); id != "" && id != session.Original.ID() {
		return nil, appErrors.WithFields(
			appErrors.Clone(appErrors.ErrValidation, "id mismatch between edit session and submitted values"),
			appErrors.FieldErrors{"id": "does not match the edited sample"},
		)
	}
	return submitted, nil
}

func (s *SessionService) applySaved(ctx context.Context, session *models.EditSession, res *SampleSubmitResult, req models.SubmitSessionRequest) {
	saved := res.Resource
	if id := saved.ID(); id != "" {
		session.LastSavedID = id
	}
	session.SaveCount++
	session.AllowedDuplicateName = ""
	if res.CollectingEvent != nil {
		session.CollectingEventInitial = res.CollectingEvent
	}
	if res.AcquisitionEvent != nil {
		session.AcquisitionEventInitial = res.AcquisitionEvent
	}

	collection, hasCollection := models.AsObject(req.Values["collection"])
	if req.CreateNext {
		next := models.Values{"type": schema.TypeMaterialSample, "group": session.Group, "publiclyReleasable": true}
		if hasCollection {
			next["collection"] = models.Ref(models.StringField(collection, "id"), "collection")
		}
		session.Initial = next
		session.Original = nil
	} else {
		session.Original = storedSample(saved)
		session.Initial = formSample(session.Original)
	}

	if hasCollection {
		s.preferences.RememberCollection(ctx, session.Username, models.StringField(collection, "id"))
	}
}

// formSample is the inverse of storedSample for managed attributes.
func formSample(stored models.Values) models.Values {
	out := stored.Clone()
	if managed, ok := models.AsObject(out["managedAttributes"]); ok {
		out["managedAttributeValues"] = ToManagedAttributeValues(managed)
		delete(out, "managedAttributes")
	}
	return out
}

func (s *SessionService) persist(ctx context.Context, session *models.EditSession) error {
	session.UpdatedAt = s.now()
	if err := s.store.Save(ctx, session, s.cfg.TTL); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store edit session")
	}
	return nil
}

func ownsSession(claims *models.JWTClaims, session *models.EditSession) bool {
	if claims == nil {
		return false
	}
	return claims.Role == models.RoleAdmin || claims.Username == session.Username
}
