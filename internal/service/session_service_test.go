package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/collections-gateway/internal/models"
	"github.com/noah-isme/collections-gateway/internal/section"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
)

type sessionStoreStub struct {
	sessions map[string]*models.EditSession
	locked   map[string]string
	released []string
	calls    []string
	saves    int
	ttl      time.Duration
	tokens   int
}

func newSessionStoreStub() *sessionStoreStub {
	return &sessionStoreStub{sessions: map[string]*models.EditSession{}, locked: map[string]string{}}
}

func (s *sessionStoreStub) Get(ctx context.Context, id string) (*models.EditSession, error) {
	s.calls = append(s.calls, "get")
	session, ok := s.sessions[id]
	if !ok {
		return nil, appErrors.ErrSessionNotFound
	}
	return session, nil
}

func (s *sessionStoreStub) Save(ctx context.Context, session *models.EditSession, ttl time.Duration) error {
	s.calls = append(s.calls, "save")
	s.saves++
	s.ttl = ttl
	s.sessions[session.ID] = session
	return nil
}

func (s *sessionStoreStub) Delete(ctx context.Context, id string) error {
	delete(s.sessions, id)
	return nil
}

func (s *sessionStoreStub) AcquireSubmitLock(ctx context.Context, id string, ttl time.Duration) (string, bool, error) {
	s.calls = append(s.calls, "lock")
	if _, held := s.locked[id]; held {
		return "", false, nil
	}
	s.tokens++
	token := fmt.Sprintf("token-%d", s.tokens)
	s.locked[id] = token
	return token, true, nil
}

func (s *sessionStoreStub) ReleaseSubmitLock(ctx context.Context, id, token string) error {
	s.calls = append(s.calls, "unlock")
	s.released = append(s.released, token)
	if s.locked[id] == token {
		delete(s.locked, id)
	}
	return nil
}

type loaderStub struct {
	samples map[string]models.Values
	events  map[string]models.Values
}

func (l *loaderStub) MaterialSample(ctx context.Context, id string) (models.Values, error) {
	sample, ok := l.samples[id]
	if !ok {
		return nil, appErrors.ErrNotFound
	}
	return sample.Clone(), nil
}

func (l *loaderStub) CollectingEvent(ctx context.Context, id string) (models.Values, error) {
	return l.events[id].Clone(), nil
}

func (l *loaderStub) AcquisitionEvent(ctx context.Context, id string) (models.Values, error) {
	return l.events[id].Clone(), nil
}

type sampleSubmitterStub struct {
	inputs  []SampleInput
	allowed []string
	during  func()
	result  *SampleSubmitResult
	err     error
}

func (s *sampleSubmitterStub) OnSubmit(ctx context.Context, in SampleInput) (*SampleSubmitResult, error) {
	s.inputs = append(s.inputs, in)
	s.allowed = append(s.allowed, in.Session.AllowedDuplicateName)
	if s.during != nil {
		s.during()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *sampleSubmitterStub) Preview(ctx context.Context, in SampleInput) (*SamplePreview, error) {
	s.inputs = append(s.inputs, in)
	return &SamplePreview{}, nil
}

type preferenceStub struct {
	pref       *models.UserPreference
	remembered []string
}

func (p *preferenceStub) Get(ctx context.Context, username string) (*models.UserPreference, error) {
	if p.pref == nil {
		return &models.UserPreference{Username: username}, nil
	}
	return p.pref, nil
}

func (p *preferenceStub) RememberCollection(ctx context.Context, username, collectionID string) {
	p.remembered = append(p.remembered, username+":"+collectionID)
}

type sessionFixture struct {
	svc     *SessionService
	store   *sessionStoreStub
	loader  *loaderStub
	samples *sampleSubmitterStub
	prefs   *preferenceStub
}

func newSessionFixture(cfg SessionConfig) sessionFixture {
	f := sessionFixture{
		store:   newSessionStoreStub(),
		loader:  &loaderStub{samples: map[string]models.Values{}, events: map[string]models.Values{}},
		samples: &sampleSubmitterStub{},
		prefs:   &preferenceStub{},
	}
	f.svc = NewSessionService(f.store, f.loader, f.samples, f.prefs, nil, zap.NewNop(), cfg)
	return f
}

var editorClaims = &models.JWTClaims{Username: "jdoe", Role: models.RoleUser, Groups: []string{"cnc", "aafc"}}

func TestSessionOpenNewSampleFromPreferences(t *testing.T) {
	f := newSessionFixture(SessionConfig{TTL: time.Hour})
	collection := "2f0e1f38-6d3c-4f05-9f4b-1b8f0f6b9c11"
	f.prefs.pref = &models.UserPreference{Username: "jdoe", LastUsedCollectionID: &collection}

	session, err := f.svc.Open(context.Background(), editorClaims, models.OpenSessionRequest{TemplateFields: []string{"organism.lifeStage"}})
	require.NoError(t, err)

	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "jdoe", session.Username)
	assert.Equal(t, "cnc", session.Group)
	assert.Nil(t, session.Original)
	assert.Equal(t, true, session.Initial["publiclyReleasable"])
	assert.Equal(t, models.Ref(collection, "collection"), session.Initial["collection"])
	assert.Equal(t, "decimal degrees", session.CollectingEventInitial["dwcVerbatimCoordinateSystem"])
	assert.Equal(t, models.SectionEnabled, session.Sections[string(section.Organism)])
	assert.Equal(t, models.SectionDisabled, session.Sections[string(section.CollectingEvent)])
	assert.Equal(t, time.Hour, f.store.ttl)
}

func TestSessionOpenExistingSample(t *testing.T) {
	f := newSessionFixture(SessionConfig{})
	f.loader.samples["ms-1"] = models.Values{
		"id":                     "ms-1",
		"type":                   "material-sample",
		"group":                  "aafc",
		"materialSampleName":     "S-1",
		"collectingEvent":        map[string]interface{}{"id": "ce-1", "type": "collecting-event"},
		"managedAttributeValues": map[string]interface{}{"color": map[string]interface{}{"assignedValue": "red"}},
		"determination": []interface{}{
			map[string]interface{}{"verbatimScientificName": "x", "determiner": []interface{}{
				map[string]interface{}{"id": "person-1", "type": "person", "displayName": "Ann"},
			}},
		},
	}
	f.loader.events["ce-1"] = models.Values{"id": "ce-1", "type": "collecting-event", "startEventDateTime": "2020-01-01"}

	session, err := f.svc.Open(context.Background(), editorClaims, models.OpenSessionRequest{ID: "7d6b7a0e-3f59-4d7e-8f4b-2f7c0f0b6c11"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	assert.Nil(t, session)

	f.loader.samples["7d6b7a0e-3f59-4d7e-8f4b-2f7c0f0b6c11"] = f.loader.samples["ms-1"]
	session, err = f.svc.Open(context.Background(), editorClaims, models.OpenSessionRequest{ID: "7d6b7a0e-3f59-4d7e-8f4b-2f7c0f0b6c11"})
	require.NoError(t, err)

	assert.Equal(t, "aafc", session.Group)
	assert.Equal(t, "ce-1", session.CollectingEventInitial.ID())
	assert.Equal(t, map[string]interface{}{"color": "red"}, session.Original["managedAttributes"])
	assert.NotContains(t, session.Original, "managedAttributeValues")
	assert.Contains(t, session.Initial, "managedAttributeValues")
	determinations, _ := models.AsList(session.Original["determination"])
	first, _ := models.AsObject(determinations[0])
	assert.Equal(t, []interface{}{"person-1"}, first["determiner"])
	assert.Equal(t, models.SectionEnabled, session.Sections[string(section.CollectingEvent)])
	assert.Equal(t, models.SectionEnabled, session.Sections[string(section.Determination)])
}

func TestSessionGetRejectsOtherUsers(t *testing.T) {
	f := newSessionFixture(SessionConfig{})
	f.store.sessions["s-1"] = &models.EditSession{ID: "s-1", Username: "someone-else"}

	_, err := f.svc.Get(context.Background(), editorClaims, "s-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	admin := &models.JWTClaims{Username: "root", Role: models.RoleAdmin}
	session, err := f.svc.Get(context.Background(), admin, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", session.ID)

	_, err = f.svc.Get(context.Background(), editorClaims, "missing")
	assert.True(t, errors.Is(err, appErrors.ErrSessionNotFound))
}

func TestSessionSectionDisableNeedsConfirmation(t *testing.T) {
	f := newSessionFixture(SessionConfig{ConfirmDisable: true})
	f.store.sessions["s-1"] = &models.EditSession{
		ID:       "s-1",
		Username: "jdoe",
		Sections: map[string]models.SectionStatus{string(section.Organism): models.SectionEnabled},
	}

	change, err := f.svc.SetSection(context.Background(), editorClaims, "s-1", "organism", false)
	require.NoError(t, err)
	assert.Equal(t, models.SectionPendingDisable, change.Status)
	assert.Equal(t, models.SectionPendingDisable, f.store.sessions["s-1"].Sections["organism"])

	change, err = f.svc.CancelSection(context.Background(), editorClaims, "s-1", "organism")
	require.NoError(t, err)
	assert.Equal(t, models.SectionEnabled, change.Status)

	_, err = f.svc.SetSection(context.Background(), editorClaims, "s-1", "organism", false)
	require.NoError(t, err)
	change, err = f.svc.ConfirmSection(context.Background(), editorClaims, "s-1", "organism")
	require.NoError(t, err)
	assert.Equal(t, models.SectionDisabled, change.Status)
	assert.Equal(t, models.SectionDisabled, f.store.sessions["s-1"].Sections["organism"])

	_, err = f.svc.ConfirmSection(context.Background(), editorClaims, "s-1", "organism")
	assert.True(t, errors.Is(err, appErrors.ErrSectionState))

	_, err = f.svc.SetSection(context.Background(), editorClaims, "s-1", "weather", true)
	assert.True(t, errors.Is(err, appErrors.ErrUnknownSection))
}

func TestSessionSubmitRejectsConcurrentSubmission(t *testing.T) {
	f := newSessionFixture(SessionConfig{})
	f.store.sessions["s-1"] = &models.EditSession{ID: "s-1", Username: "jdoe"}
	f.store.locked["s-1"] = "token-other"

	_, err := f.svc.Submit(context.Background(), editorClaims, "s-1", models.SubmitSessionRequest{Values: models.Values{"materialSampleName": "S-1"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrSubmitInProgress))
	assert.Empty(t, f.samples.inputs)
}

func TestSessionSubmitRequiresWriteRole(t *testing.T) {
	f := newSessionFixture(SessionConfig{})
	f.store.sessions["s-1"] = &models.EditSession{ID: "s-1", Username: "guest"}
	guest := &models.JWTClaims{Username: "guest", Role: models.RoleReadOnly}

	_, err := f.svc.Submit(context.Background(), guest, "s-1", models.SubmitSessionRequest{Values: models.Values{}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestSessionSubmitStoresSavedState(t *testing.T) {
	f := newSessionFixture(SessionConfig{})
	f.store.sessions["s-1"] = &models.EditSession{ID: "s-1", Username: "jdoe", Group: "cnc"}
	f.samples.result = &SampleSubmitResult{
		SubmitResult: &SubmitResult{
			Saved: true,
			Resource: models.Values{
				"id":                "ms-9",
				"type":              "material-sample",
				"managedAttributes": map[string]interface{}{"color": "red"},
			},
		},
		CollectingEvent: models.Values{"id": "ce-9", "type": "collecting-event"},
	}

	res, err := f.svc.Submit(context.Background(), editorClaims, "s-1", models.SubmitSessionRequest{
		Values:             models.Values{"materialSampleName": "S-1", "collection": map[string]interface{}{"id": "col-1", "type": "collection"}},
		AllowDuplicateName: "S-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ms-9", res.Resource.ID())

	assert.Equal(t, []string{"S-1"}, f.samples.allowed)

	session := f.store.sessions["s-1"]
	assert.Empty(t, session.AllowedDuplicateName)
	assert.Equal(t, "ms-9", session.LastSavedID)
	assert.Equal(t, 1, session.SaveCount)
	assert.Equal(t, "ms-9", session.Original.ID())
	assert.Equal(t, map[string]interface{}{"color": map[string]interface{}{"assignedValue": "red"}}, session.Initial["managedAttributeValues"])
	assert.Equal(t, "ce-9", session.CollectingEventInitial.ID())
	assert.Equal(t, []string{"jdoe:col-1"}, f.prefs.remembered)
	assert.Empty(t, f.store.locked)
}

func TestSessionSubmitCreateNextResetsOriginal(t *testing.T) {
	f := newSessionFixture(SessionConfig{})
	f.store.sessions["s-1"] = &models.EditSession{ID: "s-1", Username: "jdoe", Group: "cnc"}
	f.samples.result = &SampleSubmitResult{SubmitResult: &SubmitResult{Saved: true, Resource: models.Values{"id": "ms-9", "type": "material-sample"}}}

	_, err := f.svc.Submit(context.Background(), editorClaims, "s-1", models.SubmitSessionRequest{
		Values:     models.Values{"collection": map[string]interface{}{"id": "col-1", "type": "collection"}},
		CreateNext: true,
	})
	require.NoError(t, err)

	session := f.store.sessions["s-1"]
	assert.Nil(t, session.Original)
	assert.Equal(t, "ms-9", session.LastSavedID)
	assert.Equal(t, models.Ref("col-1", "collection"), session.Initial["collection"])
	assert.Equal(t, "cnc", session.Initial["group"])
}

func TestSessionSubmitFailureStillPersistsSession(t *testing.T) {
	f := newSessionFixture(SessionConfig{})
	f.store.sessions["s-1"] = &models.EditSession{ID: "s-1", Username: "jdoe"}
	f.samples.err = appErrors.Clone(appErrors.ErrUpstream, "network down")

	_, err := f.svc.Submit(context.Background(), editorClaims, "s-1", models.SubmitSessionRequest{
		Values:             models.Values{"materialSampleName": "S-1"},
		AllowDuplicateName: "S-1",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUpstream))

	session := f.store.sessions["s-1"]
	assert.Equal(t, 0, session.SaveCount)
	assert.Equal(t, "S-1", session.AllowedDuplicateName)
	assert.Equal(t, 1, f.store.saves)
	assert.Empty(t, f.store.locked)
}

func TestSessionDelete(t *testing.T) {
	f := newSessionFixture(SessionConfig{})
	f.store.sessions["s-1"] = &models.EditSession{ID: "s-1", Username: "jdoe"}

	require.NoError(t, f.svc.Delete(context.Background(), editorClaims, "s-1"))
	assert.Empty(t, f.store.sessions)
}

func TestSessionSubmitLoadsSessionUnderLock(t *testing.T) {
	f := newSessionFixture(SessionConfig{})
	f.store.sessions["s-1"] = &models.EditSession{ID: "s-1", Username: "jdoe"}
	f.samples.result = &SampleSubmitResult{SubmitResult: &SubmitResult{Saved: true, Resource: models.Values{"id": "ms-9", "type": "material-sample"}}}

	_, err := f.svc.Submit(context.Background(), editorClaims, "s-1", models.SubmitSessionRequest{Values: models.Values{"materialSampleName": "S-1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"lock", "get", "save", "unlock"}, f.store.calls)
	assert.Equal(t, []string{"token-1"}, f.store.released)
}

func TestSessionSubmitReleasesLockWhenSessionIsForeign(t *testing.T) {
	f := newSessionFixture(SessionConfig{})
	f.store.sessions["s-1"] = &models.EditSession{ID: "s-1", Username: "someone-else"}

	_, err := f.svc.Submit(context.Background(), editorClaims, "s-1", models.SubmitSessionRequest{Values: models.Values{}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	assert.Equal(t, []string{"lock", "get", "unlock"}, f.store.calls)
	assert.Empty(t, f.store.locked)
	assert.Empty(t, f.samples.inputs)
}

func TestSessionSubmitReleasesOnlyItsOwnLock(t *testing.T) {
	f := newSessionFixture(SessionConfig{})
	f.store.sessions["s-1"] = &models.EditSession{ID: "s-1", Username: "jdoe"}
	f.samples.result = &SampleSubmitResult{SubmitResult: &SubmitResult{Saved: true, Resource: models.Values{"id": "ms-9", "type": "material-sample"}}}
	// The lock expires mid-save and a later submission takes it.
	f.samples.during = func() { f.store.locked["s-1"] = "token-later" }

	_, err := f.svc.Submit(context.Background(), editorClaims, "s-1", models.SubmitSessionRequest{Values: models.Values{"materialSampleName": "S-1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"token-1"}, f.store.released)
	assert.Equal(t, "token-later", f.store.locked["s-1"])
}

func TestSessionSubmitRejectsMismatchedID(t *testing.T) {
	f := newSessionFixture(SessionConfig{})
	f.store.sessions["s-1"] = &models.EditSession{
		ID:       "s-1",
		Username: "jdoe",
		Original: models.Values{"id": "sample-1", "type": "material-sample", "group": "cnc"},
	}
	req := models.SubmitSessionRequest{Values: models.Values{"id": "sample-OTHER", "barcode": "b"}}

	_, err := f.svc.Submit(context.Background(), editorClaims, "s-1", req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Contains(t, appErrors.FromError(err).Fields, "id")

	_, err = f.svc.Preview(context.Background(), editorClaims, "s-1", req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, f.samples.inputs)
	assert.Empty(t, f.store.locked)

	req.Values["id"] = "sample-1"
	_, err = f.svc.Preview(context.Background(), editorClaims, "s-1", req)
	require.NoError(t, err)
	require.Len(t, f.samples.inputs, 1)
	assert.Equal(t, "sample-1", f.samples.inputs[0].Submitted.ID())
}

func TestSessionSubmitDropsIDForNewSample(t *testing.T) {
	f := newSessionFixture(SessionConfig{})
	f.store.sessions["s-1"] = &models.EditSession{ID: "s-1", Username: "jdoe"}
	f.samples.result = &SampleSubmitResult{SubmitResult: &SubmitResult{Saved: true, Resource: models.Values{"id": "ms-9", "type": "material-sample"}}}
	submitted := models.Values{"id": "sample-OTHER", "materialSampleName": "S-1"}

	_, err := f.svc.Submit(context.Background(), editorClaims, "s-1", models.SubmitSessionRequest{Values: submitted})
	require.NoError(t, err)
	require.Len(t, f.samples.inputs, 1)
	assert.NotContains(t, f.samples.inputs[0].Submitted, "id")
	assert.Equal(t, "S-1", f.samples.inputs[0].Submitted["materialSampleName"])
	assert.Equal(t, "sample-OTHER", submitted.ID())
}

func TestSessionDuplicateOverrideSurvivesFailedAttempt(t *testing.T) {
	f := newSessionFixture(SessionConfig{})
	f.store.sessions["s-1"] = &models.EditSession{ID: "s-1", Username: "jdoe"}
	f.samples.err = appErrors.WithFields(appErrors.Clone(appErrors.ErrValidation, "validation failed"), appErrors.FieldErrors{"group": "is required"})
	req := models.SubmitSessionRequest{Values: models.Values{"materialSampleName": "S-1"}, AllowDuplicateName: "S-1"}

	_, err := f.svc.Submit(context.Background(), editorClaims, "s-1", req)
	require.Error(t, err)
	assert.Equal(t, "S-1", f.store.sessions["s-1"].AllowedDuplicateName)

	// The retry does not repeat the confirmation.
	f.samples.err = nil
	f.samples.result = &SampleSubmitResult{SubmitResult: &SubmitResult{Saved: true, Resource: models.Values{"id": "ms-9", "type": "material-sample"}}}
	req.AllowDuplicateName = ""
	_, err = f.svc.Submit(context.Background(), editorClaims, "s-1", req)
	require.NoError(t, err)
	assert.Equal(t, []string{"S-1", "S-1"}, f.samples.allowed)
	assert.Empty(t, f.store.sessions["s-1"].AllowedDuplicateName)
}
