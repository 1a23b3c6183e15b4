package service

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/collections-gateway/internal/models"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
)

type preferenceRepoStub struct {
	prefs      map[string]*models.UserPreference
	getErr     error
	upserted   []*models.UserPreference
	lastUsed   map[string]string
	lastUseErr error
}

func newPreferenceRepoStub() *preferenceRepoStub {
	return &preferenceRepoStub{prefs: map[string]*models.UserPreference{}, lastUsed: map[string]string{}}
}

func (p *preferenceRepoStub) GetByUsername(ctx context.Context, username string) (*models.UserPreference, error) {
	if p.getErr != nil {
		return nil, p.getErr
	}
	pref, ok := p.prefs[username]
	if !ok {
		return nil, appErrors.ErrNotFound
	}
	return pref, nil
}

func (p *preferenceRepoStub) Upsert(ctx context.Context, pref *models.UserPreference) error {
	p.upserted = append(p.upserted, pref)
	p.prefs[pref.Username] = pref
	return nil
}

func (p *preferenceRepoStub) SetLastUsedCollection(ctx context.Context, username, collectionID string) error {
	if p.lastUseErr != nil {
		return p.lastUseErr
	}
	p.lastUsed[username] = collectionID
	return nil
}

func TestPreferenceGetDefaultsWhenMissing(t *testing.T) {
	svc := NewPreferenceService(newPreferenceRepoStub(), nil, nil, zap.NewNop())

	pref, err := svc.Get(context.Background(), "jdoe")
	require.NoError(t, err)
	assert.Equal(t, "jdoe", pref.Username)
	assert.Nil(t, pref.LastUsedCollectionID)
	assert.Equal(t, types.JSONText("{}"), pref.SavedSearches)
}

func TestPreferenceGetWrapsStoreErrors(t *testing.T) {
	repo := newPreferenceRepoStub()
	repo.getErr = errors.New("connection refused")
	svc := NewPreferenceService(repo, nil, nil, zap.NewNop())

	_, err := svc.Get(context.Background(), "jdoe")
	assert.True(t, errors.Is(err, appErrors.ErrInternal))
}

func TestPreferenceUpdateMergesFields(t *testing.T) {
	repo := newPreferenceRepoStub()
	group := "cnc"
	repo.prefs["jdoe"] = &models.UserPreference{Username: "jdoe", DefaultGroup: &group, SavedSearches: types.JSONText(`{"a":1}`)}
	svc := NewPreferenceService(repo, NewMetricsService(), nil, zap.NewNop())

	collection := "2f0e1f38-6d3c-4f05-9f4b-1b8f0f6b9c11"
	pref, err := svc.Update(context.Background(), "jdoe", models.UpdatePreferenceRequest{LastUsedCollectionID: &collection})
	require.NoError(t, err)
	assert.Equal(t, collection, *pref.LastUsedCollectionID)
	assert.Equal(t, "cnc", *pref.DefaultGroup)
	assert.Equal(t, types.JSONText(`{"a":1}`), pref.SavedSearches)
	require.Len(t, repo.upserted, 1)
}

func TestPreferenceUpdateValidates(t *testing.T) {
	repo := newPreferenceRepoStub()
	svc := NewPreferenceService(repo, nil, nil, zap.NewNop())

	bad := "not-a-uuid"
	_, err := svc.Update(context.Background(), "jdoe", models.UpdatePreferenceRequest{LastUsedCollectionID: &bad})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, repo.upserted)
}

func TestPreferenceRememberCollectionIgnoresFailures(t *testing.T) {
	repo := newPreferenceRepoStub()
	svc := NewPreferenceService(repo, nil, nil, zap.NewNop())

	svc.RememberCollection(context.Background(), "jdoe", "col-1")
	assert.Equal(t, "col-1", repo.lastUsed["jdoe"])

	repo.lastUseErr = errors.New("db down")
	svc.RememberCollection(context.Background(), "jdoe", "col-2")
	svc.RememberCollection(context.Background(), "", "col-3")
	assert.Equal(t, "col-1", repo.lastUsed["jdoe"])
}
