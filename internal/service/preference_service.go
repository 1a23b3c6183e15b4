package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/collections-gateway/internal/models"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
)

type preferenceRepository interface {
	GetByUsername(ctx context.Context, username string) (*models.UserPreference, error)
	Upsert(ctx context.Context, pref *models.UserPreference) error
	SetLastUsedCollection(ctx context.Context, username, collectionID string) error
}

// PreferenceService handles per-user form defaults.
type PreferenceService struct {
	repo      preferenceRepository
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPreferenceService builds the service.
func NewPreferenceService(repo preferenceRepository, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *PreferenceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PreferenceService{repo: repo, metrics: metrics, validator: validate, logger: logger}
}

// Get returns stored preferences or empty defaults.
func (s *PreferenceService) Get(ctx context.Context, username string) (*models.UserPreference, error) {
	start := time.Now()
	pref, err := s.repo.GetByUsername(ctx, username)
	s.metrics.ObserveDBQuery("preference_get", time.Since(start))
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return &models.UserPreference{Username: username, SavedSearches: types.JSONText("{}")}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user preferences")
	}
	return pref, nil
}

// Update applies the non-nil fields of req.
func (s *PreferenceService) Update(ctx context.Context, username string, req models.UpdatePreferenceRequest) (*models.UserPreference, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid preference payload")
	}
	pref, err := s.Get(ctx, username)
	if err != nil {
		return nil, err
	}
	if req.LastUsedCollectionID != nil {
		pref.LastUsedCollectionID = req.LastUsedCollectionID
	}
	if req.DefaultGroup != nil {
		pref.DefaultGroup = req.DefaultGroup
	}
	if req.SavedSearches != nil {
		pref.SavedSearches = *req.SavedSearches
	}

	start := time.Now()
	err = s.repo.Upsert(ctx, pref)
	s.metrics.ObserveDBQuery("preference_upsert", time.Since(start))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save user preferences")
	}
	return pref, nil
}

// RememberCollection stores the collection of the last saved sample. Failures are only
// logged.
func (s *PreferenceService) RememberCollection(ctx context.Context, username, collectionID string) {
	if s == nil || username == "" || collectionID == "" {
		return
	}
	start := time.Now()
	err := s.repo.SetLastUsedCollection(ctx, username, collectionID)
	s.metrics.ObserveDBQuery("preference_last_collection", time.Since(start))
	if err != nil {
		s.logger.Warn("failed to remember last used collection", zap.String("username", username), zap.Error(err))
	}
}
