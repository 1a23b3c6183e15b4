package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/collections-gateway/internal/models"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
)

// PreferenceRepository persists per-user form preferences.
type PreferenceRepository struct {
	db *sqlx.DB
}

// NewPreferenceRepository constructs the repository.
func NewPreferenceRepository(db *sqlx.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// GetByUsername returns the stored preferences of a user or ErrNotFound.
func (r *PreferenceRepository) GetByUsername(ctx context.Context, username string) (*models.UserPreference, error) {
	const query = `SELECT id, username, last_used_collection_id, default_group, saved_searches, created_at, updated_at FROM user_preferences WHERE username = $1`
	var pref models.UserPreference
	if err := r.db.GetContext(ctx, &pref, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("get user preference: %w", err)
	}
	return &pref, nil
}

// Upsert creates or replaces the preferences of a user.
func (r *PreferenceRepository) Upsert(ctx context.Context, pref *models.UserPreference) error {
	if pref.ID == "" {
		pref.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if pref.CreatedAt.IsZero() {
		pref.CreatedAt = now
	}
	pref.UpdatedAt = now
	if len(pref.SavedSearches) == 0 {
		pref.SavedSearches = []byte("{}")
	}

	const query = `INSERT INTO user_preferences (id, username, last_used_collection_id, default_group, saved_searches, created_at, updated_at)
		VALUES (:id, :username, :last_used_collection_id, :default_group, :saved_searches, :created_at, :updated_at)
		ON CONFLICT (username) DO UPDATE
		SET last_used_collection_id = EXCLUDED.last_used_collection_id,
		    default_group = EXCLUDED.default_group,
		    saved_searches = EXCLUDED.saved_searches,
		    updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, pref); err != nil {
		return fmt.Errorf("upsert user preference: %w", err)
	}
	return nil
}

// SetLastUsedCollection records the collection of the last saved sample without touching
// the other preferences.
func (r *PreferenceRepository) SetLastUsedCollection(ctx context.Context, username, collectionID string) error {
	const query = `INSERT INTO user_preferences (id, username, last_used_collection_id, saved_searches, created_at, updated_at)
		VALUES ($1, $2, $3, '{}', $4, $4)
		ON CONFLICT (username) DO UPDATE
		SET last_used_collection_id = EXCLUDED.last_used_collection_id,
		    updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), username, collectionID, time.Now().UTC()); err != nil {
		return fmt.Errorf("set last used collection: %w", err)
	}
	return nil
}
