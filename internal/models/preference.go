package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// UserPreference stores per-user form defaults outside the save pipeline.
type UserPreference struct {
	ID                   string         `db:"id" json:"id"`
	Username             string         `db:"username" json:"username"`
	LastUsedCollectionID *string        `db:"last_used_collection_id" json:"lastUsedCollectionId,omitempty"`
	DefaultGroup         *string        `db:"default_group" json:"defaultGroup,omitempty"`
	SavedSearches        types.JSONText `db:"saved_searches" json:"savedSearches"`
	CreatedAt            time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time      `db:"updated_at" json:"updatedAt"`
}

// UpdatePreferenceRequest is the payload for PUT /preferences. Nil fields are left unchanged.
type UpdatePreferenceRequest struct {
	LastUsedCollectionID *string         `json:"lastUsedCollectionId" validate:"omitempty,uuid"`
	DefaultGroup         *string         `json:"defaultGroup" validate:"omitempty,min=1,max=100"`
	SavedSearches        *types.JSONText `json:"savedSearches"`
}
