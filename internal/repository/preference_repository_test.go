package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/collections-gateway/internal/models"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
)

func newSQLMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestPreferenceRepositoryGetAndUpsert(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewPreferenceRepository(db)

	collection := "4f1ba4c6-0b6a-4ab1-9a2e-3d7f6bb1f6a1"
	mock.ExpectExec("INSERT INTO user_preferences").
		WithArgs(sqlmock.AnyArg(), "jdoe", collection, nil, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Upsert(context.Background(), &models.UserPreference{
		Username:             "jdoe",
		LastUsedCollectionID: &collection,
		SavedSearches:        types.JSONText(`{}`),
	})
	require.NoError(t, err)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "username", "last_used_collection_id", "default_group", "saved_searches", "created_at", "updated_at"}).
		AddRow("pref-1", "jdoe", collection, "aafc", `{}`, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, username, last_used_collection_id, default_group, saved_searches, created_at, updated_at FROM user_preferences WHERE username = $1")).
		WithArgs("jdoe").
		WillReturnRows(rows)

	pref, err := repo.GetByUsername(context.Background(), "jdoe")
	require.NoError(t, err)
	assert.Equal(t, "pref-1", pref.ID)
	require.NotNil(t, pref.DefaultGroup)
	assert.Equal(t, "aafc", *pref.DefaultGroup)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreferenceRepositoryNotFound(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewPreferenceRepository(db)

	mock.ExpectQuery("FROM user_preferences WHERE username").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreferenceRepositorySetLastUsedCollection(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewPreferenceRepository(db)

	mock.ExpectExec("(?s)INSERT INTO user_preferences.*ON CONFLICT \\(username\\) DO UPDATE").
		WithArgs(sqlmock.AnyArg(), "jdoe", "col-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.SetLastUsedCollection(context.Background(), "jdoe", "col-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
