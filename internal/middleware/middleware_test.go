package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/collections-gateway/internal/models"
	"github.com/noah-isme/collections-gateway/internal/repository"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
)

type validatorStub struct {
	claims *models.JWTClaims
}

func (v validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Wrap(errors.New("signature is invalid"), appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}
	return v.claims, nil
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Any("/records/:id", handlers...)
	return r
}

func serve(r *gin.Engine, method, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/records/r-1", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAttachesClaimsAndAuthorization(t *testing.T) {
	claims := &models.JWTClaims{Username: "jdoe", Role: models.RoleUser}
	var forwarded string
	r := newRouter(JWT(validatorStub{claims: claims}), func(c *gin.Context) {
		current, ok := currentClaims(c)
		require.True(t, ok)
		assert.Equal(t, "jdoe", current.Username)
		forwarded = repository.AuthorizationFrom(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	assert.Equal(t, http.StatusNoContent, serve(r, http.MethodGet, "Bearer good").Code)
	assert.Equal(t, "Bearer good", forwarded)

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "Basic good").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "Bearer bad").Code)
}

func TestRequireWriteRejectsReadOnlyRoles(t *testing.T) {
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }

	reader := newRouter(JWT(validatorStub{claims: &models.JWTClaims{Username: "guest", Role: models.RoleReadOnly}}), RequireWrite(), ok)
	assert.Equal(t, http.StatusForbidden, serve(reader, http.MethodPatch, "Bearer good").Code)

	editor := newRouter(JWT(validatorStub{claims: &models.JWTClaims{Username: "jdoe", Role: models.RoleUser}}), RequireWrite(), ok)
	assert.Equal(t, http.StatusNoContent, serve(editor, http.MethodPatch, "Bearer good").Code)

	anonymous := newRouter(RequireWrite(), ok)
	assert.Equal(t, http.StatusUnauthorized, serve(anonymous, http.MethodPatch, "").Code)
}

func TestRequireRoles(t *testing.T) {
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }

	r := newRouter(JWT(validatorStub{claims: &models.JWTClaims{Username: "jdoe", Role: models.RoleUser}}), RequireRoles(models.RoleAdmin), ok)
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "Bearer good").Code)

	r = newRouter(JWT(validatorStub{claims: &models.JWTClaims{Username: "root", Role: models.RoleAdmin}}), RequireRoles(models.RoleAdmin), ok)
	assert.Equal(t, http.StatusNoContent, serve(r, http.MethodGet, "Bearer good").Code)
}

func TestAuditLogsSuccessfulWrites(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	status := http.StatusOK
	r := newRouter(
		JWT(validatorStub{claims: &models.JWTClaims{Username: "jdoe", Role: models.RoleUser}}),
		Audit(zap.New(core), "person"),
		func(c *gin.Context) { c.Status(status) },
	)

	serve(r, http.MethodGet, "Bearer good")
	serve(r, http.MethodPatch, "Bearer good")
	status = http.StatusConflict
	serve(r, http.MethodPatch, "Bearer good")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "person", fields["resource"])
	assert.Equal(t, "r-1", fields["resource_id"])
	assert.Equal(t, "jdoe", fields["username"])
}
