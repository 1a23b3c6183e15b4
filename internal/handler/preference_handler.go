package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/collections-gateway/internal/models"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
	"github.com/noah-isme/collections-gateway/pkg/response"
)

type preferenceService interface {
	Get(ctx context.Context, username string) (*models.UserPreference, error)
	Update(ctx context.Context, username string, req models.UpdatePreferenceRequest) (*models.UserPreference, error)
}

// PreferenceHandler exposes the caller's form preferences.
type PreferenceHandler struct {
	service preferenceService
}

// NewPreferenceHandler builds a new handler.
func NewPreferenceHandler(service preferenceService) *PreferenceHandler {
	return &PreferenceHandler{service: service}
}

// Get godoc
// @Summary Current user preferences
// @Tags Preferences
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /preferences [get]
func (h *PreferenceHandler) Get(c *gin.Context) {
	username := usernameFromContext(c)
	if username == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	pref, err := h.service.Get(c.Request.Context(), username)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, pref, nil)
}

// Update godoc
// @Summary Update user preferences
// @Tags Preferences
// @Accept json
// @Produce json
// @Param payload body models.UpdatePreferenceRequest true "Preference payload"
// @Success 200 {object} response.Envelope
// @Router /preferences [put]
func (h *PreferenceHandler) Update(c *gin.Context) {
	username := usernameFromContext(c)
	if username == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req models.UpdatePreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid preference payload"))
		return
	}
	pref, err := h.service.Update(c.Request.Context(), username, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, pref, nil)
}
