package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/collections-gateway/internal/models"
	"github.com/noah-isme/collections-gateway/internal/section"
	"github.com/noah-isme/collections-gateway/internal/service"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
	"github.com/noah-isme/collections-gateway/pkg/response"
)

type sessionService interface {
	Open(ctx context.Context, claims *models.JWTClaims, req models.OpenSessionRequest) (*models.EditSession, error)
	Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.EditSession, error)
	Delete(ctx context.Context, claims *models.JWTClaims, id string) error
	SetSection(ctx context.Context, claims *models.JWTClaims, id, name string, enabled bool) (*section.Change, error)
	ConfirmSection(ctx context.Context, claims *models.JWTClaims, id, name string) (*section.Change, error)
	CancelSection(ctx context.Context, claims *models.JWTClaims, id, name string) (*section.Change, error)
	Preview(ctx context.Context, claims *models.JWTClaims, id string, req models.SubmitSessionRequest) (*service.SamplePreview, error)
	Submit(ctx context.Context, claims *models.JWTClaims, id string, req models.SubmitSessionRequest) (*service.SampleSubmitResult, error)
}

// SessionHandler exposes material sample edit sessions.
type SessionHandler struct {
	service sessionService
}

// NewSessionHandler builds a new handler.
func NewSessionHandler(service sessionService) *SessionHandler {
	return &SessionHandler{service: service}
}

// Open godoc
// @Summary Open an edit session for a new or existing material sample
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body models.OpenSessionRequest true "Session payload"
// @Success 201 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Open(c *gin.Context) {
	var req models.OpenSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid session payload"))
			return
		}
	}
	session, err := h.service.Open(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// Get godoc
// @Summary Edit session state
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.service.Get(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Delete godoc
// @Summary Discard an edit session
// @Tags Sessions
// @Param id path string true "Session ID"
// @Success 204
// @Router /sessions/{id} [delete]
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), claimsFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SetSection godoc
// @Summary Switch a form section on or off
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param section path string true "Section name"
// @Param payload body models.SetSectionRequest true "Section payload"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/sections/{section} [put]
func (h *SessionHandler) SetSection(c *gin.Context) {
	var req models.SetSectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid section payload"))
		return
	}
	change, err := h.service.SetSection(c.Request.Context(), claimsFromContext(c), c.Param("id"), c.Param("section"), *req.Enabled)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, change, nil)
}

// ConfirmSection godoc
// @Summary Confirm a pending section disable
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Param section path string true "Section name"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/sections/{section}/confirm [post]
func (h *SessionHandler) ConfirmSection(c *gin.Context) {
	change, err := h.service.ConfirmSection(c.Request.Context(), claimsFromContext(c), c.Param("id"), c.Param("section"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, change, nil)
}

// CancelSection godoc
// @Summary Cancel a pending section disable
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Param section path string true "Section name"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/sections/{section}/cancel [post]
func (h *SessionHandler) CancelSection(c *gin.Context) {
	change, err := h.service.CancelSection(c.Request.Context(), claimsFromContext(c), c.Param("id"), c.Param("section"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, change, nil)
}

// Preview godoc
// @Summary Compute the writes a submission would make
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body models.SubmitSessionRequest true "Submission payload"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/preview [post]
func (h *SessionHandler) Preview(c *gin.Context) {
	var req models.SubmitSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid submission payload"))
		return
	}
	preview, err := h.service.Preview(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil)
}

// Submit godoc
// @Summary Save the session's material sample
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body models.SubmitSessionRequest true "Submission payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/submit [post]
func (h *SessionHandler) Submit(c *gin.Context) {
	var req models.SubmitSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid submission payload"))
		return
	}
	res, err := h.service.Submit(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}
