package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/collections-gateway/internal/models"
	"github.com/noah-isme/collections-gateway/internal/service"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
	"github.com/noah-isme/collections-gateway/pkg/response"
)

type personService interface {
	Get(ctx context.Context, id string) (models.Values, error)
	Create(ctx context.Context, submitted models.Values) (*service.SubmitResult, error)
	Update(ctx context.Context, id string, submitted models.Values) (*service.SubmitResult, error)
}

// PersonHandler exposes the person form endpoints.
type PersonHandler struct {
	service personService
}

// NewPersonHandler builds a new handler.
func NewPersonHandler(service personService) *PersonHandler {
	return &PersonHandler{service: service}
}

// Get godoc
// @Summary Load a person for editing
// @Tags Persons
// @Produce json
// @Param id path string true "Person ID"
// @Success 200 {object} response.Envelope
// @Router /persons/{id} [get]
func (h *PersonHandler) Get(c *gin.Context) {
	person, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, person, nil)
}

// Create godoc
// @Summary Create a person with organizations and identifiers
// @Tags Persons
// @Accept json
// @Produce json
// @Param payload body object true "Person form values"
// @Success 201 {object} response.Envelope
// @Router /persons [post]
func (h *PersonHandler) Create(c *gin.Context) {
	var values models.Values
	if err := c.ShouldBindJSON(&values); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid person payload"))
		return
	}
	res, err := h.service.Create(c.Request.Context(), values)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// Update godoc
// @Summary Save the changed fields of a person
// @Tags Persons
// @Accept json
// @Produce json
// @Param id path string true "Person ID"
// @Param payload body object true "Person form values"
// @Success 200 {object} response.Envelope
// @Router /persons/{id} [patch]
func (h *PersonHandler) Update(c *gin.Context) {
	var values models.Values
	if err := c.ShouldBindJSON(&values); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid person payload"))
		return
	}
	if id := values.ID(); id != "" && id != c.Param("id") {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "id mismatch between path and body"))
		return
	}
	res, err := h.service.Update(c.Request.Context(), c.Param("id"), values)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}
