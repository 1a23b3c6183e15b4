package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/collections-gateway/internal/models"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
	"github.com/noah-isme/collections-gateway/pkg/response"
)

type sampleReader interface {
	MaterialSample(ctx context.Context, id string) (models.Values, error)
}

type bulkSaveService interface {
	Enqueue(ctx context.Context, claims *models.JWTClaims, authorization string, req models.BulkSaveRequest) (*models.BulkJob, error)
	Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.BulkJob, error)
}

// MaterialSampleHandler exposes material sample reads and bulk saves.
type MaterialSampleHandler struct {
	samples sampleReader
	bulk    bulkSaveService
}

// NewMaterialSampleHandler builds a new handler.
func NewMaterialSampleHandler(samples sampleReader, bulk bulkSaveService) *MaterialSampleHandler {
	return &MaterialSampleHandler{samples: samples, bulk: bulk}
}

// Get godoc
// @Summary Load a material sample with joined attachments, persons and children
// @Tags MaterialSamples
// @Produce json
// @Param id path string true "Material sample ID"
// @Success 200 {object} response.Envelope
// @Router /material-samples/{id} [get]
func (h *MaterialSampleHandler) Get(c *gin.Context) {
	sample, err := h.samples.MaterialSample(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sample, nil)
}

// BulkSave godoc
// @Summary Queue a batch of material sample submissions
// @Tags MaterialSamples
// @Accept json
// @Produce json
// @Param payload body models.BulkSaveRequest true "Bulk save payload"
// @Success 202 {object} response.Envelope
// @Router /material-samples/bulk [post]
func (h *MaterialSampleHandler) BulkSave(c *gin.Context) {
	var req models.BulkSaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid bulk save payload"))
		return
	}
	job, err := h.bulk.Enqueue(c.Request.Context(), claimsFromContext(c), c.GetHeader("Authorization"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, job, nil)
}

// BulkJob godoc
// @Summary Bulk save job progress
// @Tags MaterialSamples
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /bulk-jobs/{id} [get]
func (h *MaterialSampleHandler) BulkJob(c *gin.Context) {
	job, err := h.bulk.Get(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	saved, failed := job.Items.Counts()
	response.JSON(c, http.StatusOK, job, nil, map[string]interface{}{"saved": saved, "failed": failed})
}
