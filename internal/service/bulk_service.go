package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/collections-gateway/internal/models"
	"github.com/noah-isme/collections-gateway/internal/repository"
	"github.com/noah-isme/collections-gateway/internal/schema"
	"github.com/noah-isme/collections-gateway/internal/section"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
	"github.com/noah-isme/collections-gateway/pkg/jobs"
)

// BulkJobType tags bulk save jobs on the queue.
const BulkJobType = "bulk-save"

type bulkJobStore interface {
	Create(ctx context.Context, job *models.BulkJob) error
	GetByID(ctx context.Context, id string) (*models.BulkJob, error)
	Update(ctx context.Context, id string, params repository.UpdateBulkJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.BulkJob, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type bulkSubmitter interface {
	OnSubmit(ctx context.Context, in SampleInput) (*SampleSubmitResult, error)
}

// BulkConfig tunes bulk save jobs.
type BulkConfig struct {
	RecoverLimit int
	// ServiceAuthorization is forwarded upstream for jobs replayed after a restart, when the
	// submitting user's token is no longer available.
	ServiceAuthorization string
}

// BulkService accepts batches of material sample submissions and tracks their jobs.
type BulkService struct {
	repo      bulkJobStore
	queue     jobDispatcher
	validator *validator.Validate
	logger    *zap.Logger
	cfg       BulkConfig
}

// NewBulkService constructs the bulk service.
func NewBulkService(repo bulkJobStore, queue jobDispatcher, validate *validator.Validate, logger *zap.Logger, cfg BulkConfig) *BulkService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RecoverLimit <= 0 {
		cfg.RecoverLimit = 50
	}
	return &BulkService{repo: repo, queue: queue, validator: validate, logger: logger, cfg: cfg}
}

// Enqueue validates the batch, persists the job and queues it. authorization is the
// caller's Authorization header, used for the upstream writes.
func (s *BulkService) Enqueue(ctx context.Context, claims *models.JWTClaims, authorization string, req models.BulkSaveRequest) (*models.BulkJob, error) {
	if claims == nil || !claims.Role.CanWrite() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role may not modify records")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk save payload")
	}
	sections := make([]string, 0, len(req.Sections))
	for _, raw := range req.Sections {
		name, ok := section.Parse(raw)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrUnknownSection, "unknown form section: "+raw)
		}
		sections = append(sections, string(name))
	}

	items := make(models.BulkJobItems, len(req.Samples))
	for i, values := range req.Samples {
		items[i] = models.BulkJobItem{Values: values, Status: models.BulkItemPending}
	}
	job := &models.BulkJob{
		Status:          models.BulkJobQueued,
		Items:           items,
		EnabledSections: sections,
		CreatedBy:       claims.Username,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create bulk job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: BulkJobType, Payload: authorization}); err != nil {
		s.fail(ctx, job.ID, "failed to enqueue job")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue bulk job")
	}
	s.logger.Info("bulk job queued", zap.String("job_id", job.ID), zap.Int("items", job.Total), zap.String("username", claims.Username))
	return job, nil
}

// Get returns a job. Users only see their own jobs unless they are administrators.
func (s *BulkService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.BulkJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "bulk job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bulk job")
	}
	if claims == nil || (claims.Role != models.RoleAdmin && job.CreatedBy != claims.Username) {
		return nil, appErrors.ErrForbidden
	}
	return job, nil
}

// RecoverPendingJobs replays queued jobs after a restart.
func (s *BulkService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListQueued(ctx, s.cfg.RecoverLimit)
	if err != nil {
		s.logger.Warn("failed to recover queued bulk jobs", zap.Error(err))
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: BulkJobType, Payload: s.cfg.ServiceAuthorization}); err != nil {
			s.logger.Warn("failed to requeue pending bulk job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if len(pending) > 0 {
		s.logger.Info("recovered queued bulk jobs", zap.Int("count", len(pending)))
	}
}

// Abandon marks a job failed once the queue stops retrying it.
func (s *BulkService) Abandon(ctx context.Context, job jobs.Job, cause error) {
	s.fail(context.WithoutCancel(ctx), job.ID, cause.Error())
}

func (s *BulkService) fail(ctx context.Context, id, msg string) {
	status := models.BulkJobFailed
	now := time.Now().UTC()
	if err := s.repo.Update(ctx, id, repository.UpdateBulkJobParams{
		Status:       &status,
		ErrorMessage: &msg,
		FinishedAt:   &now,
	}); err != nil {
		s.logger.Warn("failed to mark bulk job failed", zap.String("job_id", id), zap.Error(err))
	}
}

// BulkWorker saves the items of a bulk job one after another.
type BulkWorker struct {
	repo    bulkJobStore
	samples bulkSubmitter
	metrics *MetricsService
	logger  *zap.Logger
}

// NewBulkWorker constructs a worker.
func NewBulkWorker(repo bulkJobStore, samples bulkSubmitter, metrics *MetricsService, logger *zap.Logger) *BulkWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BulkWorker{repo: repo, samples: samples, metrics: metrics, logger: logger}
}

// Handle processes a queue job. Items already saved or failed are skipped, so a retried
// job resumes where it stopped. Item failures are recorded on the item and do not stop the
// batch; a cancelled context returns an error so the job is retried.
func (w *BulkWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	if record.Status == models.BulkJobFinished || record.Status == models.BulkJobFailed {
		return nil
	}
	processing := models.BulkJobProcessing
	if err := w.repo.Update(ctx, job.ID, repository.UpdateBulkJobParams{Status: &processing}); err != nil {
		return err
	}

	if auth, _ := job.Payload.(string); auth != "" {
		ctx = repository.WithAuthorization(ctx, auth)
	}
	session := bulkSession(record)
	processed := record.Processed
	for i := range record.Items {
		item := &record.Items[i]
		if item.Status != models.BulkItemPending {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := w.samples.OnSubmit(ctx, SampleInput{Session: session, Submitted: item.Values})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			appErr := appErrors.FromError(err)
			item.Status = models.BulkItemFailed
			item.Error = appErr.Message
			item.FieldErrors = appErr.Fields.Copy()
			w.logger.Warn("bulk item failed", zap.String("job_id", job.ID), zap.Int("item", i), zap.String("code", appErr.Code))
		} else {
			item.Status = models.BulkItemSaved
			item.ResourceID = res.Resource.ID()
			item.Error = ""
			item.FieldErrors = nil
		}
		w.metrics.RecordBulkItem(item.Status)
		processed++
		if err := w.repo.Update(ctx, job.ID, repository.UpdateBulkJobParams{Processed: &processed, Items: record.Items}); err != nil {
			return err
		}
	}

	finished := models.BulkJobFinished
	now := time.Now().UTC()
	params := repository.UpdateBulkJobParams{Status: &finished, FinishedAt: &now}
	if _, failed := record.Items.Counts(); failed > 0 {
		msg := fmt.Sprintf("%d of %d items failed", failed, len(record.Items))
		params.ErrorMessage = &msg
	}
	if err := w.repo.Update(ctx, job.ID, params); err != nil {
		w.logger.Warn("failed to mark bulk job finished", zap.String("job_id", job.ID), zap.Error(err))
		return err
	}
	w.logger.Info("bulk job finished", zap.String("job_id", job.ID), zap.Int("processed", processed))
	return nil
}

// bulkSession is the edit session every item of a job is saved under. Sections not
// enabled for the batch are left out of each item.
func bulkSession(job *models.BulkJob) *models.EditSession {
	states := make(map[string]models.SectionStatus, len(section.All()))
	for _, name := range section.All() {
		states[string(name)] = models.SectionDisabled
	}
	for _, name := range job.EnabledSections {
		states[name] = models.SectionEnabled
	}
	return &models.EditSession{
		ID:           "bulk-" + job.ID,
		Username:     job.CreatedBy,
		ResourceType: schema.TypeMaterialSample,
		BulkMode:     true,
		Sections:     states,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.CreatedAt,
	}
}
