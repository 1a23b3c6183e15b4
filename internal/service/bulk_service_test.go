package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/collections-gateway/internal/models"
	"github.com/noah-isme/collections-gateway/internal/repository"
	"github.com/noah-isme/collections-gateway/internal/schema"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
	"github.com/noah-isme/collections-gateway/pkg/jobs"
)

type bulkRepoStub struct {
	jobs    map[string]*models.BulkJob
	updates []repository.UpdateBulkJobParams
	queued  []models.BulkJob
}

func newBulkRepoStub() *bulkRepoStub {
	return &bulkRepoStub{jobs: map[string]*models.BulkJob{}}
}

func (r *bulkRepoStub) Create(ctx context.Context, job *models.BulkJob) error {
	job.ID = "job-1"
	job.Total = len(job.Items)
	r.jobs[job.ID] = job
	return nil
}

func (r *bulkRepoStub) GetByID(ctx context.Context, id string) (*models.BulkJob, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, appErrors.ErrNotFound
	}
	return job, nil
}

func (r *bulkRepoStub) Update(ctx context.Context, id string, params repository.UpdateBulkJobParams) error {
	r.updates = append(r.updates, params)
	job := r.jobs[id]
	if job == nil {
		return nil
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Processed != nil {
		job.Processed = *params.Processed
	}
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		job.ErrorMessage = &msg
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (r *bulkRepoStub) ListQueued(ctx context.Context, limit int) ([]models.BulkJob, error) {
	return r.queued, nil
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func TestBulkEnqueueCreatesPendingItems(t *testing.T) {
	repo := newBulkRepoStub()
	queue := &queueStub{}
	svc := NewBulkService(repo, queue, nil, zap.NewNop(), BulkConfig{})

	job, err := svc.Enqueue(context.Background(), editorClaims, "Bearer token", models.BulkSaveRequest{
		Samples:  []models.Values{{"materialSampleName": "a"}, {"materialSampleName": "b"}},
		Sections: []string{"Organism"},
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, 2, job.Total)
	assert.Equal(t, []string{"organism"}, []string(job.EnabledSections))
	for _, item := range job.Items {
		assert.Equal(t, models.BulkItemPending, item.Status)
	}
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, BulkJobType, queue.jobs[0].Type)
	assert.Equal(t, "Bearer token", queue.jobs[0].Payload)
}

func TestBulkEnqueueRejectsUnknownSectionAndEmptyBatch(t *testing.T) {
	svc := NewBulkService(newBulkRepoStub(), &queueStub{}, nil, zap.NewNop(), BulkConfig{})

	_, err := svc.Enqueue(context.Background(), editorClaims, "", models.BulkSaveRequest{
		Samples:  []models.Values{{"materialSampleName": "a"}},
		Sections: []string{"weather"},
	})
	assert.True(t, errors.Is(err, appErrors.ErrUnknownSection))

	_, err = svc.Enqueue(context.Background(), editorClaims, "", models.BulkSaveRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestBulkEnqueueFailureMarksJobFailed(t *testing.T) {
	repo := newBulkRepoStub()
	svc := NewBulkService(repo, &queueStub{err: errors.New("queue stopped")}, nil, zap.NewNop(), BulkConfig{})

	_, err := svc.Enqueue(context.Background(), editorClaims, "", models.BulkSaveRequest{Samples: []models.Values{{"materialSampleName": "a"}}})
	require.Error(t, err)
	assert.Equal(t, models.BulkJobFailed, repo.jobs["job-1"].Status)
	require.NotNil(t, repo.jobs["job-1"].ErrorMessage)
}

func TestBulkGetEnforcesOwnership(t *testing.T) {
	repo := newBulkRepoStub()
	repo.jobs["job-1"] = &models.BulkJob{ID: "job-1", CreatedBy: "other"}
	svc := NewBulkService(repo, &queueStub{}, nil, zap.NewNop(), BulkConfig{})

	_, err := svc.Get(context.Background(), editorClaims, "job-1")
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	job, err := svc.Get(context.Background(), &models.JWTClaims{Username: "root", Role: models.RoleAdmin}, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "other", job.CreatedBy)

	_, err = svc.Get(context.Background(), editorClaims, "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestBulkRecoverPendingJobsUsesServiceAuthorization(t *testing.T) {
	repo := newBulkRepoStub()
	repo.queued = []models.BulkJob{{ID: "a"}, {ID: "b"}}
	queue := &queueStub{}
	svc := NewBulkService(repo, queue, nil, zap.NewNop(), BulkConfig{ServiceAuthorization: "Bearer service"})

	svc.RecoverPendingJobs(context.Background())
	require.Len(t, queue.jobs, 2)
	assert.Equal(t, "b", queue.jobs[1].ID)
	assert.Equal(t, "Bearer service", queue.jobs[1].Payload)
}

type bulkSubmitterStub struct {
	inputs []SampleInput
	errs   map[string]error
}

func (b *bulkSubmitterStub) OnSubmit(ctx context.Context, in SampleInput) (*SampleSubmitResult, error) {
	b.inputs = append(b.inputs, in)
	name := models.StringField(in.Submitted, "materialSampleName")
	if err := b.errs[name]; err != nil {
		return nil, err
	}
	return &SampleSubmitResult{SubmitResult: &SubmitResult{Saved: true, Resource: models.Values{"id": "id-" + name, "type": schema.TypeMaterialSample}}}, nil
}

func TestBulkWorkerRecordsPerItemOutcome(t *testing.T) {
	repo := newBulkRepoStub()
	repo.jobs["job-1"] = &models.BulkJob{
		ID:              "job-1",
		Status:          models.BulkJobQueued,
		CreatedBy:       "jdoe",
		EnabledSections: []string{"organism"},
		Items: models.BulkJobItems{
			{Values: models.Values{"materialSampleName": "a"}, Status: models.BulkItemPending},
			{Values: models.Values{"materialSampleName": "dup"}, Status: models.BulkItemPending},
			{Values: models.Values{"materialSampleName": "done"}, Status: models.BulkItemSaved, ResourceID: "id-done"},
		},
		Processed: 1,
	}
	submitter := &bulkSubmitterStub{errs: map[string]error{
		"dup": appErrors.WithFields(appErrors.ErrDuplicateName, appErrors.FieldErrors{"materialSampleName": "duplicate name"}),
	}}
	metrics := NewMetricsService()
	worker := NewBulkWorker(repo, submitter, metrics, zap.NewNop())

	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: "job-1", Payload: "Bearer token"}))

	job := repo.jobs["job-1"]
	assert.Equal(t, models.BulkJobFinished, job.Status)
	assert.Equal(t, 3, job.Processed)
	assert.Equal(t, models.BulkItemSaved, job.Items[0].Status)
	assert.Equal(t, "id-a", job.Items[0].ResourceID)
	assert.Equal(t, models.BulkItemFailed, job.Items[1].Status)
	assert.Equal(t, "duplicate name", job.Items[1].FieldErrors["materialSampleName"])
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "1 of 3 items failed", *job.ErrorMessage)

	require.Len(t, submitter.inputs, 2)
	session := submitter.inputs[0].Session
	assert.True(t, session.BulkMode)
	assert.True(t, session.SectionEnabled("organism"))
	assert.False(t, session.SectionEnabled("collecting-event"))
}

func TestBulkWorkerSkipsFinishedJobs(t *testing.T) {
	repo := newBulkRepoStub()
	repo.jobs["job-1"] = &models.BulkJob{ID: "job-1", Status: models.BulkJobFinished}
	submitter := &bulkSubmitterStub{}
	worker := NewBulkWorker(repo, submitter, nil, zap.NewNop())

	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: "job-1"}))
	assert.Empty(t, submitter.inputs)
	assert.Empty(t, repo.updates)
}

func TestBulkWorkerStopsOnCancelledContext(t *testing.T) {
	repo := newBulkRepoStub()
	repo.jobs["job-1"] = &models.BulkJob{
		ID:     "job-1",
		Status: models.BulkJobQueued,
		Items:  models.BulkJobItems{{Values: models.Values{"materialSampleName": "a"}, Status: models.BulkItemPending}},
	}
	submitter := &bulkSubmitterStub{errs: map[string]error{"a": context.Canceled}}
	worker := NewBulkWorker(repo, submitter, nil, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.BulkItemPending, repo.jobs["job-1"].Items[0].Status)
	assert.Equal(t, models.BulkJobProcessing, repo.jobs["job-1"].Status)
}
