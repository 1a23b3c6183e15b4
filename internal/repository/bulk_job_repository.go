package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/collections-gateway/internal/models"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
)

const bulkJobColumns = `id, status, total, processed, items, enabled_sections, created_by, created_at, finished_at, error_message`

// BulkJobRepository persists bulk save jobs.
type BulkJobRepository struct {
	db *sqlx.DB
}

// NewBulkJobRepository constructs the repository.
func NewBulkJobRepository(db *sqlx.DB) *BulkJobRepository {
	return &BulkJobRepository{db: db}
}

// Create inserts a new job row with generated defaults.
func (r *BulkJobRepository) Create(ctx context.Context, job *models.BulkJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.BulkJobQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.Total = len(job.Items)
	const query = `INSERT INTO bulk_save_jobs (` + bulkJobColumns + `)
VALUES (:id, :status, :total, :processed, :items, :enabled_sections, :created_by, :created_at, :finished_at, :error_message)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create bulk job: %w", err)
	}
	return nil
}

// GetByID returns a job row by its identifier.
func (r *BulkJobRepository) GetByID(ctx context.Context, id string) (*models.BulkJob, error) {
	const query = `SELECT ` + bulkJobColumns + ` FROM bulk_save_jobs WHERE id = $1`
	var job models.BulkJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("get bulk job: %w", err)
	}
	return &job, nil
}

// UpdateBulkJobParams defines the mutable fields.
type UpdateBulkJobParams struct {
	Status       *models.BulkJobStatus
	Processed    *int
	Items        models.BulkJobItems
	ErrorMessage *string
	FinishedAt   *time.Time
}

// Update persists the provided changes for a job row.
func (r *BulkJobRepository) Update(ctx context.Context, id string, params UpdateBulkJobParams) error {
	set := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)
	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if params.Status != nil {
		add("status", *params.Status)
	}
	if params.Processed != nil {
		add("processed", *params.Processed)
	}
	if params.Items != nil {
		add("items", params.Items)
	}
	if params.ErrorMessage != nil {
		add("error_message", *params.ErrorMessage)
	}
	if params.FinishedAt != nil {
		add("finished_at", *params.FinishedAt)
	}
	if len(set) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE bulk_save_jobs SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update bulk job: %w", err)
	}
	return nil
}

// ListQueued fetches queued and interrupted jobs for replay after a restart.
func (r *BulkJobRepository) ListQueued(ctx context.Context, limit int) ([]models.BulkJob, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT ` + bulkJobColumns + ` FROM bulk_save_jobs WHERE status IN ('QUEUED', 'PROCESSING') ORDER BY created_at ASC LIMIT $1`
	var jobs []models.BulkJob
	if err := r.db.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("list queued bulk jobs: %w", err)
	}
	return jobs, nil
}
