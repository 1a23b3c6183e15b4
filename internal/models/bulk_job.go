package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// BulkJobStatus captures background bulk save lifecycle states.
type BulkJobStatus string

const (
	BulkJobQueued     BulkJobStatus = "QUEUED"
	BulkJobProcessing BulkJobStatus = "PROCESSING"
	BulkJobFinished   BulkJobStatus = "FINISHED"
	BulkJobFailed     BulkJobStatus = "FAILED"
)

// BulkItemStatus is the outcome of one submission inside a bulk job.
type BulkItemStatus string

const (
	BulkItemPending BulkItemStatus = "PENDING"
	BulkItemSaved   BulkItemStatus = "SAVED"
	BulkItemFailed  BulkItemStatus = "FAILED"
)

// BulkJob persisted bulk save metadata.
type BulkJob struct {
	ID              string         `db:"id" json:"id"`
	Status          BulkJobStatus  `db:"status" json:"status"`
	Total           int            `db:"total" json:"total"`
	Processed       int            `db:"processed" json:"processed"`
	Items           BulkJobItems   `db:"items" json:"items"`
	EnabledSections pq.StringArray `db:"enabled_sections" json:"enabledSections"`
	CreatedBy       string         `db:"created_by" json:"createdBy"`
	CreatedAt       time.Time      `db:"created_at" json:"createdAt"`
	FinishedAt      *time.Time     `db:"finished_at" json:"finishedAt,omitempty"`
	ErrorMessage    *string        `db:"error_message" json:"errorMessage,omitempty"`
}

// BulkJobItem is one material sample submission with its outcome.
type BulkJobItem struct {
	Values      Values            `json:"values"`
	Status      BulkItemStatus    `json:"status"`
	ResourceID  string            `json:"resourceId,omitempty"`
	Error       string            `json:"error,omitempty"`
	FieldErrors map[string]string `json:"fieldErrors,omitempty"`
}

// BulkJobItems is persisted as JSONB.
type BulkJobItems []BulkJobItem

// Value marshals items to JSON for persistence.
func (items BulkJobItems) Value() (driver.Value, error) {
	if items == nil {
		items = BulkJobItems{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal bulk job items: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the items slice.
func (items *BulkJobItems) Scan(value interface{}) error {
	if value == nil {
		*items = BulkJobItems{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for BulkJobItems", value)
	}
	if len(data) == 0 {
		*items = BulkJobItems{}
		return nil
	}
	if err := json.Unmarshal(data, items); err != nil {
		return fmt.Errorf("unmarshal bulk job items: %w", err)
	}
	return nil
}

// Counts returns the number of saved and failed items.
func (items BulkJobItems) Counts() (saved, failed int) {
	for _, item := range items {
		switch item.Status {
		case BulkItemSaved:
			saved++
		case BulkItemFailed:
			failed++
		}
	}
	return saved, failed
}

// BulkSaveRequest enqueues a batch of material sample submissions.
type BulkSaveRequest struct {
	Samples  []Values `json:"samples" validate:"required,min=1,max=500,dive,required"`
	Sections []string `json:"enabledSections"`
}
