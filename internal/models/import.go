package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type StagedStatus string

const (
	StagedStatusPending StagedStatus = "pending"
	StagedStatusFailed  StagedStatus = "failed"
)

// StagedProduct is a source payload waiting to be materialized.
type StagedProduct struct {
	SKU       string         `json:"sku" gorm:"primaryKey;type:varchar(191)"`
	Payload   datatypes.JSON `json:"payload"`
	Status    StagedStatus   `json:"status" gorm:"index;default:pending"`
	Error     string         `json:"error,omitempty" gorm:"type:text"`
	CreatedAt time.Time      `json:"created_at" gorm:"index"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Active reports whether the job still owns the import slot.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusInProgress
}

// ImportJob is the durable record of one import run.
type ImportJob struct {
	JobID        string     `json:"job_id" gorm:"primaryKey;type:varchar(36)"`
	SourceTag    string     `json:"source_tag"`
	Status       JobStatus  `json:"status" gorm:"index;default:pending"`
	Total        int        `json:"total"`
	Processed    int        `json:"processed"`
	Created      int        `json:"created"`
	Existing     int        `json:"existing"`
	Failed       int        `json:"failed"`
	BatchSize    int        `json:"batch_size"`
	DelaySeconds int        `json:"delay_seconds"`
	StartedAt    time.Time  `json:"started_at"`
	HeartbeatAt  time.Time  `json:"heartbeat_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	ErrorMessage string     `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (j *ImportJob) BeforeCreate(tx *gorm.DB) error {
	if j.JobID == "" {
		j.JobID = uuid.New().String()
	}
	return nil
}

// Remaining is the number of rows not yet processed.
func (j *ImportJob) Remaining() int {
	if j.Total <= j.Processed {
		return 0
	}
	return j.Total - j.Processed
}
