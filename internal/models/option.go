package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Option is a small persisted key/value pair. A row whose ExpiresAt has
// passed is treated as absent.
type Option struct {
	Key       string     `json:"key" gorm:"column:option_key;primaryKey;type:varchar(191)"`
	Value     string     `json:"value" gorm:"type:text"`
	ExpiresAt *time.Time `json:"expires_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusRunning   ActionStatus = "running"
	ActionStatusDone      ActionStatus = "done"
	ActionStatusFailed    ActionStatus = "failed"
	ActionStatusCancelled ActionStatus = "cancelled"
)

// ScheduledAction is one entry of the scheduler queue. IntervalSeconds > 0
// marks a recurring action.
type ScheduledAction struct {
	ID              string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Action          string       `json:"action" gorm:"index;not null"`
	Args            string       `json:"args" gorm:"type:text"`
	RunAt           time.Time    `json:"run_at" gorm:"index"`
	IntervalSeconds int          `json:"interval_seconds"`
	Status          ActionStatus `json:"status" gorm:"index;default:pending"`
	Attempts        int          `json:"attempts"`
	LastError       string       `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func (a *ScheduledAction) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}
