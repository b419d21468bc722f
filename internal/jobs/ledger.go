// Package jobs is the durable ledger of import runs. At most one job is
// active at a time; the active job id lives in a single option pointer.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"catalogsync/internal/models"
	"catalogsync/internal/options"

	"gorm.io/gorm"
)

// ActivePointerKey is the option holding the active job id.
const ActivePointerKey = "import_active_job_id"

var (
	ErrNotFound     = errors.New("import job not found")
	ErrActiveExists = errors.New("another import job is active")
)

// Counters are the cumulative progress totals of a job.
type Counters struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Existing  int `json:"existing"`
	Failed    int `json:"failed"`
}

type Ledger struct {
	db   *gorm.DB
	opts *options.Store
	now  func() time.Time
}

func New(db *gorm.DB, opts *options.Store) *Ledger {
	return &Ledger{db: db, opts: opts, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the time source, for tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// CreateJob records a new pending job and claims the active pointer. If the
// pointer is already held the new job is cancelled and ErrActiveExists returned.
func (l *Ledger) CreateJob(ctx context.Context, sourceTag string, total, batchSize int) (*models.ImportJob, error) {
	now := l.now()
	job := &models.ImportJob{
		SourceTag:   sourceTag,
		Status:      models.JobStatusPending,
		Total:       total,
		BatchSize:   batchSize,
		StartedAt:   now,
		HeartbeatAt: now,
	}
	if err := l.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create import job: %w", err)
	}

	ok, err := l.opts.CompareAndSet(ctx, ActivePointerKey, "", job.JobID)
	if err != nil {
		return nil, err
	}
	if !ok {
		_, _ = l.Complete(ctx, job.JobID, models.JobStatusCancelled, ErrActiveExists.Error())
		return nil, ErrActiveExists
	}
	return job, nil
}

func (l *Ledger) Get(ctx context.Context, jobID string) (*models.ImportJob, error) {
	var job models.ImportJob
	err := l.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch import job: %w", err)
	}
	return &job, nil
}

// ActiveID returns the raw pointer value, or "".
func (l *Ledger) ActiveID(ctx context.Context) (string, error) {
	id, _, err := l.opts.Get(ctx, ActivePointerKey)
	return id, err
}

// GetActive returns the active job or nil. A pointer to a missing or
// finished job is cleared.
func (l *Ledger) GetActive(ctx context.Context) (*models.ImportJob, error) {
	id, err := l.ActiveID(ctx)
	if err != nil || id == "" {
		return nil, err
	}
	job, err := l.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if job == nil || !job.Status.Active() {
		if _, err := l.opts.CompareAndSet(ctx, ActivePointerKey, id, ""); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return job, nil
}

// Latest returns the most recently started job, active or not.
func (l *Ledger) Latest(ctx context.Context) (*models.ImportJob, error) {
	jobs, err := l.List(ctx, 1)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return &jobs[0], nil
}

func (l *Ledger) List(ctx context.Context, limit int) ([]models.ImportJob, error) {
	var jobs []models.ImportJob
	if err := l.db.WithContext(ctx).Order("started_at DESC, created_at DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list import jobs: %w", err)
	}
	return jobs, nil
}

// UpdateProgress stores c, never letting a counter move backwards.
func (l *Ledger) UpdateProgress(ctx context.Context, jobID string, c Counters) error {
	job, err := l.Get(ctx, jobID)
	if err != nil {
		return err
	}
	err = l.db.WithContext(ctx).Model(&models.ImportJob{}).
		Where("job_id = ?", jobID).
		Updates(map[string]interface{}{
			"processed":    max(job.Processed, c.Processed),
			"created":      max(job.Created, c.Created),
			"existing":     max(job.Existing, c.Existing),
			"failed":       max(job.Failed, c.Failed),
			"heartbeat_at": l.now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update progress of %s: %w", jobID, err)
	}
	return nil
}

func (l *Ledger) UpdateHeartbeat(ctx context.Context, jobID string) error {
	err := l.db.WithContext(ctx).Model(&models.ImportJob{}).
		Where("job_id = ?", jobID).
		Update("heartbeat_at", l.now()).Error
	if err != nil {
		return fmt.Errorf("failed to update heartbeat of %s: %w", jobID, err)
	}
	return nil
}

// MarkInProgress moves a pending job to in_progress.
func (l *Ledger) MarkInProgress(ctx context.Context, jobID string) error {
	err := l.db.WithContext(ctx).Model(&models.ImportJob{}).
		Where("job_id = ? AND status = ?", jobID, models.JobStatusPending).
		Update("status", models.JobStatusInProgress).Error
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", jobID, err)
	}
	return nil
}

// AddDelay accumulates scheduled inter-batch delay, used by the ETA.
func (l *Ledger) AddDelay(ctx context.Context, jobID string, d time.Duration) error {
	err := l.db.WithContext(ctx).Model(&models.ImportJob{}).
		Where("job_id = ?", jobID).
		Update("delay_seconds", gorm.Expr("delay_seconds + ?", int(d/time.Second))).Error
	if err != nil {
		return fmt.Errorf("failed to record delay of %s: %w", jobID, err)
	}
	return nil
}

// Complete finalizes an active job with a terminal status and releases the
// active pointer. It reports false when the job was already terminal.
func (l *Ledger) Complete(ctx context.Context, jobID string, status models.JobStatus, message string) (bool, error) {
	if status.Active() {
		return false, fmt.Errorf("status %s is not terminal", status)
	}
	now := l.now()
	res := l.db.WithContext(ctx).Model(&models.ImportJob{}).
		Where("job_id = ? AND status IN ?", jobID, []models.JobStatus{models.JobStatusPending, models.JobStatusInProgress}).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": message,
			"completed_at":  now,
			"heartbeat_at":  now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to complete %s: %w", jobID, res.Error)
	}
	if _, err := l.opts.CompareAndSet(ctx, ActivePointerKey, jobID, ""); err != nil {
		return false, err
	}
	return res.RowsAffected == 1, nil
}
