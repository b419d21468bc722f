// Package scheduler delivers named actions at or after a point in time,
// once or on a fixed interval. The queue is a database table so that any
// process can schedule work and any worker can run it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"catalogsync/internal/models"

	"gorm.io/gorm"
)

// Scheduler is the capability the engines use to defer work.
type Scheduler interface {
	ScheduleOnce(ctx context.Context, at time.Time, action, args string) error
	ScheduleRecurring(ctx context.Context, every time.Duration, action string) error
	Unschedule(ctx context.Context, action, args string) error
}

type Queue struct {
	db  *gorm.DB
	now func() time.Time
}

func NewQueue(db *gorm.DB) *Queue {
	return &Queue{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the time source, for tests.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// ScheduleOnce queues action with args. An identical pending entry is moved
// to the earlier of the two times instead of being duplicated.
func (q *Queue) ScheduleOnce(ctx context.Context, at time.Time, action, args string) error {
	at = at.UTC()
	var existing models.ScheduledAction
	err := q.db.WithContext(ctx).
		Where("action = ? AND args = ? AND status = ? AND interval_seconds = 0", action, args, models.ActionStatusPending).
		First(&existing).Error
	switch {
	case err == nil:
		if at.Before(existing.RunAt) {
			return q.db.WithContext(ctx).Model(&existing).Update("run_at", at).Error
		}
		return nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("failed to look up %s: %w", action, err)
	}

	entry := &models.ScheduledAction{
		Action: action,
		Args:   args,
		RunAt:  at,
		Status: models.ActionStatusPending,
	}
	if err := q.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to schedule %s: %w", action, err)
	}
	return nil
}

// ScheduleRecurring registers action every interval. Calling it again for the
// same action only updates the interval.
func (q *Queue) ScheduleRecurring(ctx context.Context, every time.Duration, action string) error {
	secs := int(every / time.Second)
	if secs < 1 {
		return fmt.Errorf("interval of %s must be at least one second", action)
	}

	var existing models.ScheduledAction
	err := q.db.WithContext(ctx).
		Where("action = ? AND interval_seconds > 0 AND status IN ?", action,
			[]models.ActionStatus{models.ActionStatusPending, models.ActionStatusRunning}).
		First(&existing).Error
	switch {
	case err == nil:
		if existing.IntervalSeconds == secs {
			return nil
		}
		return q.db.WithContext(ctx).Model(&existing).Update("interval_seconds", secs).Error
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("failed to look up %s: %w", action, err)
	}

	entry := &models.ScheduledAction{
		Action:          action,
		RunAt:           q.now().Add(every),
		IntervalSeconds: secs,
		Status:          models.ActionStatusPending,
	}
	if err := q.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to schedule %s: %w", action, err)
	}
	return nil
}

// Unschedule cancels pending entries of action. An empty args matches any.
func (q *Queue) Unschedule(ctx context.Context, action, args string) error {
	tx := q.db.WithContext(ctx).Model(&models.ScheduledAction{}).
		Where("action = ? AND status = ?", action, models.ActionStatusPending)
	if args != "" {
		tx = tx.Where("args = ?", args)
	}
	if err := tx.Update("status", models.ActionStatusCancelled).Error; err != nil {
		return fmt.Errorf("failed to unschedule %s: %w", action, err)
	}
	return nil
}

// Pending lists pending entries of action, soonest first.
func (q *Queue) Pending(ctx context.Context, action string) ([]models.ScheduledAction, error) {
	var out []models.ScheduledAction
	err := q.db.WithContext(ctx).
		Where("action = ? AND status = ?", action, models.ActionStatusPending).
		Order("run_at").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", action, err)
	}
	return out, nil
}

// due returns pending entries whose time has come.
func (q *Queue) due(ctx context.Context, limit int) ([]models.ScheduledAction, error) {
	var out []models.ScheduledAction
	err := q.db.WithContext(ctx).
		Where("status = ? AND run_at <= ?", models.ActionStatusPending, q.now()).
		Order("run_at").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due actions: %w", err)
	}
	return out, nil
}

// claim flips an entry to running. Only one worker can win.
func (q *Queue) claim(ctx context.Context, id string) (bool, error) {
	res := q.db.WithContext(ctx).Model(&models.ScheduledAction{}).
		Where("id = ? AND status = ?", id, models.ActionStatusPending).
		Updates(map[string]interface{}{
			"status":   models.ActionStatusRunning,
			"attempts": gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// finish records the outcome. Recurring entries are re-armed.
func (q *Queue) finish(ctx context.Context, a *models.ScheduledAction, runErr error) error {
	updates := map[string]interface{}{"last_error": ""}
	if runErr != nil {
		updates["last_error"] = runErr.Error()
	}
	switch {
	case a.IntervalSeconds > 0:
		updates["status"] = models.ActionStatusPending
		updates["run_at"] = q.now().Add(time.Duration(a.IntervalSeconds) * time.Second)
	case runErr != nil:
		updates["status"] = models.ActionStatusFailed
	default:
		updates["status"] = models.ActionStatusDone
	}
	err := q.db.WithContext(ctx).Model(&models.ScheduledAction{}).
		Where("id = ? AND status = ?", a.ID, models.ActionStatusRunning).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to finish %s: %w", a.ID, err)
	}
	return nil
}
