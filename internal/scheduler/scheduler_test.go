package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/scheduler"
	"catalogsync/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func setup(t *testing.T) (*scheduler.Queue, *scheduler.Runner, *clock, *gorm.DB) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	db := testutil.NewDB(t).DB
	q := scheduler.NewQueue(db).WithClock(c.now)
	return q, scheduler.NewRunner(q, logger.Nop()), c, db
}

func TestScheduleOnceRunsWhenDue(t *testing.T) {
	ctx := context.Background()
	q, r, c, db := setup(t)

	var got []string
	r.Register("echo", func(ctx context.Context, args string) error {
		got = append(got, args)
		return nil
	})

	require.NoError(t, q.ScheduleOnce(ctx, c.t.Add(10*time.Second), "echo", "a"))
	require.NoError(t, q.ScheduleOnce(ctx, c.t.Add(5*time.Second), "echo", "a"))

	pending, err := q.Pending(ctx, "echo")
	require.NoError(t, err)
	require.Len(t, pending, 1, "duplicate entries collapse")
	assert.True(t, pending[0].RunAt.Equal(c.t.Add(5*time.Second)))

	n, err := r.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	c.t = c.t.Add(6 * time.Second)
	n, err = r.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a"}, got)

	var entry models.ScheduledAction
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, models.ActionStatusDone, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
}

func TestRecurringReArmsAndRecordsErrors(t *testing.T) {
	ctx := context.Background()
	q, r, c, db := setup(t)

	calls := 0
	r.Register("tick", func(ctx context.Context, args string) error {
		calls++
		return errors.New("flaky")
	})
	require.NoError(t, q.ScheduleRecurring(ctx, time.Minute, "tick"))
	require.NoError(t, q.ScheduleRecurring(ctx, time.Minute, "tick"))

	for i := 0; i < 3; i++ {
		c.t = c.t.Add(time.Minute)
		_, err := r.RunDue(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)

	var entries []models.ScheduledAction
	require.NoError(t, db.Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionStatusPending, entries[0].Status)
	assert.Equal(t, "flaky", entries[0].LastError)
	assert.True(t, entries[0].RunAt.Equal(c.t.Add(time.Minute)))
}

func TestUnscheduleAndPanics(t *testing.T) {
	ctx := context.Background()
	q, r, c, db := setup(t)

	r.Register("boom", func(ctx context.Context, args string) error { panic("bad") })
	require.NoError(t, q.ScheduleOnce(ctx, c.t, "boom", "1"))
	require.NoError(t, q.ScheduleOnce(ctx, c.t, "boom", "2"))
	require.NoError(t, q.Unschedule(ctx, "boom", "2"))

	n, err := r.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var statuses []models.ActionStatus
	require.NoError(t, db.Model(&models.ScheduledAction{}).Order("args").Pluck("status", &statuses).Error)
	assert.Equal(t, []models.ActionStatus{models.ActionStatusFailed, models.ActionStatusCancelled}, statuses)
}
