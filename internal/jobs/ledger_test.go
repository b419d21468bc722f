package jobs_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"catalogsync/internal/jobs"
	"catalogsync/internal/models"
	"catalogsync/internal/options"
	"catalogsync/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newLedger(t *testing.T) (*jobs.Ledger, *options.Store) {
	db := testutil.NewDB(t).DB
	now := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	opts := options.New(db).WithClock(now)
	return jobs.New(db, opts).WithClock(now), opts
}

func TestCreateJobClaimsPointer(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	job, err := l.CreateJob(ctx, "source", 90, 30)
	require.NoError(t, err)
	assert.NotEmpty(t, job.JobID)

	active, err := l.GetActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, job.JobID, active.JobID)

	_, err = l.CreateJob(ctx, "source", 90, 30)
	assert.ErrorIs(t, err, jobs.ErrActiveExists)

	list, err := l.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	var active2 int
	for _, j := range list {
		if j.Status.Active() {
			active2++
		}
	}
	assert.Equal(t, 1, active2, "the losing job must not stay active")
}

func TestProgressIsMonotonic(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)
	job, err := l.CreateJob(ctx, "source", 10, 5)
	require.NoError(t, err)

	require.NoError(t, l.UpdateProgress(ctx, job.JobID, jobs.Counters{Processed: 5, Created: 4, Failed: 1}))
	require.NoError(t, l.UpdateProgress(ctx, job.JobID, jobs.Counters{Processed: 3, Created: 2, Existing: 1}))

	got, err := l.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Processed)
	assert.Equal(t, 4, got.Created)
	assert.Equal(t, 1, got.Existing)
	assert.Equal(t, 1, got.Failed)
}

func TestCompleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l, opts := newLedger(t)
	job, err := l.CreateJob(ctx, "source", 10, 5)
	require.NoError(t, err)

	changed, err := l.Complete(ctx, job.JobID, models.JobStatusCompleted, "")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = l.Complete(ctx, job.JobID, models.JobStatusFailed, "late")
	require.NoError(t, err)
	assert.False(t, changed)

	got, _ := l.Get(ctx, job.JobID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	_, present, _ := opts.Get(ctx, jobs.ActivePointerKey)
	assert.False(t, present)

	_, err = l.Complete(ctx, job.JobID, models.JobStatusInProgress, "")
	assert.Error(t, err)
}

func TestGetActiveHealsDanglingPointer(t *testing.T) {
	ctx := context.Background()
	l, opts := newLedger(t)

	require.NoError(t, opts.Set(ctx, jobs.ActivePointerKey, "ghost", 0))
	active, err := l.GetActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	_, present, _ := opts.Get(ctx, jobs.ActivePointerKey)
	assert.False(t, present)
}

func TestAddDelayAccumulates(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)
	job, err := l.CreateJob(ctx, "source", 10, 5)
	require.NoError(t, err)

	require.NoError(t, l.AddDelay(ctx, job.JobID, 15*time.Second))
	require.NoError(t, l.AddDelay(ctx, job.JobID, 20*time.Second))
	got, _ := l.Get(ctx, job.JobID)
	assert.Equal(t, 35, got.DelaySeconds)
}

func TestUpdateHeartbeatSQL(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	l := jobs.New(gormDB, nil)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "import_jobs" SET "heartbeat_at"=$1,"updated_at"=$2 WHERE job_id = $3`)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, l.UpdateHeartbeat(context.Background(), "job-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
