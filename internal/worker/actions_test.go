package worker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"catalogsync/internal/catalog"
	"catalogsync/internal/importer"
	"catalogsync/internal/jobs"
	"catalogsync/internal/logger"
	"catalogsync/internal/mapping"
	"catalogsync/internal/materializer"
	"catalogsync/internal/models"
	"catalogsync/internal/options"
	"catalogsync/internal/scheduler"
	"catalogsync/internal/source"
	"catalogsync/internal/staging"
	"catalogsync/internal/syncer"
	"catalogsync/internal/testutil"
	"catalogsync/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emptyLister struct{ calls int }

func (l *emptyLister) ListProducts(ctx context.Context, page, limit int, since *time.Time) (*source.Page[source.Product], error) {
	l.calls++
	return &source.Page[source.Product]{}, nil
}

type emptySource struct{}

func (emptySource) ListProductsRaw(ctx context.Context, page, limit int, since *time.Time) (*source.Page[json.RawMessage], error) {
	return &source.Page[json.RawMessage]{}, nil
}

func TestScheduledActionsRun(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	db := testutil.NewDB(t).DB
	log := logger.Nop()
	opts := options.New(db)
	store := catalog.NewStore(db)
	mapper := mapping.New(store, db, log)
	mat := materializer.New(store, mapper, materializer.Options{SkipImages: true}, log)
	queue := scheduler.NewQueue(db).WithClock(clock)
	orch := importer.New(staging.New(db), jobs.New(db, opts), mat, mapper, queue, opts, emptySource{},
		importer.Config{}, log)
	engine := syncer.NewEngine(store, mat, nil, syncer.Config{}, log)
	lister := &emptyLister{}
	sweeper := syncer.NewSweeper(engine, store, lister, opts, syncer.SweepConfig{}, log).WithClock(clock)

	runner := scheduler.NewRunner(queue, log)
	worker.RegisterActions(runner, orch, sweeper, log)

	require.NoError(t, worker.ScheduleSweeps(ctx, queue))
	require.NoError(t, worker.ScheduleSweeps(ctx, queue))
	for _, action := range []string{syncer.ActionRecentSweep, syncer.ActionStaleSweep} {
		pending, err := queue.Pending(ctx, action)
		require.NoError(t, err)
		assert.Len(t, pending, 1, action)
	}

	require.NoError(t, queue.ScheduleOnce(ctx, now, importer.ActionProcessBatch, "gone-job"))
	require.NoError(t, queue.ScheduleRecurring(ctx, time.Minute, importer.ActionRecoveryCheck))

	now = now.Add(syncer.RecentSweepInterval + time.Second)
	n, err := runner.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 1, lister.calls)

	var failed int64
	require.NoError(t, db.Model(&models.ScheduledAction{}).
		Where("status = ?", models.ActionStatusFailed).Count(&failed).Error)
	assert.Zero(t, failed)
}
