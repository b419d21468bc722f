package syncer_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"catalogsync/internal/apperr"
	"catalogsync/internal/logger"
	"catalogsync/internal/source"
	"catalogsync/internal/syncer"
	"catalogsync/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	pages  [][]source.Product
	total  int
	since  []time.Time
	onCall func()
}

func (f *fakeLister) ListProducts(ctx context.Context, page, limit int, since *time.Time) (*source.Page[source.Product], error) {
	if since != nil {
		f.since = append(f.since, *since)
	}
	if f.onCall != nil {
		f.onCall()
	}
	if page > len(f.pages) {
		return &source.Page[source.Product]{Total: f.total}, nil
	}
	return &source.Page[source.Product]{Items: f.pages[page-1], Total: f.total}, nil
}

func TestSyncRecent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.seed(t, testutil.SimpleProduct("A", 100, 1))
	b := h.seed(t, testutil.SimpleProduct("B", 100, 1))

	lister := &fakeLister{
		pages: [][]source.Product{
			{*testutil.SimpleProduct("A", 200, 4), *testutil.SimpleProduct("UNKNOWN", 1, 1)},
			{*testutil.SimpleProduct("B", 300, 5)},
		},
		total: 3,
	}
	sweeper := syncer.NewSweeper(h.engine, h.store, lister, h.opts,
		syncer.SweepConfig{RecentMinutes: 15, ChunkSize: 1}, logger.Nop()).WithClock(h.clock.now)

	res, err := sweeper.SyncRecent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 3, res.Seen)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, h.clock.t.Add(-15*time.Minute), lister.since[0])
	assert.Zero(t, h.src.calls, "sweeps reuse the listed payload")

	assert.Equal(t, 200.0, *h.reload(t, a.ID).Price)
	assert.Equal(t, 5, h.reload(t, b.ID).StockQuantity)

	locked, err := h.opts.TryLock(ctx, "sync_recent_sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, locked, "the sweep releases its lock")
}

func TestSyncRecentSkipsWhileLocked(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	lister := &fakeLister{}
	sweeper := syncer.NewSweeper(h.engine, h.store, lister, h.opts, syncer.SweepConfig{}, logger.Nop()).WithClock(h.clock.now)

	ok, err := h.opts.TryLock(ctx, "sync_recent_sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := sweeper.SyncRecent(ctx)
	require.NoError(t, err)
	assert.True(t, res.Locked)
	assert.Empty(t, lister.since)
}

func TestSyncRecentStopsAtBudget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, testutil.SimpleProduct("A", 100, 1))

	page := []source.Product{*testutil.SimpleProduct("A", 100, 1)}
	lister := &fakeLister{
		pages: [][]source.Product{page, page, page, page},
		total: 100,
	}
	lister.onCall = func() { h.clock.advance(30 * time.Second) }
	sweeper := syncer.NewSweeper(h.engine, h.store, lister, h.opts,
		syncer.SweepConfig{Budget: 50 * time.Second}, logger.Nop()).WithClock(h.clock.now)

	res, err := sweeper.SyncRecent(ctx)
	require.NoError(t, err)
	assert.True(t, res.BudgetExhausted)
	assert.Equal(t, 2, res.Pages)
}

type recordingLocker struct {
	ttls []time.Duration
}

func (l *recordingLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	l.ttls = append(l.ttls, ttl)
	return true, nil
}

func (l *recordingLocker) Unlock(ctx context.Context, name string) error { return nil }

func TestSyncRecentLockOutlivesBudget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	lister := &fakeLister{}

	for _, budget := range []time.Duration{10 * time.Second, 5 * time.Minute} {
		locker := &recordingLocker{}
		sweeper := syncer.NewSweeper(h.engine, h.store, lister, locker,
			syncer.SweepConfig{Budget: budget}, logger.Nop()).WithClock(h.clock.now)

		_, err := sweeper.SyncRecent(ctx)
		require.NoError(t, err)
		require.Len(t, locker.ttls, 1)
		assert.Greater(t, locker.ttls[0], budget)
		assert.GreaterOrEqual(t, locker.ttls[0], 2*time.Minute)
	}
}

func TestSyncStaleSkipsRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	old := h.seed(t, testutil.SimpleProduct("OLD", 100, 1))
	broken := h.seed(t, testutil.SimpleProduct("BROKEN", 100, 1))
	h.clock.advance(25 * time.Hour)
	fresh := h.seed(t, testutil.SimpleProduct("FRESH", 100, 1))

	broken.RestoreFailures = syncer.MaxRestoreFailures
	require.NoError(t, h.store.SaveProduct(ctx, broken))

	h.src.put(testutil.SimpleProduct("OLD", 150, 2))
	h.src.put(testutil.SimpleProduct("BROKEN", 150, 2))
	h.src.put(testutil.SimpleProduct("FRESH", 150, 2))

	sweeper := syncer.NewSweeper(h.engine, h.store, &fakeLister{}, h.opts,
		syncer.SweepConfig{StaleAge: 24 * time.Hour}, logger.Nop()).WithClock(h.clock.now)
	res, err := sweeper.SyncStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Seen)
	assert.Equal(t, 1, res.Updated)

	assert.Equal(t, 150.0, *h.reload(t, old.ID).Price)
	assert.Equal(t, 100.0, *h.reload(t, broken.ID).Price)
	assert.Equal(t, 100.0, *h.reload(t, fresh.ID).Price)
}

func TestPush(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, testutil.SimpleProduct("P1", 100, 1))
	h.src.put(testutil.SimpleProduct("P1", 120, 3))
	pusher := syncer.NewPusher(h.engine, h.opts, syncer.PushConfig{MaxSKUs: 2, Window: 5 * time.Second}, logger.Nop())

	_, err := pusher.Push(ctx, []string{" ", ""}, nil)
	assertStatus(t, http.StatusBadRequest, err)

	_, err = pusher.Push(ctx, []string{"a", "b", "c"}, nil)
	assertStatus(t, http.StatusBadRequest, err)

	resp, err := pusher.Push(ctx, []string{"P1", "MISSING", "P1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Processed)
	assert.Equal(t, 5, resp.RateWindowSec)
	require.Len(t, resp.Results, 2)
	assert.True(t, resp.Results[0].Success)
	assert.Equal(t, http.StatusOK, resp.Results[0].StatusCode)
	assert.False(t, resp.Results[1].Success)
	assert.Equal(t, http.StatusNotFound, resp.Results[1].StatusCode)

	_, err = pusher.Push(ctx, []string{"P1"}, nil)
	assertStatus(t, http.StatusTooManyRequests, err)

	h.clock.advance(6 * time.Second)
	full := false
	resp, err = pusher.Push(ctx, []string{"P1"}, &full)
	require.NoError(t, err)
	assert.True(t, resp.Results[0].Success, "push ignores the cooldown")
}

func assertStatus(t *testing.T, code int, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, apperr.StatusOf(err), err.Error())
}
