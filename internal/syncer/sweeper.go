package syncer

import (
	"context"
	"net/http"
	"time"

	"catalogsync/internal/catalog"
	"catalogsync/internal/logger"
	"catalogsync/internal/options"
	"catalogsync/internal/source"
)

// Scheduler action names and their intervals.
const (
	ActionRecentSweep   = "sync.recent_sweep"
	ActionStaleSweep    = "sync.stale_sweep"
	RecentSweepInterval = 10 * time.Minute
	StaleSweepInterval  = 5 * time.Minute
)

const (
	recentLockName = "sync_recent_sweep"
	// added to the sweep budget to get the lock TTL
	recentLockMargin = 30 * time.Second
	minRecentLockTTL = 2 * time.Minute

	// MaxRestoreFailures keeps repeatedly failing products out of the stale
	// sweep.
	MaxRestoreFailures = 3

	defaultRecentMinutes = 15
	defaultSweepBudget   = 50 * time.Second
	defaultPageSize      = 50
	defaultChunkSize     = 10
	defaultStaleAge      = 24 * time.Hour
	defaultStaleBatch    = 20
)

// Lister pages decoded source products.
type Lister interface {
	ListProducts(ctx context.Context, page, limit int, since *time.Time) (*source.Page[source.Product], error)
}

type SweepConfig struct {
	RecentMinutes int
	Budget        time.Duration
	PageSize      int
	ChunkSize     int
	StaleAge      time.Duration
	StaleBatch    int
}

func (c SweepConfig) withDefaults() SweepConfig {
	if c.RecentMinutes <= 0 {
		c.RecentMinutes = defaultRecentMinutes
	}
	if c.Budget <= 0 {
		c.Budget = defaultSweepBudget
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.StaleAge <= 0 {
		c.StaleAge = defaultStaleAge
	}
	if c.StaleBatch <= 0 {
		c.StaleBatch = defaultStaleBatch
	}
	return c
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Locked          bool `json:"locked"`
	BudgetExhausted bool `json:"budget_exhausted"`
	Pages           int  `json:"pages"`
	Seen            int  `json:"seen"`
	Updated         int  `json:"updated"`
	Skipped         int  `json:"skipped"`
	Failed          int  `json:"failed"`
}

func (r *SweepResult) count(res *Result) {
	r.Seen++
	switch res.StatusCode {
	case http.StatusOK:
		r.Updated++
	case http.StatusNotFound, http.StatusTooManyRequests:
		r.Skipped++
	default:
		r.Failed++
	}
}

type Sweeper struct {
	engine *Engine
	store  catalog.Store
	lister Lister
	locker options.Locker
	cfg    SweepConfig
	logger *logger.Logger
	now    func() time.Time
}

func NewSweeper(engine *Engine, store catalog.Store, lister Lister, locker options.Locker, cfg SweepConfig, logger *logger.Logger) *Sweeper {
	return &Sweeper{
		engine: engine,
		store:  store,
		lister: lister,
		locker: locker,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source, for tests.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

func (s *Sweeper) lockTTL() time.Duration {
	return max(minRecentLockTTL, s.cfg.Budget+recentLockMargin)
}

// SyncRecent applies every source product changed in the last few minutes to
// its local product. Only one sweep runs at a time, and a sweep stops once
// its wall-clock budget is spent; the next run picks up from there.
func (s *Sweeper) SyncRecent(ctx context.Context) (*SweepResult, error) {
	res := &SweepResult{}
	ok, err := s.locker.TryLock(ctx, recentLockName, s.lockTTL())
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Debug("Recent sweep already running")
		res.Locked = true
		return res, nil
	}
	defer func() {
		if err := s.locker.Unlock(ctx, recentLockName); err != nil {
			s.logger.Warn("Could not release %s: %v", recentLockName, err)
		}
	}()

	start := s.now()
	deadline := start.Add(s.cfg.Budget)
	since := start.Add(-time.Duration(s.cfg.RecentMinutes) * time.Minute)
	opts := DefaultOptions()

	fetched := 0
	for page := 1; ; page++ {
		if !s.now().Before(deadline) {
			res.BudgetExhausted = true
			break
		}
		resp, err := s.lister.ListProducts(ctx, page, s.cfg.PageSize, &since)
		if err != nil {
			s.logger.Error("Recent sweep stopped at page %d: %v", page, err)
			return res, err
		}
		res.Pages++
		if len(resp.Items) == 0 {
			break
		}

		for lo := 0; lo < len(resp.Items); lo += s.cfg.ChunkSize {
			hi := min(lo+s.cfg.ChunkSize, len(resp.Items))
			for i := lo; i < hi; i++ {
				res.count(s.engine.SyncRemote(ctx, &resp.Items[i], opts))
			}
			if !s.now().Before(deadline) {
				res.BudgetExhausted = true
				break
			}
		}
		if res.BudgetExhausted {
			break
		}

		fetched += len(resp.Items)
		if resp.Total > 0 && fetched >= resp.Total {
			break
		}
	}

	s.logger.Info("Recent sweep: %d seen, %d updated, %d skipped, %d failed over %d pages",
		res.Seen, res.Updated, res.Skipped, res.Failed, res.Pages)
	if res.BudgetExhausted {
		s.logger.Warn("Recent sweep ran out of its %s budget", s.cfg.Budget)
	}
	return res, nil
}

// SyncStale re-syncs a bounded batch of products not synced for a long time.
func (s *Sweeper) SyncStale(ctx context.Context) (*SweepResult, error) {
	cutoff := s.now().Add(-s.cfg.StaleAge)
	products, err := s.store.ListStaleProducts(ctx, cutoff, MaxRestoreFailures, s.cfg.StaleBatch)
	if err != nil {
		return nil, err
	}

	res := &SweepResult{}
	for _, p := range products {
		res.count(s.engine.SyncProduct(ctx, p.ID, DefaultOptions()))
	}
	if res.Seen > 0 {
		s.logger.Info("Stale sweep: %d seen, %d updated, %d failed", res.Seen, res.Updated, res.Failed)
	}
	return res, nil
}
