// Package importer drains the staging table into the catalog in bounded
// batches. Each batch is one short scheduler delivery; the job ledger and a
// few persisted markers make the sequence behave like one long run, and a
// recovery check restarts the chain when a delivery is lost.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"catalogsync/internal/jobs"
	"catalogsync/internal/logger"
	"catalogsync/internal/mapping"
	"catalogsync/internal/materializer"
	"catalogsync/internal/models"
	"catalogsync/internal/options"
	"catalogsync/internal/scheduler"
	"catalogsync/internal/source"
	"catalogsync/internal/staging"
)

// Scheduler action names.
const (
	ActionProcessBatch  = "import.process_batch"
	ActionRecoveryCheck = "import.recovery_check"
)

// Option keys.
const (
	keyLastBatch = "import_last_batch_at"
	keyLog       = "import_log"
	keyETA       = "import_eta"
)

const (
	SourceTag           = "source"
	DefaultBatchSize    = 30
	FirstBatchDelay     = 5 * time.Second
	MinBatchDelay       = 10 * time.Second
	MaxBatchDelay       = 60 * time.Second
	RecoveryInterval    = 2 * time.Minute
	StaleThreshold      = 5 * time.Minute
	etaMinSample        = 60
	etaSmoothing        = 0.3
	etaCacheTTL         = 5 * time.Minute
	logCapacity         = 100
	fetchPageSize       = 100
	maxFetchPages       = 1000
	defaultProgressLogs = 20
)

var (
	ErrAlreadyRunning = errors.New("an import is already running")
	ErrNothingPending = errors.New("nothing pending in staging")
	ErrNoActiveJob    = errors.New("no active import")
)

// Source is the part of the source client the importer needs.
type Source interface {
	ListProductsRaw(ctx context.Context, page, limit int, since *time.Time) (*source.Page[json.RawMessage], error)
}

type Config struct {
	BatchSize  int
	BatchDelay time.Duration
}

type Orchestrator struct {
	staging *staging.Store
	ledger  *jobs.Ledger
	mat     *materializer.Materializer
	mapper  *mapping.Mapper
	sched   scheduler.Scheduler
	opts    *options.Store
	source  Source
	cfg     Config
	logger  *logger.Logger
	now     func() time.Time
}

func New(
	stg *staging.Store,
	ledger *jobs.Ledger,
	mat *materializer.Materializer,
	mapper *mapping.Mapper,
	sched scheduler.Scheduler,
	opts *options.Store,
	src Source,
	cfg Config,
	logger *logger.Logger,
) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Orchestrator{
		staging: stg,
		ledger:  ledger,
		mat:     mat,
		mapper:  mapper,
		sched:   sched,
		opts:    opts,
		source:  src,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source, for tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// BatchDelay is the configured inter-batch delay clamped to [10s, 60s].
func (o *Orchestrator) BatchDelay() time.Duration {
	d := o.cfg.BatchDelay
	if d < MinBatchDelay {
		return MinBatchDelay
	}
	if d > MaxBatchDelay {
		return MaxBatchDelay
	}
	return d
}

// FetchResult summarises a FetchToStaging run.
type FetchResult struct {
	Pages   int `json:"pages"`
	Total   int `json:"total"`
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
}

// FetchToStaging clears staging and pages the full source product list into it.
func (o *Orchestrator) FetchToStaging(ctx context.Context) (*FetchResult, error) {
	active, err := o.ledger.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, ErrAlreadyRunning
	}

	if err := o.staging.Reset(ctx); err != nil {
		return nil, err
	}
	o.appendLog(ctx, "info", "Fetching source products into staging")

	res := &FetchResult{}
	fetched := 0
	for page := 1; page <= maxFetchPages; page++ {
		resp, err := o.source.ListProductsRaw(ctx, page, fetchPageSize, nil)
		if err != nil {
			o.appendLog(ctx, "error", fmt.Sprintf("Fetch stopped at page %d: %v", page, err))
			return res, fmt.Errorf("fetch page %d: %w", page, err)
		}
		res.Pages++
		res.Total = resp.Total
		if len(resp.Items) == 0 {
			break
		}

		staged, err := o.staging.Stage(ctx, resp.Items)
		if err != nil {
			return res, err
		}
		res.Queued += staged.Queued
		res.Skipped += staged.Skipped
		fetched += len(resp.Items)
		if resp.Total > 0 && fetched >= resp.Total {
			break
		}
	}

	o.appendLog(ctx, "info", fmt.Sprintf("Staged %d products (%d skipped) from %d pages", res.Queued, res.Skipped, res.Pages))
	return res, nil
}

// Start opens a new import job over everything pending and schedules the
// first batch.
func (o *Orchestrator) Start(ctx context.Context) (*models.ImportJob, error) {
	active, err := o.ledger.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, ErrAlreadyRunning
	}

	pending, err := o.staging.CountPending(ctx)
	if err != nil {
		return nil, err
	}
	if pending == 0 {
		return nil, ErrNothingPending
	}

	job, err := o.ledger.CreateJob(ctx, SourceTag, pending, o.cfg.BatchSize)
	if errors.Is(err, jobs.ErrActiveExists) {
		return nil, ErrAlreadyRunning
	}
	if err != nil {
		return nil, err
	}

	now := o.now()
	if err := o.opts.SetTime(ctx, keyLastBatch, now); err != nil {
		return nil, err
	}
	_ = o.opts.Delete(ctx, keyETA)

	if err := o.sched.ScheduleOnce(ctx, now.Add(FirstBatchDelay), ActionProcessBatch, job.JobID); err != nil {
		_, _ = o.ledger.Complete(ctx, job.JobID, models.JobStatusFailed, err.Error())
		return nil, fmt.Errorf("failed to schedule first batch: %w", err)
	}
	if err := o.sched.ScheduleRecurring(ctx, RecoveryInterval, ActionRecoveryCheck); err != nil {
		o.logger.Warn("Could not register recovery check: %v", err)
	}

	o.appendLog(ctx, "info", fmt.Sprintf("Import %s started with %d products", job.JobID, pending))
	o.logger.Info("Import %s started: %d pending, batch size %d", job.JobID, pending, o.cfg.BatchSize)
	return job, nil
}

// BatchResult describes one ProcessBatch call.
type BatchResult struct {
	JobID     string     `json:"job_id"`
	Skipped   bool       `json:"skipped"`
	Processed int        `json:"processed"`
	Created   int        `json:"created"`
	Existing  int        `json:"existing"`
	Failed    int        `json:"failed"`
	Pending   int        `json:"pending"`
	Completed bool       `json:"completed"`
	Cancelled bool       `json:"cancelled"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

// ProcessBatch materializes up to one batch of pending rows for jobID. A
// jobID that is not the active job is ignored. A panic or an unexpected
// error fails the job with the message recorded.
func (o *Orchestrator) ProcessBatch(ctx context.Context, jobID string) (res *BatchResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("Import %s panicked: %v\n%s", jobID, rec, debug.Stack())
			res, err = nil, fmt.Errorf("batch aborted: %v", rec)
			o.fail(ctx, jobID, err)
		}
	}()

	res, err = o.processBatch(ctx, jobID)
	if err != nil {
		o.fail(ctx, jobID, err)
	}
	return res, err
}

func (o *Orchestrator) fail(ctx context.Context, jobID string, cause error) {
	o.appendLog(ctx, "error", fmt.Sprintf("Import %s failed: %v", jobID, cause))
	if _, err := o.ledger.Complete(ctx, jobID, models.JobStatusFailed, cause.Error()); err != nil {
		o.logger.Error("Could not mark import %s failed: %v", jobID, err)
	}
}

func (o *Orchestrator) processBatch(ctx context.Context, jobID string) (*BatchResult, error) {
	res := &BatchResult{JobID: jobID}

	job, err := o.ledger.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	if job == nil || job.JobID != jobID {
		o.logger.Debug("Ignoring stale batch delivery for %s", jobID)
		res.Skipped = true
		return res, nil
	}

	if err := o.ledger.MarkInProgress(ctx, jobID); err != nil {
		return nil, err
	}
	if err := o.ledger.UpdateHeartbeat(ctx, jobID); err != nil {
		return nil, err
	}
	if err := o.opts.SetTime(ctx, keyLastBatch, o.now()); err != nil {
		return nil, err
	}

	o.mapper.ResetCache()
	rows, err := o.staging.GetPendingBatch(ctx, o.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	var done []string
	var entries []options.LogEntry
	for i, row := range rows {
		if i > 0 {
			activeID, err := o.ledger.ActiveID(ctx)
			if err != nil {
				return nil, err
			}
			if activeID != jobID {
				res.Cancelled = true
				entries = append(entries, o.entry("warn", fmt.Sprintf("Import %s no longer active, stopping after %d rows", jobID, i)))
				break
			}
		}

		out, mErr := o.mat.Materialize(ctx, row.Payload)
		res.Processed++
		switch {
		case mErr != nil:
			res.Failed++
			if err := o.staging.MarkFailed(ctx, row.SKU, mErr.Error()); err != nil {
				return nil, err
			}
			entries = append(entries, o.entry("error", fmt.Sprintf("%s failed: %v", row.SKU, mErr)))
		case out.Created:
			res.Created++
			done = append(done, row.SKU)
			entries = append(entries, o.entry("info", fmt.Sprintf("%s created as product %d", row.SKU, out.ProductID)))
		default:
			res.Existing++
			done = append(done, row.SKU)
			entries = append(entries, o.entry("info", fmt.Sprintf("%s updated product %d", row.SKU, out.ProductID)))
		}
	}

	if err := o.staging.Delete(ctx, done); err != nil {
		return nil, err
	}

	err = o.ledger.UpdateProgress(ctx, jobID, jobs.Counters{
		Processed: job.Processed + res.Processed,
		Created:   job.Created + res.Created,
		Existing:  job.Existing + res.Existing,
		Failed:    job.Failed + res.Failed,
	})
	if err != nil {
		return nil, err
	}
	o.appendEntries(ctx, entries...)

	if res.Cancelled {
		return res, nil
	}

	res.Pending, err = o.staging.CountPending(ctx)
	if err != nil {
		return nil, err
	}

	if res.Pending > 0 {
		delay := o.BatchDelay()
		next := o.now().Add(delay)
		if err := o.sched.ScheduleOnce(ctx, next, ActionProcessBatch, jobID); err != nil {
			// the recovery check will pick the job up again
			o.logger.Error("Could not schedule next batch of %s: %v", jobID, err)
		} else {
			res.NextRunAt = &next
			if err := o.ledger.AddDelay(ctx, jobID, delay); err != nil {
				o.logger.Warn("Could not record batch delay: %v", err)
			}
		}
		o.logger.Info("Import %s batch: %d processed, %d failed, %d pending", jobID, res.Processed, res.Failed, res.Pending)
		return res, nil
	}

	if _, err := o.ledger.Complete(ctx, jobID, models.JobStatusCompleted, ""); err != nil {
		return nil, err
	}
	res.Completed = true
	o.appendLog(ctx, "info", fmt.Sprintf("Import %s completed", jobID))
	o.logger.Info("Import %s completed", jobID)
	return res, nil
}

// RecoveryResult tells what RecoveryCheck did.
type RecoveryResult struct {
	JobID  string `json:"job_id,omitempty"`
	Action string `json:"action"`
}

const (
	RecoveryIdle        = "idle"
	RecoveryHealthy     = "healthy"
	RecoveryRescheduled = "rescheduled"
	RecoveryFinalized   = "finalized"
)

// RecoveryCheck restarts a job whose batch chain stalled and finalizes a job
// whose work is done but which was never closed.
func (o *Orchestrator) RecoveryCheck(ctx context.Context) (*RecoveryResult, error) {
	job, err := o.ledger.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return &RecoveryResult{Action: RecoveryIdle}, nil
	}
	res := &RecoveryResult{JobID: job.JobID}

	pending, err := o.staging.CountPending(ctx)
	if err != nil {
		return nil, err
	}
	if pending == 0 {
		if _, err := o.ledger.Complete(ctx, job.JobID, models.JobStatusCompleted, ""); err != nil {
			return nil, err
		}
		o.appendLog(ctx, "warn", fmt.Sprintf("Import %s had no pending work left and was finalized", job.JobID))
		res.Action = RecoveryFinalized
		return res, nil
	}

	last, err := o.opts.GetTime(ctx, keyLastBatch)
	if err != nil {
		return nil, err
	}
	if last.IsZero() {
		last = job.HeartbeatAt
	}

	if o.now().Sub(last) > StaleThreshold {
		if err := o.sched.Unschedule(ctx, ActionProcessBatch, job.JobID); err != nil {
			return nil, err
		}
		if err := o.sched.ScheduleOnce(ctx, o.now(), ActionProcessBatch, job.JobID); err != nil {
			return nil, err
		}
		msg := fmt.Sprintf("Import %s stalled since %s, batch rescheduled", job.JobID, last.UTC().Format(time.RFC3339))
		o.logger.Warn("%s", msg)
		o.appendLog(ctx, "warn", msg)
		res.Action = RecoveryRescheduled
		return res, nil
	}

	if err := o.ledger.UpdateHeartbeat(ctx, job.JobID); err != nil {
		return nil, err
	}
	res.Action = RecoveryHealthy
	return res, nil
}

// Cancel deschedules the active job's next batch and finalizes it. A batch
// already running stops before its next row.
func (o *Orchestrator) Cancel(ctx context.Context, message string) (*models.ImportJob, error) {
	job, err := o.ledger.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNoActiveJob
	}
	if message == "" {
		message = "cancelled by user"
	}

	if err := o.sched.Unschedule(ctx, ActionProcessBatch, job.JobID); err != nil {
		return nil, err
	}
	if _, err := o.ledger.Complete(ctx, job.JobID, models.JobStatusCancelled, message); err != nil {
		return nil, err
	}
	o.appendLog(ctx, "warn", fmt.Sprintf("Import %s cancelled: %s", job.JobID, message))
	return o.ledger.Get(ctx, job.JobID)
}

// TriggerOneBatch runs the active job's next batch now.
func (o *Orchestrator) TriggerOneBatch(ctx context.Context) (*BatchResult, error) {
	job, err := o.ledger.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNoActiveJob
	}
	if err := o.sched.Unschedule(ctx, ActionProcessBatch, job.JobID); err != nil {
		return nil, err
	}
	return o.ProcessBatch(ctx, job.JobID)
}

// Progress is the snapshot shown to operators.
type Progress struct {
	Job              *models.ImportJob  `json:"job"`
	Active           bool               `json:"active"`
	Pending          int                `json:"pending"`
	Failed           int                `json:"failed"`
	Logs             []options.LogEntry `json:"logs"`
	EstimatedMinutes *float64           `json:"estimated_minutes"`
}

// Progress returns the active job (or the latest one) with staging counts,
// recent log lines and the remaining-time estimate.
func (o *Orchestrator) Progress(ctx context.Context, logLimit int) (*Progress, error) {
	if logLimit <= 0 {
		logLimit = defaultProgressLogs
	}
	job, err := o.ledger.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	p := &Progress{Active: job != nil}
	if job == nil {
		if job, err = o.ledger.Latest(ctx); err != nil {
			return nil, err
		}
	}
	p.Job = job

	if p.Pending, err = o.staging.CountPending(ctx); err != nil {
		return nil, err
	}
	if p.Failed, err = o.staging.CountFailed(ctx); err != nil {
		return nil, err
	}
	if p.Logs, err = o.opts.RecentLogs(ctx, keyLog, logLimit); err != nil {
		return nil, err
	}
	if p.Active {
		if eta, ok := o.EstimateRemainingMinutes(ctx, job); ok {
			p.EstimatedMinutes = &eta
		}
	}
	return p, nil
}

type etaCache struct {
	JobID   string  `json:"job_id"`
	Minutes float64 `json:"minutes"`
}

// EstimateRemainingMinutes projects the time left for job. It needs at least
// 60 processed rows. Throughput is measured on elapsed time minus the
// scheduled inter-batch delays, future delays are added back, and the result
// is smoothed against the previous estimate.
func (o *Orchestrator) EstimateRemainingMinutes(ctx context.Context, job *models.ImportJob) (float64, bool) {
	if job == nil || job.Processed < etaMinSample {
		return 0, false
	}
	working := o.now().Sub(job.StartedAt) - time.Duration(job.DelaySeconds)*time.Second
	if working <= 0 {
		return 0, false
	}
	perSecond := float64(job.Processed) / working.Seconds()
	if perSecond <= 0 {
		return 0, false
	}

	remaining := job.Remaining()
	if remaining == 0 {
		return 0, true
	}
	batchSize := job.BatchSize
	if batchSize <= 0 {
		batchSize = o.cfg.BatchSize
	}
	batchesLeft := int(math.Ceil(float64(remaining) / float64(batchSize)))
	futureDelay := float64(max(batchesLeft-1, 0)) * o.BatchDelay().Seconds()
	estimate := (float64(remaining)/perSecond + futureDelay) / 60

	var prev etaCache
	if ok, _ := o.opts.GetJSON(ctx, keyETA, &prev); ok && prev.JobID == job.JobID {
		estimate = etaSmoothing*estimate + (1-etaSmoothing)*prev.Minutes
	}
	if err := o.opts.SetJSON(ctx, keyETA, etaCache{JobID: job.JobID, Minutes: estimate}, etaCacheTTL); err != nil {
		o.logger.Debug("Could not cache import estimate: %v", err)
	}
	return math.Round(estimate*10) / 10, true
}

func (o *Orchestrator) entry(level, msg string) options.LogEntry {
	return options.LogEntry{Time: o.now(), Level: level, Message: msg}
}

func (o *Orchestrator) appendLog(ctx context.Context, level, msg string) {
	o.appendEntries(ctx, o.entry(level, msg))
}

func (o *Orchestrator) appendEntries(ctx context.Context, entries ...options.LogEntry) {
	if err := o.opts.AppendLog(ctx, keyLog, logCapacity, entries...); err != nil {
		o.logger.Warn("Could not append import log: %v", err)
	}
}
