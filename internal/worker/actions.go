package worker

import (
	"context"

	"catalogsync/internal/importer"
	"catalogsync/internal/logger"
	"catalogsync/internal/scheduler"
	"catalogsync/internal/syncer"
)

// RegisterActions binds the import and sweep actions to runner.
func RegisterActions(runner *scheduler.Runner, orch *importer.Orchestrator, sweeper *syncer.Sweeper, logger *logger.Logger) {
	runner.Register(importer.ActionProcessBatch, func(ctx context.Context, jobID string) error {
		res, err := orch.ProcessBatch(ctx, jobID)
		if err != nil {
			return err
		}
		if res.Skipped {
			logger.Debug("Ignored stale batch delivery for %s", jobID)
		}
		return nil
	})

	runner.Register(importer.ActionRecoveryCheck, func(ctx context.Context, _ string) error {
		res, err := orch.RecoveryCheck(ctx)
		if err != nil {
			return err
		}
		if res.Action != importer.RecoveryIdle && res.Action != importer.RecoveryHealthy {
			logger.Info("Import recovery check: %s", res.Action)
		}
		return nil
	})

	runner.Register(syncer.ActionRecentSweep, func(ctx context.Context, _ string) error {
		_, err := sweeper.SyncRecent(ctx)
		return err
	})

	runner.Register(syncer.ActionStaleSweep, func(ctx context.Context, _ string) error {
		_, err := sweeper.SyncStale(ctx)
		return err
	})
}

// ScheduleSweeps makes sure both recurring sweeps are queued.
func ScheduleSweeps(ctx context.Context, sched scheduler.Scheduler) error {
	if err := sched.ScheduleRecurring(ctx, syncer.RecentSweepInterval, syncer.ActionRecentSweep); err != nil {
		return err
	}
	return sched.ScheduleRecurring(ctx, syncer.StaleSweepInterval, syncer.ActionStaleSweep)
}
