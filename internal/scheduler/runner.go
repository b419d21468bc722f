package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"catalogsync/internal/logger"
	"catalogsync/internal/models"
)

// Handler runs one delivery of an action.
type Handler func(ctx context.Context, args string) error

type Runner struct {
	queue    *Queue
	handlers map[string]Handler
	logger   *logger.Logger
	batch    int
}

func NewRunner(queue *Queue, logger *logger.Logger) *Runner {
	return &Runner{
		queue:    queue,
		handlers: make(map[string]Handler),
		logger:   logger,
		batch:    20,
	}
}

func (r *Runner) Register(action string, h Handler) {
	r.handlers[action] = h
}

// RunDue executes every due entry once and returns how many ran.
func (r *Runner) RunDue(ctx context.Context) (int, error) {
	due, err := r.queue.due(ctx, r.batch)
	if err != nil {
		return 0, err
	}

	ran := 0
	for i := range due {
		a := &due[i]
		ok, err := r.queue.claim(ctx, a.ID)
		if err != nil {
			return ran, err
		}
		if !ok {
			continue
		}

		runErr := r.run(ctx, a)
		if runErr != nil {
			r.logger.Error("Action %s(%s) failed: %v", a.Action, a.Args, runErr)
		} else {
			r.logger.Debug("Action %s(%s) done", a.Action, a.Args)
		}
		if err := r.queue.finish(ctx, a, runErr); err != nil {
			return ran, err
		}
		ran++
	}
	return ran, nil
}

func (r *Runner) run(ctx context.Context, a *models.ScheduledAction) (err error) {
	h, ok := r.handlers[a.Action]
	if !ok {
		return fmt.Errorf("no handler registered for %s", a.Action)
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Action %s panicked: %v\n%s", a.Action, rec, debug.Stack())
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return h(ctx, a.Args)
}

// Start polls for due actions every interval until ctx is done.
func (r *Runner) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunDue(ctx); err != nil {
			r.logger.Error("Scheduler poll failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
