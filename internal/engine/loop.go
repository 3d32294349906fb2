package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Run drives the scheduling loop until ctx is cancelled, then waits for
// in-flight executions to finish.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("scheduling loop started",
		zap.Duration("tick", e.tick),
		zap.Duration("misfire_grace", e.grace))

	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("scheduling loop stopping")
			e.Wait()
			return
		case <-ticker.C:
			e.safeTick(ctx)
		}
	}
}

// Tick evaluates due triggers once and hands each firing to a worker slot.
// When no slot is free the firing goes back into the trigger store and is
// reconsidered on a later tick.
func (e *Engine) Tick(ctx context.Context) {
	firings := e.triggers.PopDue(e.now(), e.grace)
	for _, f := range firings {
		f := f
		err := e.workers.Dispatch(ctx, f.JobID, func(ctx context.Context) {
			e.runFiring(ctx, f)
		})
		if err != nil {
			e.triggers.Restore(f)
			e.logger.Debug("firing deferred",
				zap.String("job_id", f.JobID),
				zap.Error(err))
		}
	}
}

// safeTick keeps one bad tick from killing the loop.
func (e *Engine) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("scheduling tick panicked", zap.Any("panic", r))
		}
	}()
	e.Tick(ctx)
}
