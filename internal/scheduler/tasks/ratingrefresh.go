// Package tasks wires application services into the scheduler.
package tasks

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/ratesync/ratesync/internal/config"
	"github.com/ratesync/ratesync/internal/history"
	"github.com/ratesync/ratesync/internal/refresh"
	"github.com/ratesync/ratesync/internal/scheduler"
)

// RatingRefreshTaskID identifies the refresh task in the scheduler.
const RatingRefreshTaskID = "rating-refresh"

// RatingRefreshTask runs the periodic rating refresh cycle and records
// the resulting report in the run history.
type RatingRefreshTask struct {
	refresher *refresh.Refresher
	history   *history.Service
	logger    zerolog.Logger
}

// NewRatingRefreshTask creates a new rating refresh task.
func NewRatingRefreshTask(r *refresh.Refresher, h *history.Service, logger zerolog.Logger) *RatingRefreshTask {
	return &RatingRefreshTask{
		refresher: r,
		history:   h,
		logger:    logger.With().Str("task", "rating-refresh").Logger(),
	}
}

// Run executes one scheduled refresh cycle. An already-running cycle is
// not an error from the scheduler's point of view; the trigger is simply
// dropped and the next tick re-attempts.
func (t *RatingRefreshTask) Run(ctx context.Context) error {
	return t.run(ctx, "scheduled")
}

// TriggerManual runs a cycle on behalf of an API request.
func (t *RatingRefreshTask) TriggerManual(ctx context.Context) error {
	return t.run(ctx, "manual")
}

func (t *RatingRefreshTask) run(ctx context.Context, trigger string) error {
	report, err := t.refresher.RunCycle(ctx, trigger)
	if errors.Is(err, refresh.ErrCycleInProgress) {
		t.logger.Warn().Msg("Previous refresh cycle still running, skipping this trigger")
		return nil
	}

	if report != nil {
		if histErr := t.history.Record(ctx, report); histErr != nil {
			t.logger.Error().Err(histErr).Str("runId", report.RunID).Msg("Failed to record run report")
		}
	}

	return err
}

// RegisterRatingRefreshTask registers the refresh cycle with the
// scheduler and returns the task for manual triggering. The task runs
// on start only when the service has never completed a cycle, so a new
// install rates its library right away without hammering the sources
// on every restart.
func RegisterRatingRefreshTask(sched *scheduler.Scheduler, r *refresh.Refresher, h *history.Service, cfg config.RefreshConfig, logger zerolog.Logger) (*RatingRefreshTask, error) {
	task := NewRatingRefreshTask(r, h, logger)

	runOnStart := false
	if cfg.RunOnStart {
		last, err := h.LastCompleted(context.Background())
		if err != nil {
			logger.Warn().Err(err).Msg("Could not determine last completed run, scheduling initial refresh")
		}
		runOnStart = last == nil
	}

	err := sched.RegisterTask(scheduler.TaskConfig{
		ID:          RatingRefreshTaskID,
		Name:        "Rating Refresh",
		Description: "Refreshes library ratings from the configured sources",
		Every:       cfg.CycleInterval,
		RunOnStart:  runOnStart,
		Func:        task.Run,
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}
