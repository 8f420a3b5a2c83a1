package tasks

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ratesync/ratesync/internal/history"
	"github.com/ratesync/ratesync/internal/scheduler"
)

// HistoryPruneTaskID identifies the history retention task.
const HistoryPruneTaskID = "history-prune"

// historyRetention is how long run reports are kept.
const historyRetention = 90 * 24 * time.Hour

// HistoryPruneTask deletes run reports older than the retention window.
type HistoryPruneTask struct {
	history *history.Service
	logger  zerolog.Logger
}

// NewHistoryPruneTask creates a new history prune task.
func NewHistoryPruneTask(h *history.Service, logger zerolog.Logger) *HistoryPruneTask {
	return &HistoryPruneTask{
		history: h,
		logger:  logger.With().Str("task", HistoryPruneTaskID).Logger(),
	}
}

// Run deletes expired run reports.
func (t *HistoryPruneTask) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-historyRetention)
	deleted, err := t.history.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		t.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("Pruned old run reports")
	}
	return nil
}

// RegisterHistoryPruneTask registers the retention task with the
// scheduler.
func RegisterHistoryPruneTask(sched *scheduler.Scheduler, h *history.Service, logger zerolog.Logger) error {
	task := NewHistoryPruneTask(h, logger)
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          HistoryPruneTaskID,
		Name:        "History Pruning",
		Description: "Deletes refresh run reports past the retention window",
		Cron:        "30 4 * * *",
		Func:        task.Run,
	})
}
