// Package history persists refresh run reports for the log viewer.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ratesync/ratesync/internal/refresh"
)

var ErrRunNotFound = errors.New("run not found")

// Run is one recorded refresh cycle.
type Run struct {
	RunID      string               `json:"runId"`
	Trigger    string               `json:"trigger"`
	StartedAt  time.Time            `json:"startedAt"`
	FinishedAt *time.Time           `json:"finishedAt,omitempty"`
	Selected   int                  `json:"selected"`
	Updated    int                  `json:"updated"`
	Skipped    int                  `json:"skipped"`
	Failed     int                  `json:"failed"`
	Items      []refresh.ItemResult `json:"items,omitempty"`
}

// Service provides run history storage.
type Service struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewService creates a new history service.
func NewService(db *sql.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

// Record stores a completed run report.
func (s *Service) Record(ctx context.Context, report *refresh.Report) error {
	var items sql.NullString
	if len(report.Items) > 0 {
		bytes, err := json.Marshal(report.Items)
		if err != nil {
			return fmt.Errorf("failed to marshal run items: %w", err)
		}
		items = sql.NullString{String: string(bytes), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_runs (id, trigger_type, started_at, finished_at, selected, updated, skipped, failed, items)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID,
		report.Trigger,
		report.StartedAt.UTC(),
		report.FinishedAt.UTC(),
		report.Selected,
		report.Updated,
		report.Skipped,
		report.Failed,
		items,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	s.logger.Debug().Str("runId", report.RunID).Msg("Recorded refresh run")
	return nil
}

// List returns runs newest-first, capped at limit.
func (s *Service) List(ctx context.Context, limit int) ([]Run, error) {
	if limit < 1 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trigger_type, started_at, finished_at, selected, updated, skipped, failed, items
		FROM refresh_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Get retrieves a run by id.
func (s *Service) Get(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, trigger_type, started_at, finished_at, selected, updated, skipped, failed, items
		FROM refresh_runs
		WHERE id = ?`, runID)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// LastCompleted returns the most recently finished run, or nil when the
// service has never completed a cycle.
func (s *Service) LastCompleted(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, trigger_type, started_at, finished_at, selected, updated, skipped, failed, items
		FROM refresh_runs
		WHERE finished_at IS NOT NULL
		ORDER BY finished_at DESC
		LIMIT 1`)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}

// Prune deletes runs older than the retention window.
func (s *Service) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM refresh_runs WHERE started_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned runs: %w", err)
	}
	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Msg("Pruned old refresh runs")
	}
	return deleted, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run        Run
		finishedAt sql.NullTime
		items      sql.NullString
	)

	err := row.Scan(
		&run.RunID,
		&run.Trigger,
		&run.StartedAt,
		&finishedAt,
		&run.Selected,
		&run.Updated,
		&run.Skipped,
		&run.Failed,
		&items,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	if items.Valid && items.String != "" {
		if err := json.Unmarshal([]byte(items.String), &run.Items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run items: %w", err)
		}
	}
	return &run, nil
}
