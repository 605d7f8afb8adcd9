package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	hiloerrors "github.com/randalmurphal/hilo/internal/errors"
)

// Run is one persisted orchestrator run.
type Run struct {
	ID                   string
	Status               string
	Plan                 string
	TotalExperiments     int
	CompletedExperiments int
	Succeeded            int
	Failed               int
	StopIndex            int
	Reason               string
	Summary              json.RawMessage
	StartedAt            time.Time
	FinishedAt           *time.Time
}

// SaveRun inserts or updates a run.
func (d *DB) SaveRun(ctx context.Context, r *Run) error {
	var summary *string
	if len(r.Summary) > 0 {
		s := string(r.Summary)
		summary = &s
	}
	var finished *string
	if r.FinishedAt != nil {
		s := r.FinishedAt.UTC().Format(timeLayout)
		finished = &s
	}

	_, err := d.ExecContext(ctx, `
		INSERT INTO runs (id, status, plan, total_experiments, completed_experiments,
			succeeded, failed, stop_index, reason, summary, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			completed_experiments = excluded.completed_experiments,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			stop_index = excluded.stop_index,
			reason = excluded.reason,
			summary = excluded.summary,
			finished_at = excluded.finished_at
	`, r.ID, r.Status, r.Plan, r.TotalExperiments, r.CompletedExperiments,
		r.Succeeded, r.Failed, r.StopIndex, r.Reason, summary,
		r.StartedAt.UTC().Format(timeLayout), finished)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

const runColumns = `id, status, plan, total_experiments, completed_experiments,
	succeeded, failed, stop_index, reason, summary, started_at, finished_at`

// GetRun loads one run. Returns a RUN_NOT_FOUND error when it doesn't exist.
func (d *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	row := d.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, hiloerrors.RunNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM runs ORDER BY started_at DESC LIMIT %d", runColumns, limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r         Run
		summary   *string
		startedAt string
		finished  *string
	)
	if err := s.Scan(&r.ID, &r.Status, &r.Plan, &r.TotalExperiments, &r.CompletedExperiments,
		&r.Succeeded, &r.Failed, &r.StopIndex, &r.Reason, &summary, &startedAt, &finished); err != nil {
		return nil, err
	}
	if summary != nil {
		r.Summary = json.RawMessage(*summary)
	}
	if t, err := time.Parse(timeLayout, startedAt); err == nil {
		r.StartedAt = t
	}
	if finished != nil {
		if t, err := time.Parse(timeLayout, *finished); err == nil {
			r.FinishedAt = &t
		}
	}
	return &r, nil
}
