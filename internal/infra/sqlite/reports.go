package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/binvis/binvis/internal/domain"
)

// ─── Run Repository ─────────────────────────────────────────────────────────

// RecordRun stores a finished run and its per-task results atomically.
func (d *DB) RecordRun(r domain.RunReport) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (id, started_at, finished_at, status, planned, skipped, succeeded, failed, bytes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, unixMilli(r.StartedAt), unixMilli(r.FinishedAt), string(r.Status),
		r.Planned, r.Skipped, r.Succeeded, r.Failed, r.Bytes,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO run_results
		 (run_id, remote_address, market, category, identifier, period_label, bar_interval, ok, reason, error, bytes, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, res := range r.Results {
		t := res.Task
		_, err := stmt.Exec(
			r.ID, t.RemoteAddress, string(t.Market), string(t.Category), t.Identifier,
			t.PeriodLabel, string(t.Interval), res.OK, string(res.Reason), res.Error,
			res.Bytes, res.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("insert result %s: %w", t.RemoteAddress, err)
		}
	}
	return tx.Commit()
}

// GetRun returns one run without its results, or nil if absent.
func (d *DB) GetRun(id string) (*domain.RunReport, error) {
	row := d.db.QueryRow(
		`SELECT id, started_at, finished_at, status, planned, skipped, succeeded, failed, bytes
		 FROM runs WHERE id = ?`, id,
	)
	return scanRun(row)
}

// ListRuns returns the most recent runs first. limit <= 0 means all.
func (d *DB) ListRuns(limit int) ([]domain.RunReport, error) {
	query := `SELECT id, started_at, finished_at, status, planned, skipped, succeeded, failed, bytes
		 FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.RunReport
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// RunResults returns a run's per-task results, failures first.
func (d *DB) RunResults(runID string) ([]domain.Result, error) {
	rows, err := d.db.Query(
		`SELECT remote_address, market, category, identifier, period_label, bar_interval, ok, reason, error, bytes, duration_ms
		 FROM run_results WHERE run_id = ? ORDER BY ok ASC, remote_address ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Result
	for rows.Next() {
		var (
			res                                domain.Result
			market, category, interval, reason string
			durationMS                         int64
		)
		err := rows.Scan(&res.Task.RemoteAddress, &market, &category, &res.Task.Identifier,
			&res.Task.PeriodLabel, &interval, &res.OK, &reason, &res.Error, &res.Bytes, &durationMS)
		if err != nil {
			return nil, err
		}
		res.Task.Market = domain.Market(market)
		res.Task.Category = domain.Category(category)
		res.Task.Interval = domain.Interval(interval)
		res.Reason = domain.FailureReason(reason)
		res.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, res)
	}
	return out, rows.Err()
}

func scanRun(s scanner) (*domain.RunReport, error) {
	var (
		r                 domain.RunReport
		started, finished int64
		status            string
	)
	err := s.Scan(&r.ID, &started, &finished, &status, &r.Planned, &r.Skipped, &r.Succeeded, &r.Failed, &r.Bytes)
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, err
	}
	r.StartedAt = fromUnixMilli(started)
	r.FinishedAt = fromUnixMilli(finished)
	r.Status = domain.RunStatus(status)
	return &r, nil
}
