// Package history persists completed run reports in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/heal-dash/internal/domain"
	"github.com/hochfrequenz/heal-dash/internal/report"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for unknown ids
var ErrNotFound = errors.New("run not found in history")

// timeLayout is fixed width so stored timestamps sort chronologically as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store provides SQLite-backed run history
type Store struct {
	db *sql.DB
}

// New opens (and migrates) the database at dbPath
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared and serializes writes
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Name implements report.Sink
func (s *Store) Name() string { return "history" }

// Deliver implements report.Sink
func (s *Store) Deliver(ctx context.Context, r report.Report) error {
	return s.Save(ctx, r)
}

// Save inserts or replaces the report for r.AttemptID
func (s *Store) Save(ctx context.Context, r report.Report) error {
	files, err := json.Marshal(r.Files)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (attempt_id, run_id, branch, repo_url, team_name, leader_name, mode,
			final_status, time_taken_seconds, commits_count, total_failures, total_fixes, iterations_used,
			score_base, speed_bonus, commit_penalty, score_total, files, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(attempt_id) DO UPDATE SET
			run_id = excluded.run_id,
			branch = excluded.branch,
			final_status = excluded.final_status,
			time_taken_seconds = excluded.time_taken_seconds,
			commits_count = excluded.commits_count,
			total_failures = excluded.total_failures,
			total_fixes = excluded.total_fixes,
			iterations_used = excluded.iterations_used,
			score_base = excluded.score_base,
			speed_bonus = excluded.speed_bonus,
			commit_penalty = excluded.commit_penalty,
			score_total = excluded.score_total,
			files = excluded.files,
			completed_at = excluded.completed_at
	`,
		r.AttemptID,
		r.RunID,
		r.BranchName,
		r.Inputs.RepoURL,
		r.Inputs.TeamName,
		r.Inputs.LeaderName,
		string(r.Inputs.Mode),
		string(r.Summary.FinalStatus),
		r.Summary.TimeTakenSeconds,
		r.Summary.CommitsCount,
		r.Summary.TotalFailures,
		r.Summary.TotalFixes,
		r.Summary.IterationsUsed,
		r.Score.Base,
		r.Score.SpeedBonus,
		r.Score.CommitPenalty,
		r.Score.Total,
		string(files),
		r.CompletedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM fixes WHERE attempt_id = ?`, r.AttemptID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM timeline WHERE attempt_id = ?`, r.AttemptID); err != nil {
		return err
	}

	for i, f := range r.Fixes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO fixes (attempt_id, seq, file, line, bug_type, commit_message, description, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, r.AttemptID, i, f.File, f.Line, string(f.BugType), f.CommitMessage, f.Description, string(f.Status))
		if err != nil {
			return fmt.Errorf("saving fix: %w", err)
		}
	}

	for _, e := range r.Timeline {
		var ts sql.NullString
		if !e.Timestamp.IsZero() {
			ts = sql.NullString{String: e.Timestamp.UTC().Format(timeLayout), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO timeline (attempt_id, iteration, status, timestamp, message, duration, raw_log)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.AttemptID, e.Iteration, string(e.Status), ts, e.Message, e.Duration, e.RawLog)
		if err != nil {
			return fmt.Errorf("saving timeline entry: %w", err)
		}
	}

	return tx.Commit()
}

const runColumns = `attempt_id, run_id, branch, repo_url, team_name, leader_name, mode,
	final_status, time_taken_seconds, commits_count, total_failures, total_fixes, iterations_used,
	score_base, speed_bonus, commit_penalty, score_total, files, completed_at`

// List returns the most recent runs, newest first, without fixes and
// timeline. limit <= 0 returns all runs.
func (s *Store) List(ctx context.Context, limit int) ([]report.Report, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY completed_at DESC, attempt_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []report.Report
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Get returns the full report for an attempt id or backend run id
func (s *Store) Get(ctx context.Context, id string) (*report.Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs
		WHERE attempt_id = ? OR run_id = ? ORDER BY completed_at DESC LIMIT 1`, id, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if r.Fixes, err = s.fixes(ctx, r.AttemptID); err != nil {
		return nil, err
	}
	if r.Timeline, err = s.timeline(ctx, r.AttemptID); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) fixes(ctx context.Context, attemptID string) ([]domain.Fix, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file, line, bug_type, commit_message, description, status
		FROM fixes WHERE attempt_id = ? ORDER BY seq`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Fix
	for rows.Next() {
		var f domain.Fix
		var bugType, status string
		var commitMsg, desc sql.NullString
		if err := rows.Scan(&f.File, &f.Line, &bugType, &commitMsg, &desc, &status); err != nil {
			return nil, err
		}
		f.BugType = domain.BugType(bugType)
		f.Status = domain.FixStatus(status)
		f.CommitMessage = commitMsg.String
		f.Description = desc.String
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) timeline(ctx context.Context, attemptID string) ([]domain.TimelineEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT iteration, status, timestamp, message, duration, raw_log
		FROM timeline WHERE attempt_id = ? ORDER BY iteration`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TimelineEntry
	for rows.Next() {
		var e domain.TimelineEntry
		var status string
		var ts, msg, rawLog sql.NullString
		var duration sql.NullFloat64
		if err := rows.Scan(&e.Iteration, &status, &ts, &msg, &duration, &rawLog); err != nil {
			return nil, err
		}
		e.Status = domain.TimelineStatus(status)
		e.Message = msg.String
		if ts.Valid {
			if t, err := time.Parse(time.RFC3339Nano, ts.String); err == nil {
				e.Timestamp = t
			}
		}
		if duration.Valid {
			d := duration.Float64
			e.Duration = &d
		}
		if rawLog.Valid {
			l := rawLog.String
			e.RawLog = &l
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*report.Report, error) {
	var r report.Report
	var runID, branch, team, leader, files sql.NullString
	var mode, final, completedAt string

	err := row.Scan(
		&r.AttemptID, &runID, &branch, &r.Inputs.RepoURL, &team, &leader, &mode,
		&final, &r.Summary.TimeTakenSeconds, &r.Summary.CommitsCount, &r.Summary.TotalFailures,
		&r.Summary.TotalFixes, &r.Summary.IterationsUsed,
		&r.Score.Base, &r.Score.SpeedBonus, &r.Score.CommitPenalty, &r.Score.Total,
		&files, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	r.RunID = runID.String
	r.BranchName = branch.String
	r.Inputs.TeamName = team.String
	r.Inputs.LeaderName = leader.String
	r.Inputs.Mode = domain.Mode(mode)
	r.Summary.FinalStatus = domain.FinalStatus(final)
	if files.Valid && files.String != "" {
		if err := json.Unmarshal([]byte(files.String), &r.Files); err != nil {
			return nil, fmt.Errorf("decoding files: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, completedAt); err == nil {
		r.CompletedAt = t
	}
	return &r, nil
}
