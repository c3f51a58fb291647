package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Run statuses.
const (
	RunStatusActive    = "active"
	RunStatusPaused    = "paused"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one acquisition run: a contiguous span of slices acquired between
// a start (or resume) and a pause, completion or failure.
type Run struct {
	RunID          string     `json:"run_id"`
	StackName      string     `json:"stack_name"`
	Status         string     `json:"status"`
	Error          string     `json:"error,omitempty"`
	StartSlice     int        `json:"start_slice"`
	SlicesAcquired int        `json:"slices_acquired"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// RunStore persists the run history.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a RunStore backed by the given database.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db.DB}
}

// InsertRun records a newly started run.
func (s *RunStore) InsertRun(run Run) error {
	query := `
		INSERT INTO acq_runs (run_id, stack_name, status, start_slice, started_at)
		VALUES (?, ?, ?, ?, ?)
	`
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			run.RunID,
			run.StackName,
			run.Status,
			run.StartSlice,
			run.StartedAt.UTC().Format(time.RFC3339),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.RunID, err)
	}
	return nil
}

// UpdateRunProgress updates the slice count of an active run.
func (s *RunStore) UpdateRunProgress(runID string, slicesAcquired int) error {
	query := `UPDATE acq_runs SET slices_acquired = ? WHERE run_id = ?`
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query, slicesAcquired, runID)
		return err
	})
	if err != nil {
		return fmt.Errorf("updating run progress for %s: %w", runID, err)
	}
	return nil
}

// FinishRun marks a run as completed, paused or failed.
func (s *RunStore) FinishRun(runID, status, errMsg string, completedAt time.Time) error {
	query := `
		UPDATE acq_runs
		SET status = ?, error = ?, completed_at = ?
		WHERE run_id = ?
	`
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			status,
			nullStr(errMsg),
			completedAt.UTC().Format(time.RFC3339),
			runID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	return nil
}

// GetRun returns a single run by ID, or nil if not found.
func (s *RunStore) GetRun(runID string) (*Run, error) {
	query := `
		SELECT run_id, stack_name, status, error, start_slice,
		       slices_acquired, started_at, completed_at
		FROM acq_runs WHERE run_id = ?
	`
	run, err := scanRun(s.db.QueryRow(query, runID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *RunStore) ListRuns(limit int) ([]*Run, error) {
	query := `
		SELECT run_id, stack_name, status, error, start_slice,
		       slices_acquired, started_at, completed_at
		FROM acq_runs ORDER BY started_at DESC LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var errMsg, completedAt sql.NullString
	var startedAt string

	err := row.Scan(
		&run.RunID, &run.StackName, &run.Status, &errMsg,
		&run.StartSlice, &run.SlicesAcquired, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Error = strOrEmpty(errMsg)
	if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
		run.StartedAt = t
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			run.CompletedAt = &t
		}
	}
	return &run, nil
}
