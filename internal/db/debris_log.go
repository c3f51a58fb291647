package db

import (
	"database/sql"
	"fmt"
	"time"
)

// DebrisRecord is the outcome of the debris loop on one overview image:
// how many sweeps were performed and whether the image was accepted.
type DebrisRecord struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Slice     int       `json:"slice"`
	Overview  int       `json:"overview"`
	Sweeps    int       `json:"sweeps"`
	Accepted  bool      `json:"accepted"`
	Method    string    `json:"method"`
	CreatedAt time.Time `json:"created_at"`
}

// DebrisLogStore persists debris detection outcomes.
type DebrisLogStore struct {
	db *sql.DB
}

// NewDebrisLogStore creates a DebrisLogStore backed by the given database.
func NewDebrisLogStore(db *DB) *DebrisLogStore {
	return &DebrisLogStore{db: db.DB}
}

// InsertRecord logs one debris loop outcome.
func (s *DebrisLogStore) InsertRecord(rec DebrisRecord) error {
	query := `
		INSERT INTO debris_log (run_id, slice, overview, sweeps, accepted, method, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			rec.RunID, rec.Slice, rec.Overview, rec.Sweeps, rec.Accepted,
			rec.Method, time.Now().UTC().Format(time.RFC3339),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting debris record slice %d: %w", rec.Slice, err)
	}
	return nil
}

// RecordsForRun returns all debris records of a run in slice order.
func (s *DebrisLogStore) RecordsForRun(runID string) ([]DebrisRecord, error) {
	query := `
		SELECT id, run_id, slice, overview, sweeps, accepted, method, created_at
		FROM debris_log
		WHERE run_id = ?
		ORDER BY slice, id
	`
	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("querying debris records: %w", err)
	}
	defer rows.Close()

	var recs []DebrisRecord
	for rows.Next() {
		var rec DebrisRecord
		var createdAt string
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.Slice, &rec.Overview, &rec.Sweeps,
			&rec.Accepted, &rec.Method, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning debris record: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			rec.CreatedAt = t
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// TotalSweeps returns the total number of debris sweeps performed in a run.
func (s *DebrisLogStore) TotalSweeps(runID string) (int, error) {
	var total sql.NullInt64
	err := s.db.QueryRow(
		`SELECT SUM(sweeps) FROM debris_log WHERE run_id = ?`, runID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing sweeps for run %s: %w", runID, err)
	}
	return int(total.Int64), nil
}
