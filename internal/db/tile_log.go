package db

import (
	"database/sql"
	"fmt"
	"time"
)

// TileRecord is one acquired tile image: where it was written and the
// quality statistics measured on it.
type TileRecord struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Slice     int       `json:"slice"`
	GridIndex int       `json:"grid_index"`
	TileIndex int       `json:"tile_index"`
	Path      string    `json:"path"`
	Mean      float64   `json:"mean"`
	Stddev    float64   `json:"stddev"`
	Retakes   int       `json:"retakes"`
	CreatedAt time.Time `json:"created_at"`
}

// TileLogStore persists the per-tile image log. Downstream stitching reads
// this table to locate every image of a slice.
type TileLogStore struct {
	db *sql.DB
}

// NewTileLogStore creates a TileLogStore backed by the given database.
func NewTileLogStore(db *DB) *TileLogStore {
	return &TileLogStore{db: db.DB}
}

// InsertTile records an acquired tile image.
func (s *TileLogStore) InsertTile(rec TileRecord) error {
	query := `
		INSERT INTO tile_log (run_id, slice, grid_index, tile_index, path,
			mean, stddev, retakes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			rec.RunID, rec.Slice, rec.GridIndex, rec.TileIndex, rec.Path,
			rec.Mean, rec.Stddev, rec.Retakes,
			time.Now().UTC().Format(time.RFC3339),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting tile %d.%d slice %d: %w",
			rec.GridIndex, rec.TileIndex, rec.Slice, err)
	}
	return nil
}

// TilesForSlice returns all tile records of a run's slice in insertion order.
func (s *TileLogStore) TilesForSlice(runID string, slice int) ([]TileRecord, error) {
	query := `
		SELECT id, run_id, slice, grid_index, tile_index, path,
		       mean, stddev, retakes, created_at
		FROM tile_log
		WHERE run_id = ? AND slice = ?
		ORDER BY id
	`
	rows, err := s.db.Query(query, runID, slice)
	if err != nil {
		return nil, fmt.Errorf("querying tiles for slice %d: %w", slice, err)
	}
	defer rows.Close()

	var recs []TileRecord
	for rows.Next() {
		var rec TileRecord
		var createdAt string
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.Slice, &rec.GridIndex, &rec.TileIndex,
			&rec.Path, &rec.Mean, &rec.Stddev, &rec.Retakes, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning tile record: %w", err)
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

// CountForRun returns the number of tiles logged for a run.
func (s *TileLogStore) CountForRun(runID string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM tile_log WHERE run_id = ?`, runID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting tiles for run %s: %w", runID, err)
	}
	return count, nil
}

// SliceStat is the aggregated tile statistics of one slice.
type SliceStat struct {
	Slice        int     `json:"slice"`
	TileCount    int     `json:"tile_count"`
	MeanOfMean   float64 `json:"mean_of_mean"`
	MeanOfStddev float64 `json:"mean_of_stddev"`
}

// SliceStats aggregates tile statistics per slice for a run, ordered by
// slice. Feeds the monitoring charts.
func (s *TileLogStore) SliceStats(runID string) ([]SliceStat, error) {
	query := `
		SELECT slice, COUNT(*), AVG(mean), AVG(stddev)
		FROM tile_log
		WHERE run_id = ?
		GROUP BY slice
		ORDER BY slice
	`
	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("querying slice stats: %w", err)
	}
	defer rows.Close()

	var stats []SliceStat
	for rows.Next() {
		var st SliceStat
		if err := rows.Scan(&st.Slice, &st.TileCount, &st.MeanOfMean, &st.MeanOfStddev); err != nil {
			return nil, fmt.Errorf("scanning slice stat: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}
