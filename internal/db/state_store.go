package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AcqState is the single-row resume state of the controller. It is written
// after every slice and on every pause so an interrupted stack can continue
// exactly where it stopped.
type AcqState struct {
	RunID        string  `json:"run_id"`
	SliceCounter int     `json:"slice_counter"`
	TotalZDiffUm float64 `json:"total_z_diff_um"`
	StageZUm     float64 `json:"stage_z_um"`
	Paused       bool    `json:"paused"`
	PauseReason  string  `json:"pause_reason,omitempty"`
	ErrorState   int     `json:"error_state"`

	// Interrupted marks a run stopped mid-slice. InterruptedGrid and
	// InterruptedTile identify where acquisition stopped; AcquiredTiles and
	// AcquiredGrids list what the interrupted slice already finished.
	Interrupted     bool   `json:"interrupted"`
	InterruptedGrid int    `json:"interrupted_grid"`
	InterruptedTile int    `json:"interrupted_tile"`
	AcquiredTiles   []int  `json:"acquired_tiles,omitempty"`
	AcquiredGrids   []int  `json:"acquired_grids,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// StateStore persists the single-row acquisition state.
type StateStore struct {
	db *sql.DB
}

// NewStateStore creates a StateStore backed by the given database.
func NewStateStore(db *DB) *StateStore {
	return &StateStore{db: db.DB}
}

// Save upserts the acquisition state row.
func (s *StateStore) Save(state AcqState) error {
	tilesJSON, err := json.Marshal(state.AcquiredTiles)
	if err != nil {
		return fmt.Errorf("encoding acquired tiles: %w", err)
	}
	gridsJSON, err := json.Marshal(state.AcquiredGrids)
	if err != nil {
		return fmt.Errorf("encoding acquired grids: %w", err)
	}

	query := `
		INSERT INTO acq_state (
			id, run_id, slice_counter, total_z_diff_um, stage_z_um,
			paused, pause_reason, error_state,
			interrupted, interrupted_grid, interrupted_tile,
			acquired_tiles, acquired_grids, updated_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			slice_counter = excluded.slice_counter,
			total_z_diff_um = excluded.total_z_diff_um,
			stage_z_um = excluded.stage_z_um,
			paused = excluded.paused,
			pause_reason = excluded.pause_reason,
			error_state = excluded.error_state,
			interrupted = excluded.interrupted,
			interrupted_grid = excluded.interrupted_grid,
			interrupted_tile = excluded.interrupted_tile,
			acquired_tiles = excluded.acquired_tiles,
			acquired_grids = excluded.acquired_grids,
			updated_at = excluded.updated_at
	`
	err = retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			nullStr(state.RunID),
			state.SliceCounter,
			state.TotalZDiffUm,
			state.StageZUm,
			state.Paused,
			nullStr(state.PauseReason),
			state.ErrorState,
			state.Interrupted,
			state.InterruptedGrid,
			state.InterruptedTile,
			string(tilesJSON),
			string(gridsJSON),
			time.Now().UTC().Format(time.RFC3339),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("saving acquisition state: %w", err)
	}
	return nil
}

// Load returns the persisted acquisition state, or a zero state if none has
// been saved yet.
func (s *StateStore) Load() (AcqState, error) {
	query := `
		SELECT run_id, slice_counter, total_z_diff_um, stage_z_um,
		       paused, pause_reason, error_state,
		       interrupted, interrupted_grid, interrupted_tile,
		       acquired_tiles, acquired_grids, updated_at
		FROM acq_state WHERE id = 1
	`
	var state AcqState
	var runID, pauseReason, tilesJSON, gridsJSON sql.NullString
	var updatedAt string

	err := s.db.QueryRow(query).Scan(
		&runID, &state.SliceCounter, &state.TotalZDiffUm, &state.StageZUm,
		&state.Paused, &pauseReason, &state.ErrorState,
		&state.Interrupted, &state.InterruptedGrid, &state.InterruptedTile,
		&tilesJSON, &gridsJSON, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return AcqState{}, nil
	}
	if err != nil {
		return AcqState{}, fmt.Errorf("loading acquisition state: %w", err)
	}

	state.RunID = strOrEmpty(runID)
	state.PauseReason = strOrEmpty(pauseReason)
	if tilesJSON.Valid && tilesJSON.String != "" {
		if err := json.Unmarshal([]byte(tilesJSON.String), &state.AcquiredTiles); err != nil {
			return AcqState{}, fmt.Errorf("decoding acquired tiles: %w", err)
		}
	}
	if gridsJSON.Valid && gridsJSON.String != "" {
		if err := json.Unmarshal([]byte(gridsJSON.String), &state.AcquiredGrids); err != nil {
			return AcqState{}, fmt.Errorf("decoding acquired grids: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		state.UpdatedAt = t
	}

	return state, nil
}

// Reset clears the persisted state. Used when starting a fresh stack.
func (s *StateStore) Reset() error {
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`DELETE FROM acq_state WHERE id = 1`)
		return err
	})
}
