package db

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

// newTestDB opens a migrated database in a temp directory.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	database, err := NewDB(path)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	return database
}

func TestMigrateUpAndVersion(t *testing.T) {
	database := newTestDB(t)

	version, dirty, err := database.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if dirty {
		t.Error("database dirty after clean migration")
	}
	if version != 2 {
		t.Errorf("version = %d, want 2", version)
	}

	// Running again must be a no-op.
	if err := database.MigrateUp(); err != nil {
		t.Errorf("second MigrateUp: %v", err)
	}
}

func TestStateStoreRoundTrip(t *testing.T) {
	database := newTestDB(t)
	store := NewStateStore(database)

	// Load before any save returns a zero state.
	state, err := store.Load()
	if err != nil {
		t.Fatalf("Load empty: %v", err)
	}
	if state.SliceCounter != 0 || state.RunID != "" {
		t.Errorf("empty state = %+v, want zero", state)
	}

	want := AcqState{
		RunID:           uuid.NewString(),
		SliceCounter:    457,
		TotalZDiffUm:    11.425,
		StageZUm:        204.3,
		Paused:          true,
		PauseReason:     "debris sweep limit reached",
		ErrorState:      501,
		Interrupted:     true,
		InterruptedGrid: 1,
		InterruptedTile: 14,
		AcquiredTiles:   []int{0, 1, 2, 5},
		AcquiredGrids:   []int{0},
	}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.RunID != want.RunID || got.SliceCounter != want.SliceCounter {
		t.Errorf("loaded %+v, want %+v", got, want)
	}
	if got.TotalZDiffUm != want.TotalZDiffUm || got.StageZUm != want.StageZUm {
		t.Errorf("z state %v/%v, want %v/%v",
			got.TotalZDiffUm, got.StageZUm, want.TotalZDiffUm, want.StageZUm)
	}
	if !got.Paused || got.PauseReason != want.PauseReason || got.ErrorState != 501 {
		t.Errorf("pause state %+v", got)
	}
	if !got.Interrupted || got.InterruptedGrid != 1 || got.InterruptedTile != 14 {
		t.Errorf("interruption point %+v", got)
	}
	if len(got.AcquiredTiles) != 4 || got.AcquiredTiles[3] != 5 {
		t.Errorf("acquired tiles = %v", got.AcquiredTiles)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}

	// A second save overwrites the single row.
	want.SliceCounter = 458
	want.Interrupted = false
	if err := store.Save(want); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	got, err = store.Load()
	if err != nil {
		t.Fatalf("Load after update: %v", err)
	}
	if got.SliceCounter != 458 || got.Interrupted {
		t.Errorf("updated state = %+v", got)
	}

	if err := store.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	got, err = store.Load()
	if err != nil {
		t.Fatalf("Load after reset: %v", err)
	}
	if got.RunID != "" {
		t.Errorf("state after reset = %+v, want zero", got)
	}
}

func TestRunStoreLifecycle(t *testing.T) {
	database := newTestDB(t)
	store := NewRunStore(database)

	runID := uuid.NewString()
	started := time.Now()
	err := store.InsertRun(Run{
		RunID:      runID,
		StackName:  "cortex_s1",
		Status:     RunStatusActive,
		StartSlice: 100,
		StartedAt:  started,
	})
	if err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	if err := store.UpdateRunProgress(runID, 42); err != nil {
		t.Fatalf("UpdateRunProgress: %v", err)
	}

	run, err := store.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run == nil {
		t.Fatal("GetRun returned nil for existing run")
	}
	if run.Status != RunStatusActive || run.SlicesAcquired != 42 || run.StartSlice != 100 {
		t.Errorf("run = %+v", run)
	}
	if run.CompletedAt != nil {
		t.Error("CompletedAt set on active run")
	}

	if err := store.FinishRun(runID, RunStatusFailed, "cutting cycle failed", time.Now()); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	run, err = store.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun after finish: %v", err)
	}
	if run.Status != RunStatusFailed || run.Error != "cutting cycle failed" {
		t.Errorf("finished run = %+v", run)
	}
	if run.CompletedAt == nil {
		t.Error("CompletedAt missing on finished run")
	}

	// Unknown run returns nil without error.
	missing, err := store.GetRun("no-such-run")
	if err != nil {
		t.Fatalf("GetRun missing: %v", err)
	}
	if missing != nil {
		t.Errorf("GetRun for unknown ID = %+v, want nil", missing)
	}

	runs, err := store.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != runID {
		t.Errorf("ListRuns = %+v", runs)
	}
}

func TestTileLogStore(t *testing.T) {
	database := newTestDB(t)
	runs := NewRunStore(database)
	tiles := NewTileLogStore(database)

	runID := uuid.NewString()
	if err := runs.InsertRun(Run{
		RunID: runID, StackName: "c1", Status: RunStatusActive, StartedAt: time.Now(),
	}); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	for slice := 0; slice < 2; slice++ {
		for tile := 0; tile < 3; tile++ {
			err := tiles.InsertTile(TileRecord{
				RunID:     runID,
				Slice:     slice,
				GridIndex: 0,
				TileIndex: tile,
				Path:      "tiles/g0000/t0000/c1_g0000_t0000_s00000.tif",
				Mean:      120 + float64(tile),
				Stddev:    14.5,
			})
			if err != nil {
				t.Fatalf("InsertTile: %v", err)
			}
		}
	}

	recs, err := tiles.TilesForSlice(runID, 1)
	if err != nil {
		t.Fatalf("TilesForSlice: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("TilesForSlice returned %d records, want 3", len(recs))
	}
	if recs[2].Mean != 122 || recs[2].TileIndex != 2 {
		t.Errorf("record = %+v", recs[2])
	}

	count, err := tiles.CountForRun(runID)
	if err != nil {
		t.Fatalf("CountForRun: %v", err)
	}
	if count != 6 {
		t.Errorf("CountForRun = %d, want 6", count)
	}

	stats, err := tiles.SliceStats(runID)
	if err != nil {
		t.Fatalf("SliceStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("SliceStats returned %d rows, want 2", len(stats))
	}
	if stats[0].Slice != 0 || stats[0].TileCount != 3 {
		t.Errorf("slice stat = %+v", stats[0])
	}
	if stats[0].MeanOfMean != 121 {
		t.Errorf("MeanOfMean = %v, want 121", stats[0].MeanOfMean)
	}
}

func TestDebrisLogStore(t *testing.T) {
	database := newTestDB(t)
	runs := NewRunStore(database)
	debris := NewDebrisLogStore(database)

	runID := uuid.NewString()
	if err := runs.InsertRun(Run{
		RunID: runID, StackName: "c1", Status: RunStatusActive, StartedAt: time.Now(),
	}); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	records := []DebrisRecord{
		{RunID: runID, Slice: 10, Sweeps: 0, Accepted: true, Method: "histogram"},
		{RunID: runID, Slice: 11, Sweeps: 2, Accepted: true, Method: "histogram"},
		{RunID: runID, Slice: 12, Sweeps: 3, Accepted: false, Method: "histogram"},
	}
	for _, rec := range records {
		if err := debris.InsertRecord(rec); err != nil {
			t.Fatalf("InsertRecord: %v", err)
		}
	}

	recs, err := debris.RecordsForRun(runID)
	if err != nil {
		t.Fatalf("RecordsForRun: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("RecordsForRun returned %d, want 3", len(recs))
	}
	if recs[2].Accepted || recs[2].Sweeps != 3 {
		t.Errorf("record = %+v", recs[2])
	}

	total, err := debris.TotalSweeps(runID)
	if err != nil {
		t.Fatalf("TotalSweeps: %v", err)
	}
	if total != 5 {
		t.Errorf("TotalSweeps = %d, want 5", total)
	}

	// No records for an unknown run sums to zero.
	total, err = debris.TotalSweeps("no-such-run")
	if err != nil {
		t.Fatalf("TotalSweeps empty: %v", err)
	}
	if total != 0 {
		t.Errorf("TotalSweeps for empty run = %d, want 0", total)
	}
}

func TestIsSQLiteBusy(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"database is locked", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"SQLITE_BUSY", errors.New("SQLITE_BUSY"), true},
		{"other error", errors.New("some other error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSQLiteBusy(tt.err); got != tt.expected {
				t.Errorf("isSQLiteBusy(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRetryOnBusy(t *testing.T) {
	t.Run("success on first try", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			return nil
		})
		if err != nil || calls != 1 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("retries busy then succeeds", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			if calls < 3 {
				return errors.New("SQLITE_BUSY")
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("non-busy error returns immediately", func(t *testing.T) {
		calls := 0
		wantErr := errors.New("constraint violation")
		err := retryOnBusy(func() error {
			calls++
			return wantErr
		})
		if !errors.Is(err, wantErr) || calls != 1 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			return errors.New("database is locked")
		})
		if err == nil || calls != 5 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})
}
