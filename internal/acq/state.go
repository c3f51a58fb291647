package acq

import (
	"sort"

	"github.com/microvolume/stackacq/internal/db"
)

// Status is the orchestrator lifecycle state.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusRunning     Status = "running"
	StatusPaused      Status = "paused"
	StatusErrorPaused Status = "error_paused"
	StatusCompleted   Status = "completed"
)

// PauseSeverity selects where a requested pause takes effect.
type PauseSeverity int

const (
	PauseNone PauseSeverity = iota
	// PauseAfterImage stops after the current image completes.
	PauseAfterImage
	// PauseAfterSlice stops after the whole slice finishes, including the cut.
	PauseAfterSlice
)

// State is the orchestrator's runtime acquisition state. It is mutated
// only by the worker during a run; readers get copies via Snapshot.
type State struct {
	RunID        string
	SliceCounter int
	NumberSlices int
	TotalZDiffUm float64
	StageZUm     float64
	ErrorState   int

	// Interrupted marks a run stopped mid-slice. The acquired sets list
	// what the interrupted slice already finished; acquiredTiles applies to
	// the interrupted grid only.
	Interrupted     bool
	InterruptedGrid int
	InterruptedTile int
	acquiredTiles   map[int]bool
	acquiredGrids   map[int]bool
}

func newState() *State {
	return &State{
		acquiredTiles: make(map[int]bool),
		acquiredGrids: make(map[int]bool),
	}
}

// stateFromRecord rebuilds runtime state from a persisted row.
func stateFromRecord(rec db.AcqState) *State {
	st := newState()
	st.RunID = rec.RunID
	st.SliceCounter = rec.SliceCounter
	st.TotalZDiffUm = rec.TotalZDiffUm
	st.StageZUm = rec.StageZUm
	st.ErrorState = rec.ErrorState
	st.Interrupted = rec.Interrupted
	st.InterruptedGrid = rec.InterruptedGrid
	st.InterruptedTile = rec.InterruptedTile
	for _, t := range rec.AcquiredTiles {
		st.acquiredTiles[t] = true
	}
	for _, g := range rec.AcquiredGrids {
		st.acquiredGrids[g] = true
	}
	return st
}

// record converts the runtime state into its persisted form.
func (st *State) record(paused bool, pauseReason string) db.AcqState {
	return db.AcqState{
		RunID:           st.RunID,
		SliceCounter:    st.SliceCounter,
		TotalZDiffUm:    st.TotalZDiffUm,
		StageZUm:        st.StageZUm,
		Paused:          paused,
		PauseReason:     pauseReason,
		ErrorState:      st.ErrorState,
		Interrupted:     st.Interrupted,
		InterruptedGrid: st.InterruptedGrid,
		InterruptedTile: st.InterruptedTile,
		AcquiredTiles:   sortedKeys(st.acquiredTiles),
		AcquiredGrids:   sortedKeys(st.acquiredGrids),
	}
}

// clearSliceProgress resets the per-slice bookkeeping once a slice fully
// completes.
func (st *State) clearSliceProgress() {
	st.Interrupted = false
	st.InterruptedGrid = 0
	st.InterruptedTile = 0
	st.acquiredTiles = make(map[int]bool)
	st.acquiredGrids = make(map[int]bool)
}

func sortedKeys(set map[int]bool) []int {
	if len(set) == 0 {
		return nil
	}
	keys := make([]int, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
