package acq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/microvolume/stackacq/internal/config"
	"github.com/microvolume/stackacq/internal/db"
	"github.com/microvolume/stackacq/internal/grid"
)

// errPaused is the internal control-flow sentinel a phase returns when the
// run must stop at the current boundary. The pause reason and error state
// are recorded on the controller before returning it.
var errPaused = errors.New("acquisition paused")

// Options configures a Controller. Config, Grids, the four drivers and the
// three stores are required; Sink, Prompter and Logger default to no-op,
// always-sweep and log.Default respectively.
type Options struct {
	Config    *config.SessionConfig
	Grids     *grid.Manager
	Stage     StageDriver
	Imaging   ImagingDriver
	Inspector ImageInspector
	Autofocus Autofocus
	Sink      EventSink
	Prompter  Prompter
	Logger    *log.Logger

	States  *db.StateStore
	Runs    *db.RunStore
	Tiles   *db.TileLogStore
	Debris  *db.DebrisLogStore
	BaseDir string
}

// Controller is the acquisition orchestrator: a single worker executes the
// slice loop sequentially, advancing one logical step at a time. All
// hardware calls are blocking; pause and stop requests take effect only at
// unit boundaries.
type Controller struct {
	cfg       *config.SessionConfig
	grids     *grid.Manager
	stage     StageDriver
	imaging   ImagingDriver
	inspector ImageInspector
	autofocus Autofocus
	sink      EventSink
	prompter  Prompter
	logger    *log.Logger

	states  *db.StateStore
	runs    *db.RunStore
	tiles   *db.TileLogStore
	debris  *db.DebrisLogStore
	baseDir string

	mu          sync.Mutex
	running     bool
	status      Status
	state       *State
	pauseReq    PauseSeverity
	pauseReason string
	stopCh      chan struct{}
	doneCh      chan struct{}

	// Focus targets snapshot at run start; the lock check restores these
	// when the live device values drift.
	targetWD    float64
	targetStigX float64
	targetStigY float64
}

// NewController creates a Controller in the Idle state.
func NewController(opts Options) *Controller {
	sink := opts.Sink
	if sink == nil {
		sink = NopSink{}
	}
	prompter := opts.Prompter
	if prompter == nil {
		prompter = FixedPrompter{Answer: DecisionSweep}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		cfg:       opts.Config,
		grids:     opts.Grids,
		stage:     opts.Stage,
		imaging:   opts.Imaging,
		inspector: opts.Inspector,
		autofocus: opts.Autofocus,
		sink:      sink,
		prompter:  prompter,
		logger:    logger,
		states:    opts.States,
		runs:      opts.Runs,
		tiles:     opts.Tiles,
		debris:    opts.Debris,
		baseDir:   opts.BaseDir,
		status:    StatusIdle,
		state:     newState(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Status returns the current lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Running reports whether the worker loop is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// StateSnapshot returns a copy of the runtime state for status readers.
func (c *Controller) StateSnapshot() db.AcqState {
	c.mu.Lock()
	defer c.mu.Unlock()
	paused := c.status == StatusPaused || c.status == StatusErrorPaused
	return c.state.record(paused, c.pauseReason)
}

// RequestPause asks the worker to pause at the next boundary of the given
// severity. A no-op when idle.
func (c *Controller) RequestPause(severity PauseSeverity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || severity == PauseNone {
		return
	}
	// An after-image request must not be downgraded to after-slice.
	if c.pauseReq == PauseNone || severity == PauseAfterImage {
		c.pauseReq = severity
	}
}

// Stop requests an immediate pause at the next unit boundary and waits for
// the worker to exit. Safe to call multiple times.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	doneCh := c.doneCh
	c.mu.Unlock()
	<-doneCh
}

// ResetStack clears the persisted state and counters so the next run
// starts a fresh stack. Fails while a run is active.
func (c *Controller) ResetStack() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("cannot reset while a run is active")
	}
	if err := c.states.Reset(); err != nil {
		return err
	}
	c.state = newState()
	c.status = StatusIdle
	c.pauseReason = ""
	return nil
}

// Run executes the slice loop until completion, a pause, a stop or an
// error. It blocks; callers run it on a dedicated goroutine. A paused or
// error-paused run returns nil and can be resumed by calling Run again
// with the persisted state intact.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("run already active")
	}
	c.running = true
	c.status = StatusRunning
	c.pauseReq = PauseNone
	c.pauseReason = ""
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		close(c.doneCh)
		c.mu.Unlock()
	}()

	if err := c.setupRun(ctx); err != nil {
		c.mu.Lock()
		c.status = StatusErrorPaused
		c.mu.Unlock()
		return err
	}

	err := c.sliceLoop(ctx)
	c.teardownRun(err)
	if err != nil && !errors.Is(err, errPaused) {
		return err
	}
	return nil
}

// setupRun loads persisted state, registers the run, snapshots the focus
// targets and archives the grid geometry.
func (c *Controller) setupRun(ctx context.Context) error {
	rec, err := c.states.Load()
	if err != nil {
		return fmt.Errorf("loading acquisition state: %w", err)
	}
	st := stateFromRecord(rec)
	if rec.RunID == "" {
		// Fresh stack: the configured counter seeds the slice numbering.
		st.SliceCounter = c.cfg.GetSliceCounter()
	}
	st.NumberSlices = c.cfg.GetNumberSlices()
	st.ErrorState = ErrNone
	st.RunID = uuid.NewString()

	c.mu.Lock()
	c.state = st
	c.mu.Unlock()

	if err := c.runs.InsertRun(db.Run{
		RunID:      st.RunID,
		StackName:  c.cfg.GetStackName(),
		Status:     db.RunStatusActive,
		StartSlice: st.SliceCounter,
		StartedAt:  time.Now(),
	}); err != nil {
		return fmt.Errorf("registering run: %w", err)
	}

	wd, err := c.imaging.WorkingDistance()
	if err != nil {
		return fmt.Errorf("reading working distance: %w", err)
	}
	stigX, stigY, err := c.imaging.Stigmation()
	if err != nil {
		return fmt.Errorf("reading stigmation: %w", err)
	}
	c.mu.Lock()
	c.targetWD, c.targetStigX, c.targetStigY = wd, stigX, stigY
	c.mu.Unlock()

	timestamp := time.Now().Format("20060102_150405")
	if path, err := c.grids.SaveGridMaps(c.baseDir, timestamp); err != nil {
		c.logger.Printf("[Acq] grid map archive failed: %v", err)
	} else {
		c.logger.Printf("[Acq] grid map archived at %s", path)
	}

	c.sink.OnLog(fmt.Sprintf("run %s started at slice %d", st.RunID, st.SliceCounter))
	return nil
}

// sliceLoop runs slices until completion or a pause boundary.
func (c *Controller) sliceLoop(ctx context.Context) error {
	st := c.state
	singleSlice := c.cfg.GetSingleSlice() || st.NumberSlices == 0

	for {
		if err := c.checkStop(ctx); err != nil {
			return err
		}

		slice := st.SliceCounter
		c.sink.OnProgress(slice, st.NumberSlices)

		c.applyHeuristicDeltas(slice)

		if err := c.overviewPhase(ctx, slice); err != nil {
			return err
		}
		if err := c.gridPhase(ctx, slice); err != nil {
			return err
		}

		if singleSlice {
			return c.pause("single slice imaged", PauseAfterImage)
		}
		if c.pauseSeverity() == PauseAfterImage {
			return c.pause("pause requested", PauseAfterImage)
		}

		if err := c.cutPhase(ctx, slice); err != nil {
			return err
		}

		if err := c.persist(false, ""); err != nil {
			return err
		}
		c.sink.OnSliceComplete(slice)
		if err := c.runs.UpdateRunProgress(st.RunID, st.SliceCounter-c.startSlice()); err != nil {
			c.logger.Printf("[Acq] run progress update failed: %v", err)
		}

		if st.NumberSlices > 0 && st.SliceCounter >= st.NumberSlices {
			c.mu.Lock()
			c.status = StatusCompleted
			c.mu.Unlock()
			c.sink.OnLog(fmt.Sprintf("stack completed at slice %d", st.SliceCounter))
			return nil
		}
		if c.pauseSeverity() == PauseAfterSlice {
			return c.pause("pause requested", PauseAfterSlice)
		}
	}
}

// teardownRun persists the final state and closes the run row.
func (c *Controller) teardownRun(loopErr error) {
	c.mu.Lock()
	st := c.state
	status := c.status
	reason := c.pauseReason
	c.mu.Unlock()

	runStatus := db.RunStatusCompleted
	errMsg := ""
	switch status {
	case StatusPaused:
		runStatus = db.RunStatusPaused
		errMsg = reason
	case StatusErrorPaused:
		runStatus = db.RunStatusFailed
		errMsg = fmt.Sprintf("%d: %s", st.ErrorState, ErrorMessage(st.ErrorState))
	case StatusCompleted:
	default:
		if loopErr != nil && !errors.Is(loopErr, errPaused) {
			runStatus = db.RunStatusFailed
			errMsg = loopErr.Error()
		}
	}

	paused := status == StatusPaused || status == StatusErrorPaused
	if err := c.states.Save(st.record(paused, reason)); err != nil {
		c.logger.Printf("[Acq] final state save failed: %v", err)
	}
	if err := c.runs.FinishRun(st.RunID, runStatus, errMsg, time.Now()); err != nil {
		c.logger.Printf("[Acq] run close failed: %v", err)
	}
}

func (c *Controller) startSlice() int {
	run, err := c.runs.GetRun(c.state.RunID)
	if err != nil || run == nil {
		return 0
	}
	return run.StartSlice
}

// pause records a user-requested pause and stops the loop.
func (c *Controller) pause(reason string, severity PauseSeverity) error {
	c.mu.Lock()
	c.status = StatusPaused
	c.pauseReason = reason
	c.pauseReq = PauseNone
	c.mu.Unlock()
	c.sink.OnLog("paused: " + reason)
	if err := c.persist(true, reason); err != nil {
		c.logger.Printf("[Acq] pause state save failed: %v", err)
	}
	return errPaused
}

// errorPause records an error state and stops the loop at the current
// boundary.
func (c *Controller) errorPause(state int, detail string) error {
	msg := ErrorMessage(state)
	if detail != "" {
		msg = msg + ": " + detail
	}
	c.mu.Lock()
	c.state.ErrorState = state
	c.status = StatusErrorPaused
	c.pauseReason = msg
	c.mu.Unlock()
	c.sink.OnError(state, msg)
	if err := c.persist(true, msg); err != nil {
		c.logger.Printf("[Acq] error state save failed: %v", err)
	}
	return errPaused
}

// checkStop returns a pause when the context is cancelled or Stop was
// called.
func (c *Controller) checkStop(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return c.pause("context cancelled", PauseAfterImage)
	case <-c.stopCh:
		return c.pause("stop requested", PauseAfterImage)
	default:
		return nil
	}
}

func (c *Controller) pauseSeverity() PauseSeverity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauseReq
}

// persist writes the runtime state to the store.
func (c *Controller) persist(paused bool, reason string) error {
	c.mu.Lock()
	rec := c.state.record(paused, reason)
	c.mu.Unlock()
	return c.states.Save(rec)
}

// applyHeuristicDeltas applies the alternating focus perturbation of the
// heuristic autofocus: a small ± delta on WD and stigmation whose sign
// flips with slice parity. The sharpness feedback after the reference
// tiles converts the two perturbed captures into a correction.
func (c *Controller) applyHeuristicDeltas(slice int) {
	if c.autofocus == nil || !c.autofocus.Active() || c.autofocus.Method() != "heuristic" {
		return
	}
	if !c.autofocusDue(slice) {
		return
	}

	sign := 1.0
	if slice%2 == 1 {
		sign = -1.0
	}
	deltaWD := sign * c.cfg.GetHeuristicDeltaWD()
	deltaStig := sign * c.cfg.GetHeuristicDeltaStig()

	c.mu.Lock()
	wd := c.targetWD + deltaWD
	stigX := c.targetStigX + deltaStig
	stigY := c.targetStigY + deltaStig
	c.mu.Unlock()

	if err := c.imaging.SetWorkingDistance(wd); err != nil {
		c.logger.Printf("[Acq] heuristic WD delta failed: %v", err)
	}
	if err := c.imaging.SetStigmation(stigX, stigY); err != nil {
		c.logger.Printf("[Acq] heuristic stig delta failed: %v", err)
	}
}
