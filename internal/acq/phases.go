package acq

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/microvolume/stackacq/internal/db"
	"github.com/microvolume/stackacq/internal/grid"
	"github.com/microvolume/stackacq/internal/units"
)

// overviewPhase captures the overview image for the slice and runs the
// debris mitigation loop on it. A slice resumed mid-grid keeps the
// overview it already accepted.
func (c *Controller) overviewPhase(ctx context.Context, slice int) error {
	if !c.cfg.GetTakeOverviews() {
		return nil
	}
	st := c.state
	if st.Interrupted {
		c.logger.Printf("[Acq] slice %d resumed mid-grid, keeping accepted overview", slice)
		return nil
	}

	relPath := units.OverviewPath(c.cfg.GetStackName(), 0, slice)
	path := filepath.Join(c.baseDir, relPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return c.errorPause(ErrPrimaryDrive, err.Error())
	}

	if err := c.captureOverview(ctx, path, slice); err != nil {
		return err
	}

	if !c.cfg.GetDebrisDetection() {
		return nil
	}
	method := c.cfg.GetDebrisDetectionMethod()
	maxSweeps := c.cfg.GetMaxSweeps()
	sweeps := 0

	for {
		if err := c.checkStop(ctx); err != nil {
			return err
		}

		detected, reason := c.inspector.DetectDebris(path, method)
		if !detected {
			c.recordDebris(slice, sweeps, true, method)
			if sweeps > 0 {
				c.sink.OnLog(fmt.Sprintf("slice %d overview clean after %d sweep(s)", slice, sweeps))
			}
			return nil
		}

		c.logger.Printf("[Acq] debris detected on slice %d overview (%s), %d sweep(s) so far", slice, reason, sweeps)

		if c.cfg.GetAskUserOnDebris() {
			decision, err := c.prompter.Ask(ctx,
				fmt.Sprintf("Debris detected on slice %d overview (%s). Sweep and retake?", slice, reason))
			if err != nil || decision == DecisionAbort {
				c.recordDebris(slice, sweeps, false, method)
				return c.pause("aborted at debris prompt", PauseAfterImage)
			}
			if decision == DecisionContinue {
				c.sink.OnLog(fmt.Sprintf("WARNING: slice %d overview accepted with debris on operator decision", slice))
				c.recordDebris(slice, sweeps, true, method)
				return nil
			}
		}

		if sweeps >= maxSweeps {
			if c.cfg.GetContinueAfterMaxSweeps() {
				c.sink.OnLog(fmt.Sprintf("WARNING: slice %d overview accepted with debris after %d sweeps (continue_after_max_sweeps)", slice, sweeps))
				c.recordDebris(slice, sweeps, true, method)
				return nil
			}
			c.recordDebris(slice, sweeps, false, method)
			return c.errorPause(ErrMaxSweeps, fmt.Sprintf("slice %d, %d sweeps", slice, sweeps))
		}

		// Archive the rejected frame before sweeping so nothing is lost.
		debrisRel := units.DebrisPath(c.cfg.GetStackName(), 0, slice, sweeps)
		debrisDst := filepath.Join(c.baseDir, debrisRel)
		if err := os.MkdirAll(filepath.Dir(debrisDst), 0o755); err == nil {
			if err := os.Rename(path, debrisDst); err != nil {
				c.logger.Printf("[Acq] debris frame archive failed: %v", err)
			}
		}

		if err := c.stage.Sweep(ctx); err != nil {
			state := c.stage.ErrorState()
			if state == ErrNone {
				state = ErrSweeping
			}
			return c.errorPause(state, err.Error())
		}
		sweeps++

		if err := c.captureOverview(ctx, path, slice); err != nil {
			return err
		}
	}
}

// captureOverview grabs one overview frame with transient retries and the
// intensity range gate.
func (c *Controller) captureOverview(ctx context.Context, path string, slice int) error {
	retries := 0
	for {
		state := ErrNone
		detail := ""

		if err := c.imaging.AcquireFrame(ctx, path); err != nil {
			state, detail = ErrGrabImage, err.Error()
		} else {
			insp, err := c.inspector.ProcessOverview(path, 0, slice)
			switch {
			case err != nil:
				state, detail = ErrLoadImage, err.Error()
			case insp.LoadError:
				state = ErrLoadImage
			case insp.Incomplete:
				state = ErrGrabIncomplete
			case insp.Frozen:
				state = ErrFrozenFrame
			case !insp.RangeOK:
				return c.errorPause(ErrOverviewRange,
					fmt.Sprintf("mean %.1f stddev %.1f", insp.Stats.Mean, insp.Stats.Stddev))
			}
		}

		if state == ErrNone {
			return nil
		}
		if isTransient(state) && retries < maxTransientRetries {
			retries++
			c.logger.Printf("[Acq] overview retry %d/%d on slice %d: %s", retries, maxTransientRetries, slice, ErrorMessage(state))
			continue
		}
		return c.errorPause(state, detail)
	}
}

func (c *Controller) recordDebris(slice, sweeps int, accepted bool, method string) {
	err := c.debris.InsertRecord(db.DebrisRecord{
		RunID:    c.state.RunID,
		Slice:    slice,
		Overview: 0,
		Sweeps:   sweeps,
		Accepted: accepted,
		Method:   method,
	})
	if err != nil {
		c.logger.Printf("[Acq] debris log insert failed: %v", err)
	}
}

// gridPhase images every active grid of the slice in acquisition order,
// skipping grids and tiles already acquired before an interruption.
func (c *Controller) gridPhase(ctx context.Context, slice int) error {
	st := c.state
	grids := c.grids.Snapshot()

	for gi := range grids {
		g := &grids[gi]
		if !g.IsSliceActive(slice) {
			continue
		}
		if st.acquiredGrids[gi] {
			continue
		}

		resuming := st.Interrupted && st.InterruptedGrid == gi
		if resuming {
			c.logger.Printf("[Acq] resuming grid %d at slice %d, %d tile(s) already acquired", gi, slice, len(st.acquiredTiles))
		} else {
			st.acquiredTiles = make(map[int]bool)
		}

		if err := c.imaging.ApplyFrameSettings(FrameSettings{
			SizeSelector: g.SizeSelector,
			PixelSizeNm:  g.PixelSizeNm,
			DwellTimeUs:  g.DwellTimeUs,
		}); err != nil {
			return c.errorPause(ErrFrameSize, err.Error())
		}

		if !resuming {
			if err := c.focusInactiveRefTiles(ctx, g, gi, slice); err != nil {
				return err
			}
		}

		for _, tile := range g.ActiveTiles {
			if st.acquiredTiles[tile] {
				continue
			}
			if err := c.checkStop(ctx); err != nil {
				return err
			}
			if err := c.acquireTile(ctx, g, gi, tile, slice, resuming); err != nil {
				return err
			}
			if c.pauseSeverity() == PauseAfterImage {
				return c.pause("pause requested", PauseAfterImage)
			}
		}

		st.acquiredGrids[gi] = true
		st.acquiredTiles = make(map[int]bool)
		st.Interrupted = false
		st.InterruptedGrid = 0
		st.InterruptedTile = 0
		if err := c.persist(false, ""); err != nil {
			c.logger.Printf("[Acq] state save after grid %d failed: %v", gi, err)
		}
	}
	return nil
}

// acquireTile moves to the tile, sets focus, captures the frame through
// the quality gates and registers the accepted image.
func (c *Controller) acquireTile(ctx context.Context, g *grid.Grid, gridIdx, tile, slice int, resuming bool) error {
	st := c.state

	pos, err := c.grids.TileStagePosition(gridIdx, tile)
	if err != nil {
		return fmt.Errorf("tile %s geometry: %w", units.TileKey(gridIdx, tile), err)
	}

	relPath := units.TilePath(c.cfg.GetStackName(), gridIdx, tile, slice)
	path := filepath.Join(c.baseDir, relPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return c.errorPause(ErrPrimaryDrive, err.Error())
	}
	// On a resume pass over the interrupted grid, a file left behind by
	// the prior attempt is a legitimate retake, not an overwrite. During
	// a normal pass the guard stays armed for every tile.
	if c.cfg.GetOverwriteGuard() && !resuming {
		if _, err := os.Stat(path); err == nil {
			return c.errorPause(ErrOverwrite, path)
		}
	}

	if err := c.stage.MoveXY(ctx, pos.X, pos.Y); err != nil {
		state := c.stage.ErrorState()
		if state == ErrNone {
			state = ErrMotorXY
		}
		return c.errorPause(state, err.Error())
	}

	if err := c.prepareFocus(ctx, g, gridIdx, tile, slice); err != nil {
		return err
	}

	retries := 0
	rangeRetried := false
	var stats TileStats
	for {
		state := ErrNone
		detail := ""

		if err := c.imaging.AcquireFrame(ctx, path); err != nil {
			state, detail = ErrGrabImage, err.Error()
		} else {
			insp, err := c.inspector.ProcessTile(path, gridIdx, tile, slice)
			switch {
			case err != nil:
				state, detail = ErrLoadImage, err.Error()
			case insp.LoadError:
				state = ErrLoadImage
			case insp.Incomplete:
				state = ErrGrabIncomplete
			case insp.Frozen:
				state = ErrFrozenFrame
			case c.cfg.GetMonitorImages() && !insp.RangeOK:
				state = ErrTileRange
				detail = fmt.Sprintf("mean %.1f stddev %.1f", insp.Stats.Mean, insp.Stats.Stddev)
			case c.cfg.GetMonitorImages() && !insp.DriftOK:
				state = ErrTileDrift
			default:
				stats = insp.Stats
			}
		}

		if state == ErrNone {
			break
		}
		// A rejected frame never stays on disk.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.logger.Printf("[Acq] failed to discard rejected tile %s: %v", units.TileKey(gridIdx, tile), err)
		}
		if state == ErrTileRange && c.cfg.GetRetakeOnRange() && !rangeRetried {
			rangeRetried = true
			c.logger.Printf("[Acq] tile %s out of range, retaking once: %s", units.TileKey(gridIdx, tile), detail)
			continue
		}
		if isTransient(state) && retries < maxTransientRetries {
			retries++
			c.logger.Printf("[Acq] tile %s retry %d/%d: %s", units.TileKey(gridIdx, tile), retries, maxTransientRetries, ErrorMessage(state))
			continue
		}
		return c.errorPause(state, detail)
	}

	retakes := retries
	if rangeRetried {
		retakes++
	}
	if err := c.tiles.InsertTile(db.TileRecord{
		RunID:     st.RunID,
		Slice:     slice,
		GridIndex: gridIdx,
		TileIndex: tile,
		Path:      relPath,
		Mean:      stats.Mean,
		Stddev:    stats.Stddev,
		Retakes:   retakes,
	}); err != nil {
		c.logger.Printf("[Acq] tile log insert failed: %v", err)
	}

	if err := c.mirrorTile(relPath); err != nil {
		return err
	}

	if err := c.applyHeuristicCorrection(g, gridIdx, tile, slice); err != nil {
		return err
	}

	st.Interrupted = true
	st.InterruptedGrid = gridIdx
	st.InterruptedTile = tile
	st.acquiredTiles[tile] = true
	if err := c.persist(false, ""); err != nil {
		c.logger.Printf("[Acq] state save after tile %s failed: %v", units.TileKey(gridIdx, tile), err)
	}
	c.sink.OnTileAcquired(gridIdx, tile, slice, relPath)
	return nil
}

// prepareFocus sets the working distance for a tile: the adaptive focus
// surface when the grid carries one, otherwise the locked target with
// drift restoration. Hardware autofocus runs on reference tiles at the
// scheduled slices before the focus is applied.
func (c *Controller) prepareFocus(ctx context.Context, g *grid.Grid, gridIdx, tile, slice int) error {
	if c.autofocus != nil && c.autofocus.Active() && c.autofocus.Method() == "hardware" &&
		c.autofocusDue(slice) && isFocusRefTile(g, tile) {
		wd, err := c.autofocus.RunHardware(ctx, true, true)
		if err != nil {
			return c.errorPause(ErrAutofocusHardware, err.Error())
		}
		c.mu.Lock()
		diff := math.Abs(wd - c.targetWD)
		c.mu.Unlock()
		if diff > c.cfg.GetMaxWDDiff() {
			return c.errorPause(ErrWDStigDiff,
				fmt.Sprintf("hardware autofocus moved WD by %.2e m on tile %s", diff, units.TileKey(gridIdx, tile)))
		}
		c.mu.Lock()
		c.targetWD = wd
		c.mu.Unlock()
		if err := c.grids.SetTileWD(gridIdx, tile, wd); err != nil {
			c.logger.Printf("[Acq] focus surface update failed for tile %s: %v", units.TileKey(gridIdx, tile), err)
		}
	}

	if g.AdaptiveFocus {
		wd, err := c.grids.TileWD(gridIdx, tile)
		if err != nil {
			return fmt.Errorf("tile %s focus lookup: %w", units.TileKey(gridIdx, tile), err)
		}
		if wd > 0 {
			if err := c.imaging.SetWorkingDistance(wd); err != nil {
				return c.errorPause(ErrWorkingDistance, err.Error())
			}
		}
		return nil
	}

	if !c.cfg.GetWDStigLock() {
		return nil
	}

	live, err := c.imaging.WorkingDistance()
	if err != nil {
		return c.errorPause(ErrWorkingDistance, err.Error())
	}
	c.mu.Lock()
	targetWD, targetStigX, targetStigY := c.targetWD, c.targetStigX, c.targetStigY
	c.mu.Unlock()

	if drift := live - targetWD; math.Abs(drift) > c.cfg.GetMaxWDDiff() {
		c.logger.Printf("[Acq] WD drift %.2e m at tile %s, restoring target", drift, units.TileKey(gridIdx, tile))
		if err := c.imaging.SetWorkingDistance(targetWD); err != nil {
			return c.errorPause(ErrWorkingDistance, err.Error())
		}
		c.sink.OnFocusAlert(gridIdx, tile, drift)
	}

	liveX, liveY, err := c.imaging.Stigmation()
	if err != nil {
		return c.errorPause(ErrStigmation, err.Error())
	}
	driftX, driftY := liveX-targetStigX, liveY-targetStigY
	if math.Abs(driftX) > c.cfg.GetMaxStigDiff() || math.Abs(driftY) > c.cfg.GetMaxStigDiff() {
		c.logger.Printf("[Acq] stigmation drift (%.2e, %.2e) at tile %s, restoring target", driftX, driftY, units.TileKey(gridIdx, tile))
		if err := c.imaging.SetStigmation(targetStigX, targetStigY); err != nil {
			return c.errorPause(ErrStigmation, err.Error())
		}
		c.sink.OnFocusAlert(gridIdx, tile, math.Max(math.Abs(driftX), math.Abs(driftY)))
	}
	return nil
}

// applyHeuristicCorrection folds the sharpness feedback from a reference
// tile into the focus targets. Corrections above the configured limits
// stop the run rather than chase a bad estimate.
func (c *Controller) applyHeuristicCorrection(g *grid.Grid, gridIdx, tile, slice int) error {
	if c.autofocus == nil || !c.autofocus.Active() || c.autofocus.Method() != "heuristic" {
		return nil
	}
	if !c.autofocusDue(slice) || !isFocusRefTile(g, tile) {
		return nil
	}

	key := units.TileKey(gridIdx, tile)
	wdCorr, stigXCorr, stigYCorr, err := c.autofocus.HeuristicCorrection(key)
	if err != nil {
		return c.errorPause(ErrAutofocusHeur, err.Error())
	}
	if math.Abs(wdCorr) > c.cfg.GetMaxWDDiff() ||
		math.Abs(stigXCorr) > c.cfg.GetMaxStigDiff() ||
		math.Abs(stigYCorr) > c.cfg.GetMaxStigDiff() {
		return c.errorPause(ErrWDStigDiff,
			fmt.Sprintf("heuristic correction (%.2e, %.2e, %.2e) on tile %s exceeds limits", wdCorr, stigXCorr, stigYCorr, key))
	}
	if wdCorr == 0 && stigXCorr == 0 && stigYCorr == 0 {
		return nil
	}

	c.mu.Lock()
	c.targetWD += wdCorr
	c.targetStigX += stigXCorr
	c.targetStigY += stigYCorr
	wd, stigX, stigY := c.targetWD, c.targetStigX, c.targetStigY
	c.mu.Unlock()

	if err := c.imaging.SetWorkingDistance(wd); err != nil {
		return c.errorPause(ErrWorkingDistance, err.Error())
	}
	if err := c.imaging.SetStigmation(stigX, stigY); err != nil {
		return c.errorPause(ErrStigmation, err.Error())
	}
	c.sink.OnLog(fmt.Sprintf("heuristic focus correction applied from tile %s: WD %+.2e m", key, wdCorr))
	return nil
}

// mirrorTile copies an accepted tile to the mirror drive with one retry.
func (c *Controller) mirrorTile(relPath string) error {
	mirrorDir := c.cfg.GetMirrorDir()
	if mirrorDir == "" {
		return nil
	}
	src := filepath.Join(c.baseDir, relPath)
	dst := filepath.Join(mirrorDir, relPath)
	if err := copyFile(src, dst); err != nil {
		c.logger.Printf("[Acq] mirror copy failed, retrying: %v", err)
		if err := copyFile(src, dst); err != nil {
			return c.errorPause(ErrMirrorDrive, err.Error())
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// cutPhase advances z by the slice thickness and performs one knife cut.
// The slice counter and the cumulative z advance update only after the cut
// verifies clean.
func (c *Controller) cutPhase(ctx context.Context, slice int) error {
	st := c.state
	c.stage.ResetError()

	thicknessUm := c.cfg.GetSliceThicknessNm() / 1000.0
	newZ := st.StageZUm + thicknessUm

	if err := c.stage.MoveZ(ctx, newZ); err != nil {
		state := c.stage.ErrorState()
		if state == ErrNone {
			state = ErrMotorZ
		}
		return c.errorPause(state, err.Error())
	}
	st.StageZUm = newZ

	if err := c.stage.Cut(ctx); err != nil {
		state := c.stage.ErrorState()
		if state == ErrNone {
			state = ErrCutting
		}
		return c.errorPause(state, err.Error())
	}

	if err := c.waitCut(ctx, c.cfg.GetCutDuration()); err != nil {
		return err
	}
	if state := c.stage.ErrorState(); state != ErrNone {
		return c.errorPause(state, fmt.Sprintf("post-cut check on slice %d", slice))
	}

	st.SliceCounter++
	st.TotalZDiffUm += thicknessUm
	st.clearSliceProgress()
	return nil
}

// waitCut blocks for the knife cycle duration, honouring stop requests.
func (c *Controller) waitCut(ctx context.Context, d time.Duration) error {
	// The knife cycle cannot be aborted over the wire: a stop or a
	// cancelled context still waits out the cycle so the slice is
	// accounted for, and the pause lands at the next stop check.
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		<-timer.C
		return nil
	case <-c.stopCh:
		<-timer.C
		return nil
	}
}

// autofocusDue reports whether autofocus runs on this slice under the
// configured interval.
func (c *Controller) autofocusDue(slice int) bool {
	interval := c.cfg.GetAutofocusInterval()
	if interval <= 1 {
		return true
	}
	return slice%interval == 0
}

// focusInactiveRefTiles visits focus reference tiles that sit outside the
// active set so the hardware autofocus can still anchor the surface there.
func (c *Controller) focusInactiveRefTiles(ctx context.Context, g *grid.Grid, gridIdx, slice int) error {
	if c.autofocus == nil || !c.autofocus.Active() || c.autofocus.Method() != "hardware" || !c.autofocusDue(slice) {
		return nil
	}
	active := make(map[int]bool, len(g.ActiveTiles))
	for _, t := range g.ActiveTiles {
		active[t] = true
	}
	for _, ref := range g.FocusRefTiles {
		if ref < 0 || active[ref] {
			continue
		}
		if err := c.checkStop(ctx); err != nil {
			return err
		}
		pos, err := c.grids.TileStagePosition(gridIdx, ref)
		if err != nil {
			return fmt.Errorf("tile %s geometry: %w", units.TileKey(gridIdx, ref), err)
		}
		if err := c.stage.MoveXY(ctx, pos.X, pos.Y); err != nil {
			state := c.stage.ErrorState()
			if state == ErrNone {
				state = ErrMotorXY
			}
			return c.errorPause(state, err.Error())
		}
		if err := c.prepareFocus(ctx, g, gridIdx, ref, slice); err != nil {
			return err
		}
	}
	return nil
}

func isFocusRefTile(g *grid.Grid, tile int) bool {
	for _, ref := range g.FocusRefTiles {
		if ref >= 0 && ref == tile {
			return true
		}
	}
	return false
}
