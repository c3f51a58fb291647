package grid

import "fmt"

// SetAdaptiveFocus configures the focus surface of a grid: the enabled flag
// and the three reference tiles (origin, right neighbour, below neighbour).
// The gradient itself is computed by CalculateFocusMap.
func (m *Manager) SetAdaptiveFocus(n int, enabled bool, refTiles [3]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.grid(n)
	if err != nil {
		return err
	}
	g.AdaptiveFocus = enabled
	g.FocusRefTiles = refTiles
	if !enabled {
		g.FocusGradient = [2]float64{}
		g.recalculateMaps()
	}
	return nil
}

// CalculateFocusMap derives the focus gradient from the working distances
// stored on the three reference tiles and reassigns the working distance of
// every tile from the resulting plane.
//
// Reference tile 1 must lie strictly right of tile 0 in the same row, and
// reference tile 2 strictly below tile 0 in the same column. On a validity
// failure the previous gradient, origin WD and tile map are left untouched.
func (m *Manager) CalculateFocusMap(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.grid(n)
	if err != nil {
		return err
	}

	t0, t1, t2 := g.FocusRefTiles[0], g.FocusRefTiles[1], g.FocusRefTiles[2]
	if t0 < 0 {
		return fmt.Errorf("grid %d: focus reference tiles not configured", n)
	}
	for _, t := range []int{t0, t1, t2} {
		if err := g.validateTile(t); err != nil {
			return fmt.Errorf("grid %d: %w", n, err)
		}
	}

	row0, col0 := g.RowCol(t0)
	row1, _ := g.RowCol(t1)
	_, col2 := g.RowCol(t2)
	if t1 <= t0 || row1 != row0 {
		return fmt.Errorf("grid %d: reference tile %d is not right of %d in the same row", n, t1, t0)
	}
	if t2 <= t0 || col2 != col0 {
		return fmt.Errorf("grid %d: reference tile %d is not below %d in the same column", n, t2, t0)
	}

	gradX := (g.stageMap[t1].WorkingDistance - g.stageMap[t0].WorkingDistance) /
		float64(t1-t0)
	gradY := (g.stageMap[t2].WorkingDistance - g.stageMap[t0].WorkingDistance) /
		float64((t2-t0)/g.Cols)

	// Back-solve the origin WD so the plane reproduces tile t0's stored
	// value exactly.
	g.FocusGradient = [2]float64{gradX, gradY}
	g.OriginWD = g.stageMap[t0].WorkingDistance -
		float64(col0)*gradX - float64(row0)*gradY

	for tile := range g.stageMap {
		row, col := g.RowCol(tile)
		g.stageMap[tile].WorkingDistance = g.OriginWD +
			float64(col)*gradX + float64(row)*gradY
	}
	return nil
}

// AdjustFocusMap shifts the whole focus surface of a grid by diff, keeping
// the gradient. Applied after a hardware autofocus pass measures a uniform
// offset between the surface and the true focus.
func (m *Manager) AdjustFocusMap(n int, diff float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.grid(n)
	if err != nil {
		return err
	}
	g.OriginWD += diff
	for tile := range g.stageMap {
		g.stageMap[tile].WorkingDistance += diff
	}
	return nil
}
