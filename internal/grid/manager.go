package grid

import (
	"fmt"
	"sort"
	"sync"

	"github.com/microvolume/stackacq/internal/coord"
	"github.com/microvolume/stackacq/internal/units"
)

// Default parameters applied to newly added grids.
const (
	defaultRows         = 5
	defaultCols         = 5
	defaultTileWidthPx  = 4096
	defaultTileHeightPx = 3072
	defaultSizeSelector = 4
	defaultPixelSizeNm  = 10
	defaultDwellTimeUs  = 0.8
	defaultOverlapPx    = 200
	defaultAcqInterval  = 1

	numberDisplayColours = 8
)

// Rect is an axis-aligned stage-space rectangle in µm.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Manager owns all grids of a stack. A single mutex protects the grid set:
// the acquisition worker is the only writer during a run, while the HTTP
// status layer takes read snapshots.
type Manager struct {
	mu    sync.RWMutex
	frame *coord.Frame
	grids []*Grid
}

// NewManager returns a Manager with no grids, converting stage coordinates
// through the given frame.
func NewManager(frame *coord.Frame) *Manager {
	return &Manager{frame: frame}
}

// NumberGrids returns how many grids are configured.
func (m *Manager) NumberGrids() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.grids)
}

// Grid returns the grid with the given index, or nil if out of range.
func (m *Manager) Grid(n int) *Grid {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n < 0 || n >= len(m.grids) {
		return nil
	}
	return m.grids[n]
}

// AddGrid appends a new grid with default parameters and a staggered stage
// origin so consecutive grids do not overlap on the specimen. The display
// colour is the first one not already in use.
func (m *Manager) AddGrid() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.grids)
	used := make(map[int]bool)
	for _, g := range m.grids {
		used[g.DisplayColour] = true
	}
	colour := 1
	for c := 0; c < numberDisplayColours; c++ {
		if !used[c] {
			colour = c
			break
		}
	}

	g := &Grid{
		Rows:          defaultRows,
		Cols:          defaultCols,
		TileWidthPx:   defaultTileWidthPx,
		TileHeightPx:  defaultTileHeightPx,
		SizeSelector:  defaultSizeSelector,
		PixelSizeNm:   defaultPixelSizeNm,
		DwellTimeUs:   defaultDwellTimeUs,
		OverlapPx:     defaultOverlapPx,
		DisplayColour: colour,
		AcqInterval:   defaultAcqInterval,
		FocusRefTiles: [3]int{-1, -1, -1},
	}
	g.recalculateMaps()
	m.grids = append(m.grids, g)
	m.frame.SetGridOriginStage(n, coord.Point{
		X: float64(units.ClampInt(n*40, 0, 400)),
	})
	return n
}

// DeleteGrid removes the last grid and its origins.
func (m *Manager) DeleteGrid() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.grids) == 0 {
		return fmt.Errorf("no grids to delete")
	}
	m.frame.DeleteGridOrigin(len(m.grids) - 1)
	m.grids = m.grids[:len(m.grids)-1]
	return nil
}

// SetGridSize resizes a grid. Active tiles whose (row, col) position lies
// within both the old and the new bounds stay active under their new index;
// all others are dropped. Spatial position, not index identity, survives the
// resize. The maps are rebuilt and the acquisition order re-sorted.
func (m *Manager) SetGridSize(n, rows, cols int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.grid(n)
	if err != nil {
		return err
	}
	if rows <= 0 || cols <= 0 {
		return fmt.Errorf("invalid grid size %dx%d", rows, cols)
	}
	if rows == g.Rows && cols == g.Cols {
		return nil
	}

	remapped := make([]int, 0, len(g.ActiveTiles))
	for _, tile := range g.ActiveTiles {
		row, col := tile/g.Cols, tile%g.Cols
		if row < rows && col < cols {
			remapped = append(remapped, col+row*cols)
		}
	}
	g.Rows, g.Cols = rows, cols
	g.ActiveTiles = remapped
	g.sortAcquisitionOrder()
	g.recalculateMaps()
	return nil
}

// RecalculateGridMap rebuilds a grid's position maps after a parameter
// change (pixel size, overlap, row shift, tile size).
func (m *Manager) RecalculateGridMap(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.grid(n)
	if err != nil {
		return err
	}
	g.recalculateMaps()
	return nil
}

// sortAcquisitionOrder reorders the active tiles into a boustrophedon path:
// even rows left to right, odd rows right to left. This minimises cumulative
// stage travel compared to raster order.
func (g *Grid) sortAcquisitionOrder() {
	active := make(map[int]bool, len(g.ActiveTiles))
	for _, t := range g.ActiveTiles {
		active[t] = true
	}
	ordered := make([]int, 0, len(g.ActiveTiles))
	for row := 0; row < g.Rows; row++ {
		if row%2 == 0 {
			for col := 0; col < g.Cols; col++ {
				if tile := g.TileIndex(row, col); active[tile] {
					ordered = append(ordered, tile)
				}
			}
		} else {
			for col := g.Cols - 1; col >= 0; col-- {
				if tile := g.TileIndex(row, col); active[tile] {
					ordered = append(ordered, tile)
				}
			}
		}
	}
	g.ActiveTiles = ordered
}

// SelectTile activates a tile and re-sorts the acquisition order.
func (m *Manager) SelectTile(n, tile int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.grid(n)
	if err != nil {
		return err
	}
	if err := g.validateTile(tile); err != nil {
		return err
	}
	if g.stageMap[tile].Active {
		return nil
	}
	g.stageMap[tile].Active = true
	g.ActiveTiles = append(g.ActiveTiles, tile)
	g.sortAcquisitionOrder()
	return nil
}

// DeselectTile deactivates a tile and re-sorts the acquisition order.
func (m *Manager) DeselectTile(n, tile int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.grid(n)
	if err != nil {
		return err
	}
	if err := g.validateTile(tile); err != nil {
		return err
	}
	if !g.stageMap[tile].Active {
		return nil
	}
	g.stageMap[tile].Active = false
	for i, t := range g.ActiveTiles {
		if t == tile {
			g.ActiveTiles = append(g.ActiveTiles[:i], g.ActiveTiles[i+1:]...)
			break
		}
	}
	g.sortAcquisitionOrder()
	return nil
}

// ToggleTile flips a tile's activation state and reports the new state.
func (m *Manager) ToggleTile(n, tile int) (active bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.grid(n)
	if err != nil {
		return false, err
	}
	if err := g.validateTile(tile); err != nil {
		return false, err
	}
	if g.stageMap[tile].Active {
		g.stageMap[tile].Active = false
		for i, t := range g.ActiveTiles {
			if t == tile {
				g.ActiveTiles = append(g.ActiveTiles[:i], g.ActiveTiles[i+1:]...)
				break
			}
		}
		g.sortAcquisitionOrder()
		return false, nil
	}
	g.stageMap[tile].Active = true
	g.ActiveTiles = append(g.ActiveTiles, tile)
	g.sortAcquisitionOrder()
	return true, nil
}

// ResetActiveTiles deactivates every tile of a grid.
func (m *Manager) ResetActiveTiles(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.grid(n)
	if err != nil {
		return err
	}
	g.ActiveTiles = nil
	for i := range g.stageMap {
		g.stageMap[i].Active = false
	}
	return nil
}

// SelectAllTiles activates every tile of a grid in snake order.
func (m *Manager) SelectAllTiles(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.grid(n)
	if err != nil {
		return err
	}
	g.ActiveTiles = make([]int, g.NumberTiles())
	for i := range g.ActiveTiles {
		g.ActiveTiles[i] = i
		g.stageMap[i].Active = true
	}
	g.sortAcquisitionOrder()
	return nil
}

// ActiveTiles returns a copy of a grid's active tiles in acquisition order.
func (m *Manager) ActiveTiles(n int) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n < 0 || n >= len(m.grids) {
		return nil
	}
	out := make([]int, len(m.grids[n].ActiveTiles))
	copy(out, m.grids[n].ActiveTiles)
	return out
}

// NumberActiveTiles returns the active-tile count of a grid.
func (m *Manager) NumberActiveTiles(n int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n < 0 || n >= len(m.grids) {
		return 0
	}
	return len(m.grids[n].ActiveTiles)
}

// TotalActiveTiles returns the active-tile count across all grids.
func (m *Manager) TotalActiveTiles() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum := 0
	for _, g := range m.grids {
		sum += len(g.ActiveTiles)
	}
	return sum
}

// IntervallicActive reports whether any grid acquires on an interval larger
// than every slice.
func (m *Manager) IntervallicActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.grids {
		if g.AcqInterval > 1 {
			return true
		}
	}
	return false
}

// TileStagePosition returns the absolute stage position (µm) of a tile.
func (m *Manager) TileStagePosition(n, tile int) (coord.Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, err := m.grid(n)
	if err != nil {
		return coord.Point{}, err
	}
	if err := g.validateTile(tile); err != nil {
		return coord.Point{}, err
	}
	st := g.stageMap[tile]
	return m.frame.TileStage(n, coord.Point{X: st.X, Y: st.Y}), nil
}

// TilePixelPosition returns the global mosaic pixel position of a tile
// origin.
func (m *Manager) TilePixelPosition(n, tile int) (coord.Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, err := m.grid(n)
	if err != nil {
		return coord.Point{}, err
	}
	if err := g.validateTile(tile); err != nil {
		return coord.Point{}, err
	}
	return m.frame.TilePixel(n, g.pixelMap[tile]), nil
}

// BoundingBox returns a tile's stage-space rectangle: the tile centre plus
// and minus half the tile extent. Used for overlap and debris-region
// computations.
func (m *Manager) BoundingBox(n, tile int) (Rect, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, err := m.grid(n)
	if err != nil {
		return Rect{}, err
	}
	if err := g.validateTile(tile); err != nil {
		return Rect{}, err
	}
	origin := m.frame.GridOriginStage(n)
	st := g.stageMap[tile]
	halfW := g.TileWidthMicrons() / 2
	halfH := g.TileHeightMicrons() / 2
	left := origin.X + st.X - halfW
	top := origin.Y + st.Y - halfH
	return Rect{
		Left:   left,
		Top:    top,
		Right:  left + g.TileWidthMicrons(),
		Bottom: top + g.TileHeightMicrons(),
	}, nil
}

// TileWD returns the working distance assigned to a tile.
func (m *Manager) TileWD(n, tile int) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, err := m.grid(n)
	if err != nil {
		return 0, err
	}
	if err := g.validateTile(tile); err != nil {
		return 0, err
	}
	return g.stageMap[tile].WorkingDistance, nil
}

// SetTileWD stores a measured working distance on a tile, typically after an
// autofocus pass on a focus reference tile.
func (m *Manager) SetTileWD(n, tile int, wd float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.grid(n)
	if err != nil {
		return err
	}
	if err := g.validateTile(tile); err != nil {
		return err
	}
	g.stageMap[tile].WorkingDistance = wd
	return nil
}

// Snapshot returns deep copies of all grids for read-only consumers such as
// the status API.
func (m *Manager) Snapshot() []Grid {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Grid, len(m.grids))
	for i, g := range m.grids {
		out[i] = *g
		out[i].ActiveTiles = append([]int(nil), g.ActiveTiles...)
		out[i].pixelMap = append([]coord.Point(nil), g.pixelMap...)
		out[i].stageMap = append([]StageTile(nil), g.stageMap...)
	}
	return out
}

// SortedActiveSet returns a grid's active tiles in ascending index order,
// independent of acquisition order. Used by the setup file writer for stable
// output.
func (m *Manager) SortedActiveSet(n int) []int {
	tiles := m.ActiveTiles(n)
	sort.Ints(tiles)
	return tiles
}

func (m *Manager) grid(n int) (*Grid, error) {
	if n < 0 || n >= len(m.grids) {
		return nil, fmt.Errorf("grid %d out of range", n)
	}
	return m.grids[n], nil
}
