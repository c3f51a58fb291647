// Package grid implements the tile-grid geometry engine: tile position maps
// in pixel and stage space, acquisition ordering, interval scheduling, and
// the adaptive-focus interpolation surface. The package performs no I/O and
// issues no hardware calls; stage conversions go through a coord.Frame
// passed in by the owner.
package grid

import (
	"fmt"

	"github.com/microvolume/stackacq/internal/coord"
	"github.com/microvolume/stackacq/internal/units"
)

// StageTile is one entry of a grid's stage-space map: the tile origin
// relative to the grid origin (µm), its activation state, and the working
// distance assigned to the tile by the focus surface.
type StageTile struct {
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Active          bool    `json:"active"`
	WorkingDistance float64 `json:"working_distance"`
}

// Grid holds the parameters and computed maps of one tile grid. All
// mutations go through the Manager so the maps and the active-tile order
// stay consistent.
type Grid struct {
	Rows int `json:"rows" yaml:"rows"`
	Cols int `json:"cols" yaml:"cols"`

	TileWidthPx  int     `json:"tile_width_px" yaml:"tile_width_px"`
	TileHeightPx int     `json:"tile_height_px" yaml:"tile_height_px"`
	SizeSelector int     `json:"size_selector" yaml:"size_selector"`
	PixelSizeNm  float64 `json:"pixel_size_nm" yaml:"pixel_size_nm"`
	DwellTimeUs  float64 `json:"dwell_time_us" yaml:"dwell_time_us"`
	OverlapPx    int     `json:"overlap_px" yaml:"overlap_px"`
	RowShiftPx   int     `json:"row_shift_px" yaml:"row_shift_px"`
	RotationDeg  float64 `json:"rotation_deg" yaml:"rotation_deg"`

	DisplayColour int `json:"display_colour" yaml:"display_colour"`

	// Intervallic acquisition: the grid participates in slices where
	// (slice - AcqIntervalOffset) % AcqInterval == 0.
	AcqInterval       int `json:"acq_interval" yaml:"acq_interval"`
	AcqIntervalOffset int `json:"acq_interval_offset" yaml:"acq_interval_offset"`

	// ActiveTiles is kept in acquisition (snake) order.
	ActiveTiles []int `json:"active_tiles" yaml:"active_tiles"`

	AdaptiveFocus bool `json:"adaptive_focus" yaml:"adaptive_focus"`
	// FocusRefTiles are the three reference tiles of the focus surface:
	// origin, its right neighbour in the same row, and the tile below it in
	// the same column. -1 means unset.
	FocusRefTiles [3]int `json:"focus_ref_tiles" yaml:"focus_ref_tiles"`
	// FocusGradient is (dWD/dx, dWD/dy) per column/row step.
	FocusGradient [2]float64 `json:"focus_gradient" yaml:"focus_gradient"`
	OriginWD      float64    `json:"origin_wd" yaml:"origin_wd"`

	pixelMap []coord.Point
	stageMap []StageTile
}

// NumberTiles returns rows*cols.
func (g *Grid) NumberTiles() int { return g.Rows * g.Cols }

// RowCol returns the (row, col) of a tile index under this grid's width.
func (g *Grid) RowCol(tile int) (row, col int) {
	return tile / g.Cols, tile % g.Cols
}

// TileIndex returns the tile index of (row, col).
func (g *Grid) TileIndex(row, col int) int { return col + row*g.Cols }

// TileWidthMicrons returns the tile width in µm.
func (g *Grid) TileWidthMicrons() float64 {
	return units.PixelsToMicrometres(float64(g.TileWidthPx), g.PixelSizeNm)
}

// TileHeightMicrons returns the tile height in µm.
func (g *Grid) TileHeightMicrons() float64 {
	return units.PixelsToMicrometres(float64(g.TileHeightPx), g.PixelSizeNm)
}

// ExtentPx returns the pixel width and height of the full grid footprint,
// including the alternating row shift on the width.
func (g *Grid) ExtentPx() (width, height int) {
	width = g.Cols*g.TileWidthPx - (g.Cols-1)*g.OverlapPx + g.RowShiftPx
	height = g.Rows*g.TileHeightPx - (g.Rows-1)*g.OverlapPx
	return width, height
}

// recalculateMaps rebuilds the pixel and stage maps for every tile. The
// alternating x shift on odd rows avoids repeated identical beam exposure of
// the overlap strips; its exact arithmetic is relied upon by downstream
// reslice tooling and must not change.
func (g *Grid) recalculateMaps() {
	n := g.NumberTiles()
	g.pixelMap = make([]coord.Point, n)
	g.stageMap = make([]StageTile, n)

	active := make(map[int]bool, len(g.ActiveTiles))
	for _, t := range g.ActiveTiles {
		active[t] = true
	}

	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			tile := g.TileIndex(row, col)
			x := float64(col * (g.TileWidthPx - g.OverlapPx))
			y := float64(row * (g.TileHeightPx - g.OverlapPx))
			shift := float64(g.RowShiftPx * (row % 2))

			g.pixelMap[tile] = coord.Point{X: x + shift, Y: y}
			g.stageMap[tile] = StageTile{
				X:      units.PixelsToMicrometres(x+shift, g.PixelSizeNm),
				Y:      units.PixelsToMicrometres(y, g.PixelSizeNm),
				Active: active[tile],
				WorkingDistance: g.OriginWD +
					float64(col)*g.FocusGradient[0] +
					float64(row)*g.FocusGradient[1],
			}
		}
	}
}

// PixelMap returns the grid-local pixel position of each tile origin,
// indexed by tile number.
func (g *Grid) PixelMap() []coord.Point { return g.pixelMap }

// StageMap returns the grid-local stage map, indexed by tile number.
func (g *Grid) StageMap() []StageTile { return g.stageMap }

// TileWD returns the working distance assigned to a tile.
func (g *Grid) TileWD(tile int) float64 {
	return g.stageMap[tile].WorkingDistance
}

// IsSliceActive reports whether this grid participates in the given slice
// under its interval schedule. Slices before the phase offset are inactive.
func (g *Grid) IsSliceActive(slice int) bool {
	if slice < g.AcqIntervalOffset {
		return false
	}
	return (slice-g.AcqIntervalOffset)%g.AcqInterval == 0
}

func (g *Grid) validateTile(tile int) error {
	if tile < 0 || tile >= g.NumberTiles() {
		return fmt.Errorf("tile %d out of range for %dx%d grid", tile, g.Rows, g.Cols)
	}
	return nil
}
