// Package coord converts between grid-local coordinates and absolute stage
// coordinates. A Frame owns the per-grid origin offsets and the stage
// calibration; it holds no references back into the geometry layer and is
// passed into geometry calls as a plain capability.
package coord

import "math"

// Point is a 2D coordinate. Stage-space points are micrometres, pixel-space
// points are pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Frame holds the stage calibration and per-grid origins. It is mutated only
// during setup and by the single acquisition worker; concurrent readers must
// use snapshots taken by the owner.
type Frame struct {
	// Scale factors map specimen-frame micrometres onto motor micrometres.
	// Both are 1.0 for a perfectly calibrated stage.
	ScaleX float64
	ScaleY float64
	// RotationDeg is the angle between the imaging axes and the stage axes.
	RotationDeg float64

	originsStage map[int]Point
	originsPixel map[int]Point
}

// NewFrame returns a Frame with identity calibration and no grid origins.
func NewFrame() *Frame {
	return &Frame{
		ScaleX:       1,
		ScaleY:       1,
		originsStage: make(map[int]Point),
		originsPixel: make(map[int]Point),
	}
}

// SetGridOriginStage records the absolute stage position (µm) of a grid's
// origin tile centre.
func (f *Frame) SetGridOriginStage(grid int, p Point) {
	f.originsStage[grid] = p
}

// GridOriginStage returns the stage origin of a grid, or (0,0) if unset.
func (f *Frame) GridOriginStage(grid int) Point {
	return f.originsStage[grid]
}

// SetGridOriginPixel records the position of a grid's origin in the global
// mosaic pixel space.
func (f *Frame) SetGridOriginPixel(grid int, p Point) {
	f.originsPixel[grid] = p
}

// GridOriginPixel returns the pixel origin of a grid, or (0,0) if unset.
func (f *Frame) GridOriginPixel(grid int) Point {
	return f.originsPixel[grid]
}

// DeleteGridOrigin removes both origins of a grid. Called when the grid is
// deleted.
func (f *Frame) DeleteGridOrigin(grid int) {
	delete(f.originsStage, grid)
	delete(f.originsPixel, grid)
}

// ToStage applies the stage calibration to a specimen-frame offset (µm),
// returning the equivalent motor offset.
func (f *Frame) ToStage(p Point) Point {
	rad := f.RotationDeg * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	return Point{
		X: f.ScaleX * (p.X*cos - p.Y*sin),
		Y: f.ScaleY * (p.X*sin + p.Y*cos),
	}
}

// TileStage converts a grid-local offset (µm) into an absolute stage
// position by applying the calibration and adding the grid's stage origin.
func (f *Frame) TileStage(grid int, local Point) Point {
	origin := f.GridOriginStage(grid)
	s := f.ToStage(local)
	return Point{X: origin.X + s.X, Y: origin.Y + s.Y}
}

// TilePixel converts a grid-local pixel offset into global mosaic pixel
// coordinates by adding the grid's pixel origin.
func (f *Frame) TilePixel(grid int, local Point) Point {
	origin := f.GridOriginPixel(grid)
	return Point{X: origin.X + local.X, Y: origin.Y + local.Y}
}
