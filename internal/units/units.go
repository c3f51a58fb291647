// Package units provides the shared physical-unit conversions and file
// naming conventions used across the acquisition controller. Pixel sizes are
// stored in nanometres per pixel; stage coordinates are micrometres.
package units

import (
	"fmt"
	"path"
)

// Zero-padded widths for numbered entities in file names. Chosen to cover
// realistic stack sizes (up to 999 overviews, 9999 grids/tiles, 99999 slices).
const (
	OverviewDigits = 3
	GridDigits     = 4
	TileDigits     = 4
	SliceDigits    = 5
)

// PixelsToMicrometres converts a pixel distance to micrometres for a given
// pixel size in nm/px.
func PixelsToMicrometres(px float64, pixelSizeNm float64) float64 {
	return px * pixelSizeNm / 1000
}

// NanometresToMicrometres converts nanometres to micrometres.
func NanometresToMicrometres(nm float64) float64 {
	return nm / 1000
}

// ClampInt fits value into the range [min, max].
func ClampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// TileKey returns the "<grid>.<tile>" identifier used in logs, prompts and
// reference-tile lists.
func TileKey(grid, tile int) string {
	return fmt.Sprintf("%d.%d", grid, tile)
}

// TileID returns the zero-padded "<grid>.<tile>.<slice>" identifier recorded
// in tile metadata.
func TileID(grid, tile, slice int) string {
	return fmt.Sprintf("%0*d.%0*d.%0*d",
		GridDigits, grid, TileDigits, tile, SliceDigits, slice)
}

// TileDir returns the per-tile image directory relative to the base dir.
func TileDir(grid, tile int) string {
	return path.Join("tiles",
		fmt.Sprintf("g%0*d", GridDigits, grid),
		fmt.Sprintf("t%0*d", TileDigits, tile))
}

// TilePath returns the save path of a tile image relative to the base dir.
func TilePath(stackName string, grid, tile, slice int) string {
	return path.Join(TileDir(grid, tile),
		fmt.Sprintf("%s_g%0*d_t%0*d_s%0*d.tif",
			stackName, GridDigits, grid, TileDigits, tile, SliceDigits, slice))
}

// OverviewDir returns the per-overview image directory relative to the base dir.
func OverviewDir(ov int) string {
	return path.Join("overviews", fmt.Sprintf("ov%0*d", OverviewDigits, ov))
}

// OverviewPath returns the save path of an overview image relative to the
// base dir.
func OverviewPath(stackName string, ov, slice int) string {
	return path.Join(OverviewDir(ov),
		fmt.Sprintf("%s_ov%0*d_s%0*d.tif",
			stackName, OverviewDigits, ov, SliceDigits, slice))
}

// DebrisPath returns the archive path for a rejected overview frame relative
// to the base dir. The sweep counter distinguishes successive rejects of the
// same slice.
func DebrisPath(stackName string, ov, slice, sweep int) string {
	return path.Join("overviews", "debris",
		fmt.Sprintf("%s_ov%0*d_s%0*d_%d.tif",
			stackName, OverviewDigits, ov, SliceDigits, slice, sweep))
}
