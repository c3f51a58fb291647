package grid

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// WriteGridMaps writes the tile maps of all grids, one line per tile:
//
//	<grid>.<tile>;<pixel_x>;<pixel_y>;<active 0|1>;<working_distance>
//
// The format is consumed by downstream reslice and stitching tooling.
func (m *Manager) WriteGridMaps(w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bw := bufio.NewWriter(w)
	for n, g := range m.grids {
		for tile := 0; tile < g.NumberTiles(); tile++ {
			active := 0
			if g.stageMap[tile].Active {
				active = 1
			}
			_, err := fmt.Fprintf(bw, "%d.%d;%s;%s;%d;%s\n",
				n, tile,
				strconv.FormatFloat(g.pixelMap[tile].X, 'g', -1, 64),
				strconv.FormatFloat(g.pixelMap[tile].Y, 'g', -1, 64),
				active,
				strconv.FormatFloat(g.stageMap[tile].WorkingDistance, 'g', -1, 64))
			if err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// SaveGridMaps writes the grid maps to meta/logs/gridmap_<timestamp>.txt
// under the base directory and returns the file path. Written once at run
// start so every run archives the geometry it acquired with.
func (m *Manager) SaveGridMaps(baseDir, timestamp string) (string, error) {
	dir := filepath.Join(baseDir, "meta", "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating log directory: %w", err)
	}
	path := filepath.Join(dir, "gridmap_"+timestamp+".txt")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating grid map file: %w", err)
	}
	defer f.Close()
	if err := m.WriteGridMaps(f); err != nil {
		return "", fmt.Errorf("writing grid map file: %w", err)
	}
	return path, nil
}
