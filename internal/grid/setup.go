package grid

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/microvolume/stackacq/internal/coord"
)

// GridSetup is the on-disk description of one grid in the setup file.
type GridSetup struct {
	Grid        `yaml:",inline"`
	OriginStage coord.Point `yaml:"origin_stage"`
	OriginPixel coord.Point `yaml:"origin_pixel"`
}

// Setup is the YAML grid-setup file: all grids plus their origins. The
// computed maps are not stored; they are rebuilt on load.
type Setup struct {
	Grids []GridSetup `yaml:"grids"`
}

// LoadSetup reads a grid-setup file and replaces the Manager's grids with
// its contents. Active-tile order, focus gradients and reference tiles are
// restored exactly; the position maps are recomputed.
func LoadSetup(path string, frame *coord.Frame) (*Manager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading grid setup: %w", err)
	}
	var setup Setup
	if err := yaml.Unmarshal(data, &setup); err != nil {
		return nil, fmt.Errorf("parsing grid setup: %w", err)
	}

	m := NewManager(frame)
	for n := range setup.Grids {
		gs := &setup.Grids[n]
		if gs.Rows <= 0 || gs.Cols <= 0 {
			return nil, fmt.Errorf("grid %d: invalid size %dx%d", n, gs.Rows, gs.Cols)
		}
		if gs.AcqInterval <= 0 {
			gs.AcqInterval = 1
		}
		for _, t := range gs.ActiveTiles {
			if t < 0 || t >= gs.Rows*gs.Cols {
				return nil, fmt.Errorf("grid %d: active tile %d out of range", n, t)
			}
		}
		g := gs.Grid
		g.recalculateMaps()
		m.grids = append(m.grids, &g)
		frame.SetGridOriginStage(n, gs.OriginStage)
		frame.SetGridOriginPixel(n, gs.OriginPixel)
	}
	return m, nil
}

// SaveSetup writes the Manager's grids and their origins to a YAML setup
// file.
func (m *Manager) SaveSetup(path string) error {
	m.mu.RLock()
	setup := Setup{Grids: make([]GridSetup, len(m.grids))}
	for n, g := range m.grids {
		setup.Grids[n] = GridSetup{
			Grid:        *g,
			OriginStage: m.frame.GridOriginStage(n),
			OriginPixel: m.frame.GridOriginPixel(n),
		}
		setup.Grids[n].ActiveTiles = append([]int(nil), g.ActiveTiles...)
	}
	m.mu.RUnlock()

	data, err := yaml.Marshal(&setup)
	if err != nil {
		return fmt.Errorf("encoding grid setup: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing grid setup: %w", err)
	}
	return nil
}
