package monitor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microvolume/stackacq/internal/coord"
	"github.com/microvolume/stackacq/internal/grid"
)

func testGrids(t *testing.T) *grid.Manager {
	t.Helper()
	mgr := grid.NewManager(coord.NewFrame())
	mgr.AddGrid()
	require.NoError(t, mgr.SetGridSize(0, 2, 2))
	require.NoError(t, mgr.SelectAllTiles(0))
	return mgr
}

func TestFocusPlotterGeneratesPlots(t *testing.T) {
	dir := t.TempDir()
	mgr := testGrids(t)

	fp := NewFocusPlotter()
	require.NoError(t, fp.Start(dir))
	require.True(t, fp.IsEnabled())

	for slice := 0; slice < 5; slice++ {
		wd := 0.005 + float64(slice)*1e-7
		fp.Sample(slice, mgr.Snapshot(), wd, 0.1, -0.1)
	}
	fp.Stop()
	assert.Equal(t, 5, fp.SampleCount())

	count, err := fp.GeneratePlots()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, name := range []string{"focus_target_wd.png", "focus_target_stig.png", "focus_surface_origin.png"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Greater(t, info.Size(), int64(0), name)
	}
}

func TestFocusPlotterDisabledIgnoresSamples(t *testing.T) {
	fp := NewFocusPlotter()
	fp.Sample(0, nil, 0.005, 0, 0)
	assert.Equal(t, 0, fp.SampleCount())
}

func TestFocusPlotterNoSamplesNoPlots(t *testing.T) {
	fp := NewFocusPlotter()
	require.NoError(t, fp.Start(t.TempDir()))
	count, err := fp.GeneratePlots()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestFocusPlotterRequiresOutputDir(t *testing.T) {
	fp := NewFocusPlotter()
	fp.samples = []FocusSample{{Slice: 0}}
	_, err := fp.GeneratePlots()
	assert.Error(t, err)
}

func TestMakePlotOutputDir(t *testing.T) {
	dir := MakePlotOutputDir("/data", "stack01")
	assert.Contains(t, dir, filepath.Join("/data", "plots", "stack01"))
}
