package grid

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/microvolume/stackacq/internal/coord"
)

func TestWriteGridMaps(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.SetGridSize(0, 1, 2))
	g := m.Grid(0)
	g.TileWidthPx, g.TileHeightPx = 1000, 800
	g.OverlapPx = 100
	g.PixelSizeNm = 10
	g.OriginWD = 0.005
	require.NoError(t, m.RecalculateGridMap(0))
	require.NoError(t, m.SelectTile(0, 1))

	var buf bytes.Buffer
	require.NoError(t, m.WriteGridMaps(&buf))

	want := []string{
		"0.0;0;0;0;0.005",
		"0.1;900;0;1;0.005",
	}
	got := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("grid map lines (-want +got):\n%s", diff)
	}
}

func TestSaveGridMaps(t *testing.T) {
	m, _ := newTestManager(t)
	base := t.TempDir()

	path, err := m.SaveGridMaps(base, "20260823_101500")
	require.NoError(t, err)
	require.Equal(t,
		filepath.Join(base, "meta", "logs", "gridmap_20260823_101500.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 25)
	require.True(t, strings.HasPrefix(lines[0], "0.0;"))
}

func TestSetupRoundTrip(t *testing.T) {
	frame := coord.NewFrame()
	m := NewManager(frame)
	m.AddGrid()
	m.AddGrid()
	require.NoError(t, m.SetGridSize(1, 3, 4))
	require.NoError(t, m.SelectTile(1, 5))
	require.NoError(t, m.SelectTile(1, 6))
	require.NoError(t, m.SetAdaptiveFocus(1, true, [3]int{0, 1, 4}))
	frame.SetGridOriginStage(1, coord.Point{X: 120, Y: -30})

	path := filepath.Join(t.TempDir(), "grids.yaml")
	require.NoError(t, m.SaveSetup(path))

	frame2 := coord.NewFrame()
	m2, err := LoadSetup(path, frame2)
	require.NoError(t, err)

	require.Equal(t, 2, m2.NumberGrids())
	g := m2.Grid(1)
	require.Equal(t, 3, g.Rows)
	require.Equal(t, 4, g.Cols)
	require.Len(t, g.StageMap(), 12, "maps must be rebuilt on load")
	if diff := cmp.Diff(m.ActiveTiles(1), m2.ActiveTiles(1)); diff != "" {
		t.Errorf("active tiles (-want +got):\n%s", diff)
	}
	require.Equal(t, [3]int{0, 1, 4}, g.FocusRefTiles)
	require.Equal(t, coord.Point{X: 120, Y: -30}, frame2.GridOriginStage(1))
}

func TestLoadSetupRejectsBadGrids(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"zero size":         "grids:\n  - rows: 0\n    cols: 5\n",
		"active tile range": "grids:\n  - rows: 2\n    cols: 2\n    active_tiles: [4]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := LoadSetup(path, coord.NewFrame())
			require.Error(t, err)
		})
	}
}
