package grid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateFocusMap(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.SetGridSize(0, 4, 5))

	// References: t0 = (1,1) = 6, t1 = (1,3) = 8, t2 = (3,1) = 16.
	require.NoError(t, m.SetAdaptiveFocus(0, true, [3]int{6, 8, 16}))
	require.NoError(t, m.SetTileWD(0, 6, 0.006))
	require.NoError(t, m.SetTileWD(0, 8, 0.0062))
	require.NoError(t, m.SetTileWD(0, 16, 0.0066))

	require.NoError(t, m.CalculateFocusMap(0))

	g := m.Grid(0)
	assert.InDelta(t, 0.0001, g.FocusGradient[0], 1e-12, "column gradient")
	assert.InDelta(t, 0.0003, g.FocusGradient[1], 1e-12, "row gradient")

	// The fitted plane must reproduce the stored working distance at every
	// reference tile.
	for _, ref := range []struct {
		tile int
		wd   float64
	}{{6, 0.006}, {8, 0.0062}, {16, 0.0066}} {
		wd, err := m.TileWD(0, ref.tile)
		require.NoError(t, err)
		assert.InDelta(t, ref.wd, wd, 1e-12, "tile %d", ref.tile)
	}

	// Spot-check an unrelated tile: (2,4) = 14.
	wd, err := m.TileWD(0, 14)
	require.NoError(t, err)
	want := g.OriginWD + 4*g.FocusGradient[0] + 2*g.FocusGradient[1]
	assert.InDelta(t, want, wd, 1e-12)
}

func TestCalculateFocusMapInvalidReferences(t *testing.T) {
	cases := []struct {
		name string
		refs [3]int
	}{
		{"unconfigured", [3]int{-1, -1, -1}},
		{"t1 left of t0", [3]int{6, 5, 16}},
		{"t1 different row", [3]int{6, 12, 16}},
		{"t2 above t0", [3]int{6, 8, 1}},
		{"t2 different column", [3]int{6, 8, 17}},
		{"out of range", [3]int{6, 8, 99}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newTestManager(t)
			require.NoError(t, m.SetGridSize(0, 4, 5))
			require.NoError(t, m.SetAdaptiveFocus(0, true, tc.refs))
			require.NoError(t, m.SetTileWD(0, 0, 0.005))

			before := m.Grid(0).FocusGradient
			err := m.CalculateFocusMap(0)
			require.Error(t, err)

			// A rejected calculation must not mutate the focus state.
			g := m.Grid(0)
			assert.Equal(t, before, g.FocusGradient)
			assert.Zero(t, g.OriginWD)
			wd, err := m.TileWD(0, 0)
			require.NoError(t, err)
			assert.Equal(t, 0.005, wd)
		})
	}
}

func TestAdjustFocusMap(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.SetAdaptiveFocus(0, true, [3]int{0, 2, 10}))
	require.NoError(t, m.SetTileWD(0, 0, 0.0050))
	require.NoError(t, m.SetTileWD(0, 2, 0.0052))
	require.NoError(t, m.SetTileWD(0, 10, 0.0054))
	require.NoError(t, m.CalculateFocusMap(0))

	g := m.Grid(0)
	gradBefore := g.FocusGradient
	require.NoError(t, m.AdjustFocusMap(0, 0.0001))

	assert.Equal(t, gradBefore, g.FocusGradient, "gradient must survive a shift")
	wd, err := m.TileWD(0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.0051, wd, 1e-12)
	wd, err = m.TileWD(0, 10)
	require.NoError(t, err)
	assert.InDelta(t, 0.0055, wd, 1e-12)
}

func TestDisableAdaptiveFocusClearsGradient(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.SetAdaptiveFocus(0, true, [3]int{0, 2, 10}))
	require.NoError(t, m.SetTileWD(0, 0, 0.0050))
	require.NoError(t, m.SetTileWD(0, 2, 0.0052))
	require.NoError(t, m.SetTileWD(0, 10, 0.0054))
	require.NoError(t, m.CalculateFocusMap(0))
	require.NotZero(t, m.Grid(0).FocusGradient[0])

	require.NoError(t, m.SetAdaptiveFocus(0, false, [3]int{-1, -1, -1}))
	g := m.Grid(0)
	assert.Equal(t, [2]float64{}, g.FocusGradient)
	assert.False(t, g.AdaptiveFocus)
	for tile := 0; tile < g.NumberTiles(); tile++ {
		wd, err := m.TileWD(0, tile)
		require.NoError(t, err)
		if math.Abs(wd-g.OriginWD) > 1e-12 {
			t.Fatalf("tile %d WD %v not flattened to origin %v", tile, wd, g.OriginWD)
		}
	}
}
