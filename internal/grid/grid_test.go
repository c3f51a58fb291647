package grid

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/microvolume/stackacq/internal/coord"
)

func newTestManager(t *testing.T) (*Manager, *coord.Frame) {
	t.Helper()
	frame := coord.NewFrame()
	m := NewManager(frame)
	m.AddGrid()
	return m, frame
}

func TestAddGridDefaults(t *testing.T) {
	m, frame := newTestManager(t)
	g := m.Grid(0)
	if g == nil {
		t.Fatal("grid 0 missing after AddGrid")
	}
	if g.Rows != 5 || g.Cols != 5 {
		t.Errorf("default size = %dx%d, want 5x5", g.Rows, g.Cols)
	}
	if len(g.PixelMap()) != 25 || len(g.StageMap()) != 25 {
		t.Errorf("map sizes = %d/%d, want 25/25", len(g.PixelMap()), len(g.StageMap()))
	}
	// Staggered origins: grid 1 starts at x=40, clamped at 400.
	m.AddGrid()
	if got := frame.GridOriginStage(1).X; got != 40 {
		t.Errorf("grid 1 origin x = %v, want 40", got)
	}
}

func TestGridMapGeometry(t *testing.T) {
	m, _ := newTestManager(t)
	g := m.Grid(0)
	g.TileWidthPx, g.TileHeightPx = 1000, 800
	g.OverlapPx = 100
	g.RowShiftPx = 50
	g.PixelSizeNm = 10
	if err := m.RecalculateGridMap(0); err != nil {
		t.Fatal(err)
	}

	// Tile 7 in a 5x5 grid is row 1, col 2. Odd row gets the x shift.
	p := g.PixelMap()[7]
	wantX := float64(2*(1000-100) + 50)
	wantY := float64(1 * (800 - 100))
	if p.X != wantX || p.Y != wantY {
		t.Errorf("pixel map tile 7 = %+v, want {%v %v}", p, wantX, wantY)
	}

	// Stage map scales by pixel size nm -> µm. Even row has no shift.
	st := g.StageMap()[2]
	if st.X != 2*900*10.0/1000 || st.Y != 0 {
		t.Errorf("stage map tile 2 = %+v", st)
	}
}

func TestRowColBijection(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.SetGridSize(0, 7, 4); err != nil {
		t.Fatal(err)
	}
	g := m.Grid(0)
	if len(g.StageMap()) != 28 {
		t.Fatalf("map length after resize = %d, want 28", len(g.StageMap()))
	}
	seen := make(map[int]bool)
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			tile := g.TileIndex(row, col)
			r, c := g.RowCol(tile)
			if r != row || c != col {
				t.Fatalf("RowCol(TileIndex(%d,%d)) = (%d,%d)", row, col, r, c)
			}
			if seen[tile] {
				t.Fatalf("tile index %d mapped twice", tile)
			}
			seen[tile] = true
		}
	}
}

func TestSnakeOrderFullGrid(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.SetGridSize(0, 3, 4); err != nil {
		t.Fatal(err)
	}
	if err := m.SelectAllTiles(0); err != nil {
		t.Fatal(err)
	}
	want := []int{0, 1, 2, 3, 7, 6, 5, 4, 8, 9, 10, 11}
	if diff := cmp.Diff(want, m.ActiveTiles(0)); diff != "" {
		t.Errorf("snake order mismatch (-want +got):\n%s", diff)
	}
}

func TestSnakeOrderWithDeactivatedTile(t *testing.T) {
	// 2x3 grid with tile 3 (row 1, col 0) deactivated: row 0 left to right,
	// row 1 right to left skipping tile 3.
	m, _ := newTestManager(t)
	if err := m.SetGridSize(0, 2, 3); err != nil {
		t.Fatal(err)
	}
	if err := m.SelectAllTiles(0); err != nil {
		t.Fatal(err)
	}
	if err := m.DeselectTile(0, 3); err != nil {
		t.Fatal(err)
	}
	want := []int{0, 1, 2, 5, 4}
	if diff := cmp.Diff(want, m.ActiveTiles(0)); diff != "" {
		t.Errorf("active order mismatch (-want +got):\n%s", diff)
	}
}

func TestSnakeOrderPropertyRandomSubsets(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		rows := 1 + rng.Intn(6)
		cols := 1 + rng.Intn(6)
		m, _ := newTestManager(t)
		if err := m.SetGridSize(0, rows, cols); err != nil {
			t.Fatal(err)
		}
		g := m.Grid(0)
		for tile := 0; tile < rows*cols; tile++ {
			if rng.Intn(2) == 0 {
				if err := m.SelectTile(0, tile); err != nil {
					t.Fatal(err)
				}
			}
		}
		order := m.ActiveTiles(0)
		// Rows must appear in ascending order; within a row, columns ascend
		// on even rows and descend on odd rows.
		lastRow := -1
		lastCol := 0
		for _, tile := range order {
			row, col := g.RowCol(tile)
			if row < lastRow {
				t.Fatalf("rows out of order in %v (grid %dx%d)", order, rows, cols)
			}
			if row == lastRow {
				if row%2 == 0 && col <= lastCol {
					t.Fatalf("even row not left-to-right in %v", order)
				}
				if row%2 == 1 && col >= lastCol {
					t.Fatalf("odd row not right-to-left in %v", order)
				}
			}
			lastRow, lastCol = row, col
		}
	}
}

func TestResizePreservesSpatialActivation(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.SetGridSize(0, 3, 4); err != nil {
		t.Fatal(err)
	}
	// Activate (0,1), (1,3), (2,2) -> tiles 1, 7, 10.
	for _, tile := range []int{1, 7, 10} {
		if err := m.SelectTile(0, tile); err != nil {
			t.Fatal(err)
		}
	}
	// Shrink to 3x3: (1,3) falls outside, (0,1) -> tile 1, (2,2) -> tile 8.
	if err := m.SetGridSize(0, 3, 3); err != nil {
		t.Fatal(err)
	}
	want := []int{1, 8}
	if diff := cmp.Diff(want, m.ActiveTiles(0)); diff != "" {
		t.Errorf("active tiles after shrink (-want +got):\n%s", diff)
	}

	// Growing back must keep both at the same (row, col).
	if err := m.SetGridSize(0, 5, 6); err != nil {
		t.Fatal(err)
	}
	want = []int{1, 14} // (0,1) -> 1, (2,2) -> 2*6+2
	if diff := cmp.Diff(want, m.ActiveTiles(0)); diff != "" {
		t.Errorf("active tiles after grow (-want +got):\n%s", diff)
	}
}

func TestResizePropertyRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 30; trial++ {
		m, _ := newTestManager(t)
		rows, cols := 2+rng.Intn(5), 2+rng.Intn(5)
		if err := m.SetGridSize(0, rows, cols); err != nil {
			t.Fatal(err)
		}
		// Track activation by (row, col).
		type rc struct{ row, col int }
		activeRC := make(map[rc]bool)
		for tile := 0; tile < rows*cols; tile++ {
			if rng.Intn(3) == 0 {
				if err := m.SelectTile(0, tile); err != nil {
					t.Fatal(err)
				}
				activeRC[rc{tile / cols, tile % cols}] = true
			}
		}
		for step := 0; step < 4; step++ {
			newRows, newCols := 1+rng.Intn(6), 1+rng.Intn(6)
			if err := m.SetGridSize(0, newRows, newCols); err != nil {
				t.Fatal(err)
			}
			for pos := range activeRC {
				if pos.row >= newRows || pos.col >= newCols {
					delete(activeRC, pos)
				}
			}
			rows, cols = newRows, newCols

			g := m.Grid(0)
			got := make(map[rc]bool)
			for _, tile := range m.ActiveTiles(0) {
				got[rc{tile / g.Cols, tile % g.Cols}] = true
			}
			if diff := cmp.Diff(activeRC, got); diff != "" {
				t.Fatalf("trial %d step %d activation mismatch (-want +got):\n%s",
					trial, step, diff)
			}
			if n := len(g.StageMap()); n != rows*cols {
				t.Fatalf("map length %d != %d after resize", n, rows*cols)
			}
		}
	}
}

func TestIsSliceActive(t *testing.T) {
	m, _ := newTestManager(t)
	g := m.Grid(0)
	g.AcqInterval = 3
	g.AcqIntervalOffset = 1

	cases := map[int]bool{0: false, 1: true, 2: false, 3: false, 4: true, 7: true}
	for slice, want := range cases {
		if got := g.IsSliceActive(slice); got != want {
			t.Errorf("IsSliceActive(%d) = %v, want %v", slice, got, want)
		}
	}
}

func TestBoundingBox(t *testing.T) {
	m, frame := newTestManager(t)
	frame.SetGridOriginStage(0, coord.Point{X: 100, Y: 200})
	g := m.Grid(0)
	g.TileWidthPx, g.TileHeightPx = 1000, 1000
	g.OverlapPx = 0
	g.PixelSizeNm = 10 // tile is 10 µm square
	if err := m.RecalculateGridMap(0); err != nil {
		t.Fatal(err)
	}

	box, err := m.BoundingBox(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := Rect{Left: 95, Top: 195, Right: 105, Bottom: 205}
	if box != want {
		t.Errorf("BoundingBox = %+v, want %+v", box, want)
	}
}

func TestToggleTile(t *testing.T) {
	m, _ := newTestManager(t)
	active, err := m.ToggleTile(0, 12)
	if err != nil || !active {
		t.Fatalf("first toggle = (%v, %v), want (true, nil)", active, err)
	}
	active, err = m.ToggleTile(0, 12)
	if err != nil || active {
		t.Fatalf("second toggle = (%v, %v), want (false, nil)", active, err)
	}
	if n := m.NumberActiveTiles(0); n != 0 {
		t.Errorf("active count after toggles = %d, want 0", n)
	}
}
