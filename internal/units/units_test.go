package units

import "testing"

func TestPixelsToMicrometres(t *testing.T) {
	// 4096 px at 10 nm/px is 40.96 µm.
	got := PixelsToMicrometres(4096, 10)
	if got != 40.96 {
		t.Errorf("PixelsToMicrometres(4096, 10) = %v, want 40.96", got)
	}
}

func TestClampInt(t *testing.T) {
	cases := []struct {
		value, min, max, want int
	}{
		{-5, 0, 400, 0},
		{40, 0, 400, 40},
		{720, 0, 400, 400},
	}
	for _, c := range cases {
		if got := ClampInt(c.value, c.min, c.max); got != c.want {
			t.Errorf("ClampInt(%d, %d, %d) = %d, want %d",
				c.value, c.min, c.max, got, c.want)
		}
	}
}

func TestTilePaths(t *testing.T) {
	if got, want := TileKey(2, 17), "2.17"; got != want {
		t.Errorf("TileKey = %q, want %q", got, want)
	}
	if got, want := TileID(1, 23, 456), "0001.0023.00456"; got != want {
		t.Errorf("TileID = %q, want %q", got, want)
	}
	want := "tiles/g0001/t0023/cortex_g0001_t0023_s00456.tif"
	if got := TilePath("cortex", 1, 23, 456); got != want {
		t.Errorf("TilePath = %q, want %q", got, want)
	}
	want = "overviews/ov002/cortex_ov002_s00007.tif"
	if got := OverviewPath("cortex", 2, 7); got != want {
		t.Errorf("OverviewPath = %q, want %q", got, want)
	}
	want = "overviews/debris/cortex_ov000_s00007_3.tif"
	if got := DebrisPath("cortex", 0, 7, 3); got != want {
		t.Errorf("DebrisPath = %q, want %q", got, want)
	}
}
