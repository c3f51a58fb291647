package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/microvolume/stackacq/internal/db"
	"github.com/microvolume/stackacq/internal/grid"
	"github.com/microvolume/stackacq/internal/httputil"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// Charts renders HTML debug charts over the acquisition logs. These are
// debugging-only endpoints (no auth) to inspect a run without the full UI.
type Charts struct {
	tiles  *db.TileLogStore
	debris *db.DebrisLogStore
	runs   *db.RunStore
	grids  *grid.Manager
}

// NewCharts creates the chart handler set.
func NewCharts(tiles *db.TileLogStore, debris *db.DebrisLogStore, runs *db.RunStore, grids *grid.Manager) *Charts {
	return &Charts{tiles: tiles, debris: debris, runs: runs, grids: grids}
}

// Register mounts the chart endpoints on a mux.
func (c *Charts) Register(mux *http.ServeMux) {
	mux.HandleFunc("/debug/charts/slice-stats", c.handleSliceStatsChart)
	mux.HandleFunc("/debug/charts/debris", c.handleDebrisChart)
	mux.HandleFunc("/debug/charts/focus-surface", c.handleFocusSurfaceChart)
}

// resolveRunID returns the run_id query param or the most recent run.
func (c *Charts) resolveRunID(r *http.Request) (string, error) {
	if id := r.URL.Query().Get("run_id"); id != "" {
		return id, nil
	}
	runs, err := c.runs.ListRuns(1)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("no runs recorded")
	}
	return runs[0].RunID, nil
}

// handleSliceStatsChart renders tile mean and stddev averages per slice as
// a line chart.
// Query params:
//   - run_id (optional; defaults to the most recent run)
func (c *Charts) handleSliceStatsChart(w http.ResponseWriter, r *http.Request) {
	runID, err := c.resolveRunID(r)
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}

	stats, err := c.tiles.SliceStats(runID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("slice stats: %v", err))
		return
	}
	if len(stats) == 0 {
		httputil.NotFound(w, "no tiles recorded for run")
		return
	}

	slices := make([]string, 0, len(stats))
	means := make([]opts.LineData, 0, len(stats))
	stddevs := make([]opts.LineData, 0, len(stats))
	counts := make([]opts.LineData, 0, len(stats))
	for _, s := range stats {
		slices = append(slices, strconv.Itoa(s.Slice))
		means = append(means, opts.LineData{Value: s.MeanOfMean})
		stddevs = append(stddevs, opts.LineData{Value: s.MeanOfStddev})
		counts = append(counts, opts.LineData{Value: s.TileCount})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Tile Quality per Slice", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Tile Quality per Slice", Subtitle: fmt.Sprintf("run=%s slices=%d", runID, len(stats))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(slices).
		AddSeries("mean grey level", means).
		AddSeries("mean stddev", stddevs).
		AddSeries("tiles", counts)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleDebrisChart renders sweeps per slice as a bar chart, with rejected
// slices called out in the subtitle.
func (c *Charts) handleDebrisChart(w http.ResponseWriter, r *http.Request) {
	runID, err := c.resolveRunID(r)
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}

	recs, err := c.debris.RecordsForRun(runID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("debris log: %v", err))
		return
	}
	if len(recs) == 0 {
		httputil.NotFound(w, "no debris records for run")
		return
	}

	slices := make([]string, 0, len(recs))
	sweeps := make([]opts.BarData, 0, len(recs))
	rejected := 0
	for _, rec := range recs {
		slices = append(slices, strconv.Itoa(rec.Slice))
		sweeps = append(sweeps, opts.BarData{Value: rec.Sweeps})
		if !rec.Accepted {
			rejected++
		}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Debris Sweeps", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Debris Sweeps per Slice", Subtitle: fmt.Sprintf("run=%s rejected=%d", runID, rejected)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(slices).
		AddSeries("sweeps", sweeps,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleFocusSurfaceChart renders the focus surface of one grid as a
// scatter of tile stage positions coloured by working distance.
// Query params:
//   - grid (optional; default 0)
func (c *Charts) handleFocusSurfaceChart(w http.ResponseWriter, r *http.Request) {
	gridIdx := 0
	if g := r.URL.Query().Get("grid"); g != "" {
		if v, err := strconv.Atoi(g); err == nil && v >= 0 {
			gridIdx = v
		}
	}
	g := c.grids.Grid(gridIdx)
	if g == nil {
		httputil.NotFound(w, fmt.Sprintf("no grid %d", gridIdx))
		return
	}

	stageMap := g.StageMap()
	data := make([]opts.ScatterData, 0, len(stageMap))
	minWD, maxWD := 0.0, 0.0
	for _, st := range stageMap {
		wdUm := st.WorkingDistance * 1e6
		if len(data) == 0 || wdUm < minWD {
			minWD = wdUm
		}
		if wdUm > maxWD {
			maxWD = wdUm
		}
		data = append(data, opts.ScatterData{Value: []interface{}{st.X, st.Y, wdUm}})
	}
	if len(data) == 0 {
		httputil.NotFound(w, "grid has no tiles")
		return
	}
	if maxWD == minWD {
		maxWD = minWD + 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Focus Surface", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Focus Surface", Subtitle: fmt.Sprintf("grid=%d tiles=%d", gridIdx, len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (um)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y (um)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(minWD),
			Max:        float32(maxWD),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#31688e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("working distance", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
