// Package monitor provides the observability surface of the acquisition
// controller: an event recorder feeding the status API, focus-history PNG
// plots, and HTML debug charts over the tile and debris logs.
package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/microvolume/stackacq/internal/grid"
)

// FocusSample is one snapshot of the focus state after a slice: the live
// targets and the per-grid focus surface parameters.
type FocusSample struct {
	Slice     int
	Timestamp time.Time

	TargetWD    float64
	TargetStigX float64
	TargetStigY float64

	// Per-grid origin WD and gradient, indexed by grid number.
	OriginWD  []float64
	GradientX []float64
	GradientY []float64
}

// FocusPlotter accumulates focus state over a run and renders PNG time
// series after it. Sampling is cheap; plot generation happens once at the
// end of a run.
type FocusPlotter struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string

	samples []FocusSample
}

// NewFocusPlotter creates a disabled plotter. Call Start to begin
// recording.
func NewFocusPlotter() *FocusPlotter {
	return &FocusPlotter{}
}

// Start clears any previous samples and begins recording into outputDir.
func (fp *FocusPlotter) Start(outputDir string) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("creating plot output dir: %w", err)
	}
	fp.outputDir = outputDir
	fp.enabled = true
	fp.samples = nil
	return nil
}

// Stop disables sampling. Call GeneratePlots to produce the output files.
func (fp *FocusPlotter) Stop() {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.enabled = false
}

// IsEnabled reports whether the plotter is currently recording.
func (fp *FocusPlotter) IsEnabled() bool {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.enabled
}

// Sample records the focus state after a slice. grids is a point-in-time
// snapshot from the grid manager.
func (fp *FocusPlotter) Sample(slice int, grids []grid.Grid, targetWD, targetStigX, targetStigY float64) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if !fp.enabled {
		return
	}

	s := FocusSample{
		Slice:       slice,
		Timestamp:   time.Now(),
		TargetWD:    targetWD,
		TargetStigX: targetStigX,
		TargetStigY: targetStigY,
	}
	for _, g := range grids {
		s.OriginWD = append(s.OriginWD, g.OriginWD)
		s.GradientX = append(s.GradientX, g.FocusGradient[0])
		s.GradientY = append(s.GradientY, g.FocusGradient[1])
	}
	fp.samples = append(fp.samples, s)
}

// SampleCount returns the number of samples collected so far.
func (fp *FocusPlotter) SampleCount() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return len(fp.samples)
}

// OutputDir returns the current output directory.
func (fp *FocusPlotter) OutputDir() string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.outputDir
}

// GeneratePlots renders the focus time series as PNG files and returns the
// number of plots written.
func (fp *FocusPlotter) GeneratePlots() (int, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if fp.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}
	if len(fp.samples) == 0 {
		return 0, nil
	}

	sort.Slice(fp.samples, func(a, b int) bool {
		return fp.samples[a].Slice < fp.samples[b].Slice
	})

	count := 0
	if err := fp.generateTargetPlot(); err != nil {
		return count, err
	}
	count++

	numGrids := 0
	for _, s := range fp.samples {
		if len(s.OriginWD) > numGrids {
			numGrids = len(s.OriginWD)
		}
	}
	if numGrids > 0 {
		if err := fp.generateSurfacePlot(numGrids); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// generateTargetPlot renders the target WD and stigmation over slices.
func (fp *FocusPlotter) generateTargetPlot() error {
	pWD := plot.New()
	pWD.Title.Text = "Focus Target - Working Distance"
	pWD.X.Label.Text = "Slice"
	pWD.Y.Label.Text = "WD (mm)"

	pStig := plot.New()
	pStig.Title.Text = "Focus Target - Stigmation"
	pStig.X.Label.Text = "Slice"
	pStig.Y.Label.Text = "Stig (%)"

	wdPts := make(plotter.XYs, 0, len(fp.samples))
	stigXPts := make(plotter.XYs, 0, len(fp.samples))
	stigYPts := make(plotter.XYs, 0, len(fp.samples))
	for _, s := range fp.samples {
		wdPts = append(wdPts, plotter.XY{X: float64(s.Slice), Y: s.TargetWD * 1000})
		stigXPts = append(stigXPts, plotter.XY{X: float64(s.Slice), Y: s.TargetStigX})
		stigYPts = append(stigYPts, plotter.XY{X: float64(s.Slice), Y: s.TargetStigY})
	}

	wdLine, err := plotter.NewLine(wdPts)
	if err != nil {
		return err
	}
	wdLine.Width = vg.Points(1)
	pWD.Add(wdLine)

	colors := generateColors(2)
	xLine, err := plotter.NewLine(stigXPts)
	if err != nil {
		return err
	}
	xLine.Color = colors[0]
	xLine.Width = vg.Points(1)
	pStig.Add(xLine)
	pStig.Legend.Add("stig x", xLine)

	yLine, err := plotter.NewLine(stigYPts)
	if err != nil {
		return err
	}
	yLine.Color = colors[1]
	yLine.Width = vg.Points(1)
	pStig.Add(yLine)
	pStig.Legend.Add("stig y", yLine)

	pStig.Legend.Top = true
	pStig.Legend.Left = false
	pStig.Legend.XOffs = -10
	pStig.Legend.YOffs = -10

	wdFile := filepath.Join(fp.outputDir, "focus_target_wd.png")
	if err := pWD.Save(14*vg.Inch, 6*vg.Inch, wdFile); err != nil {
		return fmt.Errorf("save WD plot: %w", err)
	}
	stigFile := filepath.Join(fp.outputDir, "focus_target_stig.png")
	if err := pStig.Save(14*vg.Inch, 6*vg.Inch, stigFile); err != nil {
		return fmt.Errorf("save stig plot: %w", err)
	}
	return nil
}

// generateSurfacePlot renders the per-grid focus surface origin WD over
// slices, one line per grid.
func (fp *FocusPlotter) generateSurfacePlot(numGrids int) error {
	p := plot.New()
	p.Title.Text = "Focus Surface - Origin WD per Grid"
	p.X.Label.Text = "Slice"
	p.Y.Label.Text = "Origin WD (mm)"

	colors := generateColors(numGrids)
	for g := 0; g < numGrids; g++ {
		pts := make(plotter.XYs, 0, len(fp.samples))
		for _, s := range fp.samples {
			if g >= len(s.OriginWD) || s.OriginWD[g] == 0 {
				continue
			}
			pts = append(pts, plotter.XY{X: float64(s.Slice), Y: s.OriginWD[g] * 1000})
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = colors[g]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("grid %d", g), line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	file := filepath.Join(fp.outputDir, "focus_surface_origin.png")
	if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
		return fmt.Errorf("save surface plot: %w", err)
	}
	return nil
}

// generateColors creates a palette of distinct colors for plot lines.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range).
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir returns a timestamped plot directory under baseDir for
// the named stack.
func MakePlotOutputDir(baseDir, stackName string) string {
	return filepath.Join(baseDir, "plots", stackName, FormatTimestamp(time.Now()))
}
