package acq

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// SimStage is an in-memory StageDriver for the simulator run mode and for
// tests. Failure injection hooks let tests script specific error states.
type SimStage struct {
	mu sync.Mutex

	X, Y, ZPos float64
	errState   int

	Cuts   int
	Sweeps int
	Moves  int

	// FailCutWith, when non-zero, makes the next Cut set this error state.
	FailCutWith int
	// FailSweepWith, when non-zero, makes the next Sweep set this error state.
	FailSweepWith int
	// FailMoveWith, when non-zero, makes the next MoveXY set this error state.
	FailMoveWith int
}

func NewSimStage() *SimStage { return &SimStage{} }

func (s *SimStage) MoveXY(ctx context.Context, x, y float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Moves++
	if s.FailMoveWith != 0 {
		s.errState = s.FailMoveWith
		s.FailMoveWith = 0
		return fmt.Errorf("simulated move failure: %s", ErrorMessage(s.errState))
	}
	s.X, s.Y = x, y
	return nil
}

func (s *SimStage) MoveZ(ctx context.Context, z float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ZPos = z
	return nil
}

func (s *SimStage) Z(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ZPos, nil
}

func (s *SimStage) Cut(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCutWith != 0 {
		s.errState = s.FailCutWith
		s.FailCutWith = 0
		return fmt.Errorf("simulated cut failure: %s", ErrorMessage(s.errState))
	}
	s.Cuts++
	return nil
}

func (s *SimStage) Sweep(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSweepWith != 0 {
		s.errState = s.FailSweepWith
		s.FailSweepWith = 0
		return fmt.Errorf("simulated sweep failure: %s", ErrorMessage(s.errState))
	}
	s.Sweeps++
	return nil
}

func (s *SimStage) ErrorState() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errState
}

func (s *SimStage) ResetError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errState = 0
}

// SimImaging is an in-memory ImagingDriver. Captured frames are written as
// small pseudo-image byte files so the inspector has real data to measure.
type SimImaging struct {
	mu sync.Mutex

	wd            float64
	stigX, stigY  float64
	frameSettings FrameSettings
	rng           *rand.Rand

	Captures int
	// FailNextCapture makes the next AcquireFrame return an error once.
	FailNextCapture error
}

func NewSimImaging() *SimImaging {
	return &SimImaging{
		wd:  0.005,
		rng: rand.New(rand.NewSource(1)),
	}
}

func (s *SimImaging) ApplyFrameSettings(fs FrameSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameSettings = fs
	return nil
}

func (s *SimImaging) AcquireFrame(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNextCapture != nil {
		err := s.FailNextCapture
		s.FailNextCapture = nil
		return err
	}
	s.Captures++

	// 4 KiB of noise centred on a plausible grey level.
	buf := make([]byte, 4096)
	for i := range buf {
		buf[i] = byte(120 + s.rng.Intn(32))
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("writing simulated frame: %w", err)
	}
	return nil
}

func (s *SimImaging) SetWorkingDistance(wd float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wd = wd
	return nil
}

func (s *SimImaging) WorkingDistance() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wd, nil
}

func (s *SimImaging) SetStigmation(x, y float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stigX, s.stigY = x, y
	return nil
}

func (s *SimImaging) Stigmation() (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stigX, s.stigY, nil
}

// SimInspector measures real statistics on frame files and applies the
// configured acceptance ranges. Debris verdicts are scripted per slice.
type SimInspector struct {
	mu sync.Mutex

	MeanMin, MeanMax     float64
	StddevMin, StddevMax float64

	// DebrisMeanDiff and DebrisStddevDiff flag an overview as dirty when
	// its statistics jump by more than these amounts against the last
	// accepted overview. Zero disables the comparison.
	DebrisMeanDiff   float64
	DebrisStddevDiff float64

	prevMean, prevStddev float64
	hasPrev              bool

	// DebrisVerdicts maps capture ordinal to a debris detection. Unlisted
	// captures are clean.
	DebrisVerdicts map[int]bool
	debrisCalls    int

	// RejectNext scripts the next ProcessTile verdict.
	RejectNext *Inspection
}

func NewSimInspector() *SimInspector {
	return &SimInspector{
		MeanMin: 20, MeanMax: 220,
		StddevMin: 1, StddevMax: 80,
	}
}

func (s *SimInspector) measure(path string) (TileStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TileStats{}, err
	}
	if len(data) == 0 {
		return TileStats{}, fmt.Errorf("empty frame %s", path)
	}
	samples := make([]float64, len(data))
	for i, b := range data {
		samples[i] = float64(b)
	}
	mean, std := stat.MeanStdDev(samples, nil)
	return TileStats{Mean: mean, Stddev: std}, nil
}

func (s *SimInspector) ProcessTile(path string, grid, tile, slice int) (Inspection, error) {
	s.mu.Lock()
	if s.RejectNext != nil {
		verdict := *s.RejectNext
		s.RejectNext = nil
		s.mu.Unlock()
		return verdict, nil
	}
	s.mu.Unlock()

	stats, err := s.measure(path)
	if err != nil {
		return Inspection{LoadError: true}, nil
	}
	return Inspection{
		Stats:   stats,
		RangeOK: stats.Mean >= s.MeanMin && stats.Mean <= s.MeanMax && stats.Stddev >= s.StddevMin && stats.Stddev <= s.StddevMax,
		DriftOK: true,
	}, nil
}

func (s *SimInspector) ProcessOverview(path string, overview, slice int) (Inspection, error) {
	return s.ProcessTile(path, -1, overview, slice)
}

func (s *SimInspector) DetectDebris(path string, method string) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.debrisCalls
	s.debrisCalls++
	if s.DebrisVerdicts[call] {
		return true, "simulated debris"
	}
	if s.DebrisMeanDiff <= 0 && s.DebrisStddevDiff <= 0 {
		return false, ""
	}
	stats, err := s.measure(path)
	if err != nil {
		return false, ""
	}
	if s.hasPrev {
		if s.DebrisMeanDiff > 0 && math.Abs(stats.Mean-s.prevMean) > s.DebrisMeanDiff {
			return true, fmt.Sprintf("overview mean moved %+.2f", stats.Mean-s.prevMean)
		}
		if s.DebrisStddevDiff > 0 && math.Abs(stats.Stddev-s.prevStddev) > s.DebrisStddevDiff {
			return true, fmt.Sprintf("overview stddev moved %+.2f", stats.Stddev-s.prevStddev)
		}
	}
	// The clean frame becomes the comparison baseline.
	s.prevMean, s.prevStddev, s.hasPrev = stats.Mean, stats.Stddev, true
	return false, ""
}

// SimAutofocus returns scripted corrections.
type SimAutofocus struct {
	Enabled    bool
	Mode       string
	HardwareWD float64
	// Corrections maps tile keys to heuristic corrections.
	Corrections map[string][3]float64
}

func (a *SimAutofocus) Active() bool { return a.Enabled }

func (a *SimAutofocus) Method() string {
	if a.Mode == "" {
		return "heuristic"
	}
	return a.Mode
}

func (a *SimAutofocus) RunHardware(ctx context.Context, doFocus, doStig bool) (float64, error) {
	return a.HardwareWD, nil
}

func (a *SimAutofocus) HeuristicCorrection(tileKey string) (float64, float64, float64, error) {
	if corr, ok := a.Corrections[tileKey]; ok {
		return corr[0], corr[1], corr[2], nil
	}
	return 0, 0, 0, nil
}
