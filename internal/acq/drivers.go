package acq

import "context"

// StageDriver is the motion and cutting contract consumed by the
// orchestrator. Failures surface as a numeric error state retrievable via
// ErrorState; calls block until the hardware confirms or fails.
type StageDriver interface {
	// MoveXY moves the stage to the absolute position (x, y) in µm.
	MoveXY(ctx context.Context, x, y float64) error
	// MoveZ moves the stage to the absolute z position in µm.
	MoveZ(ctx context.Context, z float64) error
	// Z reads the current stage z position in µm.
	Z(ctx context.Context) (float64, error)
	// Cut triggers one full knife cut cycle.
	Cut(ctx context.Context) error
	// Sweep performs one cleaning pass over the block face.
	Sweep(ctx context.Context) error
	// ErrorState returns the driver's current error state, 0 when clean.
	ErrorState() int
	// ResetError clears the driver's error state.
	ResetError()
}

// FrameSettings are the imaging parameters applied before captures.
type FrameSettings struct {
	SizeSelector int
	PixelSizeNm  float64
	DwellTimeUs  float64
}

// ImagingDriver is the beam-imaging contract consumed by the orchestrator.
type ImagingDriver interface {
	// ApplyFrameSettings configures frame size, pixel size and dwell time.
	ApplyFrameSettings(s FrameSettings) error
	// AcquireFrame captures a frame and writes it to path.
	AcquireFrame(ctx context.Context, path string) error
	// SetWorkingDistance sets the focus parameter in metres.
	SetWorkingDistance(wd float64) error
	// WorkingDistance reads the live focus parameter in metres.
	WorkingDistance() (float64, error)
	// SetStigmation sets the stigmation parameters.
	SetStigmation(x, y float64) error
	// Stigmation reads the live stigmation parameters.
	Stigmation() (x, y float64, err error)
}

// TileStats are the quality statistics measured on a captured frame.
type TileStats struct {
	Mean   float64
	Stddev float64
}

// Inspection is the outcome of a quality check on a captured frame.
type Inspection struct {
	Stats TileStats
	// RangeOK is false when mean or stddev fall outside the configured
	// acceptance ranges.
	RangeOK bool
	// DriftOK is false when the slice-to-slice comparison suggests the
	// image content jumped (stage slip, debris).
	DriftOK bool
	// LoadError marks a frame file that could not be read back.
	LoadError bool
	// Incomplete marks a partially transferred frame.
	Incomplete bool
	// Frozen marks a frame identical to the previous capture.
	Frozen bool
}

// ImageInspector validates captured frames. The detection algorithms are
// external; the orchestrator only consumes their verdicts.
type ImageInspector interface {
	// ProcessTile checks a tile frame against the quality gates.
	ProcessTile(path string, grid, tile, slice int) (Inspection, error)
	// ProcessOverview checks an overview frame.
	ProcessOverview(path string, overview, slice int) (Inspection, error)
	// DetectDebris inspects an overview frame for debris using the
	// configured method.
	DetectDebris(path string, method string) (detected bool, reason string)
}

// Autofocus computes focus corrections. The algorithm is external; the
// orchestrator schedules it and applies bounded corrections.
type Autofocus interface {
	// Active reports whether autofocus is enabled for this session.
	Active() bool
	// Method returns "hardware" or "heuristic".
	Method() string
	// RunHardware executes a hardware autofocus pass on the current
	// position and returns the resulting working distance in metres.
	RunHardware(ctx context.Context, doFocus, doStig bool) (wd float64, err error)
	// HeuristicCorrection returns the sharpness-derived corrections for a
	// reference tile after its capture.
	HeuristicCorrection(tileKey string) (wdCorr, stigXCorr, stigYCorr float64, err error)
}
