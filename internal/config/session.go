package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SessionConfig represents the root configuration for a stack acquisition
// session. The schema matches the /api/acq/config endpoint so the same JSON
// can be used for both startup configuration and runtime updates.
type SessionConfig struct {
	// Stack identity and output layout
	BaseDir   *string `json:"base_dir,omitempty"`
	StackName *string `json:"stack_name,omitempty"`
	// MirrorDir replicates every written image to a second drive when set.
	MirrorDir *string `json:"mirror_dir,omitempty"`

	// Slice schedule
	NumberSlices     *int     `json:"number_slices,omitempty"`
	SliceThicknessNm *float64 `json:"slice_thickness_nm,omitempty"`
	SliceCounter     *int     `json:"slice_counter,omitempty"`

	// Cutting
	CutDuration *string `json:"cut_duration,omitempty"` // duration string like "12s"
	SingleSlice *bool   `json:"single_slice,omitempty"`

	// Overview imaging and debris detection
	TakeOverviews          *bool    `json:"take_overviews,omitempty"`
	DebrisDetection        *bool    `json:"debris_detection,omitempty"`
	DebrisDetectionMethod  *string  `json:"debris_detection_method,omitempty"`
	DebrisMeanThreshold    *float64 `json:"debris_mean_threshold,omitempty"`
	DebrisStddevThreshold  *float64 `json:"debris_stddev_threshold,omitempty"`
	MaxSweeps              *int     `json:"max_sweeps,omitempty"`
	ContinueAfterMaxSweeps *bool    `json:"continue_after_max_sweeps,omitempty"`
	AskUserOnDebris        *bool    `json:"ask_user_on_debris,omitempty"`

	// Tile quality monitoring
	MonitorImages  *bool    `json:"monitor_images,omitempty"`
	TileMeanMin    *float64 `json:"tile_mean_min,omitempty"`
	TileMeanMax    *float64 `json:"tile_mean_max,omitempty"`
	TileStddevMin  *float64 `json:"tile_stddev_min,omitempty"`
	TileStddevMax  *float64 `json:"tile_stddev_max,omitempty"`
	RetakeOnRange  *bool    `json:"retake_on_range,omitempty"`
	OverwriteGuard *bool    `json:"overwrite_guard,omitempty"`

	// Autofocus
	AutofocusMethod    *string  `json:"autofocus_method,omitempty"` // "hardware" or "heuristic"
	AutofocusInterval  *int     `json:"autofocus_interval,omitempty"`
	HeuristicDeltaWD   *float64 `json:"heuristic_delta_wd,omitempty"`
	HeuristicDeltaStig *float64 `json:"heuristic_delta_stig,omitempty"`
	MaxWDDiff          *float64 `json:"max_wd_diff,omitempty"`
	MaxStigDiff        *float64 `json:"max_stig_diff,omitempty"`
	WDStigLock         *bool    `json:"wd_stig_lock,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptySessionConfig returns a SessionConfig with all fields set to nil,
// so every accessor answers with its default.
func EmptySessionConfig() *SessionConfig {
	return &SessionConfig{}
}

// LoadSessionConfig loads a SessionConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadSessionConfig(path string) (*SessionConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptySessionConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *SessionConfig) Validate() error {
	if c.BaseDir != nil && *c.BaseDir == "" {
		return fmt.Errorf("base_dir must not be empty when set")
	}
	if c.StackName != nil && *c.StackName == "" {
		return fmt.Errorf("stack_name must not be empty when set")
	}

	if c.NumberSlices != nil && *c.NumberSlices < 0 {
		return fmt.Errorf("number_slices must be non-negative, got %d", *c.NumberSlices)
	}
	if c.SliceThicknessNm != nil && *c.SliceThicknessNm <= 0 {
		return fmt.Errorf("slice_thickness_nm must be positive, got %f", *c.SliceThicknessNm)
	}
	if c.SliceCounter != nil && *c.SliceCounter < 0 {
		return fmt.Errorf("slice_counter must be non-negative, got %d", *c.SliceCounter)
	}

	if c.CutDuration != nil && *c.CutDuration != "" {
		if _, err := time.ParseDuration(*c.CutDuration); err != nil {
			return fmt.Errorf("invalid cut_duration '%s': %w", *c.CutDuration, err)
		}
	}

	if c.MaxSweeps != nil && *c.MaxSweeps < 1 {
		return fmt.Errorf("max_sweeps must be at least 1, got %d", *c.MaxSweeps)
	}
	if c.DebrisDetectionMethod != nil {
		switch *c.DebrisDetectionMethod {
		case "histogram", "quadrant", "difference":
		default:
			return fmt.Errorf("unknown debris_detection_method %q", *c.DebrisDetectionMethod)
		}
	}

	if c.AutofocusMethod != nil {
		switch *c.AutofocusMethod {
		case "hardware", "heuristic":
		default:
			return fmt.Errorf("unknown autofocus_method %q", *c.AutofocusMethod)
		}
	}
	if c.AutofocusInterval != nil && *c.AutofocusInterval < 1 {
		return fmt.Errorf("autofocus_interval must be at least 1, got %d", *c.AutofocusInterval)
	}
	if c.MaxWDDiff != nil && *c.MaxWDDiff <= 0 {
		return fmt.Errorf("max_wd_diff must be positive, got %f", *c.MaxWDDiff)
	}
	if c.MaxStigDiff != nil && *c.MaxStigDiff <= 0 {
		return fmt.Errorf("max_stig_diff must be positive, got %f", *c.MaxStigDiff)
	}

	if c.TileMeanMin != nil && c.TileMeanMax != nil && *c.TileMeanMin > *c.TileMeanMax {
		return fmt.Errorf("tile_mean_min %f exceeds tile_mean_max %f", *c.TileMeanMin, *c.TileMeanMax)
	}
	if c.TileStddevMin != nil && c.TileStddevMax != nil && *c.TileStddevMin > *c.TileStddevMax {
		return fmt.Errorf("tile_stddev_min %f exceeds tile_stddev_max %f", *c.TileStddevMin, *c.TileStddevMax)
	}

	return nil
}

// GetBaseDir returns the base_dir value or the default.
func (c *SessionConfig) GetBaseDir() string {
	if c.BaseDir == nil {
		return "./stackdata"
	}
	return *c.BaseDir
}

// GetStackName returns the stack_name value or the default.
func (c *SessionConfig) GetStackName() string {
	if c.StackName == nil {
		return "stack"
	}
	return *c.StackName
}

// GetMirrorDir returns the mirror_dir value; empty disables mirroring.
func (c *SessionConfig) GetMirrorDir() string {
	if c.MirrorDir == nil {
		return ""
	}
	return *c.MirrorDir
}

// GetNumberSlices returns the number_slices value or the default.
// Zero means acquire until paused.
func (c *SessionConfig) GetNumberSlices() int {
	if c.NumberSlices == nil {
		return 0
	}
	return *c.NumberSlices
}

// GetSliceThicknessNm returns the slice_thickness_nm value or the default.
func (c *SessionConfig) GetSliceThicknessNm() float64 {
	if c.SliceThicknessNm == nil {
		return 25.0
	}
	return *c.SliceThicknessNm
}

// GetSliceCounter returns the slice_counter value or the default.
func (c *SessionConfig) GetSliceCounter() int {
	if c.SliceCounter == nil {
		return 0
	}
	return *c.SliceCounter
}

// GetCutDuration parses and returns the CutDuration as a time.Duration.
func (c *SessionConfig) GetCutDuration() time.Duration {
	if c.CutDuration == nil || *c.CutDuration == "" {
		return 12 * time.Second // default
	}
	d, err := time.ParseDuration(*c.CutDuration)
	if err != nil {
		return 12 * time.Second // default on parse error
	}
	return d
}

// GetSingleSlice returns the single_slice value or the default.
func (c *SessionConfig) GetSingleSlice() bool {
	if c.SingleSlice == nil {
		return false
	}
	return *c.SingleSlice
}

// GetTakeOverviews returns the take_overviews value or the default.
func (c *SessionConfig) GetTakeOverviews() bool {
	if c.TakeOverviews == nil {
		return true
	}
	return *c.TakeOverviews
}

// GetDebrisDetection returns the debris_detection value or the default.
func (c *SessionConfig) GetDebrisDetection() bool {
	if c.DebrisDetection == nil {
		return true
	}
	return *c.DebrisDetection
}

// GetDebrisDetectionMethod returns the debris_detection_method value or the default.
func (c *SessionConfig) GetDebrisDetectionMethod() string {
	if c.DebrisDetectionMethod == nil {
		return "histogram"
	}
	return *c.DebrisDetectionMethod
}

// GetDebrisMeanThreshold returns the debris_mean_threshold value or the default.
func (c *SessionConfig) GetDebrisMeanThreshold() float64 {
	if c.DebrisMeanThreshold == nil {
		return 10.0
	}
	return *c.DebrisMeanThreshold
}

// GetDebrisStddevThreshold returns the debris_stddev_threshold value or the default.
func (c *SessionConfig) GetDebrisStddevThreshold() float64 {
	if c.DebrisStddevThreshold == nil {
		return 5.0
	}
	return *c.DebrisStddevThreshold
}

// GetMaxSweeps returns the max_sweeps value or the default.
func (c *SessionConfig) GetMaxSweeps() int {
	if c.MaxSweeps == nil {
		return 3
	}
	return *c.MaxSweeps
}

// GetContinueAfterMaxSweeps returns the continue_after_max_sweeps value or the default.
func (c *SessionConfig) GetContinueAfterMaxSweeps() bool {
	if c.ContinueAfterMaxSweeps == nil {
		return false
	}
	return *c.ContinueAfterMaxSweeps
}

// GetAskUserOnDebris returns the ask_user_on_debris value or the default.
func (c *SessionConfig) GetAskUserOnDebris() bool {
	if c.AskUserOnDebris == nil {
		return false
	}
	return *c.AskUserOnDebris
}

// GetMonitorImages returns the monitor_images value or the default.
func (c *SessionConfig) GetMonitorImages() bool {
	if c.MonitorImages == nil {
		return true
	}
	return *c.MonitorImages
}

// GetTileMeanMin returns the tile_mean_min value or the default.
func (c *SessionConfig) GetTileMeanMin() float64 {
	if c.TileMeanMin == nil {
		return 20.0
	}
	return *c.TileMeanMin
}

// GetTileMeanMax returns the tile_mean_max value or the default.
func (c *SessionConfig) GetTileMeanMax() float64 {
	if c.TileMeanMax == nil {
		return 220.0
	}
	return *c.TileMeanMax
}

// GetTileStddevMin returns the tile_stddev_min value or the default.
func (c *SessionConfig) GetTileStddevMin() float64 {
	if c.TileStddevMin == nil {
		return 2.0
	}
	return *c.TileStddevMin
}

// GetTileStddevMax returns the tile_stddev_max value or the default.
func (c *SessionConfig) GetTileStddevMax() float64 {
	if c.TileStddevMax == nil {
		return 60.0
	}
	return *c.TileStddevMax
}

// GetRetakeOnRange returns the retake_on_range value or the default.
func (c *SessionConfig) GetRetakeOnRange() bool {
	if c.RetakeOnRange == nil {
		return true
	}
	return *c.RetakeOnRange
}

// GetOverwriteGuard returns the overwrite_guard value or the default.
func (c *SessionConfig) GetOverwriteGuard() bool {
	if c.OverwriteGuard == nil {
		return true
	}
	return *c.OverwriteGuard
}

// GetAutofocusMethod returns the autofocus_method value or the default.
func (c *SessionConfig) GetAutofocusMethod() string {
	if c.AutofocusMethod == nil {
		return "heuristic"
	}
	return *c.AutofocusMethod
}

// GetAutofocusInterval returns the autofocus_interval value or the default.
func (c *SessionConfig) GetAutofocusInterval() int {
	if c.AutofocusInterval == nil {
		return 25
	}
	return *c.AutofocusInterval
}

// GetHeuristicDeltaWD returns the heuristic_delta_wd value or the default.
func (c *SessionConfig) GetHeuristicDeltaWD() float64 {
	if c.HeuristicDeltaWD == nil {
		return 2e-7
	}
	return *c.HeuristicDeltaWD
}

// GetHeuristicDeltaStig returns the heuristic_delta_stig value or the default.
func (c *SessionConfig) GetHeuristicDeltaStig() float64 {
	if c.HeuristicDeltaStig == nil {
		return 0.05
	}
	return *c.HeuristicDeltaStig
}

// GetMaxWDDiff returns the max_wd_diff value or the default.
func (c *SessionConfig) GetMaxWDDiff() float64 {
	if c.MaxWDDiff == nil {
		return 1e-6
	}
	return *c.MaxWDDiff
}

// GetMaxStigDiff returns the max_stig_diff value or the default.
func (c *SessionConfig) GetMaxStigDiff() float64 {
	if c.MaxStigDiff == nil {
		return 0.2
	}
	return *c.MaxStigDiff
}

// GetWDStigLock returns the wd_stig_lock value or the default.
func (c *SessionConfig) GetWDStigLock() bool {
	if c.WDStigLock == nil {
		return true
	}
	return *c.WDStigLock
}
