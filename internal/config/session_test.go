package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsViaGetters(t *testing.T) {
	cfg := EmptySessionConfig()

	if cfg.GetBaseDir() != "./stackdata" {
		t.Errorf("GetBaseDir() = %q, want ./stackdata", cfg.GetBaseDir())
	}
	if cfg.GetStackName() != "stack" {
		t.Errorf("GetStackName() = %q, want stack", cfg.GetStackName())
	}
	if cfg.GetMirrorDir() != "" {
		t.Errorf("GetMirrorDir() = %q, want empty", cfg.GetMirrorDir())
	}
	if cfg.GetSliceThicknessNm() != 25.0 {
		t.Errorf("GetSliceThicknessNm() = %f, want 25.0", cfg.GetSliceThicknessNm())
	}
	if cfg.GetCutDuration() != 12*time.Second {
		t.Errorf("GetCutDuration() = %v, want 12s", cfg.GetCutDuration())
	}
	if cfg.GetMaxSweeps() != 3 {
		t.Errorf("GetMaxSweeps() = %d, want 3", cfg.GetMaxSweeps())
	}
	if cfg.GetContinueAfterMaxSweeps() != false {
		t.Errorf("GetContinueAfterMaxSweeps() = true, want false")
	}
	if cfg.GetDebrisDetectionMethod() != "histogram" {
		t.Errorf("GetDebrisDetectionMethod() = %q, want histogram", cfg.GetDebrisDetectionMethod())
	}
	if cfg.GetAutofocusMethod() != "heuristic" {
		t.Errorf("GetAutofocusMethod() = %q, want heuristic", cfg.GetAutofocusMethod())
	}
	if cfg.GetAutofocusInterval() != 25 {
		t.Errorf("GetAutofocusInterval() = %d, want 25", cfg.GetAutofocusInterval())
	}
	if cfg.GetMaxWDDiff() != 1e-6 {
		t.Errorf("GetMaxWDDiff() = %g, want 1e-6", cfg.GetMaxWDDiff())
	}
	if cfg.GetWDStigLock() != true {
		t.Errorf("GetWDStigLock() = false, want true")
	}
	if cfg.GetTileMeanMin() != 20.0 || cfg.GetTileMeanMax() != 220.0 {
		t.Errorf("tile mean bounds = (%f, %f), want (20, 220)", cfg.GetTileMeanMin(), cfg.GetTileMeanMax())
	}
	if cfg.GetOverwriteGuard() != true {
		t.Errorf("GetOverwriteGuard() = false, want true")
	}
}

func TestLoadSessionConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "session.json")

	testJSON := `{
  "base_dir": "/data/runs",
  "stack_name": "cortex_s1",
  "number_slices": 2000,
  "slice_thickness_nm": 40,
  "cut_duration": "15s",
  "max_sweeps": 5,
  "continue_after_max_sweeps": true,
  "autofocus_method": "hardware",
  "autofocus_interval": 50
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadSessionConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetBaseDir() != "/data/runs" {
		t.Errorf("GetBaseDir() = %q, want /data/runs", cfg.GetBaseDir())
	}
	if cfg.GetStackName() != "cortex_s1" {
		t.Errorf("GetStackName() = %q, want cortex_s1", cfg.GetStackName())
	}
	if cfg.GetNumberSlices() != 2000 {
		t.Errorf("GetNumberSlices() = %d, want 2000", cfg.GetNumberSlices())
	}
	if cfg.GetSliceThicknessNm() != 40 {
		t.Errorf("GetSliceThicknessNm() = %f, want 40", cfg.GetSliceThicknessNm())
	}
	if cfg.GetCutDuration() != 15*time.Second {
		t.Errorf("GetCutDuration() = %v, want 15s", cfg.GetCutDuration())
	}
	if cfg.GetMaxSweeps() != 5 {
		t.Errorf("GetMaxSweeps() = %d, want 5", cfg.GetMaxSweeps())
	}
	if !cfg.GetContinueAfterMaxSweeps() {
		t.Error("GetContinueAfterMaxSweeps() = false, want true")
	}
	if cfg.GetAutofocusMethod() != "hardware" {
		t.Errorf("GetAutofocusMethod() = %q, want hardware", cfg.GetAutofocusMethod())
	}
	// Fields absent from the file fall back to defaults.
	if cfg.GetDebrisDetectionMethod() != "histogram" {
		t.Errorf("GetDebrisDetectionMethod() = %q, want histogram", cfg.GetDebrisDetectionMethod())
	}
}

func TestLoadSessionConfigMissing(t *testing.T) {
	_, err := LoadSessionConfig("/nonexistent/path/to/session.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadSessionConfigBadExtension(t *testing.T) {
	_, err := LoadSessionConfig("session.yaml")
	if err == nil {
		t.Error("Expected error for non-json extension, got nil")
	}
}

func TestLoadSessionConfigInvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.json")

	invalidJSON := `{
  "number_slices": "lots"
`
	if err := os.WriteFile(configPath, []byte(invalidJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadSessionConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *SessionConfig
		wantErr bool
	}{
		{
			name:    "empty config is valid",
			cfg:     EmptySessionConfig(),
			wantErr: false,
		},
		{
			name:    "negative number_slices",
			cfg:     &SessionConfig{NumberSlices: ptrInt(-1)},
			wantErr: true,
		},
		{
			name:    "zero slice thickness",
			cfg:     &SessionConfig{SliceThicknessNm: ptrFloat64(0)},
			wantErr: true,
		},
		{
			name:    "bad cut_duration",
			cfg:     &SessionConfig{CutDuration: ptrString("soon")},
			wantErr: true,
		},
		{
			name:    "zero max_sweeps",
			cfg:     &SessionConfig{MaxSweeps: ptrInt(0)},
			wantErr: true,
		},
		{
			name:    "unknown debris method",
			cfg:     &SessionConfig{DebrisDetectionMethod: ptrString("magic")},
			wantErr: true,
		},
		{
			name:    "unknown autofocus method",
			cfg:     &SessionConfig{AutofocusMethod: ptrString("wishful")},
			wantErr: true,
		},
		{
			name:    "negative max_wd_diff",
			cfg:     &SessionConfig{MaxWDDiff: ptrFloat64(-1e-6)},
			wantErr: true,
		},
		{
			name: "mean range inverted",
			cfg: &SessionConfig{
				TileMeanMin: ptrFloat64(200),
				TileMeanMax: ptrFloat64(100),
			},
			wantErr: true,
		},
		{
			name:    "empty stack name",
			cfg:     &SessionConfig{StackName: ptrString("")},
			wantErr: true,
		},
		{
			name: "valid full config",
			cfg: &SessionConfig{
				BaseDir:          ptrString("/data"),
				StackName:        ptrString("c1"),
				NumberSlices:     ptrInt(100),
				SliceThicknessNm: ptrFloat64(25),
				CutDuration:      ptrString("10s"),
				MaxSweeps:        ptrInt(2),
				SingleSlice:      ptrBool(true),
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
