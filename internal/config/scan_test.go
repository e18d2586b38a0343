package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestScanConfigDefaults(t *testing.T) {
	for name, cfg := range map[string]*ScanConfig{"empty": EmptyScanConfig(), "nil": nil} {
		t.Run(name, func(t *testing.T) {
			if got := cfg.GetAnglePerStepDeg(); got != 5 {
				t.Errorf("GetAnglePerStepDeg() = %v, want 5", got)
			}
			if got := cfg.GetSteps(); got != 72 {
				t.Errorf("GetSteps() = %d, want 72", got)
			}
			if got := cfg.GetBrightnessThreshold(); got != 30 {
				t.Errorf("GetBrightnessThreshold() = %d, want 30", got)
			}
			if got := cfg.GetMinDenominator(); got != 1e-6 {
				t.Errorf("GetMinDenominator() = %v, want 1e-6", got)
			}
			if got := cfg.GetSettleTime(); got != 0 {
				t.Errorf("GetSettleTime() = %v, want 0", got)
			}
			if got := cfg.GetOutboundQueueSize(); got != 64 {
				t.Errorf("GetOutboundQueueSize() = %d, want 64", got)
			}
			if w, h := cfg.GetTelemetryImageSize(); w != 160 || h != 120 {
				t.Errorf("GetTelemetryImageSize() = %dx%d, want 160x120", w, h)
			}
			if got := cfg.GetMotorStepsPerRevolution(); got != 200 {
				t.Errorf("GetMotorStepsPerRevolution() = %v, want 200", got)
			}
		})
	}
}

func TestLoadScanConfig(t *testing.T) {
	path := writeConfig(t, "scan.json", `{
  "angle_per_step_deg": 7,
  "brightness_threshold": 50,
  "settle_time": "100ms",
  "outbound_queue_size": 8,
  "telemetry_image_width": 64
}`)

	cfg, err := LoadScanConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if got := cfg.GetAnglePerStepDeg(); got != 7 {
		t.Errorf("GetAnglePerStepDeg() = %v, want 7", got)
	}
	// 360/7 = 51.4 rounds up so the sweep covers the full circle.
	if got := cfg.GetSteps(); got != 52 {
		t.Errorf("GetSteps() = %d, want 52", got)
	}
	if got := cfg.GetBrightnessThreshold(); got != 50 {
		t.Errorf("GetBrightnessThreshold() = %d, want 50", got)
	}
	if got := cfg.GetSettleTime(); got != 100*time.Millisecond {
		t.Errorf("GetSettleTime() = %v, want 100ms", got)
	}
	if got := cfg.GetOutboundQueueSize(); got != 8 {
		t.Errorf("GetOutboundQueueSize() = %d, want 8", got)
	}
	// Unset fields keep their defaults.
	if w, h := cfg.GetTelemetryImageSize(); w != 64 || h != 120 {
		t.Errorf("GetTelemetryImageSize() = %dx%d, want 64x120", w, h)
	}
	if got := cfg.GetMinDenominator(); got != DefaultMinDenominator {
		t.Errorf("GetMinDenominator() = %v, want default", got)
	}
}

func TestLoadScanConfigErrors(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		contents string
		wantErr  string
	}{
		{"wrong extension", "scan.yaml", `{}`, ".json extension"},
		{"bad json", "scan.json", `{"angle_per_step_deg":`, "failed to parse"},
		{"zero angle", "scan.json", `{"angle_per_step_deg": 0}`, "angle_per_step_deg"},
		{"angle too large", "scan.json", `{"angle_per_step_deg": 400}`, "angle_per_step_deg"},
		{"threshold range", "scan.json", `{"brightness_threshold": 256}`, "brightness_threshold"},
		{"negative denominator", "scan.json", `{"min_denominator": -1}`, "min_denominator"},
		{"bad settle", "scan.json", `{"settle_time": "soon"}`, "settle_time"},
		{"negative settle", "scan.json", `{"settle_time": "-1s"}`, "settle_time"},
		{"empty queue", "scan.json", `{"outbound_queue_size": 0}`, "outbound_queue_size"},
		{"zero steps per rev", "scan.json", `{"motor_steps_per_revolution": 0}`, "motor_steps_per_revolution"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.contents)
			_, err := LoadScanConfig(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadScanConfigMissingFile(t *testing.T) {
	_, err := LoadScanConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil || !strings.Contains(err.Error(), "failed to stat") {
		t.Errorf("expected stat error, got %v", err)
	}
}

func TestLoadScanConfigTooLarge(t *testing.T) {
	big := `{"settle_time": "1s", "pad": "` + strings.Repeat("x", 1024*1024) + `"}`
	path := writeConfig(t, "big.json", big)
	_, err := LoadScanConfig(path)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}
