// Package config holds the optional scan tuning file and the process
// environment settings.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// ScanConfig holds the tuning knobs of a sweep. Every field is optional;
// the Get* accessors supply the defaults, so a partial file (or none at all)
// is valid.
type ScanConfig struct {
	AnglePerStepDeg     *float64 `json:"angle_per_step_deg,omitempty"`
	BrightnessThreshold *int     `json:"brightness_threshold,omitempty"`
	MinDenominator      *float64 `json:"min_denominator,omitempty"`
	SettleTime          *string  `json:"settle_time,omitempty"` // duration string like "100ms"

	OutboundQueueSize *int `json:"outbound_queue_size,omitempty"`

	TelemetryImageWidth  *int `json:"telemetry_image_width,omitempty"`
	TelemetryImageHeight *int `json:"telemetry_image_height,omitempty"`

	MotorStepsPerRevolution *float64 `json:"motor_steps_per_revolution,omitempty"`
}

// Defaults.
const (
	DefaultAnglePerStepDeg         = 5.0
	DefaultBrightnessThreshold     = 30
	DefaultMinDenominator          = 1e-6
	DefaultOutboundQueueSize       = 64
	DefaultTelemetryImageWidth     = 160
	DefaultTelemetryImageHeight    = 120
	DefaultMotorStepsPerRevolution = 200.0
)

// EmptyScanConfig returns a ScanConfig with every field unset.
func EmptyScanConfig() *ScanConfig {
	return &ScanConfig{}
}

// LoadScanConfig loads a ScanConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadScanConfig(path string) (*ScanConfig, error) {
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

	cfg := EmptyScanConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configured values are usable.
func (c *ScanConfig) Validate() error {
	if c.AnglePerStepDeg != nil {
		a := *c.AnglePerStepDeg
		if !(a > 0) || a > 360 || math.IsInf(a, 0) {
			return fmt.Errorf("angle_per_step_deg must be in (0, 360], got %v", a)
		}
	}

	if c.BrightnessThreshold != nil {
		if *c.BrightnessThreshold < 0 || *c.BrightnessThreshold > 255 {
			return fmt.Errorf("brightness_threshold must be between 0 and 255, got %d", *c.BrightnessThreshold)
		}
	}

	if c.MinDenominator != nil && !(*c.MinDenominator >= 0) {
		return fmt.Errorf("min_denominator must be non-negative, got %v", *c.MinDenominator)
	}

	if c.SettleTime != nil && *c.SettleTime != "" {
		d, err := time.ParseDuration(*c.SettleTime)
		if err != nil {
			return fmt.Errorf("invalid settle_time '%s': %w", *c.SettleTime, err)
		}
		if d < 0 {
			return fmt.Errorf("settle_time must be non-negative, got %s", d)
		}
	}

	if c.OutboundQueueSize != nil && *c.OutboundQueueSize < 1 {
		return fmt.Errorf("outbound_queue_size must be at least 1, got %d", *c.OutboundQueueSize)
	}

	if c.TelemetryImageWidth != nil && *c.TelemetryImageWidth < 1 {
		return fmt.Errorf("telemetry_image_width must be positive, got %d", *c.TelemetryImageWidth)
	}
	if c.TelemetryImageHeight != nil && *c.TelemetryImageHeight < 1 {
		return fmt.Errorf("telemetry_image_height must be positive, got %d", *c.TelemetryImageHeight)
	}

	if c.MotorStepsPerRevolution != nil && !(*c.MotorStepsPerRevolution > 0) {
		return fmt.Errorf("motor_steps_per_revolution must be positive, got %v", *c.MotorStepsPerRevolution)
	}

	return nil
}

// GetAnglePerStepDeg returns the turntable increment per sweep step.
func (c *ScanConfig) GetAnglePerStepDeg() float64 {
	if c == nil || c.AnglePerStepDeg == nil {
		return DefaultAnglePerStepDeg
	}
	return *c.AnglePerStepDeg
}

// GetSteps returns the number of captures in a full revolution,
// ceil(360 / angle_per_step_deg).
func (c *ScanConfig) GetSteps() int {
	return int(math.Ceil(360 / c.GetAnglePerStepDeg()))
}

// GetBrightnessThreshold returns the laser detection threshold.
func (c *ScanConfig) GetBrightnessThreshold() uint8 {
	if c == nil || c.BrightnessThreshold == nil {
		return DefaultBrightnessThreshold
	}
	return uint8(*c.BrightnessThreshold)
}

// GetMinDenominator returns the projection denominator below which a
// point is rejected.
func (c *ScanConfig) GetMinDenominator() float64 {
	if c == nil || c.MinDenominator == nil {
		return DefaultMinDenominator
	}
	return *c.MinDenominator
}

// GetSettleTime parses and returns the delay after each motor step.
func (c *ScanConfig) GetSettleTime() time.Duration {
	if c == nil || c.SettleTime == nil || *c.SettleTime == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.SettleTime)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// GetOutboundQueueSize returns the per-connection response queue capacity.
func (c *ScanConfig) GetOutboundQueueSize() int {
	if c == nil || c.OutboundQueueSize == nil {
		return DefaultOutboundQueueSize
	}
	return *c.OutboundQueueSize
}

// GetTelemetryImageSize returns the thumbnail size of frames sent to telemetry.
func (c *ScanConfig) GetTelemetryImageSize() (width, height int) {
	width, height = DefaultTelemetryImageWidth, DefaultTelemetryImageHeight
	if c == nil {
		return
	}
	if c.TelemetryImageWidth != nil {
		width = *c.TelemetryImageWidth
	}
	if c.TelemetryImageHeight != nil {
		height = *c.TelemetryImageHeight
	}
	return
}

// GetMotorStepsPerRevolution returns the stepper resolution used by the
// serial motor driver.
func (c *ScanConfig) GetMotorStepsPerRevolution() float64 {
	if c == nil || c.MotorStepsPerRevolution == nil {
		return DefaultMotorStepsPerRevolution
	}
	return *c.MotorStepsPerRevolution
}
