// Package telemetry streams scan diagnostics (frames, partial point clouds,
// camera pose) to an external viewer. Telemetry is best effort: failures are
// logged by the caller and never abort a sweep.
package telemetry

import (
	"image"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scan3d/internal/calibration"
	"github.com/banshee-data/scan3d/internal/geometry"
)

// Entity paths used by the scanner.
const (
	EntityImage  = "world/image"
	EntityPoints = "world/points"
	EntityCamera = "world/camera"
	EntityAxis   = "world/axis"

	Timeline = "timeline"
)

// Sink receives telemetry. Implementations must be safe for use by one
// sweep goroutine at a time.
type Sink interface {
	// SetTimeSequence stamps later records with position seq on timeline.
	SetTimeSequence(timeline string, seq int64)
	LogImage(entity string, img image.Image) error
	LogPoints(entity string, points []r3.Vec) error
	LogTransform(entity string, t geometry.Affine) error
	// LogCamera records the pinhole model and the camera pose.
	LogCamera(entity string, cam calibration.CameraCalibration) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) SetTimeSequence(string, int64)                         {}
func (Nop) LogImage(string, image.Image) error                    { return nil }
func (Nop) LogPoints(string, []r3.Vec) error                      { return nil }
func (Nop) LogTransform(string, geometry.Affine) error            { return nil }
func (Nop) LogCamera(string, calibration.CameraCalibration) error { return nil }
