// Package triangulate turns one camera frame of the laser-lit object into
// world-frame 3D points.
//
// The pipeline is pure: detect the brightest run per row, centre the
// detections on the optical axis, split them by laser side, intersect each
// viewing ray with its laser fan-plane and finally map the result through the
// calibration and the turntable rotation.
package triangulate

import (
	"image"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scan3d/internal/calibration"
	"github.com/banshee-data/scan3d/internal/geometry"
)

// Options controls detection and projection.
type Options struct {
	// Threshold is the intensity a pixel must exceed to count as laser light.
	Threshold uint8
	// MinDenominator rejects rays nearly parallel to the laser plane.
	MinDenominator float64
}

// DefaultOptions returns the stock detection settings.
func DefaultOptions() Options {
	return Options{Threshold: 30, MinDenominator: 1e-6}
}

// Result is the output of one frame.
type Result struct {
	// Points are in the world frame. Right-laser points come first.
	Points []geometry.Point3
	// Detected counts laser detections, one per lit row.
	Detected int
	// Rejected counts detections dropped by the projection guard.
	Rejected int
}

// DetectLaserLine scans each row for the first contiguous run of pixels
// brighter than threshold and returns the run midpoint. A run [start,end)
// yields x = (start+end)/2; a run reaching the right edge closes at the row
// width. Later runs on the same row are ignored.
func DetectLaserLine(img *image.Gray, threshold uint8) []geometry.Point2 {
	b := img.Bounds()
	var points []geometry.Point2
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y) : img.PixOffset(b.Min.X, y)+b.Dx()]
		start := -1
		for x, v := range row {
			if v > threshold {
				if start < 0 {
					start = x
				}
				continue
			}
			if start >= 0 {
				points = append(points, runMidpoint(start, x, y-b.Min.Y))
				start = -1
				break
			}
		}
		if start >= 0 {
			points = append(points, runMidpoint(start, len(row), y-b.Min.Y))
		}
	}
	return points
}

func runMidpoint(start, end, row int) geometry.Point2 {
	return geometry.Point2{X: float64(start+end) / 2, Y: float64(row)}
}

// Center lifts pixel detections to image-plane vectors with the image centre
// at the origin and z equal to the focal length in pixels.
func Center(points []geometry.Point2, width, height, focalPx float64) []r3.Vec {
	out := make([]r3.Vec, len(points))
	for i, p := range points {
		out[i] = r3.Vec{X: p.X - width/2, Y: p.Y - height/2, Z: focalPx}
	}
	return out
}

// Partition assigns centred points to lasers: x >= 0 to the right laser,
// x < 0 to the left.
func Partition(points []r3.Vec) (left, right []r3.Vec) {
	for _, p := range points {
		if p.X >= 0 {
			right = append(right, p)
		} else {
			left = append(left, p)
		}
	}
	return left, right
}

// ProjectOnLaserPlane scales the viewing ray through p onto the laser
// fan-plane. The result is still in pixel units. It reports false when
// |z·tanθ + x| is below minDenominator or the result is not finite.
func ProjectOnLaserPlane(p r3.Vec, laser calibration.LaserPlane, metersPerPx, minDenominator float64) (r3.Vec, bool) {
	baselinePx := laser.Baseline / metersPerPx
	denominator := p.Z*math.Tan(laser.AngleRad()) + p.X
	if math.Abs(denominator) < minDenominator || math.IsNaN(denominator) {
		return r3.Vec{}, false
	}
	q := r3.Scale(baselinePx/denominator, p)
	if !finite(q) {
		return r3.Vec{}, false
	}
	return q, true
}

func finite(v r3.Vec) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Triangulate runs the full pipeline on img. rotationDeg is the cumulative
// turntable angle at capture time; points are rotated by it about the world
// Z axis so every frame lands in the object's frame.
func Triangulate(img *image.Gray, calib *calibration.Calibration, rotationDeg float64, opts Options) Result {
	b := img.Bounds()
	in := calib.Camera.Intrinsics
	mpp := in.MetersPerPixel

	detections := DetectLaserLine(img, opts.Threshold)
	centred := Center(detections, float64(b.Dx()), float64(b.Dy()), in.FocalLengthPx())
	left, right := Partition(centred)

	toWorld := geometry.RotationZ(geometry.Radians(rotationDeg)).Mul(calib.ImagePlaneToWorld())

	res := Result{Detected: len(detections)}
	if len(detections) > 0 {
		res.Points = make([]geometry.Point3, 0, len(detections))
	}
	project := func(points []r3.Vec, laser calibration.LaserPlane) {
		for _, p := range points {
			q, ok := ProjectOnLaserPlane(p, laser, mpp, opts.MinDenominator)
			if !ok {
				res.Rejected++
				continue
			}
			res.Points = append(res.Points, toWorld.Apply(r3.Scale(mpp, q)))
		}
	}
	project(right, calib.RightLaser)
	project(left, calib.LeftLaser)
	return res
}
